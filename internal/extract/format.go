package extract

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"queue-router/internal/common/errors"
)

// Document is a parsed message body. Its concrete type belongs to the Format that produced it.
type Document interface{}

// Expression is a compiled extractor bound to one Format
type Expression interface {
	// Evaluate returns the string value of the expression against doc
	Evaluate(doc Document) (string, error)
	// String returns the source text of the expression
	String() string
}

// Format parses bodies and compiles expressions for one structured content type
type Format interface {
	Name() string
	Parse(body []byte) (Document, error)
	Compile(expression string) (Expression, error)
}

var (
	formats   = make(map[string]Format)
	formatsMu sync.RWMutex
)

// Register makes a format available by name
func Register(format Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[strings.ToLower(format.Name())] = format
}

// ForName returns the registered format with the given name
func ForName(name string) (Format, error) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()

	format, ok := formats[strings.ToLower(name)]
	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("unknown content format %q", name), nil).
			WithContext("available", strings.Join(availableLocked(), ","))
	}
	return format, nil
}

// Available lists the registered format names
func Available() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	return availableLocked()
}

func availableLocked() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(XMLFormat{})
	Register(JSONFormat{})
}
