package extract

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"queue-router/internal/common/errors"
)

// JSONFormat parses JSON bodies and evaluates gjson path expressions
type JSONFormat struct{}

// Name implements Format
func (JSONFormat) Name() string { return "json" }

// Parse implements Format
func (JSONFormat) Parse(body []byte) (Document, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.ExtractionError("failed to parse JSON document", nil)
	}
	return gjson.ParseBytes(body), nil
}

// Compile implements Format
func (JSONFormat) Compile(expression string) (Expression, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errors.ExtractionError("empty JSON path expression", nil)
	}
	return jsonPath(expression), nil
}

type jsonPath string

func (p jsonPath) String() string { return string(p) }

func (p jsonPath) Evaluate(doc Document) (string, error) {
	result, ok := doc.(gjson.Result)
	if !ok {
		return "", errors.ExtractionError(fmt.Sprintf("JSON path %q needs a JSON document, got %T", string(p), doc), nil)
	}

	value := result.Get(string(p))
	if !value.Exists() {
		return "", nil
	}
	return value.String(), nil
}
