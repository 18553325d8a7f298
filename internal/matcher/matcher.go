// Package matcher implements content matching: an extractor expression is evaluated
// against a parsed message document and its value must fully match a regular expression.
package matcher

import (
	"fmt"
	"regexp"

	"queue-router/internal/common/errors"
	"queue-router/internal/extract"
)

// Matcher selects a document when the extractor's value fully matches Pattern
type Matcher struct {
	extractor extract.Expression
	pattern   *regexp.Regexp
	source    string
}

// New compiles a matcher for the given format. The pattern is anchored at both ends,
// so "x" matches the value "x" but not "xy".
func New(format extract.Format, extractor, pattern string) (*Matcher, error) {
	expr, err := format.Compile(extractor)
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid matcher pattern %q", pattern), err)
	}

	return &Matcher{extractor: expr, pattern: re, source: pattern}, nil
}

// Matches reports whether the extractor's value fully matches the pattern
func (m *Matcher) Matches(doc extract.Document) (bool, error) {
	value, err := m.extractor.Evaluate(doc)
	if err != nil {
		return false, err
	}
	return m.pattern.MatchString(value), nil
}

// Extractor returns the source text of the extractor expression
func (m *Matcher) Extractor() string {
	return m.extractor.String()
}

// Pattern returns the pattern as configured, without anchors
func (m *Matcher) Pattern() string {
	return m.source
}

func (m *Matcher) String() string {
	return fmt.Sprintf("%s =~ %s", m.extractor.String(), m.source)
}
