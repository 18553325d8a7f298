package routing

import (
	"queue-router/internal/common/logging"
	"queue-router/internal/config"
	"queue-router/internal/extract"
	"queue-router/internal/matcher"
)

// Missing is the diagnostic value used when a field cannot be extracted
const Missing = "missing"

// Target is one output queue of a route
type Target struct {
	Name            string
	Behavior        config.Behavior
	FailOnException bool
	Matcher         *matcher.Matcher
}

// Field is an extracted diagnostic value
type Field struct {
	Key   string
	Value string
}

type logField struct {
	key  string
	expr extract.Expression
}

// Engine evaluates one route's selection rule
type Engine struct {
	inputQueue string
	format     extract.Format
	targets    []*Target
	logFields  []logField
}

// NewEngine compiles the route's matchers and log field extractors
func NewEngine(route config.Route) (*Engine, error) {
	format, err := extract.ForName(route.Format)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		inputQueue: route.InputQueue,
		format:     format,
		targets:    make([]*Target, 0, len(route.OutputQueues)),
		logFields:  make([]logField, 0, len(route.Log)),
	}

	for _, output := range route.OutputQueues {
		target := &Target{
			Name:            output.Name,
			Behavior:        output.Behavior,
			FailOnException: output.FailsOnException(),
		}

		if output.Behavior == config.BehaviorMatch {
			if output.Matcher == nil {
				return nil, ErrMissingMatcher(route.InputQueue, output.Name)
			}
			m, err := matcher.New(format, output.Matcher.Extractor, output.Matcher.Pattern)
			if err != nil {
				return nil, err
			}
			target.Matcher = m
		}

		e.targets = append(e.targets, target)
	}

	for _, field := range route.Log {
		expr, err := format.Compile(field.Extractor)
		if err != nil {
			return nil, err
		}
		e.logFields = append(e.logFields, logField{key: field.Key, expr: expr})
	}

	return e, nil
}

// InputQueue returns the route's input queue
func (e *Engine) InputQueue() string {
	return e.inputQueue
}

// Targets returns the route's outputs in declaration order
func (e *Engine) Targets() []*Target {
	return e.targets
}

// Decide parses body and selects the outputs that receive it
func (e *Engine) Decide(body []byte) *Outcome {
	outcome := &Outcome{Fields: make([]Field, len(e.logFields))}

	doc, err := e.format.Parse(body)
	if err != nil {
		outcome.ParseErr = err
		for i, field := range e.logFields {
			outcome.Fields[i] = Field{Key: field.key, Value: Missing}
		}
	} else {
		for i, field := range e.logFields {
			outcome.Fields[i] = Field{Key: field.key, Value: e.extractField(field, doc, outcome)}
		}
	}

	var matched, remainder []*Target
	for _, target := range e.targets {
		switch target.Behavior {
		case config.BehaviorAll:
			outcome.All = append(outcome.All, target)
		case config.BehaviorRemainder:
			remainder = append(remainder, target)
		case config.BehaviorMatch:
			if doc != nil && e.matches(target, doc, outcome) {
				matched = append(matched, target)
			}
		}
	}

	if len(matched) > 0 {
		outcome.Group = matched
		outcome.Matched = true
	} else {
		outcome.Group = remainder
	}
	return outcome
}

func (e *Engine) extractField(field logField, doc extract.Document, outcome *Outcome) string {
	value, err := field.expr.Evaluate(doc)
	if err != nil {
		outcome.addExtractErr(err)
		return Missing
	}
	return value
}

func (e *Engine) matches(target *Target, doc extract.Document, outcome *Outcome) bool {
	ok, err := target.Matcher.Matches(doc)
	if err != nil {
		outcome.addExtractErr(err)
		return false
	}
	return ok
}

// Outcome is the per-message routing decision
type Outcome struct {
	// Group holds the matched MATCH outputs, or the REMAINDER outputs when nothing matched
	Group []*Target
	// All holds the ALL outputs
	All []*Target
	// Matched reports whether Group came from matching
	Matched bool
	// Fields are the diagnostic values in configured order
	Fields []Field
	// ParseErr is set when the body could not be parsed
	ParseErr error
	// ExtractErrs collects extractor failures against a parsed body
	ExtractErrs []error
}

func (o *Outcome) addExtractErr(err error) {
	o.ExtractErrs = append(o.ExtractErrs, err)
}

// Selected returns the delivery order: Group first, then All
func (o *Outcome) Selected() []*Target {
	selected := make([]*Target, 0, len(o.Group)+len(o.All))
	selected = append(selected, o.Group...)
	return append(selected, o.All...)
}

// GroupNames returns the names of the Group outputs
func (o *Outcome) GroupNames() []string {
	return names(o.Group)
}

// AllNames returns the names of the All outputs
func (o *Outcome) AllNames() []string {
	return names(o.All)
}

// SelectedNames returns the names of every selected output in delivery order
func (o *Outcome) SelectedNames() []string {
	return names(o.Selected())
}

// LogFields renders the diagnostic values as log fields
func (o *Outcome) LogFields() []logging.Field {
	fields := make([]logging.Field, len(o.Fields))
	for i, f := range o.Fields {
		fields[i] = logging.String(f.Key, f.Value)
	}
	return fields
}

func names(targets []*Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.Name
	}
	return out
}
