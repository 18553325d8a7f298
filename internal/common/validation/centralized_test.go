package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"queue-router/internal/common/errors"
)

type testMatcher struct {
	Extractor string `yaml:"extractor" validate:"required"`
	Pattern   string `yaml:"pattern" validate:"required,regexp"`
}

type testOutput struct {
	Name     string       `yaml:"name" validate:"required,queue_name"`
	Behavior string       `yaml:"behavior" validate:"behavior"`
	Matcher  *testMatcher `yaml:"matcher"`
}

type testRoute struct {
	InputQueue string       `yaml:"inputQueue" validate:"required,queue_name"`
	Workers    int          `yaml:"workerCount" validate:"min=1"`
	Outputs    []testOutput `yaml:"outputQueues" validate:"required,min=1,dive"`
}

type testBroker struct {
	Type  string `yaml:"type" validate:"broker_type"`
	Grace string `yaml:"grace" validate:"duration"`
}

func TestValidateStruct_Valid(t *testing.T) {
	route := testRoute{
		InputQueue: "in",
		Workers:    4,
		Outputs: []testOutput{
			{Name: "a", Behavior: "all"},
			{Name: "b", Behavior: "MATCH", Matcher: &testMatcher{Extractor: "/x", Pattern: "x.*"}},
		},
	}
	assert.NoError(t, ValidateStruct(route))
}

func TestValidateStruct_FieldPaths(t *testing.T) {
	route := testRoute{
		InputQueue: "bad name",
		Workers:    0,
		Outputs: []testOutput{
			{Name: "", Behavior: "SOME"},
		},
	}

	err := ValidateStruct(route)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "field 'inputQueue' must be a queue name without whitespace")
	assert.Contains(t, err.Error(), "field 'workerCount' must be at least 1")
	assert.Contains(t, err.Error(), "field 'outputQueues[0].name' is required")
	assert.Contains(t, err.Error(), "field 'outputQueues[0].behavior' must be one of ALL, REMAINDER, MATCH")
}

func TestValidateStruct_Regexp(t *testing.T) {
	err := ValidateStruct(testMatcher{Extractor: "/x", Pattern: "(unclosed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'pattern' must be a valid regular expression")
}

func TestValidateStruct_BrokerAndDuration(t *testing.T) {
	assert.NoError(t, ValidateStruct(testBroker{Type: "redis", Grace: "10s"}))

	err := ValidateStruct(testBroker{Type: "kafka", Grace: "10s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid broker type")

	err = ValidateStruct(testBroker{Type: "rabbitmq", Grace: "ten seconds"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid duration")
}
