package routing

import (
	"fmt"

	"queue-router/internal/common/errors"
)

// ErrMissingMatcher reports a MATCH output configured without a matcher
func ErrMissingMatcher(inputQueue, outputQueue string) error {
	return errors.ConfigError(fmt.Sprintf("output %s of route %s has behavior MATCH but no matcher", outputQueue, inputQueue), nil).
		WithContext("inputQueue", inputQueue).
		WithContext("outputQueue", outputQueue)
}
