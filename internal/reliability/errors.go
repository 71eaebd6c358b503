package reliability

import (
	"errors"
	"fmt"
)

// ErrMaxRetriesExceeded is matched by every RetryError
var ErrMaxRetriesExceeded = errors.New("retry: maximum attempts exceeded")

// RetryError reports an operation that kept failing until the policy gave up
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

func (e *RetryError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}
