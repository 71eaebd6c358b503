package consumer

import (
	"errors"
	"fmt"
	"time"

	"github.com/glimte/fleck-go/contracts"
)

var (
	// ErrInvalidDefinition is matched by every ConfigError
	ErrInvalidDefinition = errors.New("fleck: invalid consumer definition")

	// ErrReservedName is reported for actions mapped to engine methods
	ErrReservedName = errors.New("fleck: name is reserved")

	// ErrDefinitionSealed is reported for registrations after the definition started
	ErrDefinitionSealed = errors.New("fleck: definition is sealed")

	// ErrTerminated is returned when starting a terminated consumer
	ErrTerminated = errors.New("fleck: consumer is terminated")
)

// ConfigError describes an invalid consumer definition
type ConfigError struct {
	Definition string    // Definition name
	Op         string    // Registration step that failed
	Err        error     // Underlying error
	Timestamp  time.Time // When the error was recorded
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("fleck consumer %s: %s: %v", e.Definition, e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidDefinition
}

// Halt stops action execution. The response prepared by the helper that
// produced it is sent as is; the dispatcher does not log it as a failure.
type Halt struct {
	Status int
}

func (h *Halt) Error() string {
	return fmt.Sprintf("halt: %d %s", h.Status, contracts.StatusText(h.Status))
}

// IsHalt reports whether err is, or wraps, a *Halt
func IsHalt(err error) bool {
	var h *Halt
	return errors.As(err, &h)
}
