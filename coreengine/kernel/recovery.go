package kernel

import (
	"fmt"
	"runtime/debug"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/logging"
)

// Logger is the structured logger used by kernel helpers.
type Logger = logging.Logger

// PanicError is returned when a guarded operation panics.
type PanicError struct {
	Operation string
	Value     any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.Value)
}

// SafeExecute runs fn and converts a panic into a *PanicError.
func SafeExecute(logger Logger, operation string, fn func() error) error {
	_, err := SafeExecuteWithResult(logger, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// SafeExecuteWithResult runs fn and converts a panic into a *PanicError. The
// zero value of T is returned alongside the panic error.
func SafeExecuteWithResult[T any](logger Logger, operation string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("panic_recovered",
					"operation", operation,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
			var zero T
			result = zero
			err = &PanicError{Operation: operation, Value: r}
		}
	}()
	return fn()
}
