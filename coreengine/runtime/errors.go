package runtime

import (
	"fmt"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
)

// UnitError attributes a run-terminating failure to the unit that raised it.
// Malformed output, capability failures and recovered panics are all carried
// as the wrapped error.
type UnitError struct {
	Unit envelope.Unit
	Step envelope.Step
	Err  error
}

// NewUnitError creates a UnitError.
func NewUnitError(unit envelope.Unit, step envelope.Step, err error) *UnitError {
	return &UnitError{Unit: unit, Step: step, Err: err}
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s failed at step '%s': %v", e.Unit, e.Step, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// InputError reports an unusable run input.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}
