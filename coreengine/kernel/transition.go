// Package kernel holds the control rules of a run: the step transition
// function and retry enforcement. Both are pure; the runtime owns all side
// effects.
package kernel

import (
	"fmt"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
)

// InvalidStateError reports a control state the state machine cannot advance
// from. It always terminates the run.
type InvalidStateError struct {
	Step   envelope.Step
	Reason string
}

// NewInvalidStateError creates an InvalidStateError.
func NewInvalidStateError(step envelope.Step, reason string) *InvalidStateError {
	return &InvalidStateError{Step: step, Reason: reason}
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid control state at step '%s': %s", e.Step, e.Reason)
}

// TransitionInput is everything the transition rule may look at.
type TransitionInput struct {
	Current envelope.Step
	// Decision is the verdict of the review that just ran. Only read when
	// Current is a review step.
	Decision envelope.Decision
	// ResearchIndex is the index of the research step last dispatched.
	ResearchIndex int
	// ResearchSteps is the number of planned research steps.
	ResearchSteps int
}

// TransitionOutcome is the result of one transition.
type TransitionOutcome struct {
	Next          envelope.Step
	ResearchIndex int
	// RetryUnit is the unit whose retry counter the caller must increment,
	// empty when the transition is not a rejection.
	RetryUnit envelope.Unit
	// Retry is true when Next re-dispatches a rejected unit.
	Retry bool
}

// Transition computes the next step.
//
//	input            -> plan
//	plan             -> review_plan
//	research         -> review_research
//	synthesize       -> review_synthesis
//	review_plan      approve -> research (index 0) | synthesize when no research
//	                 reject  -> plan
//	review_research  approve -> research (index+1) | synthesize after the last
//	                 reject  -> research (same index)
//	review_synthesis approve -> finalize
//	                 reject  -> synthesize
//	finalize         -> done
func Transition(in TransitionInput) (TransitionOutcome, error) {
	out := TransitionOutcome{ResearchIndex: in.ResearchIndex}

	switch in.Current {
	case envelope.StepInput, envelope.StepNone:
		out.Next = envelope.StepPlan
	case envelope.StepPlan:
		out.Next = envelope.StepReviewPlan
	case envelope.StepResearch:
		out.Next = envelope.StepReviewResearch
	case envelope.StepSynthesize:
		out.Next = envelope.StepReviewSynthesis
	case envelope.StepFinalize:
		out.Next = envelope.StepDone

	case envelope.StepReviewPlan:
		if err := checkDecision(in); err != nil {
			return TransitionOutcome{}, err
		}
		if in.Decision == envelope.DecisionReject {
			return rejected(out, envelope.StepPlan, envelope.UnitPlanner), nil
		}
		if in.ResearchSteps > 0 {
			out.Next = envelope.StepResearch
			out.ResearchIndex = 0
		} else {
			out.Next = envelope.StepSynthesize
		}

	case envelope.StepReviewResearch:
		if err := checkDecision(in); err != nil {
			return TransitionOutcome{}, err
		}
		if in.ResearchIndex < 0 || in.ResearchIndex >= in.ResearchSteps {
			return TransitionOutcome{}, NewInvalidStateError(in.Current,
				fmt.Sprintf("research index %d outside planned steps (%d)", in.ResearchIndex, in.ResearchSteps))
		}
		if in.Decision == envelope.DecisionReject {
			return rejected(out, envelope.StepResearch, envelope.UnitResearcher), nil
		}
		if in.ResearchIndex == in.ResearchSteps-1 {
			out.Next = envelope.StepSynthesize
		} else {
			out.Next = envelope.StepResearch
			out.ResearchIndex = in.ResearchIndex + 1
		}

	case envelope.StepReviewSynthesis:
		if err := checkDecision(in); err != nil {
			return TransitionOutcome{}, err
		}
		if in.Decision == envelope.DecisionReject {
			return rejected(out, envelope.StepSynthesize, envelope.UnitSynthesizer), nil
		}
		out.Next = envelope.StepFinalize

	case envelope.StepDone:
		return TransitionOutcome{}, NewInvalidStateError(in.Current, "run already finished")
	default:
		return TransitionOutcome{}, NewInvalidStateError(in.Current, "unknown step")
	}

	return out, nil
}

func checkDecision(in TransitionInput) error {
	if !in.Decision.IsValid() {
		return NewInvalidStateError(in.Current, fmt.Sprintf("unrecognized review decision '%s'", in.Decision))
	}
	return nil
}

func rejected(out TransitionOutcome, next envelope.Step, unit envelope.Unit) TransitionOutcome {
	out.Next = next
	out.RetryUnit = unit
	out.Retry = true
	return out
}

// EnforceRetries returns the first unit, in planner, researcher, synthesizer
// order, whose retry counter has reached its limit.
func EnforceRetries(ledger *envelope.RetryLedger) (envelope.Unit, bool) {
	if ledger == nil {
		return "", false
	}
	for _, u := range envelope.RetryableUnits {
		if ledger.Exhausted(u) {
			return u, true
		}
	}
	return "", false
}
