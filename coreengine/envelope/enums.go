package envelope

// Step is a control state of the workflow state machine. The set is closed.
type Step string

const (
	// StepNone is the unset value of a control variable.
	StepNone Step = ""
	// StepInput is the initial state, entered once per run.
	StepInput Step = "input"
	// StepPlan dispatches the planning unit.
	StepPlan Step = "plan"
	// StepReviewPlan dispatches the review unit with plan criteria.
	StepReviewPlan Step = "review_plan"
	// StepResearch dispatches the research unit for the current index.
	StepResearch Step = "research"
	// StepReviewResearch dispatches the review unit with research criteria.
	StepReviewResearch Step = "review_research"
	// StepSynthesize dispatches the synthesis unit.
	StepSynthesize Step = "synthesize"
	// StepReviewSynthesis dispatches the review unit with synthesis criteria.
	StepReviewSynthesis Step = "review_synthesis"
	// StepFinalize dispatches the finalization unit or emits the failure answer.
	StepFinalize Step = "finalize"
	// StepDone is terminal.
	StepDone Step = "done"
)

// AllSteps lists every valid step in pipeline order.
var AllSteps = []Step{
	StepInput, StepPlan, StepReviewPlan, StepResearch, StepReviewResearch,
	StepSynthesize, StepReviewSynthesis, StepFinalize, StepDone,
}

// IsValid reports whether s is a member of the closed step set.
func (s Step) IsValid() bool {
	for _, v := range AllSteps {
		if s == v {
			return true
		}
	}
	return false
}

// IsReview reports whether s dispatches the review unit.
func (s Step) IsReview() bool {
	return s == StepReviewPlan || s == StepReviewResearch || s == StepReviewSynthesis
}

// ReviewKind returns the review criteria applied at s. ok is false for
// non-review steps.
func (s Step) ReviewKind() (ReviewKind, bool) {
	switch s {
	case StepReviewPlan:
		return ReviewKindPlan, true
	case StepReviewResearch:
		return ReviewKindResearch, true
	case StepReviewSynthesis:
		return ReviewKindSynthesis, true
	}
	return "", false
}

// Unit returns the unit dispatched at s. ok is false for input and done.
func (s Step) Unit() (Unit, bool) {
	switch s {
	case StepPlan:
		return UnitPlanner, true
	case StepResearch:
		return UnitResearcher, true
	case StepSynthesize:
		return UnitSynthesizer, true
	case StepReviewPlan, StepReviewResearch, StepReviewSynthesis:
		return UnitReviewer, true
	case StepFinalize:
		return UnitFinalizer, true
	}
	return "", false
}

// Unit names a pluggable capability unit. The value doubles as the unit's
// sender/receiver name on the message bus.
type Unit string

const (
	UnitPlanner     Unit = "planner"
	UnitResearcher  Unit = "researcher"
	UnitSynthesizer Unit = "synthesizer"
	UnitReviewer    Unit = "reviewer"
	UnitFinalizer   Unit = "finalizer"
)

// RetryableUnits lists the units that may carry a retry limit, in the order
// their budgets are checked.
var RetryableUnits = []Unit{UnitPlanner, UnitResearcher, UnitSynthesizer}

// String returns the bus name.
func (u Unit) String() string {
	return string(u)
}

// IsRetryable reports whether u can be configured with a retry limit.
func (u Unit) IsRetryable() bool {
	for _, r := range RetryableUnits {
		if u == r {
			return true
		}
	}
	return false
}

// Decision is a review verdict.
type Decision string

const (
	// DecisionApprove accepts the reviewed artifact.
	DecisionApprove Decision = "approve"
	// DecisionReject sends the reviewed unit back with feedback.
	DecisionReject Decision = "reject"
)

// IsValid reports whether d is approve or reject.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ReviewKind selects one of the three review criteria.
type ReviewKind string

const (
	ReviewKindPlan      ReviewKind = "plan"
	ReviewKindResearch  ReviewKind = "research"
	ReviewKindSynthesis ReviewKind = "synthesis"
)

// IsValid reports whether k is a known review kind.
func (k ReviewKind) IsValid() bool {
	return k == ReviewKindPlan || k == ReviewKindResearch || k == ReviewKindSynthesis
}

// ReviewedUnit returns the unit judged under k.
func (k ReviewKind) ReviewedUnit() Unit {
	switch k {
	case ReviewKindPlan:
		return UnitPlanner
	case ReviewKindResearch:
		return UnitResearcher
	case ReviewKindSynthesis:
		return UnitSynthesizer
	}
	return ""
}

// TerminalReason represents why a run ended - exactly one per run.
type TerminalReason string

const (
	// TerminalReasonCompleted indicates the finalizer produced the answer.
	TerminalReasonCompleted TerminalReason = "completed"
	// TerminalReasonRetryExhausted indicates a unit ran out of retries.
	TerminalReasonRetryExhausted TerminalReason = "retry_exhausted"
	// TerminalReasonFailed indicates an unrecoverable error.
	TerminalReasonFailed TerminalReason = "failed"
)
