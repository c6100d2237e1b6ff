package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/answerflow/commbus"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/transcript"
)

// =============================================================================
// UNIT CONTRACTS
// =============================================================================

// Planner decomposes a question into research and synthesis steps.
type Planner interface {
	Plan(ctx context.Context, in PlanInput) (*PlanOutput, error)
}

// Researcher investigates one research step inside its private sub-state.
// It may append turns to the state; the coordinator stores the result.
type Researcher interface {
	Research(ctx context.Context, state *transcript.ResearchState) (*ResearchOutput, error)
}

// Synthesizer produces the answer inside the singleton synthesis sub-state.
type Synthesizer interface {
	Synthesize(ctx context.Context, state *transcript.SynthesisState) (*SynthesisOutput, error)
}

// Reviewer judges one artifact. It holds no memory between calls.
type Reviewer interface {
	Review(ctx context.Context, in ReviewInput) (*ReviewOutput, error)
}

// Finalizer compiles the final answer and reasoning trace.
type Finalizer interface {
	Finalize(ctx context.Context, in FinalizeInput) (*FinalizeOutput, error)
}

// Units bundles the five capability units of a workflow.
type Units struct {
	Planner     Planner
	Researcher  Researcher
	Synthesizer Synthesizer
	Reviewer    Reviewer
	Finalizer   Finalizer
}

// Validate rejects a bundle with an empty slot.
func (u Units) Validate() error {
	missing := make([]string, 0)
	if u.Planner == nil {
		missing = append(missing, string(envelope.UnitPlanner))
	}
	if u.Researcher == nil {
		missing = append(missing, string(envelope.UnitResearcher))
	}
	if u.Synthesizer == nil {
		missing = append(missing, string(envelope.UnitSynthesizer))
	}
	if u.Reviewer == nil {
		missing = append(missing, string(envelope.UnitReviewer))
	}
	if u.Finalizer == nil {
		missing = append(missing, string(envelope.UnitFinalizer))
	}
	if len(missing) > 0 {
		return fmt.Errorf("units not registered: %s", strings.Join(missing, ", "))
	}
	return nil
}

// =============================================================================
// INPUTS AND OUTPUTS
// =============================================================================

// PlanInput is what the planner sees: the question and its own conversation
// with the orchestrator.
type PlanInput struct {
	Question     string
	FileRef      string
	Conversation []commbus.AgentMessage
}

// PlanOutput is the planner's decomposition.
type PlanOutput struct {
	ResearchSteps  []string
	SynthesisSteps []string
}

// Validate enforces a non-empty synthesis plan.
func (o *PlanOutput) Validate() error {
	if o == nil {
		return NewMalformedOutputError(envelope.UnitPlanner, "output", "is missing")
	}
	if len(o.SynthesisSteps) == 0 {
		return NewMalformedOutputError(envelope.UnitPlanner, "synthesis_steps", "must not be empty")
	}
	for _, s := range append(append([]string{}, o.ResearchSteps...), o.SynthesisSteps...) {
		if strings.TrimSpace(s) == "" {
			return NewMalformedOutputError(envelope.UnitPlanner, "steps", "must not contain empty entries")
		}
	}
	return nil
}

// ResearchOutput is the result for one research index.
type ResearchOutput struct {
	Result string
}

// Validate requires a result.
func (o *ResearchOutput) Validate() error {
	if o == nil || strings.TrimSpace(o.Result) == "" {
		return NewMalformedOutputError(envelope.UnitResearcher, "result", "is required")
	}
	return nil
}

// SynthesisOutput is the expert answer and its reasoning.
type SynthesisOutput struct {
	Answer    string
	Reasoning string
}

// Validate requires an answer and its reasoning.
func (o *SynthesisOutput) Validate() error {
	if o == nil || strings.TrimSpace(o.Answer) == "" {
		return NewMalformedOutputError(envelope.UnitSynthesizer, "answer", "is required")
	}
	if strings.TrimSpace(o.Reasoning) == "" {
		return NewMalformedOutputError(envelope.UnitSynthesizer, "reasoning_trace", "is required")
	}
	return nil
}

// ReviewInput selects the review criterion and carries the single review
// request addressed to the reviewer.
type ReviewInput struct {
	Kind    envelope.ReviewKind
	Request commbus.AgentMessage
}

// ReviewOutput is a review verdict. Decision is validated by the control
// state machine, not here.
type ReviewOutput struct {
	Decision envelope.Decision
	Feedback string
}

// Validate requires a decision to be present.
func (o *ReviewOutput) Validate() error {
	if o == nil || strings.TrimSpace(string(o.Decision)) == "" {
		return NewMalformedOutputError(envelope.UnitReviewer, "decision", "is required")
	}
	return nil
}

// FinalizeInput carries the question and the finalize instruction.
type FinalizeInput struct {
	Question string
	Request  commbus.AgentMessage
}

// FinalizeOutput is the run's final answer.
type FinalizeOutput struct {
	FinalAnswer         string
	FinalReasoningTrace string
}

// Validate requires a final answer and a reasoning trace.
func (o *FinalizeOutput) Validate() error {
	if o == nil || strings.TrimSpace(o.FinalAnswer) == "" {
		return NewMalformedOutputError(envelope.UnitFinalizer, "final_answer", "is required")
	}
	if strings.TrimSpace(o.FinalReasoningTrace) == "" {
		return NewMalformedOutputError(envelope.UnitFinalizer, "final_reasoning_trace", "is required")
	}
	return nil
}

// =============================================================================
// ERRORS
// =============================================================================

// MalformedOutputError reports a unit output missing a required field.
type MalformedOutputError struct {
	Unit   envelope.Unit
	Field  string
	Reason string
}

// NewMalformedOutputError creates a MalformedOutputError.
func NewMalformedOutputError(unit envelope.Unit, field, reason string) *MalformedOutputError {
	return &MalformedOutputError{Unit: unit, Field: field, Reason: reason}
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed %s output: %s %s", e.Unit, e.Field, e.Reason)
}

// ToolLoopExhaustedError is returned when a tool loop hits its iteration cap
// without a final answer.
type ToolLoopExhaustedError struct {
	Unit       envelope.Unit
	Iterations int
}

func (e *ToolLoopExhaustedError) Error() string {
	return fmt.Sprintf("%s tool loop exhausted after %d iterations", e.Unit, e.Iterations)
}
