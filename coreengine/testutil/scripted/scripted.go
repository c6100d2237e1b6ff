// Package scripted provides deterministic capability units for tests and
// offline runs. Each unit replays a queue of outputs; once the queue is
// drained the last entry repeats.
package scripted

import (
	"context"
	"fmt"
	"sync"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/agents"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/transcript"
)

// PrivateMarker tags every turn a scripted tool-using unit writes into its
// private transcript.
const PrivateMarker = "[private tool transcript]"

func next[T any](queue []T, call int) (T, bool) {
	var zero T
	if len(queue) == 0 {
		return zero, false
	}
	if call < len(queue) {
		return queue[call], true
	}
	return queue[len(queue)-1], true
}

// =============================================================================
// PLANNER
// =============================================================================

// Planner replays plans.
type Planner struct {
	Outputs []*agents.PlanOutput
	Err     error
	Func    func(ctx context.Context, in agents.PlanInput) (*agents.PlanOutput, error)

	mu     sync.Mutex
	Inputs []agents.PlanInput
}

// Plan implements agents.Planner.
func (p *Planner) Plan(ctx context.Context, in agents.PlanInput) (*agents.PlanOutput, error) {
	p.mu.Lock()
	call := len(p.Inputs)
	p.Inputs = append(p.Inputs, in)
	p.mu.Unlock()

	if p.Func != nil {
		return p.Func(ctx, in)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	out, ok := next(p.Outputs, call)
	if !ok {
		return nil, fmt.Errorf("scripted planner has no output for call %d", call)
	}
	return &agents.PlanOutput{
		ResearchSteps:  append([]string{}, out.ResearchSteps...),
		SynthesisSteps: append([]string{}, out.SynthesisSteps...),
	}, nil
}

// Calls returns the number of invocations.
func (p *Planner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Inputs)
}

// =============================================================================
// RESEARCHER
// =============================================================================

// Researcher replays results and writes a marked tool exchange into each
// private transcript it is handed.
type Researcher struct {
	Results []string
	Err     error
	Func    func(ctx context.Context, state *transcript.ResearchState) (*agents.ResearchOutput, error)

	mu      sync.Mutex
	Indices []int
}

// Research implements agents.Researcher.
func (r *Researcher) Research(ctx context.Context, state *transcript.ResearchState) (*agents.ResearchOutput, error) {
	r.mu.Lock()
	call := len(r.Indices)
	r.Indices = append(r.Indices, state.StepIndex)
	r.mu.Unlock()

	if r.Func != nil {
		return r.Func(ctx, state)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	appendPrivateExchange(&state.Turns, call)

	result, ok := next(r.Results, call)
	if !ok {
		result = fmt.Sprintf("finding for step %d", state.StepIndex)
	}
	return &agents.ResearchOutput{Result: result}, nil
}

// Calls returns the number of invocations.
func (r *Researcher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Indices)
}

// =============================================================================
// SYNTHESIZER
// =============================================================================

// Synthesizer replays answers.
type Synthesizer struct {
	Outputs []*agents.SynthesisOutput
	Err     error
	Func    func(ctx context.Context, state *transcript.SynthesisState) (*agents.SynthesisOutput, error)

	mu    sync.Mutex
	calls int
}

// Synthesize implements agents.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, state *transcript.SynthesisState) (*agents.SynthesisOutput, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()

	if s.Func != nil {
		return s.Func(ctx, state)
	}
	if s.Err != nil {
		return nil, s.Err
	}
	appendPrivateExchange(&state.Turns, call)

	out, ok := next(s.Outputs, call)
	if !ok {
		return nil, fmt.Errorf("scripted synthesizer has no output for call %d", call)
	}
	return &agents.SynthesisOutput{Answer: out.Answer, Reasoning: out.Reasoning}, nil
}

// Calls returns the number of invocations.
func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// =============================================================================
// REVIEWER
// =============================================================================

// Reviewer replays one decision queue per review kind. A kind without a
// queue approves.
type Reviewer struct {
	Decisions map[envelope.ReviewKind][]agents.ReviewOutput
	Err       error

	mu     sync.Mutex
	Inputs []agents.ReviewInput
	counts map[envelope.ReviewKind]int
}

// Review implements agents.Reviewer.
func (r *Reviewer) Review(ctx context.Context, in agents.ReviewInput) (*agents.ReviewOutput, error) {
	r.mu.Lock()
	if r.counts == nil {
		r.counts = make(map[envelope.ReviewKind]int)
	}
	call := r.counts[in.Kind]
	r.counts[in.Kind]++
	r.Inputs = append(r.Inputs, in)
	r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	out, ok := next(r.Decisions[in.Kind], call)
	if !ok {
		return &agents.ReviewOutput{Decision: envelope.DecisionApprove}, nil
	}
	return &agents.ReviewOutput{Decision: out.Decision, Feedback: out.Feedback}, nil
}

// Calls returns the number of invocations for kind.
func (r *Reviewer) Calls(kind envelope.ReviewKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[kind]
}

// =============================================================================
// FINALIZER
// =============================================================================

// Finalizer returns a fixed output.
type Finalizer struct {
	Output *agents.FinalizeOutput
	Err    error

	mu     sync.Mutex
	Inputs []agents.FinalizeInput
}

// Finalize implements agents.Finalizer.
func (f *Finalizer) Finalize(ctx context.Context, in agents.FinalizeInput) (*agents.FinalizeOutput, error) {
	f.mu.Lock()
	f.Inputs = append(f.Inputs, in)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	if f.Output == nil {
		return &agents.FinalizeOutput{}, nil
	}
	out := *f.Output
	return &out, nil
}

// Calls returns the number of invocations.
func (f *Finalizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Inputs)
}

// =============================================================================
// SCRIPT
// =============================================================================

// Script bundles the five scripted units.
type Script struct {
	Planner     *Planner
	Researcher  *Researcher
	Synthesizer *Synthesizer
	Reviewer    *Reviewer
	Finalizer   *Finalizer
}

// New returns a script whose run approves everything: one research step,
// one synthesis step, answer "42".
func New() *Script {
	return &Script{
		Planner: &Planner{Outputs: []*agents.PlanOutput{{
			ResearchSteps:  []string{"Find the answer"},
			SynthesisSteps: []string{"State the answer"},
		}}},
		Researcher: &Researcher{},
		Synthesizer: &Synthesizer{Outputs: []*agents.SynthesisOutput{{
			Answer: "42", Reasoning: "The research says so.",
		}}},
		Reviewer: &Reviewer{},
		Finalizer: &Finalizer{Output: &agents.FinalizeOutput{
			FinalAnswer: "42", FinalReasoningTrace: "Researched, then answered.",
		}},
	}
}

// Units returns the script as agents.Units.
func (s *Script) Units() agents.Units {
	return agents.Units{
		Planner:     s.Planner,
		Researcher:  s.Researcher,
		Synthesizer: s.Synthesizer,
		Reviewer:    s.Reviewer,
		Finalizer:   s.Finalizer,
	}
}

// Reject builds a rejecting review output.
func Reject(feedback string) agents.ReviewOutput {
	return agents.ReviewOutput{Decision: envelope.DecisionReject, Feedback: feedback}
}

// Approve builds an approving review output.
func Approve() agents.ReviewOutput {
	return agents.ReviewOutput{Decision: envelope.DecisionApprove}
}

func appendPrivateExchange(turns *[]transcript.Turn, call int) {
	id := fmt.Sprintf("call_%d", call)
	*turns = append(*turns,
		transcript.Turn{
			Role:      transcript.RoleAssistant,
			Content:   PrivateMarker,
			ToolCalls: []transcript.ToolCall{{ID: id, Name: "calculator", Arguments: `{"expression":"6*7"}`}},
		},
		transcript.Turn{Role: transcript.RoleTool, Name: "calculator", ToolCallID: id, Content: PrivateMarker + " 42"},
	)
}
