// Package agents defines the capability unit contracts and their LLM-backed
// implementations.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/answerflow/commbus"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/config"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/llm"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/tools"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/transcript"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/typeutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ToolExecutor is the interface for tool execution.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, params map[string]any) (map[string]any, error)
	Specs(allowed []string) []tools.Spec
}

// Logger is the interface for logging.
type Logger = logging.Logger

// PromptRegistry is the interface for prompt lookup.
type PromptRegistry interface {
	Get(key string, data map[string]any) (string, error)
}

var tracer = otel.Tracer("answerflow/agents")

// Deps are the collaborators shared by the LLM-backed units.
type Deps struct {
	LLM     llm.Provider
	Prompts PromptRegistry
	Tools   ToolExecutor
	Logger  Logger
	// MaxToolIterations bounds research and synthesis tool loops.
	MaxToolIterations int
}

// NewLLMUnits builds the five LLM-backed units from the workflow config.
func NewLLMUnits(cfg *config.WorkflowConfig, deps Deps) (Units, error) {
	if deps.LLM == nil {
		return Units{}, fmt.Errorf("llm provider is required")
	}
	if deps.Prompts == nil {
		return Units{}, fmt.Errorf("prompt registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.MaxToolIterations <= 0 {
		deps.MaxToolIterations = cfg.MaxToolIterations
	}

	base := func(u envelope.Unit) (*llmUnit, error) {
		uc, ok := cfg.Unit(u)
		if !ok {
			return nil, fmt.Errorf("unit '%s' is not configured", u)
		}
		if len(uc.AllowedTools) > 0 && deps.Tools == nil {
			return nil, fmt.Errorf("unit '%s' allows tools but no tool executor was provided", u)
		}
		return &llmUnit{
			name:   u,
			cfg:    uc,
			deps:   deps,
			logger: deps.Logger.Bind("unit", string(u)),
		}, nil
	}

	var units Units
	for _, u := range []envelope.Unit{
		envelope.UnitPlanner, envelope.UnitResearcher, envelope.UnitSynthesizer,
		envelope.UnitReviewer, envelope.UnitFinalizer,
	} {
		b, err := base(u)
		if err != nil {
			return Units{}, err
		}
		switch u {
		case envelope.UnitPlanner:
			units.Planner = &LLMPlanner{b}
		case envelope.UnitResearcher:
			units.Researcher = &LLMResearcher{b}
		case envelope.UnitSynthesizer:
			units.Synthesizer = &LLMSynthesizer{b}
		case envelope.UnitReviewer:
			units.Reviewer = &LLMReviewer{b}
		case envelope.UnitFinalizer:
			units.Finalizer = &LLMFinalizer{b}
		}
	}
	return units, nil
}

// =============================================================================
// SHARED BASE
// =============================================================================

type llmUnit struct {
	name   envelope.Unit
	cfg    config.UnitConfig
	deps   Deps
	logger Logger
}

func (u *llmUnit) promptKey(variant string) string {
	key := u.cfg.PromptKey
	if key == "" {
		key = string(u.name)
	}
	return key + "." + variant
}

func (u *llmUnit) systemTurn(variant string) (transcript.Turn, error) {
	text, err := u.deps.Prompts.Get(u.promptKey(variant), nil)
	if err != nil {
		return transcript.Turn{}, err
	}
	return transcript.System(text), nil
}

func (u *llmUnit) request(turns []transcript.Turn) llm.Request {
	return llm.Request{
		Model:       u.cfg.Model,
		Turns:       turns,
		Temperature: u.cfg.Temperature,
		MaxTokens:   u.cfg.MaxTokens,
		JSONMode:    true,
	}
}

func (u *llmUnit) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agents."+op,
		trace.WithAttributes(
			attribute.String("answerflow.unit", string(u.name)),
			attribute.String("answerflow.model", u.cfg.Model),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// completeJSON runs a single, tool-free completion and parses a JSON object.
func (u *llmUnit) completeJSON(ctx context.Context, turns []transcript.Turn) (map[string]any, error) {
	start := time.Now()
	resp, err := u.deps.LLM.Chat(ctx, u.request(turns))
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}

	u.logger.Debug(fmt.Sprintf("%s_llm_response", u.name),
		"response_length", len(resp.Content),
		"response_preview", truncate(resp.Content, 200),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	out, err := typeutil.ExtractJSONObject(resp.Content)
	if err != nil {
		return nil, malformed(u.name, err)
	}
	return out, nil
}

func (u *llmUnit) toolLoop() *ToolLoop {
	return &ToolLoop{
		Unit:          u.name,
		LLM:           u.deps.LLM,
		Tools:         u.deps.Tools,
		Allowed:       u.cfg.AllowedTools,
		MaxIterations: u.deps.MaxToolIterations,
		Logger:        u.logger,
	}
}

// =============================================================================
// UNITS
// =============================================================================

// LLMPlanner plans with a single JSON completion.
type LLMPlanner struct{ *llmUnit }

// Plan implements Planner.
func (p *LLMPlanner) Plan(ctx context.Context, in PlanInput) (out *PlanOutput, err error) {
	ctx, span := p.startSpan(ctx, "plan")
	defer func() { endSpan(span, err) }()

	sys, err := p.systemTurn("system")
	if err != nil {
		return nil, err
	}
	turns := append([]transcript.Turn{sys}, conversationTurns(in.Conversation)...)

	raw, err := p.completeJSON(ctx, turns)
	if err != nil {
		return nil, err
	}
	research, err := typeutil.StringListField(raw, "research_steps", true)
	if err != nil {
		return nil, malformed(envelope.UnitPlanner, err)
	}
	synthesis, err := typeutil.StringListField(raw, "synthesis_steps", false)
	if err != nil {
		return nil, malformed(envelope.UnitPlanner, err)
	}
	out = &PlanOutput{ResearchSteps: research, SynthesisSteps: synthesis}
	return out, out.Validate()
}

// LLMResearcher runs a tool loop over the research sub-state.
type LLMResearcher struct{ *llmUnit }

// Research implements Researcher.
func (r *LLMResearcher) Research(ctx context.Context, state *transcript.ResearchState) (out *ResearchOutput, err error) {
	ctx, span := r.startSpan(ctx, "research")
	span.SetAttributes(attribute.Int("answerflow.step_index", state.StepIndex))
	defer func() { endSpan(span, err) }()

	text, err := r.toolLoop().Run(ctx, r.request(nil), &state.Turns)
	if err != nil {
		return nil, err
	}
	raw, err := typeutil.ExtractJSONObject(text)
	if err != nil {
		return nil, malformed(envelope.UnitResearcher, err)
	}
	result, err := typeutil.StringField(raw, "result")
	if err != nil {
		return nil, malformed(envelope.UnitResearcher, err)
	}
	out = &ResearchOutput{Result: result}
	return out, out.Validate()
}

// LLMSynthesizer runs a tool loop over the synthesis sub-state.
type LLMSynthesizer struct{ *llmUnit }

// Synthesize implements Synthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, state *transcript.SynthesisState) (out *SynthesisOutput, err error) {
	ctx, span := s.startSpan(ctx, "synthesize")
	defer func() { endSpan(span, err) }()

	text, err := s.toolLoop().Run(ctx, s.request(nil), &state.Turns)
	if err != nil {
		return nil, err
	}
	raw, err := typeutil.ExtractJSONObject(text)
	if err != nil {
		return nil, malformed(envelope.UnitSynthesizer, err)
	}
	answer, err := typeutil.StringField(raw, "answer")
	if err != nil {
		return nil, malformed(envelope.UnitSynthesizer, err)
	}
	reasoning, err := typeutil.StringField(raw, "reasoning_trace")
	if err != nil {
		return nil, malformed(envelope.UnitSynthesizer, err)
	}
	out = &SynthesisOutput{Answer: answer, Reasoning: reasoning}
	return out, out.Validate()
}

// LLMReviewer judges one request with the criterion selected by kind.
type LLMReviewer struct{ *llmUnit }

// Review implements Reviewer.
func (r *LLMReviewer) Review(ctx context.Context, in ReviewInput) (out *ReviewOutput, err error) {
	ctx, span := r.startSpan(ctx, "review")
	span.SetAttributes(attribute.String("answerflow.review_kind", string(in.Kind)))
	defer func() { endSpan(span, err) }()

	if !in.Kind.IsValid() {
		return nil, fmt.Errorf("unknown review kind '%s'", in.Kind)
	}
	sys, err := r.systemTurn(string(in.Kind))
	if err != nil {
		return nil, err
	}

	raw, err := r.completeJSON(ctx, []transcript.Turn{sys, transcript.User(in.Request.Content)})
	if err != nil {
		return nil, err
	}
	decision, err := typeutil.StringField(raw, "decision")
	if err != nil {
		return nil, malformed(envelope.UnitReviewer, err)
	}
	// Approvals may carry empty feedback, but the key is part of the schema.
	feedback, err := typeutil.StringField(raw, "feedback")
	if err != nil {
		return nil, malformed(envelope.UnitReviewer, err)
	}
	out = &ReviewOutput{
		Decision: envelope.Decision(strings.ToLower(strings.TrimSpace(decision))),
		Feedback: feedback,
	}
	return out, out.Validate()
}

// LLMFinalizer compiles the final answer with a single JSON completion.
type LLMFinalizer struct{ *llmUnit }

// Finalize implements Finalizer.
func (f *LLMFinalizer) Finalize(ctx context.Context, in FinalizeInput) (out *FinalizeOutput, err error) {
	ctx, span := f.startSpan(ctx, "finalize")
	defer func() { endSpan(span, err) }()

	sys, err := f.systemTurn("system")
	if err != nil {
		return nil, err
	}
	raw, err := f.completeJSON(ctx, []transcript.Turn{sys, transcript.User(in.Request.Content)})
	if err != nil {
		return nil, err
	}
	answer, err := typeutil.StringField(raw, "final_answer")
	if err != nil {
		return nil, malformed(envelope.UnitFinalizer, err)
	}
	reasoning, err := typeutil.StringField(raw, "final_reasoning_trace")
	if err != nil {
		return nil, malformed(envelope.UnitFinalizer, err)
	}
	out = &FinalizeOutput{FinalAnswer: answer, FinalReasoningTrace: reasoning}
	return out, out.Validate()
}

// =============================================================================
// HELPERS
// =============================================================================

// conversationTurns maps a unit's bus conversation to chat turns: messages
// from the orchestrator become user turns, the unit's own become assistant turns.
func conversationTurns(msgs []commbus.AgentMessage) []transcript.Turn {
	turns := make([]transcript.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := transcript.RoleAssistant
		if m.FromOrchestrator() {
			role = transcript.RoleUser
		}
		turns = append(turns, transcript.Turn{Role: role, Content: m.Content})
	}
	return turns
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// malformed converts a decoding failure into a MalformedOutputError, keeping
// the offending field when one is known.
func malformed(unit envelope.Unit, err error) error {
	var fe *typeutil.FieldError
	if errors.As(err, &fe) {
		return NewMalformedOutputError(unit, fe.Field, fe.Reason)
	}
	return NewMalformedOutputError(unit, "response", err.Error())
}
