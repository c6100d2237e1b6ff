package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/jeeves-cluster-organization/answerflow/commbus"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/config"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/llm"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/prompts"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/testutil"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	llm    *testutil.MockLLMProvider
	tools  *testutil.MockToolExecutor
	logger *testutil.MockLogger
	units  Units
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		llm:    testutil.NewMockLLMProvider(),
		tools:  testutil.NewMockToolExecutor(),
		logger: testutil.NewMockLogger(),
	}
	cfg := config.Default()
	cfg.MaxToolIterations = 3

	units, err := NewLLMUnits(cfg, Deps{
		LLM:     f.llm,
		Prompts: prompts.MustDefault(),
		Tools:   f.tools,
		Logger:  f.logger,
	})
	require.NoError(t, err)
	require.NoError(t, units.Validate())
	f.units = units
	return f
}

func researchState() *transcript.ResearchState {
	return &transcript.ResearchState{
		StepIndex: 0,
		Turns: []transcript.Turn{
			transcript.System("research framing"),
			transcript.User("Research the following topic or question: moons of Mars"),
		},
	}
}

// =============================================================================
// CONSTRUCTION TESTS
// =============================================================================

func TestNewLLMUnitsRequiresDependencies(t *testing.T) {
	cfg := config.Default()
	mock := testutil.NewMockLLMProvider()
	reg := prompts.MustDefault()

	tests := []struct {
		name    string
		cfg     *config.WorkflowConfig
		deps    Deps
		wantErr string
	}{
		{"no llm", cfg, Deps{Prompts: reg}, "llm provider is required"},
		{"no prompts", cfg, Deps{LLM: mock}, "prompt registry is required"},
		{"no tools for tool units", cfg, Deps{LLM: mock, Prompts: reg}, "allows tools but no tool executor"},
		{"unit missing", &config.WorkflowConfig{Units: map[string]config.UnitConfig{}}, Deps{LLM: mock, Prompts: reg}, "unit 'planner' is not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLLMUnits(tt.cfg, tt.deps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// =============================================================================
// PLANNER TESTS
// =============================================================================

func TestPlannerParsesPlan(t *testing.T) {
	f := newFixture(t)
	f.llm.WithText(`{"research_steps": ["Find the number of moons"], "synthesis_steps": ["Report the count"]}`)

	conv := []commbus.AgentMessage{
		commbus.Instruction("planner", "Develop a logical plan", nil),
		commbus.Response("planner", "Plan: ...", nil),
		commbus.Feedback("planner", "Add a source", nil),
	}
	out, err := f.units.Planner.Plan(context.Background(), PlanInput{Question: "q", Conversation: conv})

	require.NoError(t, err)
	assert.Equal(t, []string{"Find the number of moons"}, out.ResearchSteps)
	assert.Equal(t, []string{"Report the count"}, out.SynthesisSteps)

	req, ok := f.llm.LastRequest()
	require.True(t, ok)
	assert.True(t, req.JSONMode)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Turns, 4)
	assert.Equal(t, transcript.RoleSystem, req.Turns[0].Role)
	assert.Contains(t, req.Turns[0].Content, "planner")
	assert.Equal(t, transcript.RoleUser, req.Turns[1].Role)
	assert.Equal(t, transcript.RoleAssistant, req.Turns[2].Role)
	assert.Equal(t, "Add a source", req.Turns[3].Content)
	assert.Empty(t, req.Tools)
}

func TestPlannerAcceptsEmbeddedJSON(t *testing.T) {
	f := newFixture(t)
	f.llm.WithText("Here is the plan:\n```json\n{\"synthesis_steps\": [\"Reason it out\"]}\n```")

	out, err := f.units.Planner.Plan(context.Background(), PlanInput{Question: "q"})

	require.NoError(t, err)
	assert.Empty(t, out.ResearchSteps)
	assert.NotNil(t, out.ResearchSteps)
	assert.Equal(t, []string{"Reason it out"}, out.SynthesisSteps)
}

func TestPlannerMalformedOutput(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		wantField string
	}{
		{"not json", "I cannot help with that.", "response"},
		{"missing synthesis", `{"research_steps": ["a"]}`, "synthesis_steps"},
		{"empty synthesis", `{"research_steps": [], "synthesis_steps": []}`, "synthesis_steps"},
		{"wrong type", `{"research_steps": "a", "synthesis_steps": ["b"]}`, "research_steps"},
		{"non-string entries", `{"synthesis_steps": [1, 2]}`, "synthesis_steps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.llm.WithText(tt.response)

			_, err := f.units.Planner.Plan(context.Background(), PlanInput{Question: "q"})

			var malformed *MalformedOutputError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, envelope.UnitPlanner, malformed.Unit)
			assert.Equal(t, tt.wantField, malformed.Field)
		})
	}
}

func TestPlannerProviderError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection refused")
	f.llm.WithError(boom)

	_, err := f.units.Planner.Plan(context.Background(), PlanInput{Question: "q"})

	assert.ErrorIs(t, err, boom)
}

// =============================================================================
// RESEARCHER AND TOOL LOOP TESTS
// =============================================================================

func TestResearcherRunsToolLoop(t *testing.T) {
	f := newFixture(t)
	f.tools.WithResult("calculator", map[string]any{"result": "2"})
	f.llm.
		WithToolCall("call_1", "calculator", `{"expression": "1+1"}`).
		WithText(`{"result": "Mars has 2 moons."}`)
	state := researchState()

	out, err := f.units.Researcher.Research(context.Background(), state)

	require.NoError(t, err)
	assert.Equal(t, "Mars has 2 moons.", out.Result)

	require.Len(t, state.Turns, 5)
	assert.Equal(t, transcript.RoleAssistant, state.Turns[2].Role)
	assert.Len(t, state.Turns[2].ToolCalls, 1)
	assert.Equal(t, transcript.RoleTool, state.Turns[3].Role)
	assert.Equal(t, "call_1", state.Turns[3].ToolCallID)
	assert.Contains(t, state.Turns[3].Content, `"status":"success"`)
	assert.Equal(t, transcript.RoleAssistant, state.Turns[4].Role)

	assert.Equal(t, 1, f.tools.GetCallCount())
	assert.Equal(t, "1+1", f.tools.Calls[0].Params["expression"])

	req, _ := f.llm.LastRequest()
	require.Len(t, req.Tools, 2)
	assert.Equal(t, "read_text_file", req.Tools[0].Name)
	assert.True(t, f.logger.HasLog("debug", "researcher_tool_called"))
}

func TestToolLoopReportsToolFailures(t *testing.T) {
	tests := []struct {
		name       string
		tool       string
		arguments  string
		wantType   string
		wantCalled bool
	}{
		{"denied tool", "unit_converter", `{}`, "AccessDenied", false},
		{"bad arguments", "calculator", `{not json`, "InvalidArguments", false},
		{"execution error", "read_text_file", `{"file_name": "x"}`, "ExecutionError", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.tools.WithError("read_text_file", errors.New("file not found: x"))
			f.llm.WithToolCall("c1", tt.tool, tt.arguments).WithText(`{"result": "done"}`)
			state := researchState()

			out, err := f.units.Researcher.Research(context.Background(), state)

			require.NoError(t, err)
			assert.Equal(t, "done", out.Result)
			assert.Contains(t, state.Turns[3].Content, tt.wantType)
			assert.Equal(t, tt.wantCalled, f.tools.GetCallCount() == 1)
			assert.True(t, f.logger.HasLog("warn", "researcher_tool_failed"))
		})
	}
}

func TestToolLoopExhausted(t *testing.T) {
	f := newFixture(t)
	f.llm.ChatFunc = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return &llm.Response{ToolCalls: []transcript.ToolCall{{ID: "c", Name: "calculator", Arguments: `{"expression":"1"}`}}}, nil
	}

	_, err := f.units.Researcher.Research(context.Background(), researchState())

	var exhausted *ToolLoopExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, envelope.UnitResearcher, exhausted.Unit)
	assert.Equal(t, 3, exhausted.Iterations)
	assert.Equal(t, 3, f.llm.GetCallCount())
}

func TestToolLoopWithoutTools(t *testing.T) {
	loop := &ToolLoop{
		Unit:          envelope.UnitResearcher,
		LLM:           testutil.NewMockLLMProvider().WithToolCall("c", "calculator", "{}").WithText("final"),
		MaxIterations: 2,
	}
	turns := []transcript.Turn{transcript.User("go")}

	text, err := loop.Run(context.Background(), llm.Request{}, &turns)

	require.NoError(t, err)
	assert.Equal(t, "final", text)
	assert.Contains(t, turns[2].Content, "AccessDenied")
}

func TestResearcherMalformedResult(t *testing.T) {
	f := newFixture(t)
	f.llm.WithText(`{"findings": "no result key"}`)

	_, err := f.units.Researcher.Research(context.Background(), researchState())

	var malformed *MalformedOutputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "result", malformed.Field)
}

// =============================================================================
// SYNTHESIZER, REVIEWER, FINALIZER TESTS
// =============================================================================

func TestSynthesizerAnswer(t *testing.T) {
	f := newFixture(t)
	f.llm.WithText(`{"answer": "2", "reasoning_trace": "Phobos and Deimos"}`)
	state := &transcript.SynthesisState{
		Turns:    []transcript.Turn{transcript.System("s"), transcript.User("Answer the question")},
		Question: "q",
	}

	out, err := f.units.Synthesizer.Synthesize(context.Background(), state)

	require.NoError(t, err)
	assert.Equal(t, &SynthesisOutput{Answer: "2", Reasoning: "Phobos and Deimos"}, out)
	assert.Len(t, state.Turns, 3)

	req, _ := f.llm.LastRequest()
	require.Len(t, req.Tools, 2)
	assert.Equal(t, "calculator", req.Tools[0].Name)
	assert.Equal(t, "unit_converter", req.Tools[1].Name)
}

func TestSynthesizerNumericAnswer(t *testing.T) {
	f := newFixture(t)
	f.llm.WithText(`{"answer": 42, "reasoning_trace": "6*7"}`)

	out, err := f.units.Synthesizer.Synthesize(context.Background(), &transcript.SynthesisState{})

	require.NoError(t, err)
	assert.Equal(t, "42", out.Answer)
	assert.Equal(t, "6*7", out.Reasoning)
}

func TestMissingSchemaFieldsAreMalformed(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		call       func(f *fixture) error
		wantUnit   envelope.Unit
		wantField  string
		wantReason string
	}{
		{
			name:     "synthesis without reasoning",
			response: `{"answer": "42"}`,
			call: func(f *fixture) error {
				_, err := f.units.Synthesizer.Synthesize(context.Background(), &transcript.SynthesisState{})
				return err
			},
			wantUnit: envelope.UnitSynthesizer, wantField: "reasoning_trace", wantReason: "is missing",
		},
		{
			name:     "synthesis with blank reasoning",
			response: `{"answer": "42", "reasoning_trace": "  "}`,
			call: func(f *fixture) error {
				_, err := f.units.Synthesizer.Synthesize(context.Background(), &transcript.SynthesisState{})
				return err
			},
			wantUnit: envelope.UnitSynthesizer, wantField: "reasoning_trace", wantReason: "is required",
		},
		{
			name:     "review without feedback",
			response: `{"decision": "reject"}`,
			call: func(f *fixture) error {
				_, err := f.units.Reviewer.Review(context.Background(), ReviewInput{Kind: envelope.ReviewKindSynthesis})
				return err
			},
			wantUnit: envelope.UnitReviewer, wantField: "feedback", wantReason: "is missing",
		},
		{
			name:     "review with null feedback",
			response: `{"decision": "approve", "feedback": null}`,
			call: func(f *fixture) error {
				_, err := f.units.Reviewer.Review(context.Background(), ReviewInput{Kind: envelope.ReviewKindPlan})
				return err
			},
			wantUnit: envelope.UnitReviewer, wantField: "feedback", wantReason: "is missing",
		},
		{
			name:     "finalize without trace",
			response: `{"final_answer": "42"}`,
			call: func(f *fixture) error {
				_, err := f.units.Finalizer.Finalize(context.Background(), FinalizeInput{Question: "q"})
				return err
			},
			wantUnit: envelope.UnitFinalizer, wantField: "final_reasoning_trace", wantReason: "is missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.llm.WithText(tt.response)

			var malformed *MalformedOutputError
			require.ErrorAs(t, tt.call(f), &malformed)
			assert.Equal(t, tt.wantUnit, malformed.Unit)
			assert.Equal(t, tt.wantField, malformed.Field)
			assert.Equal(t, tt.wantReason, malformed.Reason)
		})
	}
}

func TestReviewerSelectsCriterion(t *testing.T) {
	tests := []struct {
		kind     envelope.ReviewKind
		response string
		want     envelope.Decision
	}{
		{envelope.ReviewKindPlan, `{"decision": "approve", "feedback": ""}`, envelope.DecisionApprove},
		{envelope.ReviewKindResearch, `{"decision": " Reject ", "feedback": "cite a source"}`, envelope.DecisionReject},
		{envelope.ReviewKindSynthesis, `{"decision": "maybe", "feedback": "?"}`, envelope.Decision("maybe")},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := newFixture(t)
			f.llm.WithText(tt.response)
			reg := prompts.MustDefault()
			wantSystem, err := reg.Get("reviewer."+string(tt.kind), nil)
			require.NoError(t, err)

			out, err := f.units.Reviewer.Review(context.Background(), ReviewInput{
				Kind:    tt.kind,
				Request: commbus.Instruction("reviewer", "Is this right?", nil),
			})

			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Decision)

			req, _ := f.llm.LastRequest()
			require.Len(t, req.Turns, 2)
			assert.Equal(t, wantSystem, req.Turns[0].Content)
			assert.Equal(t, "Is this right?", req.Turns[1].Content)
		})
	}
}

func TestReviewerRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)

	_, err := f.units.Reviewer.Review(context.Background(), ReviewInput{Kind: "style"})

	assert.ErrorContains(t, err, "unknown review kind")
	assert.Zero(t, f.llm.GetCallCount())
}

func TestReviewerMissingDecision(t *testing.T) {
	f := newFixture(t)
	f.llm.WithText(`{"feedback": "looks fine"}`)

	_, err := f.units.Reviewer.Review(context.Background(), ReviewInput{Kind: envelope.ReviewKindPlan})

	var malformed *MalformedOutputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, envelope.UnitReviewer, malformed.Unit)
	assert.Equal(t, "decision", malformed.Field)
}

func TestFinalizer(t *testing.T) {
	f := newFixture(t)
	f.llm.WithText(`{"final_answer": "2", "final_reasoning_trace": "1. looked up moons"}`)

	out, err := f.units.Finalizer.Finalize(context.Background(), FinalizeInput{
		Question: "q",
		Request:  commbus.Instruction("finalizer", "Generate the final answer", nil),
	})

	require.NoError(t, err)
	assert.Equal(t, "2", out.FinalAnswer)
	assert.Equal(t, "1. looked up moons", out.FinalReasoningTrace)
}
