// Package runtime provides the Runner - the orchestrator that drives one
// question through plan, research, synthesis, review and finalization.
//
// A run is strictly turn-based: the runner computes the next step, publishes
// exactly one message for it, invokes the addressed unit and folds the output
// into the record before deciding again. Runs share only the Runner's
// immutable configuration, so Execute may be called concurrently.
package runtime

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/answerflow/commbus"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/agents"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/config"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/coordinator"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/prompts"
)

// FailureAnswer is the fixed answer of a run that exhausted a retry budget.
const FailureAnswer = "The question could not be answered."

// OrchestratorComponent is the failing component recorded for control errors.
const OrchestratorComponent = "orchestrator"

var tracer = otel.Tracer("answerflow/runtime")

// PromptRegistry renders dispatch templates and unit framing prompts.
type PromptRegistry interface {
	Get(key string, data map[string]any) (string, error)
}

// FinalResult is the outcome of one run.
type FinalResult struct {
	FinalAnswer         string
	FinalReasoningTrace string
	State               *envelope.Envelope
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver subscribes obs to the message bus of every run.
func WithObserver(obs commbus.Observer) Option {
	return func(r *Runner) {
		if obs != nil {
			r.observers = append(r.observers, obs)
		}
	}
}

// WithPrompts replaces the built-in prompt registry.
func WithPrompts(p PromptRegistry) Option {
	return func(r *Runner) {
		if p != nil {
			r.prompts = p
		}
	}
}

// Runner executes questions against a fixed set of units.
type Runner struct {
	cfg       *config.WorkflowConfig
	units     agents.Units
	prompts   PromptRegistry
	logger    logging.Logger
	observers []commbus.Observer

	research  *coordinator.Research
	synthesis *coordinator.Synthesis
}

// NewRunner creates a Runner. A nil cfg uses config.Default().
func NewRunner(cfg *config.WorkflowConfig, units agents.Units, opts ...Option) (*Runner, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := units.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:    cfg,
		units:  units,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.prompts == nil {
		reg, err := prompts.NewRegistry()
		if err != nil {
			return nil, err
		}
		r.prompts = reg
	}
	r.logger = r.logger.Bind("workflow", cfg.Name)

	r.research = &coordinator.Research{Unit: units.Researcher, Prompts: r.prompts, Logger: r.logger}
	r.synthesis = &coordinator.Synthesis{Unit: units.Synthesizer, Prompts: r.prompts, Logger: r.logger}
	return r, nil
}

// run is the per-question execution context.
type run struct {
	env    *envelope.Envelope
	logger logging.Logger
}

// =============================================================================
// EXECUTION
// =============================================================================

// Execute answers one question. fileRef may be empty.
//
// On a run-terminating error the partially populated result is returned
// together with the error; the record carries the error text and the failing
// component.
func (r *Runner) Execute(ctx context.Context, question, fileRef string) (*FinalResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, &InputError{Field: "question", Reason: "must not be empty"}
	}

	env := envelope.New(question, fileRef, r.cfg.RetryLimitsByUnit())
	for _, obs := range r.observers {
		env.Messages.Subscribe(obs)
	}
	rn := &run{env: env, logger: r.logger.Bind("run_id", env.RunID)}

	ctx, span := tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("answerflow.run_id", env.RunID),
			attribute.Bool("answerflow.has_file", env.HasFile()),
		),
	)
	defer span.End()

	rn.logger.Info("workflow_started",
		"has_file", env.HasFile(),
		"retry_limits", r.cfg.RetryLimits,
	)

	err := r.loop(ctx, rn)
	if err != nil {
		component := OrchestratorComponent
		var unitErr *UnitError
		if errors.As(err, &unitErr) {
			component = string(unitErr.Unit)
		}
		env.Fail(component, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rn.logger.Error("workflow_failed",
			"step", string(env.CurrentStep),
			"failing_component", component,
			"error", err.Error(),
		)
	} else {
		reason := envelope.TerminalReasonCompleted
		if env.ExhaustedUnit != "" {
			reason = envelope.TerminalReasonRetryExhausted
		}
		env.Complete(reason)
		span.SetStatus(codes.Ok, "")
	}

	durationMS := int(env.Duration().Milliseconds())
	observability.RecordWorkflowRun(r.cfg.Name, string(env.TerminalReason), durationMS)
	span.SetAttributes(attribute.String("answerflow.terminal_reason", string(env.TerminalReason)))

	rn.logger.Info("workflow_completed",
		"terminal_reason", string(env.TerminalReason),
		"steps", len(env.StepHistory),
		"messages", env.Messages.Len(),
		"duration_ms", durationMS,
	)

	return &FinalResult{
		FinalAnswer:         env.FinalAnswer,
		FinalReasoningTrace: env.FinalReasoningTrace,
		State:               env,
	}, err
}

// loop advances the state machine until done.
func (r *Runner) loop(ctx context.Context, rn *run) error {
	env := rn.env
	for {
		in := kernel.TransitionInput{
			Current:       env.CurrentStep,
			ResearchIndex: env.CurrentResearchIndex,
			ResearchSteps: len(env.ResearchSteps),
		}
		if kind, ok := env.CurrentStep.ReviewKind(); ok {
			outcome, _ := env.Review(kind)
			in.Decision = outcome.Decision
		}

		out, err := kernel.Transition(in)
		if err != nil {
			return err
		}
		if out.RetryUnit != "" {
			count := env.Retries.Increment(out.RetryUnit)
			rn.logger.Debug("retry_counted", "unit", string(out.RetryUnit), "count", count)
		}

		env.NextStep = out.Next
		if env.ExhaustedUnit == "" && out.Next != envelope.StepDone {
			if unit, hit := kernel.EnforceRetries(env.Retries); hit {
				limit, _ := env.Retries.Limit(unit)
				env.ExhaustedUnit = unit
				env.NextStep = envelope.StepFinalize
				observability.RecordRetryExhausted(string(unit))
				rn.logger.Warn("retry_exhausted", "unit", string(unit), "limit", limit)
			}
		}

		from := env.CurrentStep
		next := env.NextStep
		observability.RecordTransition(string(from), string(next))
		rn.logger.Debug("step_transition",
			"from", string(from),
			"to", string(next),
			"research_index", out.ResearchIndex,
			"retry", out.Retry,
		)
		env.EnterStep(next, out.ResearchIndex)

		if next == envelope.StepDone {
			return nil
		}
		retry := out.Retry && env.ExhaustedUnit == ""
		if err := r.dispatch(ctx, rn, retry); err != nil {
			return err
		}
	}
}
