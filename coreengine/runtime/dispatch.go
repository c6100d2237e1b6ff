package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/answerflow/commbus"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/agents"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/observability"
)

// reviewKindOf maps a retryable unit to the review whose feedback drives its
// retry dispatch.
var reviewKindOf = map[envelope.Unit]envelope.ReviewKind{
	envelope.UnitPlanner:     envelope.ReviewKindPlan,
	envelope.UnitResearcher:  envelope.ReviewKindResearch,
	envelope.UnitSynthesizer: envelope.ReviewKindSynthesis,
}

// dispatch publishes the single outbound message for the current step and
// runs the addressed unit.
func (r *Runner) dispatch(ctx context.Context, rn *run, retry bool) error {
	switch step := rn.env.CurrentStep; step {
	case envelope.StepPlan:
		return r.dispatchPlan(ctx, rn, retry)
	case envelope.StepResearch:
		return r.dispatchResearch(ctx, rn, retry)
	case envelope.StepSynthesize:
		return r.dispatchSynthesis(ctx, rn, retry)
	case envelope.StepReviewPlan, envelope.StepReviewResearch, envelope.StepReviewSynthesis:
		return r.dispatchReview(ctx, rn)
	case envelope.StepFinalize:
		return r.dispatchFinalize(ctx, rn)
	default:
		return kernel.NewInvalidStateError(step, "no unit is dispatched at this step")
	}
}

// =============================================================================
// PER-STEP DISPATCH
// =============================================================================

func (r *Runner) dispatchPlan(ctx context.Context, rn *run, retry bool) error {
	env := rn.env
	data := map[string]any{"Question": env.Question, "FileRef": env.FileRef}
	if err := r.instruct(ctx, rn, envelope.UnitPlanner, "dispatch.plan", data, retry, nil); err != nil {
		return err
	}

	var out *agents.PlanOutput
	err := r.invoke(ctx, rn, envelope.UnitPlanner, func(ctx context.Context) error {
		var err error
		out, err = r.units.Planner.Plan(ctx, agents.PlanInput{
			Question:     env.Question,
			FileRef:      env.FileRef,
			Conversation: env.Messages.ConversationFor(string(envelope.UnitPlanner), commbus.ConversationFilter{}),
		})
		if err != nil {
			return err
		}
		return out.Validate()
	})
	if err != nil {
		return err
	}

	env.ResearchSteps = append([]string{}, out.ResearchSteps...)
	env.SynthesisSteps = append([]string{}, out.SynthesisSteps...)
	rn.logger.Info("plan_created",
		"research_steps", len(env.ResearchSteps),
		"synthesis_steps", len(env.SynthesisSteps),
	)

	return r.respond(ctx, rn, envelope.UnitPlanner, map[string]any{
		"research_steps":  env.ResearchSteps,
		"synthesis_steps": env.SynthesisSteps,
	}, nil)
}

func (r *Runner) dispatchResearch(ctx context.Context, rn *run, retry bool) error {
	env := rn.env
	index := env.CurrentResearchIndex
	topic, ok := env.CurrentResearchStep()
	if !ok {
		return kernel.NewInvalidStateError(env.CurrentStep, fmt.Sprintf("no research step at index %d", index))
	}

	data := map[string]any{"ResearchTopic": topic}
	if err := r.instruct(ctx, rn, envelope.UnitResearcher, "dispatch.research", data, retry, commbus.Step(index)); err != nil {
		return err
	}

	return r.invoke(ctx, rn, envelope.UnitResearcher, func(ctx context.Context) error {
		_, err := r.research.Dispatch(ctx, env, index)
		return err
	})
}

func (r *Runner) dispatchSynthesis(ctx context.Context, rn *run, retry bool) error {
	env := rn.env
	data := map[string]any{
		"Question":        env.Question,
		"ResearchResults": env.ResearchResults,
		"SynthesisSteps":  env.SynthesisSteps,
	}
	if err := r.instruct(ctx, rn, envelope.UnitSynthesizer, "dispatch.synthesize", data, retry, nil); err != nil {
		return err
	}

	return r.invoke(ctx, rn, envelope.UnitSynthesizer, func(ctx context.Context) error {
		_, err := r.synthesis.Dispatch(ctx, env)
		return err
	})
}

func (r *Runner) dispatchReview(ctx context.Context, rn *run) error {
	env := rn.env
	kind, _ := env.CurrentStep.ReviewKind()

	var (
		data   map[string]any
		stepID *int
	)
	switch kind {
	case envelope.ReviewKindPlan:
		data = map[string]any{
			"Question":       env.Question,
			"FileRef":        env.FileRef,
			"ResearchSteps":  env.ResearchSteps,
			"SynthesisSteps": env.SynthesisSteps,
		}
	case envelope.ReviewKindResearch:
		index := env.CurrentResearchIndex
		topic, ok := env.CurrentResearchStep()
		if !ok || index >= len(env.ResearchResults) {
			return kernel.NewInvalidStateError(env.CurrentStep, fmt.Sprintf("no research result at index %d", index))
		}
		data = map[string]any{"ResearchTopic": topic, "ResearchResult": env.ResearchResults[index]}
		stepID = commbus.Step(index)
	case envelope.ReviewKindSynthesis:
		data = map[string]any{
			"Question":        env.Question,
			"ResearchResults": env.ResearchResults,
			"Answer":          env.SynthesisAnswer,
			"Reasoning":       env.SynthesisReasoning,
		}
	}

	if err := r.instruct(ctx, rn, envelope.UnitReviewer, "dispatch.review_"+string(kind), data, false, stepID); err != nil {
		return err
	}
	request, _ := env.Messages.LatestTo(string(envelope.UnitReviewer), stepID)

	var out *agents.ReviewOutput
	err := r.invoke(ctx, rn, envelope.UnitReviewer, func(ctx context.Context) error {
		var err error
		out, err = r.units.Reviewer.Review(ctx, agents.ReviewInput{Kind: kind, Request: request})
		if err != nil {
			return err
		}
		return out.Validate()
	})
	if err != nil {
		return err
	}

	env.SetReview(kind, envelope.ReviewOutcome{Decision: out.Decision, Feedback: out.Feedback})
	observability.RecordReviewDecision(string(kind), string(out.Decision))
	rn.logger.Info("review_decided",
		"kind", string(kind),
		"decision", string(out.Decision),
		"research_index", env.CurrentResearchIndex,
	)

	return r.respond(ctx, rn, envelope.UnitReviewer, map[string]any{
		"decision": string(out.Decision),
		"feedback": out.Feedback,
	}, stepID)
}

func (r *Runner) dispatchFinalize(ctx context.Context, rn *run) error {
	env := rn.env

	if unit := env.ExhaustedUnit; unit != "" {
		limit, _ := env.Retries.Limit(unit)
		data := map[string]any{"FailureAnswer": FailureAnswer, "Unit": string(unit), "Limit": limit}
		if err := r.instruct(ctx, rn, envelope.UnitFinalizer, "dispatch.finalize_failed", data, false, nil); err != nil {
			return err
		}
		env.FinalAnswer = FailureAnswer
		env.FinalReasoningTrace = fmt.Sprintf("%s The %s unit exhausted its retry limit of %d.", FailureAnswer, unit, limit)
		rn.logger.Info("finalizer_bypassed", "exhausted_unit", string(unit), "limit", limit)
		return nil
	}

	data := map[string]any{
		"Question":       env.Question,
		"ResearchSteps":  env.ResearchSteps,
		"SynthesisSteps": env.SynthesisSteps,
		"Answer":         env.SynthesisAnswer,
		"Reasoning":      env.SynthesisReasoning,
	}
	if err := r.instruct(ctx, rn, envelope.UnitFinalizer, "dispatch.finalize", data, false, nil); err != nil {
		return err
	}
	request, _ := env.Messages.LatestTo(string(envelope.UnitFinalizer), nil)

	var out *agents.FinalizeOutput
	err := r.invoke(ctx, rn, envelope.UnitFinalizer, func(ctx context.Context) error {
		var err error
		out, err = r.units.Finalizer.Finalize(ctx, agents.FinalizeInput{Question: env.Question, Request: request})
		if err != nil {
			return err
		}
		return out.Validate()
	})
	if err != nil {
		return err
	}

	env.FinalAnswer = out.FinalAnswer
	env.FinalReasoningTrace = out.FinalReasoningTrace
	return r.respond(ctx, rn, envelope.UnitFinalizer, map[string]any{
		"final_answer":          out.FinalAnswer,
		"final_reasoning_trace": out.FinalReasoningTrace,
	}, nil)
}

// =============================================================================
// MESSAGING
// =============================================================================

// instruct renders and publishes the orchestrator's message to unit. A retry
// replaces the task framing with the rejecting review's feedback and is
// published as a feedback message.
func (r *Runner) instruct(ctx context.Context, rn *run, unit envelope.Unit, key string, data map[string]any, retry bool, stepID *int) error {
	msgType := commbus.MessageTypeInstruction
	if retry {
		outcome, _ := rn.env.Review(reviewKindOf[unit])
		key += "_retry"
		data = map[string]any{"Feedback": outcome.Feedback}
		msgType = commbus.MessageTypeFeedback
	}

	content, err := r.prompts.Get(key, data)
	if err != nil {
		return fmt.Errorf("compose %s message for %s: %w", msgType, unit, err)
	}

	rn.logger.Debug("unit_dispatched",
		"unit", string(unit),
		"step", string(rn.env.CurrentStep),
		"type", string(msgType),
	)
	return r.publish(ctx, rn, commbus.NewMessage(commbus.OrchestratorName, string(unit), msgType, content, stepID))
}

// respond publishes unit's response to the orchestrator.
func (r *Runner) respond(ctx context.Context, rn *run, unit envelope.Unit, payload map[string]any, stepID *int) error {
	content, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s response: %w", unit, err)
	}
	return r.publish(ctx, rn, commbus.Response(string(unit), string(content), stepID))
}

// publish appends msg to the run's bus. Observer failures are logged and do
// not stop the run.
func (r *Runner) publish(ctx context.Context, rn *run, msg commbus.AgentMessage) error {
	err := rn.env.Messages.Publish(ctx, msg)
	var obsErr *commbus.ObserverError
	if errors.As(err, &obsErr) {
		rn.logger.Warn("bus_observer_failed", "message_id", obsErr.MessageID, "error", obsErr.Cause.Error())
		return nil
	}
	return err
}

// =============================================================================
// UNIT INVOCATION
// =============================================================================

// invoke runs fn as one traced, measured and panic-guarded unit invocation.
// Any error is returned as a *UnitError.
func (r *Runner) invoke(ctx context.Context, rn *run, unit envelope.Unit, fn func(context.Context) error) error {
	step := rn.env.CurrentStep
	if err := ctx.Err(); err != nil {
		return NewUnitError(unit, step, err)
	}

	ctx, span := tracer.Start(ctx, "unit."+string(unit),
		trace.WithAttributes(
			attribute.String("answerflow.run_id", rn.env.RunID),
			attribute.String("answerflow.step", string(step)),
			attribute.Int("answerflow.research_index", rn.env.CurrentResearchIndex),
		),
	)
	defer span.End()

	start := time.Now()
	err := kernel.SafeExecute(rn.logger, "unit."+string(unit), func() error {
		return fn(ctx)
	})
	durationMS := int(time.Since(start).Milliseconds())

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	observability.RecordUnitDispatch(string(unit), status, durationMS)
	rn.logger.Debug("unit_completed",
		"unit", string(unit),
		"step", string(step),
		"status", status,
		"duration_ms", durationMS,
	)

	if err != nil {
		return NewUnitError(unit, step, err)
	}
	return nil
}
