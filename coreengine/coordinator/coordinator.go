// Package coordinator mediates between the orchestrator's one-message-per-step
// protocol and the multi-turn private loops of the research and synthesis units.
//
// A coordinator pulls exactly one orchestrator message into a unit's private
// transcript per dispatch, runs the unit, stores the result on the envelope,
// and publishes a fixed acknowledgment. Nothing from the private transcript is
// ever published.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeeves-cluster-organization/answerflow/commbus"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/agents"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/transcript"
)

// Acknowledgments published on the bus after a private loop finishes.
const (
	ResearchAck  = "Research complete."
	SynthesisAck = "Synthesis complete."
)

// PromptRegistry renders framing prompts for newly created sub-states.
type PromptRegistry interface {
	Get(key string, data map[string]any) (string, error)
}

// MissingMessageError is returned when no orchestrator message is waiting
// for the unit being dispatched.
type MissingMessageError struct {
	Unit   envelope.Unit
	StepID *int
}

func (e *MissingMessageError) Error() string {
	if e.StepID != nil {
		return fmt.Sprintf("no orchestrator message for %s at step %d", e.Unit, *e.StepID)
	}
	return fmt.Sprintf("no orchestrator message for %s", e.Unit)
}

// ToTurn converts a bus message into a private transcript turn. Messages
// authored by the orchestrator become user turns; anything else becomes an
// assistant turn.
func ToTurn(msg commbus.AgentMessage) transcript.Turn {
	if msg.FromOrchestrator() {
		return transcript.User(msg.Content)
	}
	return transcript.Turn{Role: transcript.RoleAssistant, Content: msg.Content}
}

// acknowledge publishes a unit's acknowledgment. Observer failures are logged
// and do not fail the dispatch.
func acknowledge(ctx context.Context, env *envelope.Envelope, logger logging.Logger, msg commbus.AgentMessage) error {
	err := env.Messages.Publish(ctx, msg)
	var obsErr *commbus.ObserverError
	if errors.As(err, &obsErr) {
		if logger == nil {
			logger = logging.Nop()
		}
		logger.Warn("bus_observer_failed", "message_id", obsErr.MessageID, "unit", msg.Sender, "error", obsErr.Cause.Error())
		return nil
	}
	return err
}

// =============================================================================
// RESEARCH
// =============================================================================

// Research coordinates the indexed research sub-states.
type Research struct {
	Unit    agents.Researcher
	Prompts PromptRegistry
	Logger  logging.Logger
}

// Dispatch runs the researcher for index against the latest orchestrator
// message addressed to it at that index.
func (c *Research) Dispatch(ctx context.Context, env *envelope.Envelope, index int) (*agents.ResearchOutput, error) {
	unit := string(envelope.UnitResearcher)
	msg, ok := env.Messages.LatestTo(unit, commbus.Step(index))
	if !ok {
		return nil, &MissingMessageError{Unit: envelope.UnitResearcher, StepID: commbus.Step(index)}
	}

	state, ok := env.ResearchStates.Get(index)
	if !ok {
		framing, err := c.Prompts.Get("researcher.system", nil)
		if err != nil {
			return nil, err
		}
		state, err = env.ResearchStates.Create(index, transcript.System(framing))
		if err != nil {
			return nil, err
		}
	}
	state.Append(ToTurn(msg))

	out, err := c.Unit.Research(ctx, state)
	if err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}

	state.SetResult(out.Result)
	if err := env.StoreResearchResult(index, out.Result); err != nil {
		return nil, err
	}

	if err := acknowledge(ctx, env, c.Logger, commbus.Response(unit, ResearchAck, commbus.Step(index))); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// SYNTHESIS
// =============================================================================

// Synthesis coordinates the singleton synthesis sub-state.
type Synthesis struct {
	Unit    agents.Synthesizer
	Prompts PromptRegistry
	Logger  logging.Logger
}

// Dispatch runs the synthesizer against the latest orchestrator message
// addressed to it. The sub-state is created on first dispatch, seeded with
// the question, the research steps and the research results.
func (c *Synthesis) Dispatch(ctx context.Context, env *envelope.Envelope) (*agents.SynthesisOutput, error) {
	unit := string(envelope.UnitSynthesizer)
	msg, ok := env.Messages.LatestTo(unit, nil)
	if !ok {
		return nil, &MissingMessageError{Unit: envelope.UnitSynthesizer}
	}

	if env.SynthesisState == nil {
		framing, err := c.Prompts.Get("synthesizer.system", nil)
		if err != nil {
			return nil, err
		}
		env.SynthesisState = &transcript.SynthesisState{
			Turns:           []transcript.Turn{transcript.System(framing)},
			Question:        env.Question,
			ResearchSteps:   append([]string(nil), env.ResearchSteps...),
			ResearchResults: append([]string(nil), env.ResearchResults...),
		}
	}
	state := env.SynthesisState
	state.Append(ToTurn(msg))

	out, err := c.Unit.Synthesize(ctx, state)
	if err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}

	state.Answer = out.Answer
	state.Reasoning = out.Reasoning
	env.SynthesisAnswer = out.Answer
	env.SynthesisReasoning = out.Reasoning

	if err := acknowledge(ctx, env, c.Logger, commbus.Response(unit, SynthesisAck, nil)); err != nil {
		return nil, err
	}
	return out, nil
}
