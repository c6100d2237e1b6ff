// Package commbus provides the AgentMessage bus shared by the orchestrator and the units.
//
// The bus is an append-only, ordered log. The orchestrator publishes
// instruction and feedback messages addressed to a unit; units publish one
// response message addressed back to the orchestrator. Nothing is ever
// mutated or removed, so the full log doubles as the audit trail of a run.
//
// Categories:
//   - INSTRUCTION: orchestrator -> unit, task framing or review request
//   - FEEDBACK: orchestrator -> unit, carries a rejecting review's feedback
//   - RESPONSE: unit -> orchestrator, exactly one per unit invocation
package commbus

import (
	"time"

	"github.com/google/uuid"
)

// OrchestratorName is the sender/receiver name used by the orchestrator.
const OrchestratorName = "orchestrator"

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// MessageType represents the kind of an AgentMessage.
type MessageType string

const (
	// MessageTypeInstruction is a task or review request from the orchestrator.
	MessageTypeInstruction MessageType = "instruction"
	// MessageTypeFeedback is a retry request carrying review feedback.
	MessageTypeFeedback MessageType = "feedback"
	// MessageTypeResponse is a unit's reply to the orchestrator.
	MessageTypeResponse MessageType = "response"
)

// IsValid reports whether t is one of the known message types.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeInstruction, MessageTypeFeedback, MessageTypeResponse:
		return true
	}
	return false
}

// =============================================================================
// AGENT MESSAGE
// =============================================================================

// AgentMessage is a single entry on the bus. It is a value type: once
// published, the bus only ever hands out copies.
type AgentMessage struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Sender    string      `json:"sender"`
	Receiver  string      `json:"receiver"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	StepID    *int        `json:"step_id,omitempty"`
}

// NewMessage composes a message stamped with the current time and a fresh ID.
// stepID is nil for messages not tied to a research step.
func NewMessage(sender, receiver string, msgType MessageType, content string, stepID *int) AgentMessage {
	msg := AgentMessage{
		ID:        "msg_" + uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Sender:    sender,
		Receiver:  receiver,
		Type:      msgType,
		Content:   content,
	}
	if stepID != nil {
		id := *stepID
		msg.StepID = &id
	}
	return msg
}

// Instruction composes an orchestrator -> unit instruction.
func Instruction(receiver, content string, stepID *int) AgentMessage {
	return NewMessage(OrchestratorName, receiver, MessageTypeInstruction, content, stepID)
}

// Feedback composes an orchestrator -> unit retry message.
func Feedback(receiver, content string, stepID *int) AgentMessage {
	return NewMessage(OrchestratorName, receiver, MessageTypeFeedback, content, stepID)
}

// Response composes a unit -> orchestrator response.
func Response(sender, content string, stepID *int) AgentMessage {
	return NewMessage(sender, OrchestratorName, MessageTypeResponse, content, stepID)
}

// Step returns a pointer to i, for use as a message step id.
func Step(i int) *int {
	return &i
}

// HasStep reports whether the message carries exactly the given step id.
func (m AgentMessage) HasStep(stepID int) bool {
	return m.StepID != nil && *m.StepID == stepID
}

// FromOrchestrator reports whether the orchestrator authored the message.
func (m AgentMessage) FromOrchestrator() bool {
	return m.Sender == OrchestratorName
}

// Validate checks that all required fields are present.
func (m AgentMessage) Validate() error {
	switch {
	case m.Sender == "":
		return NewInvalidMessageError("sender")
	case m.Receiver == "":
		return NewInvalidMessageError("receiver")
	case m.Type == "":
		return NewInvalidMessageError("type")
	case !m.Type.IsValid():
		return &InvalidMessageError{Field: "type", Reason: "unknown message type " + string(m.Type)}
	case m.Content == "":
		return NewInvalidMessageError("content")
	}
	return nil
}

// clone returns a copy that shares no pointers with m.
func (m AgentMessage) clone() AgentMessage {
	if m.StepID != nil {
		id := *m.StepID
		m.StepID = &id
	}
	return m
}
