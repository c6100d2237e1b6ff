package commbus

import (
	"context"
	"sync"
)

// ConversationFilter narrows a ConversationFor projection.
// A nil StepID or an empty Types set means "no restriction".
type ConversationFilter struct {
	Types  []MessageType
	StepID *int
}

// Bus is the append-only AgentMessage log for one run.
//
// The orchestrator is the only writer during a run, but the log may be read
// by observers and by callers holding a reference to a finished run, so
// access is guarded.
//
// Usage:
//
//	bus := NewBus()
//	bus.Subscribe(NewLoggingObserver(logger))
//
//	_ = bus.Publish(ctx, Instruction("planner", "Create a plan for ...", nil))
//	history := bus.ConversationFor("planner", ConversationFilter{})
type Bus struct {
	messages  []AgentMessage
	observers []subscription
	nextSubID int
	mu        sync.RWMutex
}

type subscription struct {
	id       int
	observer Observer
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		messages:  make([]AgentMessage, 0, 16),
		observers: make([]subscription, 0),
	}
}

// =============================================================================
// PUBLISHING
// =============================================================================

// Publish appends msg to the log and then notifies observers in registration
// order. Only required-field validation is performed. An observer failure is
// returned as *ObserverError; the message stays appended.
func (b *Bus) Publish(ctx context.Context, msg AgentMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	stored := msg.clone()

	b.mu.Lock()
	b.messages = append(b.messages, stored)
	observers := make([]subscription, len(b.observers))
	copy(observers, b.observers)
	b.mu.Unlock()

	var firstErr error
	for _, sub := range observers {
		if err := sub.observer.OnMessage(ctx, stored.clone()); err != nil && firstErr == nil {
			firstErr = &ObserverError{MessageID: stored.ID, Cause: err}
		}
	}
	return firstErr
}

// Subscribe registers an observer for messages published from now on.
// The returned function removes it.
func (b *Bus) Subscribe(obs Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.observers = append(b.observers, subscription{id: id, observer: obs})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.observers {
			if sub.id == id {
				b.observers = append(b.observers[:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// ConversationFor returns, in publish order, every message exchanged between
// unit and the orchestrator in either direction, narrowed by filter.
//
// When filter.StepID is set, messages without a step id are excluded.
func (b *Bus) ConversationFor(unit string, filter ConversationFilter) []AgentMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var types map[MessageType]struct{}
	if len(filter.Types) > 0 {
		types = make(map[MessageType]struct{}, len(filter.Types))
		for _, t := range filter.Types {
			types[t] = struct{}{}
		}
	}

	result := make([]AgentMessage, 0)
	for _, m := range b.messages {
		toUnit := m.Sender == OrchestratorName && m.Receiver == unit
		fromUnit := m.Sender == unit && m.Receiver == OrchestratorName
		if !toUnit && !fromUnit {
			continue
		}
		if filter.StepID != nil && !m.HasStep(*filter.StepID) {
			continue
		}
		if types != nil {
			if _, ok := types[m.Type]; !ok {
				continue
			}
		}
		result = append(result, m.clone())
	}
	return result
}

// LatestTo returns the most recent orchestrator-authored message addressed to
// unit, restricted to stepID when non-nil.
func (b *Bus) LatestTo(unit string, stepID *int) (AgentMessage, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i := len(b.messages) - 1; i >= 0; i-- {
		m := b.messages[i]
		if m.Sender != OrchestratorName || m.Receiver != unit {
			continue
		}
		if stepID != nil && !m.HasStep(*stepID) {
			continue
		}
		return m.clone(), true
	}
	return AgentMessage{}, false
}

// Messages returns a copy of the full log.
func (b *Bus) Messages() []AgentMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]AgentMessage, len(b.messages))
	for i, m := range b.messages {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of published messages.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// Clone returns an independent bus holding copies of the same messages.
// Observers are not carried over.
func (b *Bus) Clone() *Bus {
	return &Bus{
		messages:  b.Messages(),
		observers: make([]subscription, 0),
	}
}
