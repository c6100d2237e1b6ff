package commbus

import (
	"context"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/observability"
)

// Observer receives a copy of every message after it has been appended.
// Observers are read-only taps on the audit stream; they cannot alter or
// veto a publish.
type Observer interface {
	OnMessage(ctx context.Context, msg AgentMessage) error
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(ctx context.Context, msg AgentMessage) error

// OnMessage calls f.
func (f ObserverFunc) OnMessage(ctx context.Context, msg AgentMessage) error {
	return f(ctx, msg)
}

// =============================================================================
// LOGGING OBSERVER
// =============================================================================

// Logger is the subset of the structured logger used by the bus.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
}

// LoggingObserver logs all message traffic at debug level.
type LoggingObserver struct {
	logger Logger
}

// NewLoggingObserver creates a new LoggingObserver.
func NewLoggingObserver(logger Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

// OnMessage logs the message envelope. Content is reported by size only.
func (o *LoggingObserver) OnMessage(ctx context.Context, msg AgentMessage) error {
	kv := []any{
		"message_id", msg.ID,
		"sender", msg.Sender,
		"receiver", msg.Receiver,
		"type", string(msg.Type),
		"content_len", len(msg.Content),
	}
	if msg.StepID != nil {
		kv = append(kv, "step_id", *msg.StepID)
	}
	o.logger.Debug("bus_message_published", kv...)
	return nil
}

// =============================================================================
// METRICS OBSERVER
// =============================================================================

// MetricsObserver counts published messages by sender and type.
type MetricsObserver struct{}

// NewMetricsObserver creates a new MetricsObserver.
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnMessage records the message in Prometheus.
func (o *MetricsObserver) OnMessage(ctx context.Context, msg AgentMessage) error {
	observability.RecordBusMessage(msg.Sender, string(msg.Type))
	return nil
}
