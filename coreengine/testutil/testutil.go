// Package testutil provides shared test utilities and mocks.
//
// All mocks in this package are designed for testing the coreengine components
// in isolation without requiring external dependencies.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/llm"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/tools"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/transcript"
)

// =============================================================================
// MOCK LLM PROVIDER
// =============================================================================

// MockLLMProvider implements llm.Provider for testing.
// Queued responses are returned in order; DefaultResponse afterwards.
type MockLLMProvider struct {
	// Queue holds scripted responses consumed one per call.
	Queue []*llm.Response

	// DefaultResponse is returned when the queue is empty.
	DefaultResponse string

	// Delay simulates LLM latency.
	Delay time.Duration

	// Error causes Chat to return this error.
	Error error

	// CallCount tracks the number of Chat calls.
	CallCount int

	// Calls records all requests for assertion.
	Calls []llm.Request

	// ChatFunc allows custom generation logic.
	// If set, this is called instead of using Queue.
	ChatFunc func(context.Context, llm.Request) (*llm.Response, error)

	mu sync.Mutex
}

// NewMockLLMProvider creates a MockLLMProvider with sensible defaults.
func NewMockLLMProvider() *MockLLMProvider {
	return &MockLLMProvider{
		DefaultResponse: `{"decision": "approve", "feedback": "Mock response"}`,
	}
}

// Chat implements llm.Provider.
func (m *MockLLMProvider) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.CallCount++
	req.Turns = append([]transcript.Turn(nil), req.Turns...)
	m.Calls = append(m.Calls, req)
	customFunc := m.ChatFunc
	var next *llm.Response
	if customFunc == nil && m.Error == nil && len(m.Queue) > 0 {
		next = m.Queue[0]
		m.Queue = m.Queue[1:]
	}
	m.mu.Unlock()

	if customFunc != nil {
		return customFunc(ctx, req)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Error != nil {
		return nil, m.Error
	}
	if next != nil {
		return next, nil
	}
	return &llm.Response{Content: m.DefaultResponse, FinishReason: "stop"}, nil
}

// WithText queues a plain text response.
func (m *MockLLMProvider) WithText(content string) *MockLLMProvider {
	m.Queue = append(m.Queue, &llm.Response{Content: content, FinishReason: "stop"})
	return m
}

// WithToolCall queues a response requesting one tool call.
func (m *MockLLMProvider) WithToolCall(id, name, arguments string) *MockLLMProvider {
	m.Queue = append(m.Queue, &llm.Response{
		ToolCalls:    []transcript.ToolCall{{ID: id, Name: name, Arguments: arguments}},
		FinishReason: "tool_calls",
	})
	return m
}

// WithError makes every call fail.
func (m *MockLLMProvider) WithError(err error) *MockLLMProvider {
	m.Error = err
	return m
}

// WithDelay adds latency simulation.
func (m *MockLLMProvider) WithDelay(d time.Duration) *MockLLMProvider {
	m.Delay = d
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockLLMProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// LastRequest returns the most recent request.
func (m *MockLLMProvider) LastRequest() (llm.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return llm.Request{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

// Reset clears call history and queued responses.
func (m *MockLLMProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount = 0
	m.Calls = nil
	m.Queue = nil
}

// =============================================================================
// MOCK TOOL EXECUTOR
// =============================================================================

// MockToolExecutor implements the tool executor interface for testing.
type MockToolExecutor struct {
	// Results maps tool names to their results.
	Results map[string]map[string]any

	// Errors maps tool names to errors they should return.
	Errors map[string]error

	// CallCount tracks the number of Execute calls.
	CallCount int

	// Calls records all calls for assertion.
	Calls []ToolCall

	mu sync.Mutex
}

// ToolCall records a single tool execution for assertion.
type ToolCall struct {
	ToolName string
	Params   map[string]any
}

// NewMockToolExecutor creates a MockToolExecutor with sensible defaults.
func NewMockToolExecutor() *MockToolExecutor {
	return &MockToolExecutor{
		Results: make(map[string]map[string]any),
		Errors:  make(map[string]error),
	}
}

// Execute implements the tool executor interface.
func (m *MockToolExecutor) Execute(ctx context.Context, toolName string, params map[string]any) (map[string]any, error) {
	m.mu.Lock()
	m.CallCount++
	m.Calls = append(m.Calls, ToolCall{ToolName: toolName, Params: params})
	m.mu.Unlock()

	if err, exists := m.Errors[toolName]; exists {
		return nil, err
	}
	if result, exists := m.Results[toolName]; exists {
		return result, nil
	}
	return map[string]any{"tool": toolName}, nil
}

// Specs returns a minimal spec for every configured tool in allowed.
func (m *MockToolExecutor) Specs(allowed []string) []tools.Spec {
	specs := make([]tools.Spec, 0, len(allowed))
	for _, name := range allowed {
		specs = append(specs, tools.Spec{
			Name:        name,
			Description: fmt.Sprintf("mock %s", name),
			Parameters:  map[string]any{"type": "object"},
		})
	}
	return specs
}

// WithResult adds a tool result.
func (m *MockToolExecutor) WithResult(toolName string, result map[string]any) *MockToolExecutor {
	m.Results[toolName] = result
	return m
}

// WithError configures a tool to return an error.
func (m *MockToolExecutor) WithError(toolName string, err error) *MockToolExecutor {
	m.Errors[toolName] = err
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockToolExecutor) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger implements logging.Logger for testing.
type MockLogger struct {
	// Logs captures all log entries.
	Logs []LogEntry

	mu sync.Mutex
}

// LogEntry represents a captured log entry.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// NewMockLogger creates a MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{
		Logs: make([]LogEntry, 0),
	}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.log("debug", msg, keysAndValues...)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.log("info", msg, keysAndValues...)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.log("warn", msg, keysAndValues...)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.log("error", msg, keysAndValues...)
}

func (m *MockLogger) Bind(fields ...any) logging.Logger {
	return m
}

func (m *MockLogger) log(level, msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := make(map[string]any)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}

	m.Logs = append(m.Logs, LogEntry{
		Level:   level,
		Message: msg,
		Fields:  fields,
	})
}

// GetLogs returns captured logs (thread-safe).
func (m *MockLogger) GetLogs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]LogEntry, len(m.Logs))
	copy(copied, m.Logs)
	return copied
}

// HasLog checks if a log message exists at the given level.
func (m *MockLogger) HasLog(level, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, log := range m.Logs {
		if log.Level == level && log.Message == message {
			return true
		}
	}
	return false
}

// Messages returns the logged messages in order.
func (m *MockLogger) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.Logs))
	for i, l := range m.Logs {
		out[i] = l.Message
	}
	return out
}
