// Package tools provides the capabilities research and synthesis units may
// invoke from inside their private tool loops.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/typeutil"
)

// ToolHandler is a function that executes a tool.
type ToolHandler func(ctx context.Context, params map[string]any) (map[string]any, error)

// ToolDefinition defines a tool's metadata and handler.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters map[string]any
	Handler    ToolHandler
}

// Spec is the model-facing description of a tool.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// NotFoundError is returned when executing an unregistered tool.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ToolExecutor executes tools by name.
type ToolExecutor struct {
	tools map[string]*ToolDefinition
	mu    sync.RWMutex
}

// NewToolExecutor creates a new ToolExecutor.
func NewToolExecutor() *ToolExecutor {
	return &ToolExecutor{
		tools: make(map[string]*ToolDefinition),
	}
}

// Register registers a tool.
func (e *ToolExecutor) Register(def *ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler is required for '%s'", def.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[def.Name]; exists {
		return fmt.Errorf("tool '%s' already registered", def.Name)
	}
	e.tools[def.Name] = def
	return nil
}

// Execute executes a tool by name.
func (e *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]any) (map[string]any, error) {
	e.mu.RLock()
	def, exists := e.tools[toolName]
	e.mu.RUnlock()

	if !exists {
		observability.RecordToolCall(toolName, "not_found")
		return nil, &NotFoundError{Name: toolName}
	}
	if params == nil {
		params = map[string]any{}
	}

	result, err := def.Handler(ctx, params)
	if err != nil {
		observability.RecordToolCall(toolName, "error")
		return nil, err
	}
	observability.RecordToolCall(toolName, "success")
	return result, nil
}

// Has checks if a tool is registered.
func (e *ToolExecutor) Has(toolName string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, exists := e.tools[toolName]
	return exists
}

// List returns all registered tool names in sorted order.
func (e *ToolExecutor) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the specs of the named tools, in the given order. Unknown
// names are skipped. A nil allow list selects every tool.
func (e *ToolExecutor) Specs(allowed []string) []Spec {
	if allowed == nil {
		allowed = e.List()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	specs := make([]Spec, 0, len(allowed))
	for _, name := range allowed {
		def, ok := e.tools[name]
		if !ok {
			continue
		}
		specs = append(specs, Spec{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}
	return specs
}

// =============================================================================
// BUILT-IN REGISTRATION
// =============================================================================

// RegisterBuiltins registers the calculator, unit converter and file reader.
func RegisterBuiltins(e *ToolExecutor, files *FileReader) error {
	defs := []*ToolDefinition{CalculatorTool(), UnitConverterTool()}
	if files != nil {
		defs = append(defs, files.Tool())
	}
	for _, def := range defs {
		if err := e.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter '%s'", key)
	}
	s, ok := typeutil.SafeString(raw)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter '%s' must be a non-empty string", key)
	}
	return s, nil
}
