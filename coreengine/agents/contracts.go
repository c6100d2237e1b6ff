package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/tools"
)

// =============================================================================
// ENUMS
// =============================================================================

// ToolStatus represents the status of a tool execution.
type ToolStatus string

const (
	// ToolStatusSuccess indicates successful execution.
	ToolStatusSuccess ToolStatus = "success"
	// ToolStatusError indicates execution failed.
	ToolStatusError ToolStatus = "error"
)

// ToolStatusFromString parses a status string.
func ToolStatusFromString(value string) (ToolStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "success":
		return ToolStatusSuccess, nil
	case "error":
		return ToolStatusError, nil
	default:
		return "", fmt.Errorf("invalid tool status '%s'. Must be one of: success, error", value)
	}
}

// =============================================================================
// TOOL ERROR DETAILS
// =============================================================================

// ToolErrorDetails represents standardized error structure for tool failures.
type ToolErrorDetails struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// ToolErrorDetailsFromError classifies a Go error returned by a tool call.
func ToolErrorDetailsFromError(err error) *ToolErrorDetails {
	var nf *tools.NotFoundError
	switch {
	case errors.As(err, &nf):
		return &ToolErrorDetails{ErrorType: "NotFoundError", Message: err.Error()}
	case errors.Is(err, errToolDenied):
		return &ToolErrorDetails{ErrorType: "AccessDenied", Message: err.Error()}
	case errors.Is(err, errBadArguments):
		return &ToolErrorDetails{ErrorType: "InvalidArguments", Message: err.Error()}
	default:
		return &ToolErrorDetails{ErrorType: "ExecutionError", Message: err.Error()}
	}
}

var (
	errToolDenied   = errors.New("tool access denied")
	errBadArguments = errors.New("invalid tool arguments")
)

// =============================================================================
// STANDARD TOOL RESULT
// =============================================================================

// StandardToolResult is what the model sees as the content of a tool turn.
type StandardToolResult struct {
	Status ToolStatus        `json:"status"`
	Data   map[string]any    `json:"data,omitempty"`
	Error  *ToolErrorDetails `json:"error,omitempty"`
}

// NewStandardToolResultSuccess creates a successful result.
func NewStandardToolResultSuccess(data map[string]any) *StandardToolResult {
	return &StandardToolResult{Status: ToolStatusSuccess, Data: data}
}

// NewStandardToolResultFailure creates a failed result.
func NewStandardToolResultFailure(err *ToolErrorDetails) *StandardToolResult {
	return &StandardToolResult{Status: ToolStatusError, Error: err}
}

// Validate validates cross-field constraints.
func (r *StandardToolResult) Validate() error {
	if r.Status == ToolStatusError && r.Error == nil {
		return fmt.Errorf("error field is required when status is 'error'")
	}
	if r.Status == ToolStatusSuccess && r.Error != nil {
		return fmt.Errorf("error field must be empty when status is 'success'")
	}
	return nil
}

// Render encodes the result as the JSON text of a tool turn.
func (r *StandardToolResult) Render() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"status":"error","error":{"error_type":"EncodingError","message":%q}}`, err.Error())
	}
	return string(b)
}
