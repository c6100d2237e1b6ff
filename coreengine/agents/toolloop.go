package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/llm"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/transcript"
)

// ToolLoop drives a model through repeated tool calls until it answers
// without requesting a tool.
type ToolLoop struct {
	Unit          envelope.Unit
	LLM           llm.Provider
	Tools         ToolExecutor
	Allowed       []string
	MaxIterations int
	Logger        Logger
}

// Run appends every assistant and tool turn to *turns and returns the text
// of the final assistant turn. Tool failures are reported back to the model
// as error results. Provider errors end the loop.
func (l *ToolLoop) Run(ctx context.Context, base llm.Request, turns *[]transcript.Turn) (string, error) {
	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}
	if l.Tools != nil && len(l.Allowed) > 0 {
		base.Tools = l.Tools.Specs(l.Allowed)
	}

	for i := 0; i < maxIter; i++ {
		req := base
		req.Turns = *turns

		resp, err := l.LLM.Chat(ctx, req)
		if err != nil {
			return "", fmt.Errorf("llm generation failed: %w", err)
		}
		*turns = append(*turns, resp.Turn())

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		for _, call := range resp.ToolCalls {
			result := l.execute(ctx, call)
			*turns = append(*turns, transcript.Turn{
				Role:       transcript.RoleTool,
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    result.Render(),
			})
		}
	}

	return "", &ToolLoopExhaustedError{Unit: l.Unit, Iterations: maxIter}
}

func (l *ToolLoop) execute(ctx context.Context, call transcript.ToolCall) *StandardToolResult {
	start := time.Now()
	data, err := l.call(ctx, call)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		l.log().Warn(fmt.Sprintf("%s_tool_failed", l.Unit),
			"tool", call.Name,
			"error", err.Error(),
			"duration_ms", durationMS,
		)
		return NewStandardToolResultFailure(ToolErrorDetailsFromError(err))
	}

	l.log().Debug(fmt.Sprintf("%s_tool_called", l.Unit),
		"tool", call.Name,
		"duration_ms", durationMS,
	)
	return NewStandardToolResultSuccess(data)
}

func (l *ToolLoop) call(ctx context.Context, call transcript.ToolCall) (map[string]any, error) {
	if !l.canAccessTool(call.Name) {
		return nil, fmt.Errorf("%w: %s", errToolDenied, call.Name)
	}

	params := map[string]any{}
	if args := strings.TrimSpace(call.Arguments); args != "" {
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadArguments, err)
		}
	}
	return l.Tools.Execute(ctx, call.Name, params)
}

func (l *ToolLoop) canAccessTool(name string) bool {
	if l.Tools == nil {
		return false
	}
	for _, allowed := range l.Allowed {
		if allowed == name {
			return true
		}
	}
	return false
}

func (l *ToolLoop) log() Logger {
	if l.Logger == nil {
		return logging.Nop()
	}
	return l.Logger
}
