// Package transcript holds the private conversational sub-states of the two
// tool-using units (research and synthesis).
//
// A transcript is distinct from the orchestrator-facing message bus: it is
// the unit's own multi-turn working memory, including tool calls and tool
// results. Coordinators translate between the two; nothing in this package
// knows about the bus.
package transcript

import (
	"fmt"
	"sort"
)

// Role identifies the author of a transcript turn.
type Role string

const (
	// RoleSystem is framing text seeded when a sub-state is created.
	RoleSystem Role = "system"
	// RoleUser is text delivered from the orchestrator.
	RoleUser Role = "user"
	// RoleAssistant is text or tool requests produced by the model.
	RoleAssistant Role = "assistant"
	// RoleTool is the result of a tool invocation.
	RoleTool Role = "tool"
)

// ToolCall is a model request to run a named tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Turn is one entry of a private transcript.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// System creates a system framing turn.
func System(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// User creates a user turn.
func User(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t
		if t.ToolCalls != nil {
			out[i].ToolCalls = append([]ToolCall(nil), t.ToolCalls...)
		}
	}
	return out
}

// =============================================================================
// RESEARCH SUB-STATE
// =============================================================================

// ResearchState is the isolated conversation for one research step index.
type ResearchState struct {
	StepIndex int     `json:"step_index"`
	Turns     []Turn  `json:"turns"`
	Result    *string `json:"result,omitempty"`
}

// Append adds turns to the end of the conversation.
func (s *ResearchState) Append(turns ...Turn) {
	s.Turns = append(s.Turns, turns...)
}

// SetResult records the step's result.
func (s *ResearchState) SetResult(result string) {
	s.Result = &result
}

// Clone returns a deep copy.
func (s *ResearchState) Clone() *ResearchState {
	c := &ResearchState{StepIndex: s.StepIndex, Turns: cloneTurns(s.Turns)}
	if s.Result != nil {
		c.SetResult(*s.Result)
	}
	return c
}

// =============================================================================
// SYNTHESIS SUB-STATE
// =============================================================================

// SynthesisState is the singleton isolated conversation of the synthesis unit.
type SynthesisState struct {
	Turns           []Turn   `json:"turns"`
	Question        string   `json:"question"`
	ResearchSteps   []string `json:"research_steps"`
	ResearchResults []string `json:"research_results"`
	Answer          string   `json:"answer,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
}

// Append adds turns to the end of the conversation.
func (s *SynthesisState) Append(turns ...Turn) {
	s.Turns = append(s.Turns, turns...)
}

// Clone returns a deep copy.
func (s *SynthesisState) Clone() *SynthesisState {
	return &SynthesisState{
		Turns:           cloneTurns(s.Turns),
		Question:        s.Question,
		ResearchSteps:   append([]string(nil), s.ResearchSteps...),
		ResearchResults: append([]string(nil), s.ResearchResults...),
		Answer:          s.Answer,
		Reasoning:       s.Reasoning,
	}
}

// =============================================================================
// ARENA
// =============================================================================

// StateExistsError is returned when creating a sub-state for an index that
// already has one.
type StateExistsError struct {
	Index int
}

func (e *StateExistsError) Error() string {
	return fmt.Sprintf("research sub-state %d already exists", e.Index)
}

// Arena is a growable index -> ResearchState collection. Lookups never
// fabricate an entry; only Create adds one.
type Arena struct {
	states map[int]*ResearchState
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{states: make(map[int]*ResearchState)}
}

// Get returns the sub-state for index, if one was created.
func (a *Arena) Get(index int) (*ResearchState, bool) {
	s, ok := a.states[index]
	return s, ok
}

// Create adds a sub-state for index seeded with the given turns.
func (a *Arena) Create(index int, seed ...Turn) (*ResearchState, error) {
	if index < 0 {
		return nil, fmt.Errorf("research sub-state index must be non-negative, got %d", index)
	}
	if _, exists := a.states[index]; exists {
		return nil, &StateExistsError{Index: index}
	}
	s := &ResearchState{StepIndex: index, Turns: cloneTurns(seed)}
	a.states[index] = s
	return s, nil
}

// Len returns the number of sub-states.
func (a *Arena) Len() int {
	return len(a.states)
}

// Indices returns the created indices in ascending order.
func (a *Arena) Indices() []int {
	out := make([]int, 0, len(a.states))
	for i := range a.states {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Clone returns a deep copy of the arena.
func (a *Arena) Clone() *Arena {
	c := NewArena()
	for i, s := range a.states {
		c.states[i] = s.Clone()
	}
	return c
}
