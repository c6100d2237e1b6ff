// Package envelope provides the shared state record of one question run.
//
// The Envelope is owned by the orchestrator for the lifetime of a run. The
// orchestrator exclusively writes the control variables; each unit's output
// is folded into its own work-product section by the runtime.
//
// Sections:
//   - Identity/input: RunID, Question, FileRef (immutable after New)
//   - Control: CurrentStep, NextStep, CurrentResearchIndex, Retries
//   - Work products: plan, research results, synthesis, reviews, final answer
//   - Communication: the run's message bus
//   - Nested ownership: research arena and synthesis sub-state
package envelope

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/answerflow/commbus"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/transcript"
	"github.com/oklog/ulid/v2"
)

// SchemaVersion is stamped on every record and result dict. Readers reject
// records whose major version differs.
const SchemaVersion = "1"

// ReviewOutcome is the latest decision and feedback for one review kind.
type ReviewOutcome struct {
	Decision Decision `json:"decision"`
	Feedback string   `json:"feedback"`
}

// Envelope is the shared state record for a single question run.
type Envelope struct {
	// Identity/input
	RunID         string `json:"run_id"`
	SchemaVersion string `json:"schema_version"`
	Question      string `json:"question"`
	FileRef       string `json:"file_ref,omitempty"`

	// Control
	CurrentStep          Step         `json:"current_step"`
	NextStep             Step         `json:"next_step"`
	CurrentResearchIndex int          `json:"current_research_index"`
	Retries              *RetryLedger `json:"-"`
	ExhaustedUnit        Unit         `json:"exhausted_unit,omitempty"`
	StepHistory          []Step       `json:"step_history"`

	// Work products
	ResearchSteps       []string                     `json:"research_steps"`
	SynthesisSteps      []string                     `json:"synthesis_steps"`
	ResearchResults     []string                     `json:"research_results"`
	SynthesisAnswer     string                       `json:"synthesis_answer"`
	SynthesisReasoning  string                       `json:"synthesis_reasoning"`
	Reviews             map[ReviewKind]ReviewOutcome `json:"reviews"`
	FinalAnswer         string                       `json:"final_answer"`
	FinalReasoningTrace string                       `json:"final_reasoning_trace"`

	// Communication
	Messages *commbus.Bus `json:"-"`

	// Nested ownership
	ResearchStates *transcript.Arena          `json:"-"`
	SynthesisState *transcript.SynthesisState `json:"synthesis_state,omitempty"`

	// Errors
	Error            string         `json:"error,omitempty"`
	FailingComponent string         `json:"failing_component,omitempty"`
	TerminalReason   TerminalReason `json:"terminal_reason,omitempty"`

	// Timing
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// New creates the record for a fresh run. fileRef may be empty.
func New(question, fileRef string, retryLimits map[Unit]int) *Envelope {
	return &Envelope{
		RunID:                newRunID(),
		SchemaVersion:        SchemaVersion,
		Question:             question,
		FileRef:              fileRef,
		CurrentStep:          StepInput,
		NextStep:             StepNone,
		CurrentResearchIndex: -1,
		Retries:              NewRetryLedger(retryLimits),
		StepHistory:          []Step{StepInput},
		ResearchSteps:        make([]string, 0),
		SynthesisSteps:       make([]string, 0),
		ResearchResults:      make([]string, 0),
		Reviews:              make(map[ReviewKind]ReviewOutcome),
		Messages:             commbus.NewBus(),
		ResearchStates:       transcript.NewArena(),
		CreatedAt:            time.Now().UTC(),
	}
}

// =============================================================================
// Accessors
// =============================================================================

// HasFile reports whether the run carries a file reference.
func (e *Envelope) HasFile() bool {
	return e.FileRef != ""
}

// Review returns the latest outcome recorded for kind.
func (e *Envelope) Review(kind ReviewKind) (ReviewOutcome, bool) {
	r, ok := e.Reviews[kind]
	return r, ok
}

// SetReview records the latest outcome for kind.
func (e *Envelope) SetReview(kind ReviewKind, outcome ReviewOutcome) {
	e.Reviews[kind] = outcome
}

// CurrentResearchStep returns the directive at the current index.
func (e *Envelope) CurrentResearchStep() (string, bool) {
	i := e.CurrentResearchIndex
	if i < 0 || i >= len(e.ResearchSteps) {
		return "", false
	}
	return e.ResearchSteps[i], true
}

// StoreResearchResult writes result at index: extending the list when index
// is the next unused slot, overwriting when it already exists.
func (e *Envelope) StoreResearchResult(index int, result string) error {
	switch {
	case index >= 0 && index < len(e.ResearchResults):
		e.ResearchResults[index] = result
	case index == len(e.ResearchResults):
		e.ResearchResults = append(e.ResearchResults, result)
	default:
		return fmt.Errorf("research result index %d out of range (have %d results)", index, len(e.ResearchResults))
	}
	return nil
}

// EnterStep makes step current, clearing the pending next step and moving
// the research index, and appends step to the history.
func (e *Envelope) EnterStep(step Step, researchIndex int) {
	e.CurrentStep = step
	e.NextStep = StepNone
	e.CurrentResearchIndex = researchIndex
	e.StepHistory = append(e.StepHistory, step)
}

// Fail records an unrecoverable error and the component that raised it.
func (e *Envelope) Fail(component, message string) {
	e.Error = message
	e.FailingComponent = component
	e.TerminalReason = TerminalReasonFailed
	e.markCompleted()
}

// Complete marks the run finished with the given reason.
func (e *Envelope) Complete(reason TerminalReason) {
	e.TerminalReason = reason
	e.markCompleted()
}

func (e *Envelope) markCompleted() {
	now := time.Now().UTC()
	e.CompletedAt = &now
}

// Duration returns the wall time of the run so far.
func (e *Envelope) Duration() time.Duration {
	if e.CompletedAt != nil {
		return e.CompletedAt.Sub(e.CreatedAt)
	}
	return time.Since(e.CreatedAt)
}

// =============================================================================
// Clone
// =============================================================================

// Clone returns a deep copy of the record. The copy's bus carries the same
// messages but no observers.
func (e *Envelope) Clone() *Envelope {
	clone := *e

	clone.ResearchSteps = copyStrings(e.ResearchSteps)
	clone.SynthesisSteps = copyStrings(e.SynthesisSteps)
	clone.ResearchResults = copyStrings(e.ResearchResults)
	if e.StepHistory != nil {
		clone.StepHistory = append([]Step(nil), e.StepHistory...)
	}

	clone.Reviews = make(map[ReviewKind]ReviewOutcome, len(e.Reviews))
	for k, v := range e.Reviews {
		clone.Reviews[k] = v
	}

	if e.Retries != nil {
		clone.Retries = e.Retries.Clone()
	}
	if e.Messages != nil {
		clone.Messages = e.Messages.Clone()
	}
	if e.ResearchStates != nil {
		clone.ResearchStates = e.ResearchStates.Clone()
	}
	if e.SynthesisState != nil {
		clone.SynthesisState = e.SynthesisState.Clone()
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// =============================================================================
// Result rendering
// =============================================================================

// ToResultDict renders the record as plain JSON-compatible values. Every
// value is of a type accepted by structpb.NewValue.
func (e *Envelope) ToResultDict() map[string]any {
	result := map[string]any{
		"schema_version":         e.SchemaVersion,
		"run_id":                 e.RunID,
		"question":               e.Question,
		"file_ref":               e.FileRef,
		"current_step":           string(e.CurrentStep),
		"current_research_index": e.CurrentResearchIndex,
		"research_steps":         toAnySlice(e.ResearchSteps),
		"synthesis_steps":        toAnySlice(e.SynthesisSteps),
		"research_results":       toAnySlice(e.ResearchResults),
		"synthesis_answer":       e.SynthesisAnswer,
		"synthesis_reasoning":    e.SynthesisReasoning,
		"final_answer":           e.FinalAnswer,
		"final_reasoning_trace":  e.FinalReasoningTrace,
		"terminal_reason":        string(e.TerminalReason),
		"processing_time_ms":     e.Duration().Milliseconds(),
	}

	reviews := make(map[string]any, len(e.Reviews))
	for k, v := range e.Reviews {
		reviews[string(k)] = map[string]any{
			"decision": string(v.Decision),
			"feedback": v.Feedback,
		}
	}
	result["reviews"] = reviews

	history := make([]any, len(e.StepHistory))
	for i, step := range e.StepHistory {
		history[i] = string(step)
	}
	result["step_history"] = history

	if e.Retries != nil {
		retries := make(map[string]any)
		for u, n := range e.Retries.Counts() {
			retries[string(u)] = n
		}
		limits := make(map[string]any)
		for u, n := range e.Retries.Limits() {
			limits[string(u)] = n
		}
		result["retry_counts"] = retries
		result["retry_limits"] = limits
	}
	if e.ExhaustedUnit != "" {
		result["exhausted_unit"] = string(e.ExhaustedUnit)
	}
	if e.Error != "" {
		result["error"] = e.Error
		result["failing_component"] = e.FailingComponent
	}

	if e.Messages != nil {
		msgs := e.Messages.Messages()
		out := make([]any, 0, len(msgs))
		for _, m := range msgs {
			entry := map[string]any{
				"id":        m.ID,
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"sender":    m.Sender,
				"receiver":  m.Receiver,
				"type":      string(m.Type),
				"content":   m.Content,
			}
			if m.StepID != nil {
				entry["step_id"] = *m.StepID
			}
			out = append(out, entry)
		}
		result["messages"] = out
	}

	if e.ResearchStates != nil {
		result["research_substates"] = e.ResearchStates.Len()
	}
	result["synthesis_substate"] = e.SynthesisState != nil

	return result
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// =============================================================================
// Versioning
// =============================================================================

// VersionError is returned for a record written by an incompatible schema.
type VersionError struct {
	Got string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("unsupported schema version %q (supported: %s)", e.Got, SchemaVersion)
}

// CheckSchemaVersion accepts any version with the same major component as
// SchemaVersion ("1", "1.2", ...).
func CheckSchemaVersion(version string) error {
	major, _, _ := strings.Cut(version, ".")
	if major != SchemaVersion {
		return &VersionError{Got: version}
	}
	return nil
}
