// Package run defines the shared state record threaded through the
// generation pipeline: the task, the plan, research notes with their
// citations, the draft and accepted output, the audit log, and the
// per-stage telemetry sink. One State instance belongs to exactly one
// task invocation and is never shared across runs.
package run

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries bounds the verification retry loop.
const DefaultMaxRetries = 2

// ResearchNotes status values.
const (
	StatusOK       = "ok"
	StatusNotFound = "not-found"
)

// Agent names used in log entries and telemetry records.
const (
	AgentPlanner      = "planner"
	AgentResearcher   = "researcher"
	AgentWriter       = "writer"
	AgentVerifier     = "verifier"
	AgentOrchestrator = "orchestrator"
)

// Config keys recognized by stages. The state machine itself never
// interprets config values, it only carries them.
const (
	ConfigKeyModel         = "model"
	ConfigKeyIndexLocation = "index_location"
)

// Run status values derived from State observation.
const (
	StatusRunning           = "running"
	StatusNeedsRevision     = "needs_revision"
	StatusAccepted          = "accepted"
	StatusTerminatedFailure = "terminated_failure"
)

// Citation identifies a retrieved passage backing a fact. Two citations
// are equal iff all three fields match.
type Citation struct {
	SourceID string `json:"source_id"`
	Location string `json:"location"`
	Snippet  string `json:"snippet"`
}

// Equal reports whether both citations reference the same passage excerpt.
func (c Citation) Equal(o Citation) bool {
	return c.SourceID == o.SourceID && c.Location == o.Location && c.Snippet == o.Snippet
}

// Fact is a single claim with its supporting citations. A fact without
// at least one valid citation must never be kept in research notes.
type Fact struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

// ResearchNotes is the research stage output: either status "ok" with a
// non-empty fact list, or status "not-found" with no facts.
type ResearchNotes struct {
	Status string `json:"status"`
	Facts  []Fact `json:"facts,omitempty"`
}

// OK reports whether notes exist and carry grounded facts.
func (n *ResearchNotes) OK() bool {
	return n != nil && n.Status == StatusOK
}

// LogEntry is one audit trail record. Entries are append-only and kept
// in strict chronological order; stages write them but never read them.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
}

// State is the single mutable record owned by the orchestrator for the
// duration of one task execution. Stages receive it by reference and
// mutate it in place; only the verifier (or the orchestrator on terminal
// failure) sets FinalOutput, whose presence terminates the run.
type State struct {
	RunID         string            `json:"run_id"`
	Task          string            `json:"task"`
	Plan          []string          `json:"plan,omitempty"`
	ResearchNotes *ResearchNotes    `json:"research_notes,omitempty"`
	Draft         string            `json:"draft,omitempty"`
	FinalOutput   string            `json:"final_output,omitempty"`
	Citations     []Citation        `json:"citations,omitempty"`
	Log           []LogEntry        `json:"log"`
	RetryCount    int               `json:"retry_count"`
	MaxRetries    int               `json:"max_retries"`
	Config        map[string]string `json:"config,omitempty"`
	Telemetry     []StageRecord     `json:"telemetry,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// NewState creates the state for one task invocation. Only the task and
// configuration are populated; everything else is filled by the stages.
func NewState(task string, config map[string]string) *State {
	cfg := make(map[string]string, len(config))
	for k, v := range config {
		cfg[k] = v
	}
	return &State{
		RunID:      uuid.New().String(),
		Task:       task,
		Log:        []LogEntry{},
		MaxRetries: DefaultMaxRetries,
		Config:     cfg,
		StartedAt:  time.Now().UTC(),
	}
}

// AppendLog appends one audit entry. The log is write-only for stages.
func (s *State) AppendLog(agent, action, outcome string) {
	s.Log = append(s.Log, LogEntry{
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Action:    action,
		Outcome:   outcome,
	})
}

// Terminal reports whether the run has produced its final output.
func (s *State) Terminal() bool {
	return s.FinalOutput != ""
}

// Status derives the run status from the state record. There is no
// explicit status field; acceptance vs safe failure is distinguished by
// whether the retry budget was exhausted when FinalOutput was set.
func (s *State) Status() string {
	switch {
	case s.FinalOutput != "" && s.RetryCount > s.MaxRetries:
		return StatusTerminatedFailure
	case s.FinalOutput != "":
		return StatusAccepted
	case s.RetryCount > 0:
		return StatusNeedsRevision
	default:
		return StatusRunning
	}
}

// ConfigValue returns the config entry for key, or fallback when unset.
func (s *State) ConfigValue(key, fallback string) string {
	if v, ok := s.Config[key]; ok && v != "" {
		return v
	}
	return fallback
}

// DedupeCitations removes duplicate citations keyed on the full
// (source, location, snippet) triple, preserving first-seen order.
// Applying it twice yields the same result as applying it once.
func DedupeCitations(in []Citation) []Citation {
	out := make([]Citation, 0, len(in))
	seen := make(map[Citation]struct{}, len(in))
	for _, c := range in {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// FlattenCitations collects the union of all citations across facts in
// first-seen order, deduplicated.
func FlattenCitations(facts []Fact) []Citation {
	var all []Citation
	for _, f := range facts {
		all = append(all, f.Citations...)
	}
	return DedupeCitations(all)
}

// SourceListing renders citations as display labels, one per distinct
// (source, location) pair in first-seen order. Snippet-level duplicates
// collapse into a single label.
func SourceListing(citations []Citation) []string {
	type key struct{ source, location string }
	seen := make(map[key]struct{}, len(citations))
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		k := key{c.SourceID, c.Location}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		if c.Location == "" {
			out = append(out, c.SourceID)
			continue
		}
		out = append(out, fmt.Sprintf("%s (%s)", c.SourceID, c.Location))
	}
	return out
}
