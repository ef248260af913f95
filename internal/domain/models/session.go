package models

import (
	"fmt"
	"strings"
	"time"
)

// Effort is the user-chosen knob controlling initial query fan-out and the
// research loop budget. The mapping is a fixed policy, not configuration.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// EffortPolicy defines the fan-out and loop budget for an effort level.
type EffortPolicy struct {
	InitialQueries int
	MaxLoops       int
}

var effortPolicies = map[Effort]EffortPolicy{
	EffortLow:    {InitialQueries: 1, MaxLoops: 1},
	EffortMedium: {InitialQueries: 3, MaxLoops: 3},
	EffortHigh:   {InitialQueries: 5, MaxLoops: 10},
}

// ParseEffort validates a raw effort string. Unrecognized values are
// rejected, never silently defaulted.
func ParseEffort(raw string) (Effort, error) {
	effort := Effort(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := effortPolicies[effort]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidEffort, raw)
	}
	return effort, nil
}

// Policy returns the fan-out/loop policy for the effort level.
func (e Effort) Policy() EffortPolicy {
	return effortPolicies[e]
}

// Stage identifies one state of the research workflow state machine.
type Stage string

const (
	StageInit        Stage = "init"
	StagePlanning    Stage = "planning"
	StageResearching Stage = "researching"
	StageReflecting  Stage = "reflecting"
	StageFinalizing  Stage = "finalizing"
	StageDone        Stage = "done"
	StageCancelled   Stage = "cancelled"
	StageFailed      Stage = "failed"
)

// stageTransitions is the closed transition table for the workflow.
// CANCELLED and FAILED are additionally reachable from every non-terminal
// stage; that edge is handled in CanTransitionTo rather than listed per row.
var stageTransitions = map[Stage][]Stage{
	StageInit:        {StagePlanning},
	StagePlanning:    {StageResearching},
	StageResearching: {StageReflecting, StageFinalizing},
	StageReflecting:  {StageResearching, StageFinalizing},
	StageFinalizing:  {StageDone},
	StageDone:        {},
	StageCancelled:   {},
	StageFailed:      {},
}

// Terminal reports whether the stage permits no further transitions.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageCancelled || s == StageFailed
}

// CanTransitionTo reports whether the transition table allows moving from s
// to next.
func (s Stage) CanTransitionTo(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageCancelled || next == StageFailed {
		return true
	}
	for _, allowed := range stageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Query is a search string plus the loop iteration that produced it.
// Immutable once created.
type Query struct {
	Text  string `json:"text"`
	Round int    `json:"round"`
}

// SearchResult is one candidate source returned by the search provider,
// before it has been labeled in a session.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Source is a labeled, deduplicated search result. The label is assigned on
// first sighting of the URL and is stable for the lifetime of the session.
type Source struct {
	Label   string `json:"label"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// ReflectionResult is the verdict of one reflection pass over the gathered
// evidence.
type ReflectionResult struct {
	Sufficient      bool     `json:"sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

// Session is one end-to-end research run for a single question. It is owned
// by the workflow controller: the controller serializes all mutation through
// stage transitions, so the struct itself carries no lock.
type Session struct {
	ID           string  `json:"id"`
	Question     string  `json:"question"`
	Effort       Effort  `json:"effort"`
	Stage        Stage   `json:"stage"`
	LoopCount    int     `json:"loop_count"`
	MaxLoops     int     `json:"max_loops"`
	Queries      []Query  `json:"queries"`
	Sources      []Source `json:"sources"`
	Answer       string   `json:"answer,omitempty"`
	FailureCause string   `json:"failure_cause,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	labelsByURL map[string]string
}

// NewSession creates a session in the initial stage with the loop budget of
// the given effort level.
func NewSession(id, question string, effort Effort) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          id,
		Question:    question,
		Effort:      effort,
		Stage:       StageInit,
		MaxLoops:    effort.Policy().MaxLoops,
		labelsByURL: make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the session to the next stage, enforcing the closed
// transition table. Terminal sessions reject every transition.
func (s *Session) Transition(next Stage) error {
	if !s.Stage.CanTransitionTo(next) {
		return fmt.Errorf("illegal stage transition %s -> %s", s.Stage, next)
	}
	s.Stage = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// AddQueries appends queries for the given round to the session history and
// returns the Query values created. History is append-only.
func (s *Session) AddQueries(round int, texts []string) []Query {
	added := make([]Query, 0, len(texts))
	for _, text := range texts {
		q := Query{Text: text, Round: round}
		s.Queries = append(s.Queries, q)
		added = append(added, q)
	}
	return added
}

// AddSource records a search result, assigning a new stable label if the URL
// has not been seen in this session. It returns the source and whether it was
// newly labeled. The same URL never receives two labels.
func (s *Session) AddSource(result SearchResult) (Source, bool) {
	if label, seen := s.labelsByURL[result.URL]; seen {
		for _, src := range s.Sources {
			if src.Label == label {
				return src, false
			}
		}
	}
	src := Source{
		Label:   fmt.Sprintf("S%d", len(s.Sources)+1),
		URL:     result.URL,
		Title:   result.Title,
		Snippet: result.Snippet,
	}
	s.labelsByURL[result.URL] = src.Label
	s.Sources = append(s.Sources, src)
	return src, true
}

// LabelFor returns the label assigned to a URL in this session, if any.
func (s *Session) LabelFor(url string) (string, bool) {
	label, ok := s.labelsByURL[url]
	return label, ok
}

// RemainingLoops returns how many research rounds the budget still allows.
func (s *Session) RemainingLoops() int {
	remaining := s.MaxLoops - s.LoopCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot returns a deep copy safe to hand to other goroutines. The caller
// is responsible for holding whatever lock guards the live session.
func (s *Session) Snapshot() Session {
	copied := *s
	copied.Queries = append([]Query(nil), s.Queries...)
	copied.Sources = append([]Source(nil), s.Sources...)
	copied.labelsByURL = nil
	return copied
}
