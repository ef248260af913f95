package services

import (
	"encoding/json"

	"github.com/mshogin/deepresearch/internal/domain/models"
)

// StageEvent represents one event in a session's streaming lifecycle.
// Events are sent from the workflow controller to the HTTP handler for SSE
// streaming; every stage transition is observable as exactly one event.
type StageEvent struct {
	Type  string       `json:"type"` // "session", "stage", "error", "done"
	Stage models.Stage `json:"stage,omitempty"`
	Data  interface{}  `json:"data,omitempty"`
}

// PlanningPayload carries the generated initial queries.
type PlanningPayload struct {
	Queries  []string `json:"queries"`
	MaxLoops int      `json:"max_loops"`
}

// ResearchPayload carries the outcome of one dispatch round.
type ResearchPayload struct {
	Round         int             `json:"round"`
	NewSources    []models.Source `json:"new_sources"`
	TotalSources  int             `json:"total_sources"`
	FailedQueries int             `json:"failed_queries"`
}

// ReflectionPayload carries one reflection verdict.
type ReflectionPayload struct {
	Sufficient      bool     `json:"sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap,omitempty"`
	FollowUpQueries []string `json:"follow_up_queries,omitempty"`
}

// FinalizingPayload announces answer synthesis over the gathered sources.
type FinalizingPayload struct {
	SourceCount int `json:"source_count"`
}

// AnswerPayload carries the final cited answer.
type AnswerPayload struct {
	Answer      string `json:"answer"`
	SourceCount int    `json:"source_count"`
}

// NewSessionEvent creates the first event of a stream, announcing the id.
func NewSessionEvent(sessionID string) *StageEvent {
	return &StageEvent{
		Type: "session",
		Data: map[string]string{"session_id": sessionID},
	}
}

// NewStageEvent creates a stage transition event with its payload.
func NewStageEvent(stage models.Stage, payload interface{}) *StageEvent {
	return &StageEvent{Type: "stage", Stage: stage, Data: payload}
}

// NewErrorEvent creates an error event carrying the failure cause.
func NewErrorEvent(stage models.Stage, cause string) *StageEvent {
	return &StageEvent{
		Type:  "error",
		Stage: stage,
		Data:  map[string]string{"cause": cause},
	}
}

// NewDoneEvent creates a done event (signals end of stream).
func NewDoneEvent(stage models.Stage) *StageEvent {
	return &StageEvent{
		Type:  "done",
		Stage: stage,
		Data:  map[string]string{"status": string(stage)},
	}
}

// ToJSON converts the event to a JSON string.
func (e *StageEvent) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ToSSE formats the event as a Server-Sent Event.
func (e *StageEvent) ToSSE() (string, error) {
	jsonData, err := e.ToJSON()
	if err != nil {
		return "", err
	}
	return "data: " + jsonData + "\n\n", nil
}
