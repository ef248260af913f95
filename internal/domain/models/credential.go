package models

// KeyState is the health state of one credential record. It is derived
// purely from the record's transition history: idle until first acquired,
// active while a call is outstanding, then healthy or failed depending on
// the reported outcome.
type KeyState string

const (
	KeyIdle    KeyState = "idle"
	KeyActive  KeyState = "active"
	KeyHealthy KeyState = "healthy"
	KeyFailed  KeyState = "failed"
)

// KeyStatus is the externally safe projection of one credential record.
// The secret material appears only in masked form.
type KeyStatus struct {
	Index         int      `json:"index"`
	MaskedKey     string   `json:"maskedKey"`
	Status        KeyState `json:"status"`
	Disabled      bool     `json:"disabled"`
	LastError     string   `json:"lastError,omitempty"`
	LastUsedAt    string   `json:"lastUsedAt,omitempty"`
	LastSuccessAt string   `json:"lastSuccessAt,omitempty"`
	LastFailureAt string   `json:"lastFailureAt,omitempty"`
	SuccessCount  int      `json:"successCount"`
	FailureCount  int      `json:"failureCount"`
	IsLastUsed    bool     `json:"isLastUsed"`
}

// PoolSnapshot is a point-in-time view of the whole credential pool, safe
// to expose to operators.
type PoolSnapshot struct {
	Keys      []KeyStatus `json:"keys"`
	Total     int         `json:"total"`
	Available int         `json:"available"`
}
