package keypool

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mshogin/deepresearch/internal/domain/models"
)

// Pool is a round-robin credential pool with failover tracking. It is the
// only resource shared across concurrent sessions: acquisition and all
// record mutation are serialized under the pool lock, while the external
// call made after acquisition runs unlocked and in parallel with other
// acquisitions.
//
// A failed key is disabled for the process lifetime, never removed, so its
// counters remain inspectable. Recovery requires an explicit Reset; there is
// no automatic cooldown.
type Pool struct {
	mu            sync.Mutex
	records       []*record
	nextIndex     int
	lastUsedIndex int
}

// record is the internal bookkeeping for one API key.
type record struct {
	key           string
	masked        string
	status        models.KeyState
	disabled      bool
	lastError     string
	lastUsedAt    time.Time
	lastSuccessAt time.Time
	lastFailureAt time.Time
	successCount  int
	failureCount  int
	lastUsed      bool
}

// Credential is one acquired key. The caller must report the outcome of the
// call it makes with it via ReportSuccess or ReportFailure.
type Credential struct {
	Index int
	Key   string
}

// New creates a pool from an ordered list of secrets, dropping duplicates
// and blanks while preserving order.
func New(keys []string) (*Pool, error) {
	seen := make(map[string]struct{}, len(keys))
	records := make([]*record, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		records = append(records, &record{
			key:    key,
			masked: maskKey(key),
			status: models.KeyIdle,
		})
	}
	if len(records) == 0 {
		return nil, models.ErrNoCredentials
	}
	return &Pool{records: records, lastUsedIndex: -1}, nil
}

// FromEnvironment creates a pool from GEMINI_API_KEYS (comma or newline
// separated) or, failing that, the single GEMINI_API_KEY.
func FromEnvironment() (*Pool, error) {
	var keys []string
	if raw := os.Getenv("GEMINI_API_KEYS"); raw != "" {
		for _, line := range strings.Split(raw, "\n") {
			for _, part := range strings.Split(line, ",") {
				if part = strings.TrimSpace(part); part != "" {
					keys = append(keys, part)
				}
			}
		}
	} else if single := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); single != "" {
		keys = []string{single}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: set GEMINI_API_KEYS or GEMINI_API_KEY", models.ErrNoCredentials)
	}
	return New(keys)
}

// Acquire selects the next non-disabled record round-robin, starting after
// the last issued index. It returns an ExhaustionError when every record is
// disabled. Multiple acquisitions may be outstanding concurrently against
// different records.
func (p *Pool) Acquire() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := len(p.records)
	for offset := 0; offset < total; offset++ {
		index := (p.nextIndex + offset) % total
		rec := p.records[index]
		if rec.disabled {
			continue
		}
		rec.status = models.KeyActive
		rec.lastUsedAt = time.Now().UTC()
		p.nextIndex = (index + 1) % total
		return Credential{Index: index, Key: rec.key}, nil
	}
	return Credential{}, &models.ExhaustionError{Snapshot: p.snapshotLocked()}
}

// ReportSuccess marks the record healthy and moves the last-used marker to it.
func (p *Pool) ReportSuccess(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.records) {
		return
	}
	if p.lastUsedIndex >= 0 && p.lastUsedIndex != index {
		p.records[p.lastUsedIndex].lastUsed = false
	}
	now := time.Now().UTC()
	rec := p.records[index]
	rec.status = models.KeyHealthy
	rec.lastError = ""
	rec.lastSuccessAt = now
	rec.lastUsedAt = now
	rec.successCount++
	rec.lastUsed = true
	p.lastUsedIndex = index
}

// ReportFailure marks the record failed and disables it permanently.
func (p *Pool) ReportFailure(index int, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.records) {
		return
	}
	rec := p.records[index]
	rec.status = models.KeyFailed
	if cause != nil {
		rec.lastError = cause.Error()
	}
	rec.lastFailureAt = time.Now().UTC()
	rec.failureCount++
	rec.disabled = true
	rec.lastUsed = false
	if p.lastUsedIndex == index {
		p.lastUsedIndex = -1
	}
}

// Available returns the number of non-disabled records.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableLocked()
}

// Total returns the number of records in the pool.
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// Snapshot returns a masked, externally safe view of every record.
func (p *Pool) Snapshot() models.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Reset re-enables every record and returns it to the idle state. Success
// and failure counters survive the reset so history stays inspectable. This
// is the explicit operator intervention for recovering disabled keys; it is
// never invoked automatically.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range p.records {
		rec.disabled = false
		rec.status = models.KeyIdle
		rec.lastError = ""
		rec.lastUsed = false
	}
	p.nextIndex = 0
	p.lastUsedIndex = -1
}

func (p *Pool) availableLocked() int {
	available := 0
	for _, rec := range p.records {
		if !rec.disabled {
			available++
		}
	}
	return available
}

func (p *Pool) snapshotLocked() models.PoolSnapshot {
	keys := make([]models.KeyStatus, len(p.records))
	for i, rec := range p.records {
		keys[i] = models.KeyStatus{
			Index:         i,
			MaskedKey:     rec.masked,
			Status:        rec.status,
			Disabled:      rec.disabled,
			LastError:     rec.lastError,
			LastUsedAt:    formatTimestamp(rec.lastUsedAt),
			LastSuccessAt: formatTimestamp(rec.lastSuccessAt),
			LastFailureAt: formatTimestamp(rec.lastFailureAt),
			SuccessCount:  rec.successCount,
			FailureCount:  rec.failureCount,
			IsLastUsed:    rec.lastUsed,
		}
	}
	return models.PoolSnapshot{
		Keys:      keys,
		Total:     len(p.records),
		Available: p.availableLocked(),
	}
}

// maskKey keeps just enough of the secret to identify it in dashboards.
func maskKey(key string) string {
	if len(key) <= 10 {
		return fmt.Sprintf("%s***%s", key[:min(2, len(key))], key[max(0, len(key)-2):])
	}
	return fmt.Sprintf("%s...%s", key[:6], key[len(key)-4:])
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
