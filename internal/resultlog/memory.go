package resultlog

import (
	"context"
	"sync"

	"github.com/terra-clan/screening-engine/internal/models"
)

// MemoryLog keeps records in memory. Failures can be injected with FailNext.
type MemoryLog struct {
	mu       sync.Mutex
	records  []models.ResultRecord
	seen     map[string]bool
	failures int
	err      error
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{seen: make(map[string]bool)}
}

// FailNext makes the next n appends fail with err
func (l *MemoryLog) FailNext(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = n
	l.err = err
}

// Append stores the record; a repeated record id is ignored
func (l *MemoryLog) Append(_ context.Context, r models.ResultRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failures > 0 {
		l.failures--
		return l.err
	}
	if r.ID != "" && l.seen[r.ID] {
		return nil
	}
	l.seen[r.ID] = true
	l.records = append(l.records, r.Clone())
	return nil
}

// Records returns a copy of the stored records in append order
func (l *MemoryLog) Records() []models.ResultRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.ResultRecord, len(l.records))
	for i, r := range l.records {
		out[i] = r.Clone()
	}
	return out
}

func (l *MemoryLog) Ping(context.Context) error { return nil }

func (l *MemoryLog) Close() error { return nil }
