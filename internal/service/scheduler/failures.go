package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// failureTracker drives the per-model cooldown state machine. Transitions are
// per full model-test cycle, never per probe. It carries its own lock because
// the HTTP surface reads snapshots while the rotation loop mutates.
type failureTracker struct {
	maxConsecutiveFailures int
	resetThreshold         int
	cooldown               time.Duration
	retention              time.Duration
	maxTracked             int

	now func() time.Time

	mu      sync.Mutex
	records map[string]*domain.FailureRecord
}

func newFailureTracker(maxConsecutiveFailures, resetThreshold int, cooldown, retention time.Duration, maxTracked int) *failureTracker {
	return &failureTracker{
		maxConsecutiveFailures: maxConsecutiveFailures,
		resetThreshold:         resetThreshold,
		cooldown:               cooldown,
		retention:              retention,
		maxTracked:             maxTracked,
		now:                    time.Now,
		records:                make(map[string]*domain.FailureRecord),
	}
}

// Gate is consulted before testing a model. A model inside its cooldown window
// is skipped without counting as a failure; an expired window is cleared and
// the model gets one more attempt.
func (t *failureTracker) Gate(modelID string) (skip bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[modelID]
	if !ok || rec.CooldownUntil == nil {
		return false
	}
	if rec.InCooldown(t.now()) {
		return true
	}
	rec.CooldownUntil = nil
	return false
}

// RecordFailure registers one failed cycle and arms the cooldown once the
// consecutive-failure threshold is reached.
func (t *failureTracker) RecordFailure(modelID, errMsg string, kind domain.ErrorKind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[modelID]
	if !ok {
		rec = &domain.FailureRecord{ModelID: modelID}
		t.records[modelID] = rec
	}
	rec.ConsecutiveFailures++
	rec.ConsecutiveSuccesses = 0
	rec.TotalFailures++
	rec.LastError = errMsg
	rec.LastErrorKind = kind
	rec.LastErrorTime = t.now()
	if rec.ConsecutiveFailures >= t.maxConsecutiveFailures {
		until := t.now().Add(t.cooldown)
		rec.CooldownUntil = &until
	}
}

// RecordSuccess registers one successful cycle. Reaching the reset threshold
// evicts the record entirely; a fully recovered model needs no tracking.
func (t *failureTracker) RecordSuccess(modelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[modelID]
	if !ok {
		return
	}
	rec.ConsecutiveSuccesses++
	if rec.ConsecutiveSuccesses >= t.resetThreshold {
		delete(t.records, modelID)
	}
}

// Sweep evicts records idle past the retention window, then enforces the
// tracked-model cap by dropping the least-recently-failed entries.
func (t *failureTracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.retention)
	for id, rec := range t.records {
		if rec.LastErrorTime.Before(cutoff) {
			delete(t.records, id)
		}
	}

	if len(t.records) <= t.maxTracked {
		return
	}
	recs := make([]*domain.FailureRecord, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].LastErrorTime.Before(recs[j].LastErrorTime)
	})
	for _, rec := range recs[:len(recs)-t.maxTracked] {
		delete(t.records, rec.ModelID)
	}
}

// Snapshot returns copies of all records, most recent failure first.
func (t *failureTracker) Snapshot() []domain.FailureRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.FailureRecord, 0, len(t.records))
	for _, rec := range t.records {
		cp := *rec
		if rec.CooldownUntil != nil {
			until := *rec.CooldownUntil
			cp.CooldownUntil = &until
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastErrorTime.After(out[j].LastErrorTime)
	})
	return out
}

// Len reports how many models currently carry a failure record.
func (t *failureTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// CooldownCount reports how many models are inside an open cooldown window.
func (t *failureTracker) CooldownCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	n := 0
	for _, rec := range t.records {
		if rec.InCooldown(now) {
			n++
		}
	}
	return n
}
