// Package scheduler owns the model rotation: the FIFO queue, the per-model
// failure/cooldown state machine, the account-balance circuit breaker, the
// per-cycle orchestrator, and the single control loop that ties them together.
package scheduler

import "github.com/georgeglarson/venice-caching-tests/internal/domain"

// rotationQueue is a FIFO of models awaiting their next test cycle,
// de-duplicated by model ID. It is not safe for concurrent use; the scheduler
// guards all access.
type rotationQueue struct {
	order []domain.Model
	seen  map[string]bool
}

func newRotationQueue() *rotationQueue {
	return &rotationQueue{seen: make(map[string]bool)}
}

func (q *rotationQueue) Len() int { return len(q.order) }

// Pop removes and returns the head of the queue.
func (q *rotationQueue) Pop() (domain.Model, bool) {
	if len(q.order) == 0 {
		return domain.Model{}, false
	}
	m := q.order[0]
	q.order = q.order[1:]
	delete(q.seen, m.ID)
	return m, true
}

// PushTail appends a model unless it is already queued.
func (q *rotationQueue) PushTail(m domain.Model) {
	if q.seen[m.ID] {
		return
	}
	q.seen[m.ID] = true
	q.order = append(q.order, m)
}

// Sync reconciles the queue with a fresh model listing: vanished models are
// removed, new ones are appended at the tail, and the relative order of
// survivors is preserved.
func (q *rotationQueue) Sync(models []domain.Model) {
	current := make(map[string]bool, len(models))
	for _, m := range models {
		current[m.ID] = true
	}

	kept := q.order[:0]
	for _, m := range q.order {
		if current[m.ID] {
			kept = append(kept, m)
		} else {
			delete(q.seen, m.ID)
		}
	}
	q.order = kept

	for _, m := range models {
		q.PushTail(m)
	}
}
