package scheduler

import (
	"log/slog"
	"sync"

	"github.com/georgeglarson/venice-caching-tests/internal/adapter/observability"
	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// Subscriber receives probe progress events. Implementations must return
// quickly; the bus fans out synchronously on the rotation goroutine.
type Subscriber interface {
	OnProbeEvent(ctx domain.Context, ev domain.ProbeEvent)
}

// EventBus is the in-process notification channel between the orchestrator and
// its consumers. Subscribing after Start is allowed.
type EventBus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

func NewEventBus() *EventBus { return &EventBus{} }

// Subscribe registers a consumer for all subsequent events.
func (b *EventBus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

func (b *EventBus) publish(ctx domain.Context, ev domain.ProbeEvent) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					observability.LoggerFromContext(ctx).Error("event subscriber panicked",
						slog.String("status", ev.Status),
						slog.Any("panic", r))
				}
			}()
			s.OnProbeEvent(ctx, ev)
		}()
	}
}
