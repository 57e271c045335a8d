package scheduler

import "github.com/georgeglarson/venice-caching-tests/internal/domain"

// balanceBreaker tracks the most recent account balance seen on any response
// and trips once it drops below the configured floor. Tripping is a hard stop
// for the whole rotation, not a per-model cooldown. Not safe for concurrent
// use; the scheduler guards all access.
type balanceBreaker struct {
	minBalance float64
	state      domain.CircuitState
}

func newBalanceBreaker(minBalance float64) *balanceBreaker {
	return &balanceBreaker{minBalance: minBalance}
}

// Observe records a balance reading. Nil readings keep the previous state; a
// provider that stops reporting balance must not flap the breaker.
func (b *balanceBreaker) Observe(balance *float64) {
	if balance == nil {
		return
	}
	v := *balance
	b.state.LastKnownBalance = &v
	b.state.Tripped = v < b.minBalance
}

// Tripped reports whether the last known balance is below the floor.
func (b *balanceBreaker) Tripped() bool { return b.state.Tripped }

// Snapshot returns a copy of the breaker state.
func (b *balanceBreaker) Snapshot() domain.CircuitState {
	cp := b.state
	if b.state.LastKnownBalance != nil {
		v := *b.state.LastKnownBalance
		cp.LastKnownBalance = &v
	}
	return cp
}
