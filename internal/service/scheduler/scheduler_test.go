package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgeglarson/venice-caching-tests/internal/adapter/ai/tokencount"
	"github.com/georgeglarson/venice-caching-tests/internal/config"
	"github.com/georgeglarson/venice-caching-tests/internal/domain"
	"github.com/georgeglarson/venice-caching-tests/internal/service/probes"
)

// fakeProbeClient is a full upstream fake: chat, model listing, and balance.
type fakeProbeClient struct {
	mu         sync.Mutex
	chat       func(ctx domain.Context) (domain.UsageSample, error)
	models     []domain.Model
	listErr    error
	listCalls  int
	balance    func() *float64
	chatModels []string
}

func (f *fakeProbeClient) ChatCompletion(ctx domain.Context, req domain.ChatRequest) (domain.UsageSample, error) {
	f.mu.Lock()
	chat := f.chat
	f.chatModels = append(f.chatModels, req.Model)
	f.mu.Unlock()
	return chat(ctx)
}

func (f *fakeProbeClient) ListModels(_ domain.Context) ([]domain.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.models, f.listErr
}

func (f *fakeProbeClient) GetBalance(_ domain.Context) *float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance == nil {
		return nil
	}
	return f.balance()
}

func (f *fakeProbeClient) setModels(models []domain.Model, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = models
	f.listErr = err
}

func (f *fakeProbeClient) setBalance(fn func() *float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = fn
}

func (f *fakeProbeClient) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeProbeClient) chatHistory() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.chatModels))
	copy(out, f.chatModels)
	return out
}

func loopConfig() config.Config {
	return config.Config{
		EnableBasicProbe:       true,
		MaxCompletionTokens:    8,
		InterRequestDelay:      0,
		ModelIsolationDelay:    time.Millisecond,
		ModelRefresh:           time.Hour,
		SweepInterval:          time.Hour,
		MinTestsWithCaching:    2,
		MinCacheHitRate:        20,
		MinSuccessRate:         50,
		MaxConsecutiveFailures: 3,
		ResetThreshold:         2,
		CooldownDuration:       time.Hour,
		FailureRetention:       24 * time.Hour,
		MaxTrackedModels:       100,
		MinBalance:             1,
		BalancePollInterval:    2 * time.Millisecond,
	}
}

func newTestScheduler(t *testing.T, client *fakeProbeClient, cfg config.Config) *Scheduler {
	t.Helper()
	runner := probes.NewRunner(client, tokencount.NewCounter(), cfg, config.DefaultPromptConfig())
	orch := NewOrchestrator(runner, nil, nil, nil, NewEventBus(), cfg)
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg, client, orch, lg)
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulerCooldownAfterConsecutiveFailures(t *testing.T) {
	client := &fakeProbeClient{
		models: []domain.Model{{ID: "m1"}},
		chat: func(_ domain.Context) (domain.UsageSample, error) {
			return domain.UsageSample{}, domain.ErrInternal
		},
	}
	s := newTestScheduler(t, client, loopConfig())
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		for _, rec := range s.Failures() {
			if rec.ModelID == "m1" && rec.ConsecutiveFailures >= 3 && rec.CooldownUntil != nil {
				return true
			}
		}
		return false
	}, 5*time.Second, 2*time.Millisecond, "model should enter cooldown after 3 failed cycles")

	// while cooling down the model is skipped, not tested
	require.Eventually(t, func() bool {
		return s.Status().SkippedModelCount > 0
	}, 5*time.Second, 2*time.Millisecond)

	completed := s.Status().CompletedCycleCount
	assert.Equal(t, 3, completed, "no further cycles once the cooldown is armed")
	s.Stop()
	assert.False(t, s.Status().Enabled)
}

func TestSchedulerRotatesFIFO(t *testing.T) {
	client := &fakeProbeClient{
		models: []domain.Model{{ID: "a"}, {ID: "b"}},
		chat: func(_ domain.Context) (domain.UsageSample, error) {
			return domain.UsageSample{PromptTokens: 1000, CachedTokens: 800}, nil
		},
	}
	s := newTestScheduler(t, client, loopConfig())
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		return s.Status().CompletedCycleCount >= 4
	}, 5*time.Second, 2*time.Millisecond)
	s.Stop()

	history := client.chatHistory()
	require.GreaterOrEqual(t, len(history), 8)
	// basic probe calls twice per cycle; cycles alternate a, b, a, b
	assert.Equal(t, []string{"a", "a", "b", "b", "a", "a", "b", "b"}, history[:8])
}

func TestSchedulerBalanceBreaker(t *testing.T) {
	low := 0.5
	client := &fakeProbeClient{
		models: []domain.Model{{ID: "m1"}},
		chat: func(_ domain.Context) (domain.UsageSample, error) {
			return domain.UsageSample{PromptTokens: 1000, CachedTokens: 500, AccountBalance: &low}, nil
		},
	}
	client.setBalance(func() *float64 { v := 0.5; return &v })

	s := newTestScheduler(t, client, loopConfig())
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		return s.Status().StoppedDueToBalance
	}, 5*time.Second, 2*time.Millisecond, "balance below floor should trip the breaker")

	tripped := s.Status()
	assert.False(t, tripped.Enabled, "a rotation halted by the breaker must not report enabled")

	stalled := s.Status().CompletedCycleCount

	client.setBalance(func() *float64 { v := 10.0; return &v })
	require.Eventually(t, func() bool {
		st := s.Status()
		return !st.StoppedDueToBalance && st.CompletedCycleCount > stalled
	}, 5*time.Second, 2*time.Millisecond, "rotation should resume once balance recovers")

	st := s.Status()
	assert.True(t, st.Enabled, "rotation should report enabled again after recovery")
	require.NotNil(t, st.LastKnownBalance)
	assert.Equal(t, 10.0, *st.LastKnownBalance)
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	client := &fakeProbeClient{
		chat: func(_ domain.Context) (domain.UsageSample, error) {
			return domain.UsageSample{}, domain.ErrInternal
		},
	}
	s := newTestScheduler(t, client, loopConfig())

	s.Start(context.Background())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return client.listCount() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, client.listCount(), "second Start must not spawn a second rotation")
	assert.True(t, s.Status().Enabled)

	s.Stop()
	assert.False(t, s.Status().Enabled)

	// restart after a clean stop
	s.Start(context.Background())
	require.Eventually(t, func() bool { return client.listCount() == 2 }, time.Second, time.Millisecond)
}

func TestSchedulerTriggerRunRefreshesModels(t *testing.T) {
	client := &fakeProbeClient{
		listErr: domain.ErrInternal,
		chat: func(_ domain.Context) (domain.UsageSample, error) {
			return domain.UsageSample{PromptTokens: 100, CachedTokens: 50}, nil
		},
	}
	s := newTestScheduler(t, client, loopConfig())
	s.Start(context.Background())

	require.Eventually(t, func() bool { return client.listCount() >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, s.Status().CompletedCycleCount, "listing failed, nothing to rotate")

	client.setModels([]domain.Model{{ID: "m1"}}, nil)
	s.TriggerRun()

	require.Eventually(t, func() bool {
		return s.Status().CompletedCycleCount > 0
	}, 5*time.Second, 2*time.Millisecond, "manual trigger should refresh the rotation")
}

func TestSchedulerStopBeforeStartIsSafe(t *testing.T) {
	s := newTestScheduler(t, &fakeProbeClient{}, loopConfig())
	s.Stop()
	assert.False(t, s.Status().Enabled)
}

func TestSchedulerStopLetsInFlightCycleFinish(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var ctxErrs []error

	client := &fakeProbeClient{
		models: []domain.Model{{ID: "m1"}},
	}
	client.chat = func(ctx domain.Context) (domain.UsageSample, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		mu.Lock()
		ctxErrs = append(ctxErrs, ctx.Err())
		mu.Unlock()
		return domain.UsageSample{PromptTokens: 1000, CachedTokens: 800}, nil
	}

	s := newTestScheduler(t, client, loopConfig())
	s.Start(context.Background())

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("chat call never started")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	s.Stop()

	// the blocked call and the rest of its cycle completed despite Stop
	mu.Lock()
	errs := make([]error, len(ctxErrs))
	copy(errs, ctxErrs)
	mu.Unlock()
	require.NotEmpty(t, errs)
	for _, err := range errs {
		assert.NoError(t, err, "stop must not cancel an in-flight chat call")
	}

	st := s.Status()
	assert.False(t, st.Enabled)
	assert.Equal(t, 1, st.CompletedCycleCount, "the in-flight cycle's result is still recorded")
	assert.Empty(t, s.Failures(), "an operator stop must not count against the model")
}
