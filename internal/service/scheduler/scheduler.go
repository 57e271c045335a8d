package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/georgeglarson/venice-caching-tests/internal/adapter/observability"
	"github.com/georgeglarson/venice-caching-tests/internal/config"
	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// Scheduler cycles indefinitely through the rotation queue, one model at a
// time. All mutation of the queue, the failure tracker, and the breaker
// happens on the single loop goroutine; Status and Failures read through
// locks so the HTTP surface can poll concurrently.
type Scheduler struct {
	cfg    config.Config
	client domain.ProbeClient
	orch   *Orchestrator
	log    *slog.Logger

	tracker *failureTracker
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	mu        sync.RWMutex
	queue     *rotationQueue
	breaker   *balanceBreaker
	known     map[string]bool
	running   bool
	tripped   bool
	current   string
	skipped   int
	completed int
	cancel    context.CancelFunc
	done      chan struct{}
	kick      chan struct{}
}

// New constructs a stopped Scheduler.
func New(cfg config.Config, client domain.ProbeClient, orch *Orchestrator, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		client:  client,
		orch:    orch,
		log:     log,
		tracker: newFailureTracker(cfg.MaxConsecutiveFailures, cfg.ResetThreshold, cfg.CooldownDuration, cfg.FailureRetention, cfg.MaxTrackedModels),
		sleep:   sleepCtx,
		now:     time.Now,
		queue:   newRotationQueue(),
		breaker: newBalanceBreaker(cfg.MinBalance),
		known:   make(map[string]bool),
		kick:    make(chan struct{}, 1),
	}
}

// Start launches the rotation loop. Calling Start while already running is a
// no-op, so re-entrant starts never spawn a second rotation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.tripped = false
	s.mu.Unlock()

	observability.SchedulerRunning.Set(1)
	go s.loop(runCtx)
}

// Stop cancels the loop and waits for it to wind down. The in-flight model
// cycle runs to completion and its results are recorded; no new model is
// started. Safe to call at any time, including before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// TriggerRun forces an immediate model-list refresh outside the timer
// cadence. Non-blocking; a pending trigger is collapsed.
func (s *Scheduler) TriggerRun() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Status returns the snapshot exposed for dashboard polling.
func (s *Scheduler) Status() domain.SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	circuit := s.breaker.Snapshot()
	return domain.SchedulerStatus{
		// a rotation halted by the balance breaker is not enabled even
		// though the loop goroutine is still alive
		Enabled:             s.running && !s.tripped,
		QueueLength:         s.queue.Len(),
		StoppedDueToBalance: s.tripped,
		LastKnownBalance:    circuit.LastKnownBalance,
		FailedModelCount:    s.tracker.Len(),
		SkippedModelCount:   s.skipped,
		CompletedCycleCount: s.completed,
		CurrentModelID:      s.current,
	}
}

// Failures returns the current failure records, most recent first.
func (s *Scheduler) Failures() []domain.FailureRecord {
	return s.tracker.Snapshot()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.current = ""
		close(s.done)
		s.mu.Unlock()
		observability.SchedulerRunning.Set(0)
	}()

	s.refreshModels(ctx)
	lastRefresh := s.now()
	lastSweep := s.now()
	consecutiveSkips := 0

	for ctx.Err() == nil {
		select {
		case <-s.kick:
			s.log.Info("manual rotation refresh triggered")
			s.refreshModels(ctx)
			lastRefresh = s.now()
		default:
		}
		if s.now().Sub(lastRefresh) >= s.cfg.ModelRefresh {
			s.refreshModels(ctx)
			lastRefresh = s.now()
		}
		if s.now().Sub(lastSweep) >= s.cfg.SweepInterval {
			s.tracker.Sweep()
			lastSweep = s.now()
		}
		observability.ModelsInCooldown.Set(float64(s.tracker.CooldownCount()))

		s.mu.Lock()
		model, ok := s.queue.Pop()
		queueLen := s.queue.Len()
		s.mu.Unlock()
		observability.RotationQueueLength.Set(float64(queueLen))

		if !ok {
			if err := s.idle(ctx, s.cfg.ModelIsolationDelay); err != nil {
				return
			}
			continue
		}

		if s.tracker.Gate(model.ID) {
			s.mu.Lock()
			s.queue.PushTail(model)
			s.skipped++
			s.mu.Unlock()
			consecutiveSkips++
			// every queued model is cooling down; wait instead of spinning
			if consecutiveSkips > queueLen {
				if err := s.idle(ctx, s.cfg.ModelIsolationDelay); err != nil {
					return
				}
				consecutiveSkips = 0
			}
			continue
		}
		consecutiveSkips = 0

		s.runModel(ctx, model)

		if s.breakerTripped() {
			if err := s.awaitBalanceRecovery(ctx); err != nil {
				return
			}
		}

		if err := s.sleep(ctx, s.cfg.ModelIsolationDelay); err != nil {
			return
		}
	}
}

func (s *Scheduler) runModel(ctx context.Context, model domain.Model) {
	s.mu.Lock()
	s.current = model.ID
	s.mu.Unlock()

	started := s.now()
	// Stop must not abort the in-flight cycle; its calls finish and their
	// results are recorded. Cancellation takes effect between models.
	summary, err := s.orch.RunCycle(context.WithoutCancel(ctx), model)
	elapsed := s.now().Sub(started)

	failed, msg, kind := cycleFailed(summary, err)
	outcome := "success"
	switch {
	case failed && errors.Is(err, context.Canceled):
		// an operator stop is not a model fault
		outcome = "canceled"
		s.log.Info("model cycle canceled", slog.String("model", model.ID))
	case failed:
		outcome = "failure"
		s.tracker.RecordFailure(model.ID, msg, kind)
		s.log.Warn("model cycle failed",
			slog.String("model", model.ID),
			slog.String("kind", string(kind)),
			slog.String("error", msg))
	default:
		s.tracker.RecordSuccess(model.ID)
	}
	observability.ModelCyclesTotal.WithLabelValues(outcome).Inc()
	observability.ModelCycleDuration.Observe(elapsed.Seconds())

	s.mu.Lock()
	s.completed++
	s.current = ""
	if s.known[model.ID] {
		s.queue.PushTail(model)
	}
	s.breaker.Observe(latestBalance(summary))
	s.mu.Unlock()
}

func (s *Scheduler) breakerTripped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.breaker.Tripped()
}

// awaitBalanceRecovery holds the rotation while the account balance sits
// below the floor, polling a lightweight balance call until it recovers.
func (s *Scheduler) awaitBalanceRecovery(ctx context.Context) error {
	s.mu.Lock()
	s.tripped = true
	balance := s.breaker.Snapshot().LastKnownBalance
	s.mu.Unlock()
	observability.BalanceBreakerTripped.Set(1)
	s.log.Warn("balance below floor, rotation stopped",
		slog.Float64("min_balance", s.cfg.MinBalance),
		slog.Any("balance", balance))

	for {
		if err := s.sleep(ctx, s.cfg.BalancePollInterval); err != nil {
			return err
		}
		b := s.client.GetBalance(ctx)
		s.mu.Lock()
		s.breaker.Observe(b)
		recovered := !s.breaker.Tripped()
		if recovered {
			s.tripped = false
		}
		s.mu.Unlock()
		if recovered {
			observability.BalanceBreakerTripped.Set(0)
			s.log.Info("balance recovered, rotation resuming", slog.Any("balance", b))
			return nil
		}
	}
}

// refreshModels re-fetches the model list and reconciles the rotation queue.
// On failure the existing queue keeps rotating; a flaky listing endpoint must
// not starve the rotation.
func (s *Scheduler) refreshModels(ctx context.Context) {
	models, err := s.client.ListModels(ctx)
	if err != nil {
		s.log.Warn("model list refresh failed, keeping cached rotation", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	s.queue.Sync(models)
	s.known = make(map[string]bool, len(models))
	for _, m := range models {
		s.known[m.ID] = true
	}
	queueLen := s.queue.Len()
	s.mu.Unlock()

	observability.RotationQueueLength.Set(float64(queueLen))
	s.log.Info("model rotation refreshed", slog.Int("models", len(models)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// idle waits like sleep but wakes early on a manual trigger.
func (s *Scheduler) idle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.kick:
		s.refreshModels(ctx)
		return nil
	case <-t.C:
		return nil
	}
}
