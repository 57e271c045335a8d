package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/georgeglarson/venice-caching-tests/internal/adapter/observability"
	"github.com/georgeglarson/venice-caching-tests/internal/config"
	"github.com/georgeglarson/venice-caching-tests/internal/domain"
	"github.com/georgeglarson/venice-caching-tests/internal/service/probes"
)

// persistTimeout bounds every durable write so a slow store cannot stall the
// rotation loop.
const persistTimeout = 5 * time.Second

// Orchestrator runs the enabled probe set against one model, publishes
// progress events, persists outcomes best-effort, and folds the results into a
// ModelRunSummary.
type Orchestrator struct {
	runner      *probes.Runner
	results     domain.ResultRepository
	usage       domain.UsageRepository
	invalidator domain.ReadCacheInvalidator
	bus         *EventBus
	cfg         config.Config

	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the orchestrator. results, usage, and invalidator may
// be nil; the corresponding writes are skipped.
func NewOrchestrator(runner *probes.Runner, results domain.ResultRepository, usage domain.UsageRepository, invalidator domain.ReadCacheInvalidator, bus *EventBus, cfg config.Config) *Orchestrator {
	if bus == nil {
		bus = NewEventBus()
	}
	return &Orchestrator{
		runner:      runner,
		results:     results,
		usage:       usage,
		invalidator: invalidator,
		bus:         bus,
		cfg:         cfg,
		sleep:       sleepCtx,
	}
}

// RunCycle executes one full test cycle for the model. It returns an error
// only when the cycle aborted before completing its probe set (cancellation or
// an empty probe set); individual probe failures are carried in the summary.
func (o *Orchestrator) RunCycle(ctx domain.Context, model domain.Model) (domain.ModelRunSummary, error) {
	cycleID := uuid.NewString()
	token := ""
	if o.cfg.IsolationTokens {
		token = ulid.Make().String()
		ctx = observability.ContextWithCorrelationID(ctx, token)
	}
	lg := observability.LoggerFromContext(ctx).With(
		slog.String("cycle_id", cycleID),
		slog.String("model", model.ID))
	ctx = observability.ContextWithLogger(ctx, lg)

	ps := o.runner.Enabled()
	if len(ps) == 0 {
		return domain.ModelRunSummary{}, fmt.Errorf("op=scheduler.RunCycle model=%s: no probes enabled: %w", model.ID, domain.ErrInvalidArgument)
	}

	summary := domain.ModelRunSummary{
		CycleID:     cycleID,
		ModelID:     model.ID,
		DisplayName: model.DisplayName,
		StartedAt:   time.Now(),
	}

	for i, p := range ps {
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.InterRequestDelay); err != nil {
				return summary, fmt.Errorf("op=scheduler.RunCycle model=%s: aborted before probe %s: %w", model.ID, p.Name(), err)
			}
		}

		o.bus.publish(ctx, domain.ProbeEvent{
			CycleID: cycleID, ModelID: model.ID, ProbeName: p.Name(), Status: domain.EventProbeStarted,
		})

		res := p.Run(ctx, model, token)
		summary.ProbeResults = append(summary.ProbeResults, res)

		outcome := "success"
		if !res.Success {
			outcome = "failure"
		}
		observability.ProbesTotal.WithLabelValues(p.Name(), outcome).Inc()
		if res.CacheHitRate != nil {
			observability.ProbeCacheHitRate.WithLabelValues(p.Name()).Observe(*res.CacheHitRate)
		}
		if res.PollutionWarning {
			lg.Warn("first call showed cached tokens, possible cross-run pollution",
				slog.String("probe", p.Name()))
		}
		if !res.Success {
			lg.Warn("probe failed",
				slog.String("probe", p.Name()),
				slog.String("kind", string(res.ErrorKind)),
				slog.String("error", res.Error))
		}

		o.bus.publish(ctx, domain.ProbeEvent{
			CycleID: cycleID, ModelID: model.ID, ProbeName: p.Name(),
			Status: domain.EventProbeFinished, Success: res.Success,
			CacheHitRate: res.CacheHitRate, ErrorKind: string(res.ErrorKind),
		})

		o.persistResult(ctx, model, res)
	}

	agg := aggregateResults(summary.ProbeResults, o.cfg.Thresholds())
	summary.OverallSupport = agg.OverallSupport
	summary.BestRate = agg.BestRate
	summary.ReliabilityScore = agg.ReliabilityScore
	summary.SuccessRate = agg.SuccessRate
	summary.CachingRate = agg.CachingRate
	summary.AvgGoodHitRate = agg.AvgGoodHitRate
	summary.FinishedAt = time.Now()

	o.bus.publish(ctx, domain.ProbeEvent{
		CycleID: cycleID, ModelID: model.ID, Status: domain.EventCycleFinished,
		Success: agg.OverallSupport,
	})
	lg.Info("model cycle finished",
		slog.Bool("overall_support", summary.OverallSupport),
		slog.Int("reliability_score", summary.ReliabilityScore),
		slog.Float64("best_rate", summary.BestRate))

	o.persistSummary(ctx, summary)
	return summary, nil
}

// persistResult writes one probe result and its usage samples, best effort.
func (o *Orchestrator) persistResult(ctx domain.Context, model domain.Model, res domain.ProbeResult) {
	lg := observability.LoggerFromContext(ctx)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if o.results != nil {
		if err := o.results.SaveProbeResult(pctx, model.ID, model.DisplayName, res); err != nil {
			lg.Error("persist probe result failed",
				slog.String("probe", res.ProbeName),
				slog.Any("error", err))
		}
	}
	if o.usage != nil {
		for _, u := range usageSamples(res.Details) {
			if err := o.usage.RecordUsage(pctx, model.ID, u); err != nil {
				lg.Error("record usage failed", slog.Any("error", err))
				break
			}
		}
	}
}

func (o *Orchestrator) persistSummary(ctx domain.Context, s domain.ModelRunSummary) {
	lg := observability.LoggerFromContext(ctx)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if o.results != nil {
		if err := o.results.SaveRunSummary(pctx, s); err != nil {
			lg.Error("persist run summary failed", slog.Any("error", err))
		}
	}
	if o.invalidator != nil {
		if err := o.invalidator.Invalidate(pctx); err != nil {
			lg.Warn("read cache invalidation failed", slog.Any("error", err))
		}
	}
}

// usageSamples flattens the per-probe details into the raw call samples for
// telemetry.
func usageSamples(details domain.ProbeDetails) []domain.UsageSample {
	switch d := details.(type) {
	case domain.BasicDetails:
		return []domain.UsageSample{d.FirstCall, d.SecondCall}
	case domain.PartialDetails:
		return []domain.UsageSample{d.FirstCall, d.SecondCall}
	case domain.SizesDetails:
		var out []domain.UsageSample
		for _, s := range d.Sizes {
			out = append(out, s.FirstCall, s.SecondCall)
		}
		return out
	case domain.PersistenceDetails:
		return d.Calls
	case domain.TTLDetails:
		var out []domain.UsageSample
		for _, r := range d.Delays {
			out = append(out, r.FirstCall, r.SecondCall)
		}
		return out
	default:
		return nil
	}
}

// latestBalance scans a cycle's samples for the most recent account balance
// reading.
func latestBalance(s domain.ModelRunSummary) *float64 {
	var out *float64
	for _, res := range s.ProbeResults {
		for _, u := range usageSamples(res.Details) {
			if u.AccountBalance != nil {
				v := *u.AccountBalance
				out = &v
			}
		}
	}
	return out
}

// cycleFailed decides the failure-tracker outcome for one cycle: a cycle
// counts as failed when it aborted before producing any probe result or when
// zero probes succeeded. A partial cycle with at least one successful probe
// counts as a success.
func cycleFailed(s domain.ModelRunSummary, err error) (failed bool, msg string, kind domain.ErrorKind) {
	if err != nil && len(s.ProbeResults) == 0 {
		return true, err.Error(), domain.KindOfError(err)
	}
	var lastMsg string
	var lastKind domain.ErrorKind
	for _, r := range s.ProbeResults {
		if r.Success {
			return false, "", ""
		}
		if r.Error != "" {
			lastMsg = r.Error
			lastKind = r.ErrorKind
		}
	}
	if lastMsg == "" {
		lastMsg = "no probe succeeded"
		lastKind = domain.ErrorKindConsecutiveFailure
	}
	if err != nil {
		lastMsg = strings.Join([]string{lastMsg, err.Error()}, "; ")
	}
	return true, lastMsg, lastKind
}
