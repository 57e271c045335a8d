package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// ResultRepo persists probe results and per-cycle run summaries.
type ResultRepo struct{ Pool PgxPool }

// NewResultRepo constructs a ResultRepo with the given pool.
func NewResultRepo(p PgxPool) *ResultRepo { return &ResultRepo{Pool: p} }

// detailsEnvelope tags the per-probe payload with its kind so the dashboard
// can decode the variant.
type detailsEnvelope struct {
	Kind string              `json:"kind"`
	Data domain.ProbeDetails `json:"data"`
}

func detailsJSON(d domain.ProbeDetails) (any, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(detailsEnvelope{Kind: d.Kind(), Data: d})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// SaveProbeResult inserts one probe outcome.
func (r *ResultRepo) SaveProbeResult(ctx domain.Context, modelID, displayName string, res domain.ProbeResult) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.SaveProbeResult")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.sql.table", "probe_results"),
		attribute.String("probe", res.ProbeName),
	)

	details, err := detailsJSON(res.Details)
	if err != nil {
		return fmt.Errorf("op=results.save_probe_result: %w", err)
	}
	q := `INSERT INTO probe_results
	(id, model_id, display_name, probe_name, success, caching_observed, cache_hit_rate, details, error, error_kind, isolation_token, pollution_warning, completed_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err = r.Pool.Exec(ctx, q,
		uuid.New().String(), modelID, displayName, res.ProbeName,
		res.Success, res.CachingObserved, res.CacheHitRate, details,
		res.Error, string(res.ErrorKind), res.IsolationToken,
		res.PollutionWarning, res.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("op=results.save_probe_result: %w", err)
	}
	return nil
}

// SaveRunSummary upserts the latest cycle verdict for a model; the dashboard
// reads one row per model.
func (r *ResultRepo) SaveRunSummary(ctx domain.Context, s domain.ModelRunSummary) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.SaveRunSummary")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.sql.table", "model_summaries"),
		attribute.String("model", s.ModelID),
	)

	q := `INSERT INTO model_summaries
	(model_id, display_name, cycle_id, overall_support, best_rate, reliability_score, success_rate, caching_rate, avg_good_hit_rate, started_at, finished_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (model_id)
	DO UPDATE SET display_name=EXCLUDED.display_name, cycle_id=EXCLUDED.cycle_id,
	overall_support=EXCLUDED.overall_support, best_rate=EXCLUDED.best_rate,
	reliability_score=EXCLUDED.reliability_score, success_rate=EXCLUDED.success_rate,
	caching_rate=EXCLUDED.caching_rate, avg_good_hit_rate=EXCLUDED.avg_good_hit_rate,
	started_at=EXCLUDED.started_at, finished_at=EXCLUDED.finished_at, updated_at=EXCLUDED.updated_at`
	_, err := r.Pool.Exec(ctx, q,
		s.ModelID, s.DisplayName, s.CycleID, s.OverallSupport, s.BestRate,
		s.ReliabilityScore, s.SuccessRate, s.CachingRate, s.AvgGoodHitRate,
		s.StartedAt.UTC(), s.FinishedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=results.save_run_summary: %w", err)
	}
	return nil
}
