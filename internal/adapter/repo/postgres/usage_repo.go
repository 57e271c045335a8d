package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// UsageRepo records per-call token telemetry.
type UsageRepo struct{ Pool PgxPool }

// NewUsageRepo constructs a UsageRepo with the given pool.
func NewUsageRepo(p PgxPool) *UsageRepo { return &UsageRepo{Pool: p} }

// RecordUsage inserts one usage sample.
func (r *UsageRepo) RecordUsage(ctx domain.Context, modelID string, u domain.UsageSample) error {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.RecordUsage")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "usage_samples"))

	q := `INSERT INTO usage_samples (model_id, prompt_tokens, cached_tokens, completion_tokens, account_balance, recorded_at)
	VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.Pool.Exec(ctx, q, modelID, u.PromptTokens, u.CachedTokens, u.CompletionTokens, u.AccountBalance, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=usage.record: %w", err)
	}
	return nil
}
