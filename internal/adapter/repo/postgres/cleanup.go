package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CleanupService purges aged probe data so unattended long-term operation
// keeps the tables bounded. Run summaries are kept; they are one row per
// model.
type CleanupService struct {
	Pool      PgxPool
	Retention time.Duration
}

// NewCleanupService creates a cleanup service. Retention at or below zero
// falls back to 30 days.
func NewCleanupService(pool PgxPool, retention time.Duration) *CleanupService {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &CleanupService{Pool: pool, Retention: retention}
}

// CleanupOldData removes probe results and usage samples older than the
// retention window.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().Add(-s.Retention)

	resTag, err := s.Pool.Exec(ctx, `DELETE FROM probe_results WHERE completed_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.probe_results: %w", err)
	}
	usageTag, err := s.Pool.Exec(ctx, `DELETE FROM usage_samples WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.usage_samples: %w", err)
	}

	slog.Info("cleanup completed",
		slog.Int64("probe_results_deleted", resTag.RowsAffected()),
		slog.Int64("usage_samples_deleted", usageTag.RowsAffected()),
		slog.Time("cutoff", cutoff))
	return nil
}

// Run executes cleanup on the given interval until the context is canceled.
func (s *CleanupService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("cleanup failed", slog.Any("error", err))
			}
		}
	}
}
