package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/georgeglarson/venice-caching-tests/internal/config"
	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// SchedulerControl is the slice of the scheduler the HTTP surface needs.
type SchedulerControl interface {
	Status() domain.SchedulerStatus
	Failures() []domain.FailureRecord
	TriggerRun()
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Sched      SchedulerControl
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// StatusHandler reports the scheduler snapshot for dashboard polling.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Sched.Status())
	}
}

// TriggerHandler forces an immediate rotation refresh outside the timer
// cadence.
func (s *Server) TriggerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.Sched.TriggerRun()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
	}
}

// FailuresHandler lists the per-model failure and cooldown records.
func (s *Server) FailuresHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		failures := s.Sched.Failures()
		if failures == nil {
			failures = []domain.FailureRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
	}
}

// ReadyzHandler probes the database and Redis, when configured.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
