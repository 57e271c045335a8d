// Package probes implements the five caching probe protocols. Each probe is a
// pure orchestration over chat calls with fixed inter-call delays; the
// resilient call wrapper underneath handles timeout, classification, and
// retry, so a surfaced error here is final for that call.
package probes

import (
	"context"
	"time"

	"github.com/georgeglarson/venice-caching-tests/internal/adapter/ai/tokencount"
	"github.com/georgeglarson/venice-caching-tests/internal/config"
	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// Probe runs one protocol against one model and reports a verdict. Run must
// return normally even on upstream failure; failure is expressed in the
// result, never by panic.
type Probe interface {
	Name() string
	Run(ctx domain.Context, model domain.Model, isolationToken string) domain.ProbeResult
}

// Runner builds the enabled probe set from configuration and shares the chat
// caller, token counter, and prompt fixtures across probes.
type Runner struct {
	caller  domain.ChatCaller
	counter *tokencount.Counter
	cfg     config.Config
	prompts config.PromptConfig

	// sleep is swappable so tests run without real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner constructs a Runner over the given collaborators.
func NewRunner(caller domain.ChatCaller, counter *tokencount.Counter, cfg config.Config, prompts config.PromptConfig) *Runner {
	return &Runner{
		caller:  caller,
		counter: counter,
		cfg:     cfg,
		prompts: prompts,
		sleep:   sleepCtx,
	}
}

// Enabled returns the configured probes in their fixed execution order.
func (r *Runner) Enabled() []Probe {
	var ps []Probe
	if r.cfg.EnableBasicProbe {
		ps = append(ps, basicProbe{r})
	}
	if r.cfg.EnablePromptSizeProbe {
		ps = append(ps, sizesProbe{r})
	}
	if r.cfg.EnablePartialProbe {
		ps = append(ps, partialProbe{r})
	}
	if r.cfg.EnablePersistenceProbe {
		ps = append(ps, persistenceProbe{r})
	}
	if r.cfg.EnableTTLProbe {
		ps = append(ps, ttlProbe{r})
	}
	return ps
}

func (r *Runner) chatRequest(modelID, user, isolationToken string) domain.ChatRequest {
	return domain.ChatRequest{
		Model:          modelID,
		System:         r.prompts.System,
		User:           user,
		MaxTokens:      r.cfg.MaxCompletionTokens,
		IsolationToken: isolationToken,
	}
}

// pause waits the configured inter-request delay, honoring cancellation.
func (r *Runner) pause(ctx domain.Context) error {
	return r.sleep(ctx, r.cfg.InterRequestDelay)
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

// succeededResult builds the common shape of a completed probe. The verdict
// ratio decides cachingObserved; pollution is flagged separately so a tainted
// first call is visible rather than silently counted as a hit.
func succeededResult(name, isolationToken string, rate float64, details domain.ProbeDetails, polluted bool) domain.ProbeResult {
	return domain.ProbeResult{
		ProbeName:        name,
		Success:          true,
		CachingObserved:  rate > 0,
		CacheHitRate:     &rate,
		Details:          details,
		IsolationToken:   isolationToken,
		PollutionWarning: polluted,
		CompletedAt:      time.Now(),
	}
}

// failedResult builds a probe failure carrying whatever partial details the
// probe collected before the error. CacheHitRate stays nil so the aggregator
// excludes the probe from rate averages.
func failedResult(name, isolationToken string, details domain.ProbeDetails, err error) domain.ProbeResult {
	return domain.ProbeResult{
		ProbeName:      name,
		Success:        false,
		Details:        details,
		Error:          err.Error(),
		ErrorKind:      domain.KindOfError(err),
		IsolationToken: isolationToken,
		CompletedAt:    time.Now(),
	}
}
