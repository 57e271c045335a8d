package probes

import "github.com/georgeglarson/venice-caching-tests/internal/domain"

// persistenceProbe issues N sequential identical calls to check whether a
// cache entry survives repeated traffic. Mid-sequence failures are tolerated
// and counted; only a failed final call fails the probe, because the verdict
// is the last call's hit ratio.
type persistenceProbe struct{ r *Runner }

func (persistenceProbe) Name() string { return "persistence" }

func (p persistenceProbe) Run(ctx domain.Context, model domain.Model, isolationToken string) domain.ProbeResult {
	req := p.r.chatRequest(model.ID, p.r.prompts.User, isolationToken)

	var (
		details  domain.PersistenceDetails
		last     domain.UsageSample
		lastErr  error
		polluted bool
	)
	for i := 0; i < p.r.cfg.PersistenceCalls; i++ {
		if i > 0 {
			if err := p.r.pause(ctx); err != nil {
				return failedResult(p.Name(), isolationToken, details, err)
			}
		}

		details.Attempted++
		sample, err := p.r.caller.ChatCompletion(ctx, req)
		if err != nil {
			details.Failed++
			lastErr = err
			continue
		}
		if i == 0 && sample.CachedTokens > 0 {
			polluted = true
		}
		details.Calls = append(details.Calls, sample)
		last = sample
		lastErr = nil
	}

	if lastErr != nil {
		return failedResult(p.Name(), isolationToken, details, lastErr)
	}
	return succeededResult(p.Name(), isolationToken, last.CacheHitRate(), details, polluted)
}
