package probes

import "github.com/georgeglarson/venice-caching-tests/internal/domain"

// ttlProbe measures cache decay: for each configured gap it primes the cache
// with one call, waits, and reads the hit ratio off a second identical call.
// The verdict averages the per-gap ratios.
type ttlProbe struct{ r *Runner }

func (ttlProbe) Name() string { return "ttl" }

func (p ttlProbe) Run(ctx domain.Context, model domain.Model, isolationToken string) domain.ProbeResult {
	req := p.r.chatRequest(model.ID, p.r.prompts.User, isolationToken)

	var (
		details  domain.TTLDetails
		sum      float64
		polluted bool
	)
	for i, delay := range p.r.cfg.TTLDelays {
		if i > 0 {
			if err := p.r.pause(ctx); err != nil {
				return failedResult(p.Name(), isolationToken, details, err)
			}
		}

		first, err := p.r.caller.ChatCompletion(ctx, req)
		if err != nil {
			return failedResult(p.Name(), isolationToken, details, err)
		}
		if i == 0 && first.CachedTokens > 0 {
			polluted = true
		}

		if err := p.r.sleep(ctx, delay); err != nil {
			return failedResult(p.Name(), isolationToken, details, err)
		}

		second, err := p.r.caller.ChatCompletion(ctx, req)
		if err != nil {
			return failedResult(p.Name(), isolationToken, details, err)
		}

		rate := second.CacheHitRate()
		sum += rate
		details.Delays = append(details.Delays, domain.TTLDelayResult{
			Delay:      delay,
			HitRate:    rate,
			FirstCall:  first,
			SecondCall: second,
		})
	}

	var avg float64
	if n := len(details.Delays); n > 0 {
		avg = sum / float64(n)
	}
	return succeededResult(p.Name(), isolationToken, avg, details, polluted)
}
