package probes

import "github.com/georgeglarson/venice-caching-tests/internal/domain"

// basicProbe sends the same prompt twice and reads the cache hit off the
// second response.
type basicProbe struct{ r *Runner }

func (basicProbe) Name() string { return "basic" }

func (p basicProbe) Run(ctx domain.Context, model domain.Model, isolationToken string) domain.ProbeResult {
	req := p.r.chatRequest(model.ID, p.r.prompts.User, isolationToken)

	first, err := p.r.caller.ChatCompletion(ctx, req)
	if err != nil {
		return failedResult(p.Name(), isolationToken, nil, err)
	}
	polluted := first.CachedTokens > 0

	if err := p.r.pause(ctx); err != nil {
		return failedResult(p.Name(), isolationToken, domain.BasicDetails{FirstCall: first}, err)
	}

	second, err := p.r.caller.ChatCompletion(ctx, req)
	if err != nil {
		return failedResult(p.Name(), isolationToken, domain.BasicDetails{FirstCall: first}, err)
	}

	details := domain.BasicDetails{FirstCall: first, SecondCall: second}
	return succeededResult(p.Name(), isolationToken, second.CacheHitRate(), details, polluted)
}
