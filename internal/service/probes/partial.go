package probes

import "github.com/georgeglarson/venice-caching-tests/internal/domain"

// partialProbe keeps the system prompt identical but changes the user prompt
// on the second call, so any nonzero hit on the second response means the
// provider caches the shared prefix rather than whole requests.
type partialProbe struct{ r *Runner }

func (partialProbe) Name() string { return "partial-cache" }

func (p partialProbe) Run(ctx domain.Context, model domain.Model, isolationToken string) domain.ProbeResult {
	first, err := p.r.caller.ChatCompletion(ctx, p.r.chatRequest(model.ID, p.r.prompts.User, isolationToken))
	if err != nil {
		return failedResult(p.Name(), isolationToken, nil, err)
	}
	polluted := first.CachedTokens > 0

	if err := p.r.pause(ctx); err != nil {
		return failedResult(p.Name(), isolationToken, domain.PartialDetails{FirstCall: first}, err)
	}

	second, err := p.r.caller.ChatCompletion(ctx, p.r.chatRequest(model.ID, p.r.prompts.AltUser, isolationToken))
	if err != nil {
		return failedResult(p.Name(), isolationToken, domain.PartialDetails{FirstCall: first}, err)
	}

	details := domain.PartialDetails{FirstCall: first, SecondCall: second}
	return succeededResult(p.Name(), isolationToken, second.CacheHitRate(), details, polluted)
}
