package probes

import "github.com/georgeglarson/venice-caching-tests/internal/domain"

// sizesProbe repeats the basic protocol at several padded prompt sizes to see
// whether caching kicks in only above some prompt length. The verdict averages
// the second-call hit ratio across sizes.
type sizesProbe struct{ r *Runner }

func (sizesProbe) Name() string { return "prompt-size" }

func (p sizesProbe) Run(ctx domain.Context, model domain.Model, isolationToken string) domain.ProbeResult {
	var (
		details  domain.SizesDetails
		sum      float64
		polluted bool
	)
	for i, target := range p.r.cfg.PromptSizes {
		if i > 0 {
			if err := p.r.pause(ctx); err != nil {
				return failedResult(p.Name(), isolationToken, details, err)
			}
		}

		user := p.r.counter.BuildSizedPrompt(p.r.prompts.User, p.r.prompts.Filler, target, model.ID)
		req := p.r.chatRequest(model.ID, user, isolationToken)

		first, err := p.r.caller.ChatCompletion(ctx, req)
		if err != nil {
			return failedResult(p.Name(), isolationToken, details, err)
		}
		if i == 0 && first.CachedTokens > 0 {
			polluted = true
		}

		if err := p.r.pause(ctx); err != nil {
			return failedResult(p.Name(), isolationToken, details, err)
		}

		second, err := p.r.caller.ChatCompletion(ctx, req)
		if err != nil {
			return failedResult(p.Name(), isolationToken, details, err)
		}

		rate := second.CacheHitRate()
		sum += rate
		details.Sizes = append(details.Sizes, domain.SizeResult{
			TargetTokens: target,
			PromptTokens: second.PromptTokens,
			HitRate:      rate,
			FirstCall:    first,
			SecondCall:   second,
		})
	}

	var avg float64
	if n := len(details.Sizes); n > 0 {
		avg = sum / float64(n)
	}
	return succeededResult(p.Name(), isolationToken, avg, details, polluted)
}
