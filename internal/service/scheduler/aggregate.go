package scheduler

import (
	"math"

	"github.com/georgeglarson/venice-caching-tests/internal/config"
	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// aggregate is the per-cycle verdict computed from one model's probe results.
type aggregate struct {
	SuccessRate      float64
	CachingRate      float64
	AvgGoodHitRate   float64
	BestRate         float64
	OverallSupport   bool
	ReliabilityScore int
}

// aggregateResults folds one cycle's probe results into the support verdict
// and reliability score. Results with a nil CacheHitRate count as failures in
// the success denominator but are excluded from every rate average. The
// pass/fail bar is capped at the number of probes that actually ran, so
// disabling probes can never make support unreachable.
func aggregateResults(results []domain.ProbeResult, th config.Thresholds) aggregate {
	ran := len(results)
	if ran == 0 {
		return aggregate{}
	}

	var (
		successful  int
		goodCaching int
		goodHitSum  float64
		best        float64
	)
	for _, r := range results {
		if r.Success {
			successful++
		}
		if r.CacheHitRate == nil {
			continue
		}
		rate := *r.CacheHitRate
		if rate > best {
			best = rate
		}
		if r.Success && r.CachingObserved && rate >= th.MinCacheHitRate {
			goodCaching++
			goodHitSum += rate
		}
	}

	agg := aggregate{BestRate: best}
	agg.SuccessRate = float64(successful) / float64(ran) * 100
	if successful > 0 {
		agg.CachingRate = float64(goodCaching) / float64(successful) * 100
	}
	if goodCaching > 0 {
		agg.AvgGoodHitRate = goodHitSum / float64(goodCaching)
	}

	effectiveMinTests := th.MinTestsWithCaching
	if ran < effectiveMinTests {
		effectiveMinTests = ran
	}
	agg.OverallSupport = goodCaching >= effectiveMinTests && agg.SuccessRate >= th.MinSuccessRate
	agg.ReliabilityScore = int(math.Round(agg.SuccessRate*0.4 + agg.CachingRate*0.3 + agg.AvgGoodHitRate*0.3))
	return agg
}
