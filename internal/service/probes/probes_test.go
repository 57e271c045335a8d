package probes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgeglarson/venice-caching-tests/internal/adapter/ai/tokencount"
	"github.com/georgeglarson/venice-caching-tests/internal/config"
	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

type scriptedCall struct {
	usage domain.UsageSample
	err   error
}

// scriptedCaller replays a fixed sequence of responses and records every
// request it saw.
type scriptedCaller struct {
	t     *testing.T
	calls []domain.ChatRequest
	queue []scriptedCall
}

func (s *scriptedCaller) ChatCompletion(_ domain.Context, req domain.ChatRequest) (domain.UsageSample, error) {
	s.calls = append(s.calls, req)
	if len(s.queue) == 0 {
		s.t.Fatalf("unexpected call %d: %+v", len(s.calls), req)
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	return next.usage, next.err
}

func usage(prompt, cached int) domain.UsageSample {
	return domain.UsageSample{PromptTokens: prompt, CachedTokens: cached, CompletionTokens: 10}
}

type classified struct {
	kind domain.ErrorKind
	msg  string
}

func (c classified) Error() string               { return c.msg }
func (c classified) ErrorKind() domain.ErrorKind { return c.kind }

func testRunner(t *testing.T, sc *scriptedCaller, mutate func(*config.Config)) (*Runner, *[]time.Duration) {
	t.Helper()
	cfg := config.Config{
		EnableBasicProbe:       true,
		EnablePromptSizeProbe:  true,
		EnablePartialProbe:     true,
		EnablePersistenceProbe: true,
		EnableTTLProbe:         true,
		InterRequestDelay:      2 * time.Second,
		PersistenceCalls:       5,
		TTLDelays:              []time.Duration{time.Second, 5 * time.Second},
		PromptSizes:            []int{500, 1000},
		MaxCompletionTokens:    64,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	var slept []time.Duration
	r := NewRunner(sc, tokencount.NewCounter(), cfg, config.DefaultPromptConfig())
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestEnabledOrderAndToggles(t *testing.T) {
	r, _ := testRunner(t, &scriptedCaller{t: t}, nil)
	var names []string
	for _, p := range r.Enabled() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"basic", "prompt-size", "partial-cache", "persistence", "ttl"}, names)

	r, _ = testRunner(t, &scriptedCaller{t: t}, func(c *config.Config) {
		c.EnablePromptSizeProbe = false
		c.EnableTTLProbe = false
	})
	names = nil
	for _, p := range r.Enabled() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"basic", "partial-cache", "persistence"}, names)
}

func TestBasicProbe(t *testing.T) {
	sc := &scriptedCaller{t: t, queue: []scriptedCall{
		{usage: usage(1000, 0)},
		{usage: usage(1000, 800)},
	}}
	r, slept := testRunner(t, sc, nil)

	res := basicProbe{r}.Run(context.Background(), domain.Model{ID: "m1"}, "tok-1")

	require.True(t, res.Success)
	require.NotNil(t, res.CacheHitRate)
	assert.InDelta(t, 80.0, *res.CacheHitRate, 0.001)
	assert.True(t, res.CachingObserved)
	assert.False(t, res.PollutionWarning)
	assert.Equal(t, "tok-1", res.IsolationToken)

	require.Len(t, sc.calls, 2)
	assert.Equal(t, sc.calls[0], sc.calls[1])
	assert.Equal(t, "tok-1", sc.calls[0].IsolationToken)
	assert.Equal(t, []time.Duration{2 * time.Second}, *slept)

	details, ok := res.Details.(domain.BasicDetails)
	require.True(t, ok)
	assert.Equal(t, 800, details.SecondCall.CachedTokens)
}

func TestBasicProbePollutionWarning(t *testing.T) {
	sc := &scriptedCaller{t: t, queue: []scriptedCall{
		{usage: usage(1000, 300)},
		{usage: usage(1000, 900)},
	}}
	r, _ := testRunner(t, sc, nil)

	res := basicProbe{r}.Run(context.Background(), domain.Model{ID: "m1"}, "")

	assert.True(t, res.Success)
	assert.True(t, res.PollutionWarning)
}

func TestBasicProbeFirstCallFails(t *testing.T) {
	sc := &scriptedCaller{t: t, queue: []scriptedCall{
		{err: classified{kind: domain.ErrorKindRateLimit, msg: "429"}},
	}}
	r, _ := testRunner(t, sc, nil)

	res := basicProbe{r}.Run(context.Background(), domain.Model{ID: "m1"}, "")

	assert.False(t, res.Success)
	assert.False(t, res.CachingObserved)
	assert.Nil(t, res.CacheHitRate)
	assert.Equal(t, domain.ErrorKindRateLimit, res.ErrorKind)
	assert.Equal(t, "429", res.Error)
	require.Len(t, sc.calls, 1)
}

func TestPartialProbeVariesUserOnly(t *testing.T) {
	sc := &scriptedCaller{t: t, queue: []scriptedCall{
		{usage: usage(1200, 0)},
		{usage: usage(1200, 600)},
	}}
	r, _ := testRunner(t, sc, nil)

	res := partialProbe{r}.Run(context.Background(), domain.Model{ID: "m1"}, "tok-2")

	require.True(t, res.Success)
	assert.InDelta(t, 50.0, *res.CacheHitRate, 0.001)

	require.Len(t, sc.calls, 2)
	assert.Equal(t, sc.calls[0].System, sc.calls[1].System)
	assert.NotEqual(t, sc.calls[0].User, sc.calls[1].User)
}

func TestSizesProbeAveragesAcrossSizes(t *testing.T) {
	// second calls hit at 50% and 90%
	sc := &scriptedCaller{t: t, queue: []scriptedCall{
		{usage: usage(500, 0)},
		{usage: usage(500, 250)},
		{usage: usage(1000, 0)},
		{usage: usage(1000, 900)},
	}}
	r, _ := testRunner(t, sc, nil)

	res := sizesProbe{r}.Run(context.Background(), domain.Model{ID: "m1"}, "")

	require.True(t, res.Success)
	assert.InDelta(t, 70.0, *res.CacheHitRate, 0.001)

	require.Len(t, sc.calls, 4)
	assert.Equal(t, sc.calls[0].User, sc.calls[1].User)
	assert.Equal(t, sc.calls[2].User, sc.calls[3].User)
	// larger target must produce a longer prompt
	assert.Greater(t, len(sc.calls[2].User), len(sc.calls[0].User))

	details, ok := res.Details.(domain.SizesDetails)
	require.True(t, ok)
	require.Len(t, details.Sizes, 2)
	assert.Equal(t, 500, details.Sizes[0].TargetTokens)
	assert.Equal(t, 1000, details.Sizes[1].TargetTokens)
}

func TestSizesProbeFailsKeepingPartialDetails(t *testing.T) {
	sc := &scriptedCaller{t: t, queue: []scriptedCall{
		{usage: usage(500, 0)},
		{usage: usage(500, 400)},
		{err: classified{kind: domain.ErrorKindServerError, msg: "502"}},
	}}
	r, _ := testRunner(t, sc, nil)

	res := sizesProbe{r}.Run(context.Background(), domain.Model{ID: "m1"}, "")

	assert.False(t, res.Success)
	assert.Nil(t, res.CacheHitRate)
	assert.Equal(t, domain.ErrorKindServerError, res.ErrorKind)

	details, ok := res.Details.(domain.SizesDetails)
	require.True(t, ok)
	assert.Len(t, details.Sizes, 1)
}

func TestPersistenceProbeToleratesMidFailure(t *testing.T) {
	sc := &scriptedCaller{t: t, queue: []scriptedCall{
		{usage: usage(1000, 0)},
		{usage: usage(1000, 700)},
		{err: classified{kind: domain.ErrorKindTimeout, msg: "deadline"}},
		{usage: usage(1000, 750)},
		{usage: usage(1000, 760)},
	}}
	r, _ := testRunner(t, sc, nil)

	res := persistenceProbe{r}.Run(context.Background(), domain.Model{ID: "m1"}, "")

	require.True(t, res.Success)
	assert.InDelta(t, 76.0, *res.CacheHitRate, 0.001)

	details, ok := res.Details.(domain.PersistenceDetails)
	require.True(t, ok)
	assert.Equal(t, 5, details.Attempted)
	assert.Equal(t, 1, details.Failed)
	assert.Len(t, details.Calls, 4)
}

func TestPersistenceProbeFailsWhenLastCallFails(t *testing.T) {
	sc := &scriptedCaller{t: t, queue: []scriptedCall{
		{usage: usage(1000, 0)},
		{usage: usage(1000, 700)},
		{err: classified{kind: domain.ErrorKindServerError, msg: "500"}},
	}}
	r, _ := testRunner(t, sc, func(c *config.Config) { c.PersistenceCalls = 3 })

	res := persistenceProbe{r}.Run(context.Background(), domain.Model{ID: "m1"}, "")

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrorKindServerError, res.ErrorKind)

	details, ok := res.Details.(domain.PersistenceDetails)
	require.True(t, ok)
	assert.Equal(t, 3, details.Attempted)
	assert.Equal(t, 1, details.Failed)
}

func TestTTLProbeSleepsConfiguredGaps(t *testing.T) {
	// 80% hit after 1s gap, 40% after 5s gap
	sc := &scriptedCaller{t: t, queue: []scriptedCall{
		{usage: usage(1000, 0)},
		{usage: usage(1000, 800)},
		{usage: usage(1000, 0)},
		{usage: usage(1000, 400)},
	}}
	r, slept := testRunner(t, sc, nil)

	res := ttlProbe{r}.Run(context.Background(), domain.Model{ID: "m1"}, "")

	require.True(t, res.Success)
	assert.InDelta(t, 60.0, *res.CacheHitRate, 0.001)

	// 1s gap, inter-request pause between groups, then the 5s gap
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}, *slept)

	details, ok := res.Details.(domain.TTLDetails)
	require.True(t, ok)
	require.Len(t, details.Delays, 2)
	assert.Equal(t, time.Second, details.Delays[0].Delay)
	assert.InDelta(t, 80.0, details.Delays[0].HitRate, 0.001)
}

func TestSleepCtxHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepCtx(ctx, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	require.NoError(t, sleepCtx(context.Background(), 0))
}
