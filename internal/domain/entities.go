package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrBalanceExhausted  = errors.New("account balance exhausted")
	ErrInternal          = errors.New("internal error")
)

// ErrorKind classifies the outcome of a single upstream call.
type ErrorKind string

const (
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindRateLimit   ErrorKind = "rate_limit"
	ErrorKindAPIError    ErrorKind = "api_error"
	ErrorKindServerError ErrorKind = "server_error"
	// ErrorKindConsecutiveFailure is a model-level aggregate condition, never
	// attached to a single call.
	ErrorKindConsecutiveFailure ErrorKind = "consecutive_failure"
)

// Retryable reports whether a call with this classification may be retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindTimeout, ErrorKindRateLimit, ErrorKindServerError:
		return true
	default:
		return false
	}
}

// Model identifies a remote inference target. Immutable once fetched; the
// rotation queue de-duplicates by ID.
type Model struct {
	ID          string
	DisplayName string
}

// UsageSample holds the token accounting parsed from one upstream response.
// AccountBalance is present only when the provider surfaced it on the response.
type UsageSample struct {
	PromptTokens     int
	CachedTokens     int
	CompletionTokens int
	AccountBalance   *float64
}

// CacheHitRate returns cached/prompt as a percentage, 0 when no prompt tokens
// were reported.
func (u UsageSample) CacheHitRate() float64 {
	if u.PromptTokens <= 0 {
		return 0
	}
	return float64(u.CachedTokens) / float64(u.PromptTokens) * 100
}

// ProbeResult is the outcome of one probe execution against one model.
// CacheHitRate is nil when the probe errored before producing a ratio.
type ProbeResult struct {
	ProbeName        string
	Success          bool
	CachingObserved  bool
	CacheHitRate     *float64
	Details          ProbeDetails
	Error            string
	ErrorKind        ErrorKind
	IsolationToken   string
	PollutionWarning bool
	CompletedAt      time.Time
}

// ModelRunSummary is computed once per full rotation pass over a model and
// handed to the persistence collaborator.
type ModelRunSummary struct {
	CycleID          string
	ModelID          string
	DisplayName      string
	ProbeResults     []ProbeResult
	OverallSupport   bool
	BestRate         float64
	ReliabilityScore int
	SuccessRate      float64
	CachingRate      float64
	AvgGoodHitRate   float64
	StartedAt        time.Time
	FinishedAt       time.Time
}

// FailureRecord tracks consecutive cycle outcomes for one model.
type FailureRecord struct {
	ModelID              string     `json:"model_id"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	TotalFailures        int        `json:"total_failures"`
	LastError            string     `json:"last_error,omitempty"`
	LastErrorKind        ErrorKind  `json:"last_error_kind,omitempty"`
	LastErrorTime        time.Time  `json:"last_error_time"`
	CooldownUntil        *time.Time `json:"cooldown_until,omitempty"`
}

// InCooldown reports whether the record's cooldown window is still open at now.
func (fr *FailureRecord) InCooldown(now time.Time) bool {
	return fr.CooldownUntil != nil && now.Before(*fr.CooldownUntil)
}

// CircuitState is the balance circuit breaker's externally visible state.
type CircuitState struct {
	LastKnownBalance *float64
	Tripped          bool
}

// SchedulerStatus is the snapshot exposed for dashboard polling.
type SchedulerStatus struct {
	Enabled             bool     `json:"enabled"`
	QueueLength         int      `json:"queue_length"`
	StoppedDueToBalance bool     `json:"stopped_due_to_balance"`
	LastKnownBalance    *float64 `json:"last_known_balance,omitempty"`
	FailedModelCount    int      `json:"failed_model_count"`
	SkippedModelCount   int      `json:"skipped_model_count"`
	CompletedCycleCount int      `json:"completed_cycle_count"`
	CurrentModelID      string   `json:"current_model_id,omitempty"`
}

// ChatRequest describes one probe call to the upstream chat endpoint.
type ChatRequest struct {
	Model          string
	System         string
	User           string
	MaxTokens      int
	IsolationToken string
}

// Ports (collaborator contracts)

// ChatCaller issues a single resilient chat call and returns the parsed usage.
// Implementations apply timeout, classification, and retry internally; on final
// failure the returned usage is zeroed and the error carries an ErrorKind.
type ChatCaller interface {
	ChatCompletion(ctx Context, req ChatRequest) (UsageSample, error)
}

// ModelLister fetches the current set of text-capable models.
type ModelLister interface {
	ListModels(ctx Context) ([]Model, error)
}

// BalanceChecker is a lightweight balance probe, tolerant of failure: it
// returns nil instead of erroring so the breaker poll loop never aborts.
type BalanceChecker interface {
	GetBalance(ctx Context) *float64
}

// ProbeClient is the full upstream surface the scheduler needs.
type ProbeClient interface {
	ChatCaller
	ModelLister
	BalanceChecker
}

// ResultRepository persists probe outcomes. Implementations must return within
// a bounded time; failures are logged by the caller, never fatal to rotation.
type ResultRepository interface {
	SaveProbeResult(ctx Context, modelID, displayName string, r ProbeResult) error
	SaveRunSummary(ctx Context, s ModelRunSummary) error
}

// UsageRepository records per-call token telemetry, best effort.
type UsageRepository interface {
	RecordUsage(ctx Context, modelID string, u UsageSample) error
}

// ReadCacheInvalidator signals the dashboard's read-through cache that the
// underlying data changed.
type ReadCacheInvalidator interface {
	Invalidate(ctx Context) error
}

// Context is an alias so adapters and services share the std context without
// the domain package naming it everywhere.
type Context = context.Context
