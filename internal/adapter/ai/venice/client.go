// Package venice implements the Venice API client: a resilient call wrapper
// with timeout, outcome classification, and exponential-backoff retry, plus
// the model-listing and balance endpoints the scheduler consumes.
package venice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/georgeglarson/venice-caching-tests/internal/adapter/observability"
	"github.com/georgeglarson/venice-caching-tests/internal/config"
	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// balanceHeader carries the remaining account balance on chat responses.
const balanceHeader = "x-venice-balance-usd"

// Client implements domain.ProbeClient against the Venice API.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a Venice client. The HTTP client timeout is the hard per-call
// timeout; retries happen above it.
func New(cfg config.Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("venice %s %s", r.Method, r.URL.Path)
		}),
	)
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
	}
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

// ChatCompletion issues one chat call with retry. Transient failures (timeout,
// 429, 5xx) are retried with delay initial×2^k up to RetryMaxAttempts total
// attempts; a non-retryable classification stops immediately. On final failure
// the returned usage is zeroed and the error carries a ClassifiedError.
func (c *Client) ChatCompletion(ctx domain.Context, req domain.ChatRequest) (domain.UsageSample, error) {
	if c.cfg.VeniceAPIKey == "" {
		return domain.UsageSample{}, fmt.Errorf("%w: VENICE_API_KEY missing", domain.ErrInvalidArgument)
	}

	system := req.System
	if req.IsolationToken != "" {
		// The token changes the prompt prefix so a prior run's cache entries
		// can never match a fresh run's first call.
		system = "cache-test-token: " + req.IsolationToken + "\n" + system
	}
	body := map[string]any{
		"model":       req.Model,
		"temperature": 0,
		"max_tokens":  req.MaxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": req.User},
		},
	}
	b, _ := json.Marshal(body)

	var out chatResponse
	var balance *float64
	op := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.VeniceBaseURL+"/chat/completions", bytes.NewReader(b))
		r.Header.Set("Authorization", "Bearer "+c.cfg.VeniceAPIKey)
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		observability.APICallDuration.WithLabelValues("chat").Observe(time.Since(start).Seconds())
		if err != nil {
			kind := classifyTransport(err)
			observability.APICallsTotal.WithLabelValues("chat", "error").Inc()
			observability.APICallErrorsTotal.WithLabelValues(string(kind)).Inc()
			slog.Warn("venice call failed in transport",
				slog.String("op", "chat"),
				slog.String("model", req.Model),
				slog.String("kind", string(kind)),
				slog.Any("error", err))
			return &ClassifiedError{Kind: kind, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.APICallsTotal.WithLabelValues("chat", "error").Inc()
			observability.APICallErrorsTotal.WithLabelValues(string(domain.ErrorKindServerError)).Inc()
			return &ClassifiedError{Kind: domain.ErrorKindServerError, Err: err}
		}

		if ce := classifyStatus(resp.StatusCode, bodyBytes); ce != nil {
			observability.APICallsTotal.WithLabelValues("chat", "error").Inc()
			observability.APICallErrorsTotal.WithLabelValues(string(ce.Kind)).Inc()
			slog.Warn("venice call failed",
				slog.String("op", "chat"),
				slog.String("model", req.Model),
				slog.Int("status", resp.StatusCode),
				slog.String("kind", string(ce.Kind)),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")))
			if !ce.Retryable() {
				return backoff.Permanent(ce)
			}
			return ce
		}

		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			// Malformed response from a 2xx is non-retryable.
			observability.APICallsTotal.WithLabelValues("chat", "error").Inc()
			observability.APICallErrorsTotal.WithLabelValues(string(domain.ErrorKindAPIError)).Inc()
			return backoff.Permanent(&ClassifiedError{Kind: domain.ErrorKindAPIError, Err: err})
		}
		balance = parseBalance(resp.Header.Get(balanceHeader))
		observability.APICallsTotal.WithLabelValues("chat", "ok").Inc()
		return nil
	}

	if err := backoff.Retry(op, c.newBackoff(ctx)); err != nil {
		return domain.UsageSample{}, fmt.Errorf("op=venice.chat model=%s: %w", req.Model, err)
	}

	usage := domain.UsageSample{
		PromptTokens:     out.Usage.PromptTokens,
		CachedTokens:     out.Usage.PromptTokensDetails.CachedTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		AccountBalance:   balance,
	}
	if balance != nil {
		observability.AccountBalance.Set(*balance)
	}
	return usage, nil
}

type modelsResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		ModelSpec struct {
			Name string `json:"name"`
		} `json:"model_spec"`
	} `json:"data"`
}

// ListModels fetches the models list filtered to text-capable models.
func (c *Client) ListModels(ctx domain.Context) ([]domain.Model, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.VeniceBaseURL+"/models?type=text", nil)
	if err != nil {
		return nil, fmt.Errorf("op=venice.listModels: %w", err)
	}
	r.Header.Set("Authorization", "Bearer "+c.cfg.VeniceAPIKey)

	start := time.Now()
	resp, err := c.hc.Do(r)
	observability.APICallDuration.WithLabelValues("models").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.APICallsTotal.WithLabelValues("models", "error").Inc()
		return nil, fmt.Errorf("op=venice.listModels: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		observability.APICallsTotal.WithLabelValues("models", "error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("op=venice.listModels status=%d: %s", resp.StatusCode, string(snippet))
	}

	var out modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.APICallsTotal.WithLabelValues("models", "error").Inc()
		return nil, fmt.Errorf("op=venice.listModels decode: %w", err)
	}
	observability.APICallsTotal.WithLabelValues("models", "ok").Inc()

	models := make([]domain.Model, 0, len(out.Data))
	for _, m := range out.Data {
		if m.Type != "" && m.Type != "text" {
			continue
		}
		name := m.ModelSpec.Name
		if name == "" {
			name = m.ID
		}
		models = append(models, domain.Model{ID: m.ID, DisplayName: name})
	}
	slog.Debug("venice models listed", slog.Int("count", len(models)))
	return models, nil
}

type rateLimitsResponse struct {
	Data struct {
		Balances struct {
			USD float64 `json:"USD"`
		} `json:"balances"`
	} `json:"data"`
}

// GetBalance is a lightweight balance probe. It is tolerant of failure and
// returns nil rather than an error so the breaker's recovery poll never aborts.
func (c *Client) GetBalance(ctx domain.Context) *float64 {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.VeniceBaseURL+"/api_keys/rate_limits", nil)
	if err != nil {
		return nil
	}
	r.Header.Set("Authorization", "Bearer "+c.cfg.VeniceAPIKey)

	start := time.Now()
	resp, err := c.hc.Do(r)
	observability.APICallDuration.WithLabelValues("balance").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.APICallsTotal.WithLabelValues("balance", "error").Inc()
		slog.Warn("balance probe failed", slog.Any("error", err))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		observability.APICallsTotal.WithLabelValues("balance", "error").Inc()
		slog.Warn("balance probe non-200", slog.Int("status", resp.StatusCode))
		return nil
	}
	var out rateLimitsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.APICallsTotal.WithLabelValues("balance", "error").Inc()
		slog.Warn("balance probe decode failed", slog.Any("error", err))
		return nil
	}
	observability.APICallsTotal.WithLabelValues("balance", "ok").Inc()
	usd := out.Data.Balances.USD
	observability.AccountBalance.Set(usd)
	return &usd
}

// newBackoff builds the deterministic exponential backoff the wrapper retries
// with: delays follow BackoffDelay(k, initial) and the total number of
// attempts is capped at RetryMaxAttempts.
func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.RetryInitialDelay
	expo.RandomizationFactor = 0
	expo.Multiplier = 2.0
	expo.MaxInterval = BackoffDelay(c.cfg.RetryMaxAttempts-1, c.cfg.RetryInitialDelay)
	expo.MaxElapsedTime = 0
	var bo backoff.BackOff = expo
	if c.cfg.RetryMaxAttempts > 0 {
		bo = backoff.WithMaxRetries(expo, uint64(c.cfg.RetryMaxAttempts-1))
	}
	return backoff.WithContext(bo, ctx)
}

// classifyStatus maps HTTP status to the error taxonomy; nil means success.
func classifyStatus(status int, body []byte) *ClassifiedError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &ClassifiedError{Kind: domain.ErrorKindRateLimit, Status: status, Err: domain.ErrUpstreamRateLimit}
	case status >= 400 && status < 500:
		return &ClassifiedError{Kind: domain.ErrorKindAPIError, Status: status, Err: fmt.Errorf("client error: %s", snippet(body))}
	default:
		return &ClassifiedError{Kind: domain.ErrorKindServerError, Status: status, Err: fmt.Errorf("server error: %s", snippet(body))}
	}
}

// classifyTransport maps pre-response transport failures to the taxonomy.
func classifyTransport(err error) domain.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTimeout
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return domain.ErrorKindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrorKindTimeout
	}
	return domain.ErrorKindServerError
}

func parseBalance(raw string) *float64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func snippet(body []byte) string {
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}
