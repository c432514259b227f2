// Package router selects and invokes generation backends under a routing
// strategy, with per-candidate rate-limit retry, rolling latency tracking,
// pre-dispatch cost estimation, and a response cache consulted before any
// network call. Candidate failures advance to the next candidate; only when
// every candidate has failed does the caller see an aggregate error.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/louipr/spark-sub001/internal/cache"
	"github.com/louipr/spark-sub001/internal/types"
	"github.com/louipr/spark-sub001/internal/usage"
)

// Candidate pairs a provider config with its live adapter.
type Candidate struct {
	Config  types.ProviderConfig
	Backend types.Backend
}

// RetryConfig bounds the same-candidate retry applied to rate limits.
// Delays double per attempt starting from BaseDelay.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryConfig matches the upstream providers' guidance: three
// retries at 1s, 2s, 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Second}
}

// DispatchOptions carry per-call routing context.
type DispatchOptions struct {
	SessionID   string        // usage attribution; may be empty
	BypassCache bool          // force a fresh backend call
	CacheTTL    time.Duration // 0 uses the cache default
}

// Router is safe for concurrent use.
type Router struct {
	logger         *zap.Logger
	cache          *cache.ResponseCache // optional
	tracker        *usage.Tracker       // optional
	retry          RetryConfig
	requestTimeout time.Duration

	mu        sync.Mutex
	latencies map[string]*rollingLatency
	rrCursor  int

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Router.
type Option func(*Router)

// WithCache attaches the response cache consulted before dispatch.
func WithCache(c *cache.ResponseCache) Option {
	return func(r *Router) { r.cache = c }
}

// WithUsageTracker records token/cost accounting per successful dispatch.
func WithUsageTracker(t *usage.Tracker) Option {
	return func(r *Router) { r.tracker = t }
}

// WithRetryConfig overrides the rate-limit retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(r *Router) { r.retry = cfg }
}

// WithRequestTimeout bounds each individual backend call, independent of
// the caller's loop-level budget.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Router) { r.requestTimeout = d }
}

// New creates a router.
func New(logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		logger:         logger.Named("router"),
		retry:          DefaultRetryConfig(),
		requestTimeout: 2 * time.Minute,
		latencies:      make(map[string]*rollingLatency),
		sleep:          sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchResult carries the winning response plus the routing trail: which
// provider answered, whether the cache served it, and every candidate
// failure that preceded the success.
type DispatchResult struct {
	Response *types.GenerateResult
	Provider string
	Cached   bool
	Failures []*types.ProviderError
}

// Dispatch routes one request. Candidates are filtered to enabled entries,
// ordered by the strategy, and tried in turn; rate limits retry the same
// candidate with exponential backoff before advancing.
func (r *Router) Dispatch(ctx context.Context, messages []types.Message, taskType types.TaskType, strategy Strategy, candidates []Candidate, opts DispatchOptions) (*DispatchResult, error) {
	enabled := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Config.Enabled {
			enabled = append(enabled, c)
		}
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("%w: no enabled provider candidates", types.ErrConfiguration)
	}

	ordered, preFailures := r.order(strategy, enabled, messages)
	failures := preFailures

	for _, candidate := range ordered {
		key, keyOK := r.cacheKey(messages, taskType, candidate.Config.Model)
		if keyOK && !opts.BypassCache {
			if cached, hit := r.cacheGet(key); hit {
				r.logger.Debug("cache hit",
					zap.String("provider", candidate.Config.Name),
					zap.String("task", string(taskType)))
				return &DispatchResult{
					Response: cached,
					Provider: candidate.Config.Name,
					Cached:   true,
					Failures: failures,
				}, nil
			}
		}

		result, err := r.tryCandidate(ctx, candidate, messages, taskType)
		if err == nil {
			if keyOK && !opts.BypassCache {
				r.cacheSet(key, result, opts.CacheTTL)
			}
			if r.tracker != nil {
				r.tracker.Record(candidate.Config.Name, candidate.Config.Model, opts.SessionID, result.Usage, result.Cost)
			}
			return &DispatchResult{
				Response: result,
				Provider: candidate.Config.Name,
				Failures: failures,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: dispatch cancelled: %v", types.ErrTimeout, ctx.Err())
		}

		pe, ok := types.AsProviderError(err)
		if !ok {
			pe = types.NewProviderError(candidate.Config.Name, types.FailureNetwork, err)
		}
		failures = append(failures, pe)
		r.logger.Warn("candidate failed, advancing",
			zap.String("provider", candidate.Config.Name),
			zap.String("kind", string(pe.Kind)),
			zap.Error(pe.Err))
	}

	return nil, &types.ExhaustedError{Failures: failures}
}

// tryCandidate runs one candidate, retrying rate limits with exponential
// backoff up to the configured bound. The returned error is the final
// failure after retries are spent.
func (r *Router) tryCandidate(ctx context.Context, candidate Candidate, messages []types.Message, taskType types.TaskType) (*types.GenerateResult, error) {
	opts := types.GenerateOptions{
		Model:       candidate.Config.Model,
		Temperature: candidate.Config.Temperature,
		MaxTokens:   candidate.Config.MaxTokens,
		Timeout:     r.requestTimeout,
	}

	var lastErr error
	for attempt := 0; attempt <= r.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.retry.BaseDelay << uint(attempt-1)
			r.logger.Debug("rate limited, backing off",
				zap.String("provider", candidate.Config.Name),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			if err := r.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		start := time.Now()
		result, err := candidate.Backend.Generate(ctx, messages, taskType, opts)
		if err == nil {
			r.recordLatency(candidate.Config.Name, time.Since(start))
			return result, nil
		}
		lastErr = err

		pe, ok := types.AsProviderError(err)
		if !ok || !pe.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

// EstimateCost predicts the dollar cost of dispatching messages to a
// candidate, using its token estimator for the prompt and its configured
// completion budget for the output side.
func (r *Router) EstimateCost(candidate Candidate, messages []types.Message) float64 {
	promptTokens := candidate.Backend.EstimateTokens(messages)
	outputTokens := candidate.Config.MaxTokens
	if outputTokens == 0 {
		outputTokens = 512
	}
	pricing := candidate.Config.Pricing
	return float64(promptTokens)/1000*pricing.InputPer1K +
		float64(outputTokens)/1000*pricing.OutputPer1K
}

// ProbeAvailability checks every candidate concurrently and returns the
// reachable subset's names.
func (r *Router) ProbeAvailability(ctx context.Context, candidates []Candidate) map[string]bool {
	var mu sync.Mutex
	out := make(map[string]bool, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	for _, candidate := range candidates {
		candidate := candidate
		g.Go(func() error {
			ok := candidate.Backend.IsAvailable(ctx)
			mu.Lock()
			out[candidate.Config.Name] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// cacheKey builds the logical cache key. Returns false when no cache is
// attached.
func (r *Router) cacheKey(messages []types.Message, taskType types.TaskType, model string) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	// Timestamps are excluded so retries of the same conversation hit.
	type keyMessage struct{ Role, Content string }
	stripped := make([]keyMessage, len(messages))
	for i, m := range messages {
		stripped[i] = keyMessage{m.Role, m.Content}
	}
	payload, err := json.Marshal(struct {
		Task     types.TaskType
		Model    string
		Messages []keyMessage
	}{taskType, model, stripped})
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(payload)
	return "dispatch:" + hex.EncodeToString(sum[:]), true
}

func (r *Router) cacheGet(key string) (*types.GenerateResult, bool) {
	raw, ok := r.cache.Get(key)
	if !ok {
		return nil, false
	}
	var result types.GenerateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		r.cache.Delete(key)
		return nil, false
	}
	return &result, true
}

func (r *Router) cacheSet(key string, result *types.GenerateResult, ttl time.Duration) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	r.cache.Set(key, raw, ttl)
}
