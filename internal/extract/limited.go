// Package extract wraps the extraction API client with the outbound-call
// policy the pipeline requires: a requests-per-window rate limit and an
// in-flight concurrency cap enforced independently, retry with exponential
// backoff on transient failures, and a circuit breaker per upstream.
package extract

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/platewise/leadscout/internal/resilience"
	"github.com/platewise/leadscout/pkg/extractor"
)

// Config controls the limits applied to outbound extraction calls.
type Config struct {
	// Concurrency caps in-flight calls. Default: 5.
	Concurrency int

	// RatePerMinute caps calls per rolling minute. Default: 60.
	RatePerMinute int

	// Retry controls backoff for transient failures.
	Retry resilience.RetryConfig

	// Breaker controls the upstream circuit breaker.
	Breaker resilience.CircuitBreakerConfig
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = 60
	}
	return c
}

// Limited is a rate-limited, retrying extraction client.
type Limited struct {
	client  extractor.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	breaker *resilience.CircuitBreaker
	cfg     Config
}

// New creates a Limited client around the given API client.
func New(client extractor.Client, cfg Config) *Limited {
	cfg = cfg.withDefaults()
	breakerCfg := cfg.Breaker
	if breakerCfg.FailureThreshold == 0 {
		breakerCfg = resilience.DefaultCircuitBreakerConfig()
	}
	breakerCfg.ShouldTrip = resilience.IsTransient

	return &Limited{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.Concurrency),
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		cfg:     cfg,
	}
}

// Concurrency returns the configured in-flight cap; the step processor sizes
// its batches to it.
func (l *Limited) Concurrency() int {
	return l.cfg.Concurrency
}

// Extract performs one extraction call under both gates, retrying transient
// failures within the configured budget. Permanent failures return
// immediately.
func (l *Limited) Extract(ctx context.Context, req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "extract: acquire worker slot")
	}
	defer l.sem.Release(1)

	retryCfg := l.cfg.Retry
	if retryCfg.OnRetry == nil {
		retryCfg.OnRetry = resilience.RetryLogger("extractor", req.Schema)
	}

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*extractor.ExtractResponse, error) {
		// Each attempt consumes rate-limit capacity, retries included.
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "extract: rate limiter wait")
		}
		return resilience.ExecuteVal(ctx, l.breaker, func(ctx context.Context) (*extractor.ExtractResponse, error) {
			resp, err := l.client.Extract(ctx, req)
			if err != nil {
				return nil, classify(err)
			}
			if !resp.Success {
				return nil, resilience.NewPermanentError(eris.New("extract: upstream reported failure"), 0)
			}
			return resp, nil
		})
	})
}

// BatchItem pairs a request with the record it belongs to.
type BatchItem struct {
	Key     string
	Request extractor.ExtractRequest
}

// BatchResult is the per-item outcome of ExtractBatch.
type BatchResult struct {
	Key      string
	Response *extractor.ExtractResponse
	Err      error
}

// ExtractBatch issues the items concurrently. Individual failures never
// abort the batch; each item carries its own error. Results preserve input
// order.
func (l *Limited) ExtractBatch(ctx context.Context, items []BatchItem) []BatchResult {
	results := make([]BatchResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)

	for i, item := range items {
		g.Go(func() error {
			resp, err := l.Extract(gctx, item.Request)
			results[i] = BatchResult{Key: item.Key, Response: resp, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// classify maps client errors onto the retry taxonomy. API statuses decide
// transient vs permanent; transport errors fall through to the network
// heuristics in resilience.IsTransient.
func classify(err error) error {
	var apiErr *extractor.APIError
	if errors.As(err, &apiErr) {
		if resilience.ClassifyHTTPStatus(apiErr.StatusCode) {
			return resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return resilience.NewPermanentError(err, apiErr.StatusCode)
	}
	return err
}
