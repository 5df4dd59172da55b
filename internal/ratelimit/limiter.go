package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spends request weight against a global budget, with optional
// named buckets for separately metered call classes such as order placement.
type RateLimiter struct {
	global  *rate.Limiter
	buckets sync.Map
	mu      sync.Mutex
	limits  map[string]bucketLimit
	metrics *Metrics
}

type bucketLimit struct {
	requests int
	period   time.Duration
}

// Metrics tracks statistics about rate limiter usage.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
	weightSpent     atomic.Int64
	bucketCount     atomic.Int32
}

// New creates a RateLimiter allowing a weight of requests per period.
func New(requests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		global:  rate.NewLimiter(perSecond(requests, period), requests),
		limits:  make(map[string]bucketLimit),
		metrics: &Metrics{},
	}
}

func perSecond(requests int, period time.Duration) rate.Limit {
	return rate.Limit(float64(requests) / period.Seconds())
}

// Wait blocks until a single unit of weight is available.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.WaitN(ctx, 1)
}

// WaitN blocks until weight units are available or ctx is done. Weights above
// the burst are clamped so heavy endpoints still pass on an idle limiter.
func (r *RateLimiter) WaitN(ctx context.Context, weight int) error {
	if weight < 1 {
		weight = 1
	}
	if burst := r.global.Burst(); weight > burst {
		weight = burst
	}

	r.metrics.totalRequests.Add(1)
	if err := r.global.WaitN(ctx, weight); err != nil {
		r.metrics.deniedRequests.Add(1)
		return fmt.Errorf("wait for %d weight: %w", weight, err)
	}
	r.metrics.allowedRequests.Add(1)
	r.metrics.weightSpent.Add(int64(weight))
	return nil
}

// WaitBucket blocks until the named bucket allows one request.
func (r *RateLimiter) WaitBucket(ctx context.Context, bucket string) error {
	r.metrics.totalRequests.Add(1)
	if err := r.getBucket(bucket).Wait(ctx); err != nil {
		r.metrics.deniedRequests.Add(1)
		return fmt.Errorf("wait for bucket %s: %w", bucket, err)
	}
	r.metrics.allowedRequests.Add(1)
	return nil
}

// Allow reports whether a single unit of weight is available now.
func (r *RateLimiter) Allow() bool {
	r.metrics.totalRequests.Add(1)
	allowed := r.global.Allow()
	if allowed {
		r.metrics.allowedRequests.Add(1)
		r.metrics.weightSpent.Add(1)
	} else {
		r.metrics.deniedRequests.Add(1)
	}
	return allowed
}

// AllowBucket reports whether the named bucket allows a request now.
func (r *RateLimiter) AllowBucket(bucket string) bool {
	r.metrics.totalRequests.Add(1)
	allowed := r.getBucket(bucket).Allow()
	if allowed {
		r.metrics.allowedRequests.Add(1)
	} else {
		r.metrics.deniedRequests.Add(1)
	}
	return allowed
}

// SetBucketLimit configures a bucket. Buckets without a configured limit
// share the global budget's shape.
func (r *RateLimiter) SetBucketLimit(bucket string, requests int, period time.Duration) {
	r.mu.Lock()
	r.limits[bucket] = bucketLimit{requests: requests, period: period}
	r.mu.Unlock()

	limiter := r.getBucket(bucket)
	limiter.SetLimit(perSecond(requests, period))
	limiter.SetBurst(requests)
}

func (r *RateLimiter) getBucket(bucket string) *rate.Limiter {
	if v, ok := r.buckets.Load(bucket); ok {
		return v.(*rate.Limiter)
	}

	r.mu.Lock()
	l, ok := r.limits[bucket]
	r.mu.Unlock()

	var limiter *rate.Limiter
	if ok {
		limiter = rate.NewLimiter(perSecond(l.requests, l.period), l.requests)
	} else {
		limiter = rate.NewLimiter(r.global.Limit(), r.global.Burst())
	}
	actual, loaded := r.buckets.LoadOrStore(bucket, limiter)
	if !loaded {
		r.metrics.bucketCount.Add(1)
	}
	return actual.(*rate.Limiter)
}

// Metrics returns a snapshot of the current rate limiter statistics.
func (r *RateLimiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   r.metrics.totalRequests.Load(),
		AllowedRequests: r.metrics.allowedRequests.Load(),
		DeniedRequests:  r.metrics.deniedRequests.Load(),
		WeightSpent:     r.metrics.weightSpent.Load(),
		BucketCount:     r.metrics.bucketCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of rate limiter statistics.
type MetricsSnapshot struct {
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
	// WeightSpent is the total weight granted so far.
	WeightSpent int64
	BucketCount int32
}
