package judge

import (
	"context"
	"sync"
	"time"

	"mercator-hq/saturn/pkg/consensus"
	"mercator-hq/saturn/pkg/pipeline"
)

// tokenBucket refills at a constant rate up to capacity. Callers wait for a
// token instead of being rejected.
type tokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// reserve takes a token if one is available. Otherwise it returns how long
// until the next token.
func (tb *tokenBucket) reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return 0
	}
	return time.Duration((1 - tb.tokens) / tb.refillRate * float64(time.Second))
}

// wait blocks until a token is taken or ctx is done.
func (tb *tokenBucket) wait(ctx context.Context) error {
	for {
		d := tb.reserve()
		if d == 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimited throttles an inner judge to a number of calls per minute.
// Bursts up to one minute's allowance pass without waiting.
type RateLimited struct {
	inner  consensus.Judge
	bucket *tokenBucket
}

// NewRateLimited wraps inner. A non-positive perMinute returns inner unchanged.
func NewRateLimited(inner consensus.Judge, perMinute int) consensus.Judge {
	if perMinute <= 0 {
		return inner
	}
	return &RateLimited{
		inner:  inner,
		bucket: newTokenBucket(perMinute, float64(perMinute)/60),
	}
}

// Judge waits for capacity and delegates to the inner judge.
func (r *RateLimited) Judge(ctx context.Context, item pipeline.Item, role consensus.RoleConfig) (consensus.Judgment, error) {
	if err := r.bucket.wait(ctx); err != nil {
		return consensus.Judgment{}, err
	}
	return r.inner.Judge(ctx, item, role)
}
