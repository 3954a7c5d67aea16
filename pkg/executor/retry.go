package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mercator-hq/saturn/pkg/pipeline"
)

// computeWithRetry calls comp until it succeeds, fails permanently or runs
// out of attempts. Each attempt is bounded by the item timeout.
func (e *Executor) computeWithRetry(ctx context.Context, phase string, comp pipeline.Computation, item pipeline.Item) (pipeline.Result, int, error) {
	attempts := 0
	op := func() (pipeline.Result, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout)
		defer cancel()

		result, err := comp.Compute(callCtx, item)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, pipeline.ErrPermanent) {
			return pipeline.Result{}, backoff.Permanent(err)
		}
		return pipeline.Result{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			e.metrics.RecordItemRetry(phase)
			e.logger.DebugContext(ctx, "retrying item", "item_id", item.ID, "attempt", attempts, "wait", wait, "error", err)
		}),
	)
	return result, attempts, err
}
