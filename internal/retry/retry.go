// Package retry wraps a single fallible operation with bounded exponential
// backoff. It covers one message's delivery attempts only, never a whole bulk
// run, so one exhausted recipient cannot stall the rest.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/modfin/utskick/smtpx"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPolicy(maxAttempts int, baseDelay time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		sleep:       sleepCtx,
	}
}

// Do runs op until it succeeds, fails permanently, or MaxAttempts is
// exhausted. The wait before attempt n+1 is BaseDelay * 2^(n-1). Permanent
// failures, per smtpx.IsPermanent, abort immediately without consuming the
// remaining attempts.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var err error
	delay := p.BaseDelay
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if smtpx.IsPermanent(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		serr := p.sleep(ctx, delay)
		if serr != nil {
			return fmt.Errorf("aborted while backing off: %w", err)
		}
		delay *= 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
