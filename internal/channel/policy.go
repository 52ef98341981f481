package channel

import (
	"context"
	"time"
)

// Policy bounds reconnection. Delays grow exponentially from InitialDelay
// up to MaxDelay; after MaxAttempts consecutive failed attempts the
// connection enters StateFailed. MaxAttempts of zero retries forever
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

const (
	DefaultMaxAttempts  = 10
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 5 * time.Second
)

// DefaultPolicy returns the reconnection policy used by every screen
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
	}
}

// Delay returns the wait before the given 1-based attempt
func (p Policy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	if d <= 0 {
		d = DefaultInitialDelay
	}
	limit := p.MaxDelay
	if limit < d {
		limit = d
	}
	for i := 1; i < attempt && d < limit; i++ {
		d = incBackoff(d, limit)
	}
	return d
}

// Exhausted reports whether attempt exceeds the configured bound
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func incBackoff(cur, max time.Duration) time.Duration {
	n := cur * 2
	if n > max {
		return max
	}
	return n
}
