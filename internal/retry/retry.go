// Package retry runs an operation with a bounded number of attempts and a
// doubling delay between them.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry loop. Attempts below one run the operation once.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Default is the policy trigger delivery uses on both transports.
var Default = Policy{Attempts: 3, Delay: 200 * time.Millisecond}

// Do calls fn until it succeeds or the attempts run out, returning the last
// error. Cancellation while waiting is joined onto that error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if !Sleep(ctx, delay) {
			return errors.Join(err, ctx.Err())
		}
		delay *= 2
	}
	return err
}

// Sleep waits for d and reports false if ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
