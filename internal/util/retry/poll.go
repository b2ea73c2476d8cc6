package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned by Poll when the condition never held within the
// attempt budget.
var ErrExhausted = errors.New("poll attempts exhausted")

// Progress describes one unsuccessful poll attempt.
type Progress struct {
	Attempt     int
	MaxAttempts int
	Waited      time.Duration
	Budget      time.Duration
	Err         error
}

// String renders the progress the way operators read it in logs.
func (p Progress) String() string {
	return fmt.Sprintf("waited %d of %d seconds", int(p.Waited.Seconds()), int(p.Budget.Seconds()))
}

// Poller re-checks a condition at a fixed interval.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	// OnProgress is called after every attempt that did not succeed.
	OnProgress func(Progress)
}

// Budget is the total time a perpetually failing condition is polled for.
func (p Poller) Budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}

// Poll runs check until it reports done, returns a Fatal error, or
// MaxAttempts checks have been made. A non-fatal error from check counts as
// "not yet". After the last attempt Poll returns ErrExhausted wrapping the
// last error seen.
func (p Poller) Poll(ctx context.Context, check func(ctx context.Context) (bool, error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		done, err := check(ctx)
		if err != nil && IsFatal(err) {
			return err
		}
		if done && err == nil {
			return nil
		}
		lastErr = err

		if p.OnProgress != nil {
			p.OnProgress(Progress{
				Attempt:     attempt,
				MaxAttempts: attempts,
				Waited:      time.Duration(attempt) * p.Interval,
				Budget:      p.Budget(),
				Err:         err,
			})
		}

		if attempt < attempts {
			if err := sleep(ctx, p.Interval); err != nil {
				return fmt.Errorf("poll interrupted after %d attempts: %w", attempt, err)
			}
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
}

// Poll is a convenience wrapper around Poller.Poll.
func Poll(ctx context.Context, interval time.Duration, maxAttempts int, check func(ctx context.Context) (bool, error)) error {
	return Poller{Interval: interval, MaxAttempts: maxAttempts}.Poll(ctx, check)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
