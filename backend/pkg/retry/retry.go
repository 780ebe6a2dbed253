// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every attempt ran without success.
var ErrExhausted = errors.New("retry attempts exhausted")

// Clock abstracts sleeping so tests can run without real delays.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock sleeps on wall time and wakes early on cancellation.
var RealClock Clock = realClock{}

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Clock    Clock
}

// Op reports whether the attempt succeeded. A non-nil error stops retrying.
type Op func(ctx context.Context, attempt int) (bool, error)

// Do calls op until it succeeds, fails hard, or attempts run out.
func Do(ctx context.Context, p Policy, op Op) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = RealClock
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		ok, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := clock.Sleep(ctx, p.Delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
}
