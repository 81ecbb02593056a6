package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultDelay       = time.Second
)

// Policy is a bounded retry with a fixed delay between attempts.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

func Default() Policy {
	return Policy{MaxAttempts: defaultMaxAttempts, Delay: defaultDelay}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1")
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay must be >= 0")
	}
	return nil
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to Sleeper.
type SleepFunc func(ctx context.Context, d time.Duration) error

func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// ClockSleeper waits on a real timer.
type ClockSleeper struct{}

func (ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
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

type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop marks err as not eligible for another attempt.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do runs op until it succeeds, returns a Stop error, or the attempt budget
// is spent. attempt is 1-based.
func (p Policy) Do(ctx context.Context, sleeper Sleeper, op func(ctx context.Context, attempt int) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if sleeper == nil {
		sleeper = ClockSleeper{}
	}

	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		var stop *stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		last = err
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleeper.Sleep(ctx, p.Delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: p.MaxAttempts, Last: last}
}
