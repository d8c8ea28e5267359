// Package timeoutenf implements the Timeout Enforcer: agent-level and
// per-step timeouts, modeled as a race between the unit of work and a
// timer, with cooperative cancellation. The enforcer is advisory -- it
// does not own the subprocess handle directly, it cancels the context the
// work was started with and lets the CommandRunner/AIExecutor honor that
// cancellation.
package timeoutenf

import (
	"context"
	"fmt"
	"time"
)

// Outcome reports whether a supervised unit of work completed or timed out.
type Outcome struct {
	TimedOut bool
	Elapsed  time.Duration
	Err      error
}

// TimeoutError is returned (wrapped in Outcome.Err) when the deadline wins
// the race.
type TimeoutError struct {
	Label   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeoutenf: %s exceeded timeout of %s", e.Label, e.Timeout)
}

// Run races fn against timeout. fn receives a context that is cancelled the
// instant the deadline is reached, so a cooperative fn can stop promptly;
// Run itself always returns once either fn returns or the deadline passes,
// whichever is first -- it does not wait for a non-cooperative fn to
// actually exit.
func Run(parent context.Context, label string, timeout time.Duration, fn func(ctx context.Context) error) Outcome {
	if timeout <= 0 {
		start := time.Now()
		err := fn(parent)
		return Outcome{Elapsed: time.Since(start), Err: err}
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return Outcome{Elapsed: time.Since(start), Err: err}
	case <-ctx.Done():
		return Outcome{
			TimedOut: true,
			Elapsed:  time.Since(start),
			Err:      &TimeoutError{Label: label, Timeout: timeout},
		}
	}
}

// ParseDuration parses a workflow-file duration string ("30m", "1h",
// "90s"); empty string means "no timeout" (0, meaning Run should not race
// against a deadline at all).
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("timeoutenf: invalid duration %q: %w", s, err)
	}
	return d, nil
}
