package clock

import (
	"context"
	"time"
)

// Clock abstracts time for code that polls with fixed intervals, so that
// tests can shrink the waits without sleeping for real.
type Clock interface {
	Now() time.Time

	// Sleep blocks for the given duration, or until the context is
	// cancelled, in which case the context error is returned.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real returns a Clock backed by the system timer.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
