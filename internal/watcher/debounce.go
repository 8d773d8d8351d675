package watcher

import (
	"context"
	"time"
)

// Debounce defaults.
const (
	DefaultInterval = 700 * time.Millisecond
	DefaultSamples  = 3
)

// SizeFunc reports the current size of a file.
type SizeFunc func(path string) (int64, error)

// WaitStable samples the size of path up to samples times, sleeping
// interval before each sample. It returns true as soon as two consecutive
// samples agree on a nonzero size. It returns false when the file
// disappears, when no two consecutive samples agree, or when ctx ends.
// A false result means the event should be dropped, not retried.
func WaitStable(ctx context.Context, path string, interval time.Duration, samples int, size SizeFunc) bool {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if samples < 2 {
		samples = DefaultSamples
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	last := int64(-1)
	for i := 0; i < samples; i++ {
		if i > 0 {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}

		n, err := size(path)
		if err != nil {
			return false
		}
		if n == last {
			return n > 0
		}
		last = n
	}
	return false
}
