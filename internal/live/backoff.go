package live

import "time"

const (
	DefaultBaseDelay = 5 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Delay returns the reconnect delay after attempt failed opens:
// base*(attempt+1), capped at max.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max < base {
		max = base
	}
	// overflow guard for very long outages
	if attempt >= int(max/base) {
		return max
	}
	d := base * time.Duration(attempt+1)
	if d > max {
		return max
	}
	return d
}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs a callback after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules on wall-clock timers.
var RealScheduler Scheduler = realScheduler{}
