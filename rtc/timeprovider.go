package rtc

import "time"

// TimeProvider is an interface for reading the current time and scheduling
// deferred callbacks. This allows injecting a mock time provider for
// deterministic testing of the answer-timeout path.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc schedules f to run after d and returns a handle that can
	// stop the pending execution.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop cancels the pending callback. It reports whether the callback
	// was stopped before firing.
	Stop() bool
}

// RealTimeProvider implements TimeProvider using the actual system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f using the standard library timer.
func (RealTimeProvider) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// getTimeProvider returns the provided TimeProvider if non-nil,
// otherwise the real clock.
func getTimeProvider(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return RealTimeProvider{}
}
