package types

import "time"

// UnixNano is a timestamp expressed uniformly in nanoseconds since the Unix
// epoch. Every timestamp at a struct or wire boundary in this engine is a
// UnixNano; time.Time is used only for calendar arithmetic at call sites,
// converted back to UnixNano before crossing any boundary again. This
// replaces the source system's mixed seconds/nanoseconds fields, which were
// a recurring source of off-by-1e9 bugs.
type UnixNano int64

// Now returns the current time as UnixNano.
func Now() UnixNano {
	return UnixNano(time.Now().UnixNano())
}

// Time converts to a time.Time for calendar arithmetic.
func (t UnixNano) Time() time.Time {
	return time.Unix(0, int64(t))
}

// Add returns t+d.
func (t UnixNano) Add(d time.Duration) UnixNano {
	return UnixNano(int64(t) + int64(d))
}

// Sub returns the duration elapsed between t and earlier (t - earlier).
func (t UnixNano) Sub(earlier UnixNano) time.Duration {
	return time.Duration(int64(t) - int64(earlier))
}

// Before reports whether t occurs before u.
func (t UnixNano) Before(u UnixNano) bool {
	return t < u
}

// After reports whether t occurs after u.
func (t UnixNano) After(u UnixNano) bool {
	return t > u
}
