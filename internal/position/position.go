// Package position computes logical playback positions from a reference
// snapshot and elapsed wall-clock time.
package position

import "time"

// Reference is the snapshot a position is extrapolated from.
type Reference struct {
	Position float64
	WallTime time.Time
	Playing  bool
}

// Extrapolate returns the playback position at now. A paused reference
// returns its position unchanged. Elapsed time is clamped at zero, so a now
// that is earlier than the reference (clock skew) never rewinds it.
func Extrapolate(ref Reference, now time.Time) float64 {
	if !ref.Playing {
		return ref.Position
	}

	elapsed := now.Sub(ref.WallTime).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	return ref.Position + elapsed
}
