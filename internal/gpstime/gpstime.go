// Package gpstime converts wall-clock instants into GPS week number and
// time-of-week.
//
// GPS time is treated as UTC without leap-second correction, which matches
// what the emulated receiver has always reported.
package gpstime

import (
	"errors"
	"math"
	"time"
)

// Epoch is the start of GPS week 0.
var Epoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// WeekDuration is the length of one GPS week.
const WeekDuration = 7 * 24 * time.Hour

// WeekSeconds is WeekDuration expressed in seconds.
const WeekSeconds = 604800

// ErrNonFinite is returned for NaN or infinite timestamps.
var ErrNonFinite = errors.New("gpstime: timestamp is not finite")

// Week is a GPS week number plus the offset into that week.
//
// TimeOfWeek is always in [0, WeekDuration).
type Week struct {
	Number     int
	TimeOfWeek time.Duration
}

// FromTime converts t into week number and time-of-week.
func FromTime(t time.Time) Week {
	// Split into whole seconds first; time.Duration overflows after ~292 years
	// so the arithmetic is done on seconds + nanoseconds.
	since := t.Unix() - Epoch.Unix()
	nanos := int64(t.Nanosecond())

	wn := floorDiv(since, WeekSeconds)
	rem := since - wn*WeekSeconds
	return Week{
		Number:     int(wn),
		TimeOfWeek: time.Duration(rem)*time.Second + time.Duration(nanos),
	}
}

// FromUnixSeconds converts a fractional Unix timestamp (seconds).
func FromUnixSeconds(sec float64) (Week, error) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) {
		return Week{}, ErrNonFinite
	}
	whole, frac := math.Modf(sec)
	ns := int64(math.Round(frac * 1e9))
	return FromTime(time.Unix(int64(whole), ns).UTC()), nil
}

// Time returns the instant represented by w.
func (w Week) Time() time.Time {
	return Epoch.Add(time.Duration(w.Number) * WeekDuration).Add(w.TimeOfWeek)
}

// TOWMillis is the time-of-week truncated to whole milliseconds, the unit
// used on the wire.
func (w Week) TOWMillis() uint32 {
	return uint32(w.TimeOfWeek / time.Millisecond)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
