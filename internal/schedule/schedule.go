// Package schedule holds the pure timing helpers consulted before dispatch:
// due-time computation, hour-of-day windows, daily-cap day boundaries and
// retry backoff.
package schedule

import (
	"math"
	"time"
	_ "time/tzdata" // window timezones must resolve in minimal containers

	"github.com/ignite/broadcast-engine/internal/domain"
)

// MaxDelayMinutes is the longest trigger delay accepted (one week).
const MaxDelayMinutes = 7 * 24 * 60

// ClampDelay bounds a trigger delay to [0, MaxDelayMinutes].
func ClampDelay(minutes int) int {
	if minutes < 0 {
		return 0
	}
	if minutes > MaxDelayMinutes {
		return MaxDelayMinutes
	}
	return minutes
}

// ComputeDueAt returns triggerTime + the clamped delay.
func ComputeDueAt(delayMinutes int, triggerTime time.Time) time.Time {
	return triggerTime.Add(time.Duration(ClampDelay(delayMinutes)) * time.Minute)
}

// InWindow reports whether hour falls in [start, end). A start greater than
// end wraps past midnight, so 22–6 accepts 23 and 2. Equal bounds mean the
// window is unrestricted.
func InWindow(hour, start, end int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

// WindowAllows reports whether t is inside w, evaluated in the window's
// timezone. A nil window always allows. An unknown timezone falls back to UTC.
func WindowAllows(w *domain.TimeWindow, t time.Time) bool {
	if w == nil {
		return true
	}
	return InWindow(t.In(Location(w.Timezone)).Hour(), w.StartHour, w.EndHour)
}

// StartOfLocalDay returns midnight of t's calendar day in tz.
func StartOfLocalDay(t time.Time, tz string) time.Time {
	local := t.In(Location(tz))
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, local.Location())
}

// Location resolves an IANA zone name, defaulting to UTC.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BackoffPolicy describes exponential retry delays with a ceiling.
type BackoffPolicy struct {
	Base        time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff is 30s doubling up to one hour, five attempts.
var DefaultBackoff = BackoffPolicy{
	Base:        30 * time.Second,
	Multiplier:  2,
	Max:         time.Hour,
	MaxAttempts: 5,
}

// Backoff returns min(Max, Base * Multiplier^(attempt-1)). Attempts below 1
// are treated as 1.
func (p BackoffPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Base) * math.Pow(mult, float64(attempt-1))
	if p.Max > 0 && (d > float64(p.Max) || math.IsInf(d, 0)) {
		return p.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether attempts has reached the ceiling.
func (p BackoffPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
