// Package ratelimit implements Apollo request quota tracking and request pacing.
// It monitors the x-minute-requests-left, x-hourly-requests-left and
// x-24-hour-requests-left response headers so a run stops spending requests
// before the API starts answering 429.
package ratelimit

import (
	"time"
)

// Apollo quota headers.
const (
	HeaderMinuteLimit = "X-Rate-Limit-Minute"
	HeaderMinuteLeft  = "X-Minute-Requests-Left"
	HeaderHourlyLimit = "X-Rate-Limit-Hourly"
	HeaderHourlyLeft  = "X-Hourly-Requests-Left"
	HeaderDailyLimit  = "X-Rate-Limit-24-Hour"
	HeaderDailyLeft   = "X-24-Hour-Requests-Left"
)

// RedisKeyQuotaState is the Redis key holding the JSON encoded QuotaState.
const RedisKeyQuotaState = "apollo:quota:state"

// Thresholds for quota decisions.
const (
	// RequestsLeftCritical blocks requests in a window once remaining drops to this value.
	RequestsLeftCritical = 0

	// RequestsLeftWarning throttles requests when the per-minute window falls below this value.
	RequestsLeftWarning = 5
)

// Window identifies one of Apollo's quota windows.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Length returns the duration of the window.
func (w Window) Length() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// WindowState is the quota reported for one window.
// Remaining is -1 when the API did not report the window.
type WindowState struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Known reports whether the API reported this window.
func (w WindowState) Known() bool {
	return w.Remaining >= 0
}

// Exhausted reports whether the window has no requests left and has not reset yet.
func (w WindowState) Exhausted(now time.Time) bool {
	return w.Known() && w.Remaining <= RequestsLeftCritical && now.Before(w.ResetAt)
}

// QuotaState represents the last quota reported by Apollo.
// It is shared across client instances when a Redis store is used.
type QuotaState struct {
	Minute     WindowState `json:"minute"`
	Hour       WindowState `json:"hour"`
	Day        WindowState `json:"day"`
	LastUpdate time.Time   `json:"last_update"`
}

// unknownState is the state assumed before any response was seen.
func unknownState(now time.Time) *QuotaState {
	unknown := WindowState{Remaining: -1}
	return &QuotaState{Minute: unknown, Hour: unknown, Day: unknown, LastUpdate: now}
}

// IsStale returns true if the state was last updated more than maxAge before now.
func (s *QuotaState) IsStale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// Windows returns the state of each window keyed by window.
func (s *QuotaState) Windows() map[Window]WindowState {
	return map[Window]WindowState{
		WindowMinute: s.Minute,
		WindowHour:   s.Hour,
		WindowDay:    s.Day,
	}
}

// NeedsCriticalBlock returns the longest exhausted window, if any.
func (s *QuotaState) NeedsCriticalBlock(now time.Time) (Window, bool) {
	switch {
	case s.Day.Exhausted(now):
		return WindowDay, true
	case s.Hour.Exhausted(now):
		return WindowHour, true
	case s.Minute.Exhausted(now):
		return WindowMinute, true
	default:
		return "", false
	}
}

// NeedsThrottling returns true if the current per-minute window is close to exhaustion.
func (s *QuotaState) NeedsThrottling(now time.Time) bool {
	if _, blocked := s.NeedsCriticalBlock(now); blocked {
		return false
	}
	return s.Minute.Known() && s.Minute.Remaining < RequestsLeftWarning && now.Before(s.Minute.ResetAt)
}

// TimeUntilReset returns the duration until the given window resets.
// Returns 0 if the reset time has already passed.
func (s *QuotaState) TimeUntilReset(w Window, now time.Time) time.Duration {
	d := s.Windows()[w].ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// windowReset returns the next boundary of w after t.
func windowReset(w Window, t time.Time) time.Time {
	return t.UTC().Truncate(w.Length()).Add(w.Length())
}
