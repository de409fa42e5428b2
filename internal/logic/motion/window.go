package motion

import "time"

// Window is the cooldown gate between two accepted captures.
// It is not safe for concurrent use; the capture loop owns it.
type Window struct {
	cooldown time.Duration
	last     time.Time
}

// NewWindow returns a window that accepts the first activation at or
// after start.
func NewWindow(cooldown time.Duration, start time.Time) *Window {
	return &Window{
		cooldown: cooldown,
		last:     start.Add(-cooldown),
	}
}

// Accept closes the window at now and returns true if at least cooldown
// has elapsed since the last accepted activation.
// The timestamp moves on acceptance, before any work is done.
func (w *Window) Accept(now time.Time) bool {
	if now.Sub(w.last) < w.cooldown {
		return false
	}
	w.last = now
	return true
}

// Remaining returns how long until the window reopens (0 if open).
func (w *Window) Remaining(now time.Time) time.Duration {
	left := w.cooldown - now.Sub(w.last)
	if left < 0 {
		return 0
	}
	return left
}
