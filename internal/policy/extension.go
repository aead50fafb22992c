package policy

import "time"

// Extension is the anti-sniping rule: a bid accepted within Window of the
// end pushes the end out by Delta.
type Extension struct {
	Window time.Duration
	Delta  time.Duration
	// MaxExtensions caps extensions per auction; 0 means no cap.
	MaxExtensions int
}

// DefaultExtension extends by 5 minutes when a bid lands in the last 5 minutes
func DefaultExtension() Extension {
	return Extension{Window: 5 * time.Minute, Delta: 5 * time.Minute}
}

// Enabled reports whether the rule can ever extend an auction
func (e Extension) Enabled() bool {
	return e.Window > 0 && e.Delta > 0
}

// NextEndTime returns the end time after a bid accepted at acceptedAt.
// The result is never earlier than currentEnd.
func (e Extension) NextEndTime(currentEnd, acceptedAt time.Time) time.Time {
	if !e.Enabled() {
		return currentEnd
	}
	if acceptedAt.Before(currentEnd.Add(-e.Window)) {
		return currentEnd
	}
	return currentEnd.Add(e.Delta)
}

// Apply is NextEndTime honoring the cap, given how many extensions the
// auction already received. It reports whether an extension happened.
func (e Extension) Apply(currentEnd, acceptedAt time.Time, applied int) (time.Time, bool) {
	if e.MaxExtensions > 0 && applied >= e.MaxExtensions {
		return currentEnd, false
	}
	next := e.NextEndTime(currentEnd, acceptedAt)
	return next, next.After(currentEnd)
}
