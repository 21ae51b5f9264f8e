package transaction

import (
	"fmt"
	"time"
)

// TimeWindow bounds the time at which a transaction may be notarised. From is
// inclusive and Until is exclusive. A nil bound is open.
type TimeWindow struct {
	From  *time.Time `json:"from"`
	Until *time.Time `json:"until"`
}

// Between returns the window [from, until).
func Between(from, until time.Time) (*TimeWindow, error) {
	if !from.Before(until) {
		return nil, fmt.Errorf("time window from %v must be before until %v", from, until)
	}
	f, u := from.UTC(), until.UTC()
	return &TimeWindow{From: &f, Until: &u}, nil
}

// FromOnly returns the window [from, ∞).
func FromOnly(from time.Time) *TimeWindow {
	f := from.UTC()
	return &TimeWindow{From: &f}
}

// UntilOnly returns the window (-∞, until).
func UntilOnly(until time.Time) *TimeWindow {
	u := until.UTC()
	return &TimeWindow{Until: &u}
}

// WithTolerance returns the window [t-tolerance, t+tolerance).
func WithTolerance(t time.Time, tolerance time.Duration) (*TimeWindow, error) {
	return Between(t.Add(-tolerance), t.Add(tolerance))
}

// Contains reports whether t falls within the window.
func (tw *TimeWindow) Contains(t time.Time) bool {
	if tw.From != nil && t.Before(*tw.From) {
		return false
	}
	if tw.Until != nil && !t.Before(*tw.Until) {
		return false
	}
	return true
}

func (tw *TimeWindow) validate() error {
	if tw.From == nil && tw.Until == nil {
		return fmt.Errorf("time window has no bounds")
	}
	if tw.From != nil && tw.Until != nil && !tw.From.Before(*tw.Until) {
		return fmt.Errorf("time window from %v must be before until %v", *tw.From, *tw.Until)
	}
	return nil
}

// String ...
func (tw *TimeWindow) String() string {
	from, until := "-inf", "+inf"
	if tw.From != nil {
		from = tw.From.Format(time.RFC3339Nano)
	}
	if tw.Until != nil {
		until = tw.Until.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("[%s, %s)", from, until)
}
