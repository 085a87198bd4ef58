package domain

import "time"

// DateWindow is a pair of disjoint date sub-ranges derived from one
// reference date: the current period (reference ± half the window width)
// and the same period one year earlier. Searching both ranges widens the
// chance of finding a cloud-free scene near a seasonal anchor date.
type DateWindow struct {
	CurrentStart time.Time
	CurrentEnd   time.Time
	PriorStart   time.Time
	PriorEnd     time.Time
}

// NewDateWindow builds the two-year lookback window around a reference
// date. widthDays is the full width of each sub-range; the prior range is
// the current one shifted back exactly 365 days.
func NewDateWindow(reference time.Time, widthDays int) DateWindow {
	half := widthDays / 2
	start := reference.AddDate(0, 0, -half)
	end := reference.AddDate(0, 0, half)
	return DateWindow{
		CurrentStart: start,
		CurrentEnd:   end,
		PriorStart:   start.AddDate(0, 0, -365),
		PriorEnd:     end.AddDate(0, 0, -365),
	}
}

// Contains reports whether t falls inside either sub-range (inclusive).
func (w DateWindow) Contains(t time.Time) bool {
	in := func(start, end time.Time) bool {
		return !t.Before(start) && !t.After(end)
	}
	return in(w.CurrentStart, w.CurrentEnd) || in(w.PriorStart, w.PriorEnd)
}

// Windows derives one DateWindow per reference date.
func Windows(references []time.Time, widthDays int) []DateWindow {
	windows := make([]DateWindow, len(references))
	for i, ref := range references {
		windows[i] = NewDateWindow(ref, widthDays)
	}
	return windows
}
