package entity

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// DateLayout is the wire and storage format of window bounds.
const DateLayout = "2006-01-02"

// Window is an inclusive calendar-date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow truncates both bounds to dates and checks their order.
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: dateOf(start), End: dateOf(end)}
	if w.End.Before(w.Start) {
		return Window{}, errors.Configuration(fmt.Sprintf("window end %s is before start %s", w.EndString(), w.StartString()))
	}
	return w, nil
}

// ParseWindow parses two YYYY-MM-DD bounds.
func ParseWindow(start, end string) (Window, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return Window{}, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid window start %q", start))
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return Window{}, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid window end %q", end))
	}
	return NewWindow(s, e)
}

// MonthOf returns the first through last calendar day of now's month.
func MonthOf(now time.Time) Window {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return Window{Start: first, End: last}
}

// Contains reports whether t's date falls inside the window.
func (w Window) Contains(t time.Time) bool {
	d := dateOf(t)
	return !d.Before(w.Start) && !d.After(w.End)
}

// StartString formats the start bound for request parameters.
func (w Window) StartString() string { return w.Start.Format(DateLayout) }

// EndString formats the end bound for request parameters.
func (w Window) EndString() string { return w.End.Format(DateLayout) }

// UntilString formats the day after End. Warehouses compare window
// columns with "< until" so DATETIME values late on the last day match.
func (w Window) UntilString() string { return w.End.AddDate(0, 0, 1).Format(DateLayout) }

func (w Window) String() string {
	return "[" + w.StartString() + ", " + w.EndString() + "]"
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
