package sync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tonimelisma/leavesync/internal/calendar"
)

// Date is a calendar date in "2006-01-02" form. The zero value is the empty
// string and sorts before every real date, so lexical order is date order.
type Date string

// ErrInvalidWindow is returned when an event's start or end cannot be
// reduced to a calendar date.
var ErrInvalidWindow = errors.New("sync: invalid event window")

// ParseDate validates s as a bare calendar date.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return "", fmt.Errorf("sync: parsing date %q: %w", s, err)
	}

	return Date(s), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	return Date(t.Format(time.DateOnly))
}

// IsZero reports whether d is unset.
func (d Date) IsZero() bool { return d == "" }

// Before reports whether d falls strictly before other.
func (d Date) Before(other Date) bool { return d < other }

func (d Date) String() string { return string(d) }

// normalizeWhen reduces one end of an event window to a date. A date-time
// keeps the date written before its 'T', which is the date in the event's
// own offset; a bare date passes through.
func normalizeWhen(w calendar.When) (Date, error) {
	switch {
	case w.DateTime != "":
		day, _, found := strings.Cut(w.DateTime, "T")
		if !found {
			return "", fmt.Errorf("%w: date-time %q has no time part", ErrInvalidWindow, w.DateTime)
		}

		d, err := ParseDate(day)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidWindow, err)
		}

		return d, nil
	case w.Date != "":
		d, err := ParseDate(w.Date)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidWindow, err)
		}

		return d, nil
	default:
		return "", fmt.Errorf("%w: missing start or end", ErrInvalidWindow)
	}
}

// NormalizeWindow reduces an event's start and end to calendar dates.
func NormalizeWindow(start, end calendar.When) (Date, Date, error) {
	s, err := normalizeWhen(start)
	if err != nil {
		return "", "", err
	}

	e, err := normalizeWhen(end)
	if err != nil {
		return "", "", err
	}

	return s, e, nil
}
