// Package calendar reads leave events from an external calendar. A Source
// lists events page by page, either all events in a forward window or only
// the events changed since an opaque cursor returned by an earlier listing.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrCursorExpired is returned by Source.List when the cursor is no longer
// accepted by the calendar provider. Callers restart with a full listing.
var ErrCursorExpired = errors.New("calendar: cursor expired")

// Status is the lifecycle state of a calendar event.
type Status string

// Event statuses. Providers map their own vocabularies onto these two.
const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// When is one end of an event's time window: either a bare date
// ("2006-01-02") for all-day events or an RFC 3339 date-time.
type When struct {
	Date     string
	DateTime string
}

// IsZero reports whether neither form is set.
func (w When) IsZero() bool {
	return w.Date == "" && w.DateTime == ""
}

// Event is a single calendar event as seen by the sync engine. Recurring
// events arrive already expanded into instances, each with its own ID.
type Event struct {
	ID     string
	Status Status
	Title  string
	Start  When
	End    When
}

// ListRequest selects one page of a listing. An empty Cursor requests a full
// listing of events ending at or after TimeMin; a non-empty Cursor requests
// changes since that cursor and TimeMin is ignored. PageToken continues a
// listing started by an earlier call with the same Cursor.
type ListRequest struct {
	Cursor    string
	PageToken string
	TimeMin   time.Time
	PageSize  int
}

// Page is one page of a listing. NextPageToken is set while more pages
// remain; NextCursor is set on the final page.
type Page struct {
	Events        []Event
	NextPageToken string
	NextCursor    string
}

// Source lists calendar events. Implementations perform one round trip per
// call and never retry internally beyond what their transport does.
type Source interface {
	List(ctx context.Context, req ListRequest) (*Page, error)
}
