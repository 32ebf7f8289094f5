package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// maxGooglePageSize is the largest page the Events.list endpoint accepts.
const maxGooglePageSize = 2500

// GoogleSource lists events from a Google Calendar using incremental sync
// tokens as cursors.
type GoogleSource struct {
	svc        *gcal.Service
	calendarID string
	logger     *slog.Logger
}

// NewGoogleSource creates a source for calendarID. opts typically carries
// option.WithTokenSource or option.WithHTTPClient.
func NewGoogleSource(ctx context.Context, calendarID string, logger *slog.Logger, opts ...option.ClientOption) (*GoogleSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: creating google calendar service: %w", err)
	}

	return &GoogleSource{
		svc:        svc,
		calendarID: calendarID,
		logger:     logger,
	}, nil
}

// List fetches one page of events. Recurring events are expanded into
// instances (singleEvents=true). Incremental listings ask for deleted events
// so cancellations reach the engine. HTTP 410 maps to ErrCursorExpired.
func (g *GoogleSource) List(ctx context.Context, req ListRequest) (*Page, error) {
	call := g.svc.Events.List(g.calendarID).SingleEvents(true).Context(ctx)

	size := req.PageSize
	if size <= 0 || size > maxGooglePageSize {
		size = maxGooglePageSize
	}

	call = call.MaxResults(int64(size))

	switch {
	case req.Cursor != "":
		call = call.SyncToken(req.Cursor).ShowDeleted(true)
	case !req.TimeMin.IsZero():
		call = call.TimeMin(req.TimeMin.Format(time.RFC3339))
	}

	if req.PageToken != "" {
		call = call.PageToken(req.PageToken)
	}

	g.logger.Debug("listing google calendar events",
		slog.String("calendar_id", g.calendarID),
		slog.Bool("incremental", req.Cursor != ""),
		slog.Bool("continuation", req.PageToken != ""),
	)

	events, err := call.Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusGone {
			return nil, ErrCursorExpired
		}

		return nil, fmt.Errorf("calendar: listing events for %s: %w", g.calendarID, err)
	}

	page := &Page{
		Events:        make([]Event, 0, len(events.Items)),
		NextPageToken: events.NextPageToken,
		NextCursor:    events.NextSyncToken,
	}

	for _, item := range events.Items {
		page.Events = append(page.Events, convertGoogleEvent(item))
	}

	return page, nil
}

// convertGoogleEvent maps a Google event onto Event. Cancelled instances
// may omit start and end; those stay zero.
func convertGoogleEvent(item *gcal.Event) Event {
	ev := Event{
		ID:     item.Id,
		Status: StatusActive,
		Title:  item.Summary,
	}

	if item.Status == "cancelled" {
		ev.Status = StatusCancelled
	}

	if item.Start != nil {
		ev.Start = When{Date: item.Start.Date, DateTime: item.Start.DateTime}
	}

	if item.End != nil {
		ev.End = When{Date: item.End.Date, DateTime: item.End.DateTime}
	}

	return ev
}

// Account returns the calendar's id, which for a primary calendar is the
// owner's email address.
func (g *GoogleSource) Account(ctx context.Context) (string, error) {
	c, err := g.svc.Calendars.Get(g.calendarID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: fetching calendar %s: %w", g.calendarID, err)
	}

	return c.Id, nil
}
