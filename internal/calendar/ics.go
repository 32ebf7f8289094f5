package calendar

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// DefaultICSHorizon is how far past the window start recurring events are
// expanded.
const DefaultICSHorizon = 365 * 24 * time.Hour

// maxICSBody caps the size of a fetched feed.
const maxICSBody = 32 << 20

const (
	icsDateLayout  = "20060102"
	icsLocalLayout = "20060102T150405"
	icsUTCLayout   = "20060102T150405Z"
)

// ICSSource reads events from an iCalendar feed. The feed has no change
// tracking, so the cursor is a digest of the feed body: an unchanged body
// yields an empty page, a changed one yields every event in the window.
// Events deleted from the feed cannot be observed; STATUS:CANCELLED events
// and EXDATE'd occurrences are reported as cancelled.
type ICSSource struct {
	url        string
	httpClient *http.Client
	horizon    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewICSSource creates a source reading feedURL. A zero horizon uses
// DefaultICSHorizon.
func NewICSSource(feedURL string, httpClient *http.Client, horizon time.Duration, logger *slog.Logger) *ICSSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if horizon <= 0 {
		horizon = DefaultICSHorizon
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ICSSource{
		url:        feedURL,
		httpClient: httpClient,
		horizon:    horizon,
		now:        time.Now,
		logger:     logger,
	}
}

// List fetches the feed and returns all events in one page.
func (s *ICSSource) List(ctx context.Context, req ListRequest) (*Page, error) {
	body, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])

	if req.Cursor != "" && req.Cursor == digest {
		s.logger.Debug("ics feed unchanged", slog.String("url", s.url))
		return &Page{NextCursor: digest}, nil
	}

	windowStart := req.TimeMin
	if windowStart.IsZero() {
		y, m, d := s.now().UTC().Date()
		windowStart = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	events, err := expandFeed(body, windowStart, windowStart.Add(s.horizon), s.logger)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("ics feed parsed",
		slog.String("url", s.url),
		slog.Int("events", len(events)),
	)

	return &Page{Events: events, NextCursor: digest}, nil
}

func (s *ICSSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("calendar: building feed request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("calendar: fetching feed: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxICSBody))
	if err != nil {
		return nil, fmt.Errorf("calendar: reading feed: %w", err)
	}

	return body, nil
}

// icsEvent is one VEVENT reduced to what expansion needs.
type icsEvent struct {
	uid       string
	summary   string
	cancelled bool
	allDay    bool
	start     time.Time
	end       time.Time
	rrule     string
	exdates   map[string]bool
	recurID   string
}

// expandFeed parses body and returns the events overlapping
// [windowStart, windowEnd), recurring events expanded into occurrences.
func expandFeed(body []byte, windowStart, windowEnd time.Time, logger *slog.Logger) ([]Event, error) {
	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("calendar: parsing feed: %w", err)
	}

	var masters []icsEvent

	// Overrides keyed by UID then occurrence stamp.
	overrides := make(map[string]map[string]icsEvent)

	for _, ve := range cal.Events() {
		ev, ok := readVEvent(ve, logger)
		if !ok {
			continue
		}

		if ev.recurID != "" {
			if overrides[ev.uid] == nil {
				overrides[ev.uid] = make(map[string]icsEvent)
			}

			overrides[ev.uid][ev.recurID] = ev

			continue
		}

		masters = append(masters, ev)
	}

	var out []Event

	// Overrides already handled through a master occurrence in the window.
	consumed := make(map[string]map[string]bool)

	for i := range masters {
		m := &masters[i]

		if m.rrule == "" {
			if overlaps(m.start, m.end, windowStart, windowEnd) {
				out = append(out, m.toEvent(m.uid, m.start, m.end, m.cancelled))
			}

			continue
		}

		occ, err := m.occurrences(windowStart, windowEnd)
		if err != nil {
			logger.Warn("skipping event with unparseable recurrence",
				slog.String("uid", m.uid),
				slog.String("error", err.Error()),
			)

			continue
		}

		dur := m.end.Sub(m.start)

		for _, start := range occ {
			stamp := occurrenceStamp(start, m.allDay)
			id := m.uid + "_" + stamp

			if ov, ok := overrides[m.uid][stamp]; ok {
				if consumed[m.uid] == nil {
					consumed[m.uid] = make(map[string]bool)
				}

				consumed[m.uid][stamp] = true

				if overlaps(ov.start, ov.end, windowStart, windowEnd) {
					out = append(out, ov.toEvent(id, ov.start, ov.end, ov.cancelled))
				}

				continue
			}

			end := start.Add(dur)
			if m.allDay {
				end = start.AddDate(0, 0, int(dur.Hours()/24))
			}

			if !overlaps(start, end, windowStart, windowEnd) {
				continue
			}

			out = append(out, m.toEvent(id, start, end, m.cancelled || m.exdates[stamp]))
		}
	}

	// An override can move an occurrence into the window from outside it,
	// or belong to a master that is missing or not recurring.
	for uid, byStamp := range overrides {
		for stamp, ov := range byStamp {
			if consumed[uid][stamp] || !overlaps(ov.start, ov.end, windowStart, windowEnd) {
				continue
			}

			out = append(out, ov.toEvent(uid+"_"+stamp, ov.start, ov.end, ov.cancelled))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})

	return out, nil
}

func readVEvent(ve *ics.VEvent, logger *slog.Logger) (icsEvent, bool) {
	ev := icsEvent{
		uid:     propValue(ve, ics.ComponentPropertyUniqueId),
		summary: propValue(ve, ics.ComponentPropertySummary),
		rrule:   propValue(ve, ics.ComponentPropertyRrule),
		exdates: make(map[string]bool),
	}

	if ev.uid == "" {
		logger.Warn("skipping event without UID", slog.String("summary", ev.summary))
		return ev, false
	}

	ev.cancelled = strings.EqualFold(propValue(ve, ics.ComponentPropertyStatus), "CANCELLED")

	dtStart := ve.GetProperty(ics.ComponentPropertyDtStart)
	if dtStart == nil {
		logger.Warn("skipping event without DTSTART", slog.String("uid", ev.uid))
		return ev, false
	}

	start, allDay, err := parseICSTime(dtStart.Value, dtStart.ICalParameters)
	if err != nil {
		logger.Warn("skipping event with bad DTSTART",
			slog.String("uid", ev.uid),
			slog.String("error", err.Error()),
		)

		return ev, false
	}

	ev.start = start
	ev.allDay = allDay

	// Per RFC 5545 a missing DTEND means one day for dates, zero length
	// for date-times.
	ev.end = start
	if allDay {
		ev.end = start.AddDate(0, 0, 1)
	}

	if dtEnd := ve.GetProperty(ics.ComponentPropertyDtEnd); dtEnd != nil {
		if end, _, endErr := parseICSTime(dtEnd.Value, dtEnd.ICalParameters); endErr == nil {
			ev.end = end
		}
	}

	for _, ex := range ve.GetProperties(ics.ComponentPropertyExdate) {
		for _, v := range strings.Split(ex.Value, ",") {
			t, exAllDay, exErr := parseICSTime(v, ex.ICalParameters)
			if exErr != nil {
				continue
			}

			ev.exdates[occurrenceStamp(t, exAllDay)] = true
		}
	}

	if rid := ve.GetProperty(ics.ComponentPropertyRecurrenceId); rid != nil {
		t, ridAllDay, ridErr := parseICSTime(rid.Value, rid.ICalParameters)
		if ridErr == nil {
			ev.recurID = occurrenceStamp(t, ridAllDay)
		}
	}

	return ev, true
}

// occurrences lists the start times of the recurrence overlapping the
// window. EXDATE'd starts are included so callers can report them.
func (e *icsEvent) occurrences(windowStart, windowEnd time.Time) ([]time.Time, error) {
	r, err := rrule.StrToRRule(e.rrule)
	if err != nil {
		return nil, err
	}

	r.DTStart(e.start)

	set := rrule.Set{}
	set.RRule(r)

	// Widen by the event length so occurrences already underway count.
	return set.Between(windowStart.Add(-e.end.Sub(e.start)), windowEnd, true), nil
}

func (e *icsEvent) toEvent(id string, start, end time.Time, cancelled bool) Event {
	ev := Event{
		ID:     id,
		Status: StatusActive,
		Title:  e.summary,
		Start:  whenFor(start, e.allDay),
		End:    whenFor(end, e.allDay),
	}

	if cancelled {
		ev.Status = StatusCancelled
	}

	return ev
}

func whenFor(t time.Time, allDay bool) When {
	if allDay {
		return When{Date: t.Format(time.DateOnly)}
	}

	return When{DateTime: t.Format(time.RFC3339)}
}

func overlaps(start, end, windowStart, windowEnd time.Time) bool {
	if end.Equal(start) {
		return !start.Before(windowStart) && start.Before(windowEnd)
	}

	return end.After(windowStart) && start.Before(windowEnd)
}

func occurrenceStamp(t time.Time, allDay bool) string {
	if allDay {
		return t.Format(icsDateLayout)
	}

	return t.UTC().Format(icsUTCLayout)
}

func propValue(ve *ics.VEvent, p ics.ComponentProperty) string {
	prop := ve.GetProperty(p)
	if prop == nil {
		return ""
	}

	return strings.TrimSpace(prop.Value)
}

// parseICSTime parses a DATE or DATE-TIME value. Dates are returned as UTC
// midnight so their calendar day never shifts; floating times use TZID when
// present and UTC otherwise.
func parseICSTime(value string, params map[string][]string) (time.Time, bool, error) {
	value = strings.TrimSpace(value)

	loc := time.UTC

	if tz := params[string(ics.ParameterTzid)]; len(tz) == 1 {
		l, err := time.LoadLocation(tz[0])
		if err != nil {
			return time.Time{}, false, fmt.Errorf("unknown TZID %q: %w", tz[0], err)
		}

		loc = l
	}

	switch {
	case len(value) == len(icsDateLayout):
		t, err := time.ParseInLocation(icsDateLayout, value, time.UTC)
		return t, true, err
	case strings.HasSuffix(value, "Z"):
		t, err := time.Parse(icsUTCLayout, value)
		return t, false, err
	default:
		t, err := time.ParseInLocation(icsLocalLayout, value, loc)
		return t, false, err
	}
}
