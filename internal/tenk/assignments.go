package tenk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Assignment is a leave booking for one user over a date range. Dates are
// "YYYY-MM-DD" strings as the API returns them.
type Assignment struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	LeaveID  int64  `json:"leave_id,omitempty"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

func assignmentsPath(userID int64) string {
	return fmt.Sprintf("/users/%d/assignments", userID)
}

func assignmentPath(userID, assignmentID int64) string {
	return fmt.Sprintf("/users/%d/assignments/%d", userID, assignmentID)
}

// CreateAssignment books leaveID for userID between startsAt and endsAt.
// Single attempt, no retry.
func (c *Client) CreateAssignment(ctx context.Context, userID, leaveID int64, startsAt, endsAt string) (*Assignment, error) {
	query := url.Values{
		"leave_id":  {strconv.FormatInt(leaveID, 10)},
		"starts_at": {startsAt},
		"ends_at":   {endsAt},
	}

	return c.sendAssignment(ctx, http.MethodPost, assignmentsPath(userID), query)
}

// UpdateAssignment moves an existing assignment to a new date range.
// Single attempt, no retry.
func (c *Client) UpdateAssignment(ctx context.Context, userID, assignmentID int64, startsAt, endsAt string) (*Assignment, error) {
	query := url.Values{
		"starts_at": {startsAt},
		"ends_at":   {endsAt},
	}

	return c.sendAssignment(ctx, http.MethodPut, assignmentPath(userID, assignmentID), query)
}

// DeleteAssignment removes an assignment. Single attempt, no retry.
// A missing assignment surfaces as ErrNotFound.
func (c *Client) DeleteAssignment(ctx context.Context, userID, assignmentID int64) error {
	resp, err := c.DoOnce(ctx, http.MethodDelete, assignmentPath(userID, assignmentID), nil)
	if err != nil {
		return err
	}

	drainAndClose(resp)

	return nil
}

func (c *Client) sendAssignment(ctx context.Context, method, path string, query url.Values) (*Assignment, error) {
	resp, err := c.DoOnce(ctx, method, path, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var a Assignment
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return nil, fmt.Errorf("tenk: decoding %s %s response: %w", method, path, err)
	}

	if a.ID == 0 {
		return nil, fmt.Errorf("tenk: %s %s: response has no assignment id", method, path)
	}

	return &a, nil
}
