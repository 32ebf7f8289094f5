package tenk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultPerPage is the page size requested for directory listings.
const DefaultPerPage = 1000

// maxListPages bounds directory pagination against a misbehaving server
// that keeps returning a next link.
const maxListPages = 1000

// User is a person in the 10,000ft account.
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Archived    bool   `json:"archived,omitempty"`
}

// LeaveType is a leave category (vacation, sick, ...).
type LeaveType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// paging mirrors the paging envelope of list responses.
type paging struct {
	Next    string `json:"next"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

type listResponse[T any] struct {
	Data   []T    `json:"data"`
	Paging paging `json:"paging"`
}

// ListUsers returns every user, following paging links until exhausted.
func (c *Client) ListUsers(ctx context.Context, perPage int) ([]User, error) {
	return listAll[User](ctx, c, "/users", perPage)
}

// ListLeaveTypes returns every leave type, following paging links.
func (c *Client) ListLeaveTypes(ctx context.Context, perPage int) ([]LeaveType, error) {
	return listAll[LeaveType](ctx, c, "/leave_types", perPage)
}

// listAll fetches all pages of a list endpoint. The first request carries
// per_page; later requests use the paging link verbatim, which already
// encodes the page size.
func listAll[T any](ctx context.Context, c *Client, path string, perPage int) ([]T, error) {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	query := url.Values{"per_page": {strconv.Itoa(perPage)}}

	var all []T

	for page := 1; ; page++ {
		if page > maxListPages {
			return nil, fmt.Errorf("tenk: listing %s exceeded %d pages", path, maxListPages)
		}

		lr, err := getPage[T](ctx, c, path, query)
		if err != nil {
			return nil, err
		}

		all = append(all, lr.Data...)

		c.logger.Debug("fetched list page",
			slog.String("path", path),
			slog.Int("page", page),
			slog.Int("items", len(lr.Data)),
			slog.Bool("has_next", lr.Paging.Next != ""),
		)

		if lr.Paging.Next == "" || len(lr.Data) == 0 {
			return all, nil
		}

		next, err := c.relativePath(lr.Paging.Next)
		if err != nil {
			return nil, err
		}

		path = next
		query = nil
	}
}

func getPage[T any](ctx context.Context, c *Client, path string, query url.Values) (*listResponse[T], error) {
	resp, err := c.Do(ctx, http.MethodGet, path, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lr listResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("tenk: decoding %s response: %w", path, err)
	}

	return &lr, nil
}
