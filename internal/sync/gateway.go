package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tonimelisma/leavesync/internal/tenk"
)

// Assignment is the result of a successful create or update.
type Assignment struct {
	ID      int64
	OwnerID int64
}

// Gateway mutates remote assignments. Each call is one round trip with no
// retry; any failure is returned to the caller.
type Gateway interface {
	Create(ctx context.Context, ownerID, leaveTypeID int64, start, end Date) (Assignment, error)
	Update(ctx context.Context, ownerID, assignmentID int64, start, end Date) (Assignment, error)
	Delete(ctx context.Context, ownerID, assignmentID int64) error
}

// TenkBackend serves both the Gateway and the DirectorySource from one
// scheduling service client.
type TenkBackend struct {
	client  *tenk.Client
	perPage int
	logger  *slog.Logger
}

// NewTenkBackend wraps client. perPage sizes directory listings.
func NewTenkBackend(client *tenk.Client, perPage int, logger *slog.Logger) *TenkBackend {
	return &TenkBackend{client: client, perPage: perPage, logger: logger}
}

// Compile-time checks.
var (
	_ Gateway         = (*TenkBackend)(nil)
	_ DirectorySource = (*TenkBackend)(nil)
)

// People lists active users by display name. Archived users cannot take
// new assignments and are left out.
func (b *TenkBackend) People(ctx context.Context) ([]NamedID, error) {
	users, err := b.client.ListUsers(ctx, b.perPage)
	if err != nil {
		return nil, err
	}

	out := make([]NamedID, 0, len(users))

	for _, u := range users {
		if u.Archived {
			continue
		}

		out = append(out, NamedID{Name: u.DisplayName, ID: u.ID})
	}

	return out, nil
}

// LeaveTypes lists leave categories by name.
func (b *TenkBackend) LeaveTypes(ctx context.Context) ([]NamedID, error) {
	types, err := b.client.ListLeaveTypes(ctx, b.perPage)
	if err != nil {
		return nil, err
	}

	out := make([]NamedID, 0, len(types))
	for _, lt := range types {
		out = append(out, NamedID{Name: lt.Name, ID: lt.ID})
	}

	return out, nil
}

// Create books a new leave assignment.
func (b *TenkBackend) Create(ctx context.Context, ownerID, leaveTypeID int64, start, end Date) (Assignment, error) {
	a, err := b.client.CreateAssignment(ctx, ownerID, leaveTypeID, start.String(), end.String())
	if err != nil {
		return Assignment{}, err
	}

	return Assignment{ID: a.ID, OwnerID: ownerID}, nil
}

// Update moves an existing assignment to a new window.
func (b *TenkBackend) Update(ctx context.Context, ownerID, assignmentID int64, start, end Date) (Assignment, error) {
	a, err := b.client.UpdateAssignment(ctx, ownerID, assignmentID, start.String(), end.String())
	if err != nil {
		return Assignment{}, err
	}

	return Assignment{ID: a.ID, OwnerID: ownerID}, nil
}

// Delete removes an assignment. An assignment that is already gone counts
// as deleted.
func (b *TenkBackend) Delete(ctx context.Context, ownerID, assignmentID int64) error {
	err := b.client.DeleteAssignment(ctx, ownerID, assignmentID)
	if errors.Is(err, tenk.ErrNotFound) {
		b.logger.Info("assignment already deleted",
			slog.Int64("owner_id", ownerID),
			slog.Int64("assignment_id", assignmentID),
		)

		return nil
	}

	return err
}
