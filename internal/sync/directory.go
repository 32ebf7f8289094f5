package sync

import (
	"context"
	"fmt"
	"log/slog"
)

// NamedID is one directory record: a display name and its remote id.
type NamedID struct {
	Name string
	ID   int64
}

// DirectorySource performs the bulk listings behind the Directory.
type DirectorySource interface {
	People(ctx context.Context) ([]NamedID, error)
	LeaveTypes(ctx context.Context) ([]NamedID, error)
}

// Directory resolves person and leave type names to remote ids. Each
// namespace is listed at most once per Directory; a failed listing is
// retried on the next lookup.
type Directory struct {
	src        DirectorySource
	logger     *slog.Logger
	people     map[string]int64
	leaveTypes map[string]int64
}

// NewDirectory returns a cold cache over src.
func NewDirectory(src DirectorySource, logger *slog.Logger) *Directory {
	return &Directory{src: src, logger: logger}
}

// Warm loads both namespaces.
func (d *Directory) Warm(ctx context.Context) error {
	if err := d.loadPeople(ctx); err != nil {
		return err
	}

	return d.loadLeaveTypes(ctx)
}

// ResolvePerson returns the id for a person name.
func (d *Directory) ResolvePerson(ctx context.Context, name string) (int64, bool, error) {
	if err := d.loadPeople(ctx); err != nil {
		return 0, false, err
	}

	id, ok := d.people[CanonicalName(name)]

	return id, ok, nil
}

// ResolveLeaveType returns the id for a leave category name.
func (d *Directory) ResolveLeaveType(ctx context.Context, name string) (int64, bool, error) {
	if err := d.loadLeaveTypes(ctx); err != nil {
		return 0, false, err
	}

	id, ok := d.leaveTypes[CanonicalName(name)]

	return id, ok, nil
}

func (d *Directory) loadPeople(ctx context.Context) error {
	if d.people != nil {
		return nil
	}

	records, err := d.src.People(ctx)
	if err != nil {
		return fmt.Errorf("sync: listing people: %w", err)
	}

	d.people = d.index("person", records)

	return nil
}

func (d *Directory) loadLeaveTypes(ctx context.Context) error {
	if d.leaveTypes != nil {
		return nil
	}

	records, err := d.src.LeaveTypes(ctx)
	if err != nil {
		return fmt.Errorf("sync: listing leave types: %w", err)
	}

	d.leaveTypes = d.index("leave type", records)

	return nil
}

// index keys records canonically. When two names collide the first wins.
func (d *Directory) index(kind string, records []NamedID) map[string]int64 {
	m := make(map[string]int64, len(records))

	for _, r := range records {
		key := CanonicalName(r.Name)
		if key == "" {
			continue
		}

		if prev, dup := m[key]; dup {
			d.logger.Warn("duplicate directory name",
				slog.String("kind", kind),
				slog.String("name", r.Name),
				slog.Int64("kept_id", prev),
				slog.Int64("ignored_id", r.ID),
			)

			continue
		}

		m[key] = r.ID
	}

	d.logger.Debug("directory loaded", slog.String("kind", kind), slog.Int("entries", len(m)))

	return m
}
