// Package classroom reads classroom, section and booking definitions.
package classroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"classroomhub/internal/logging"
	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

var (
	ErrInvalidClassroom = errors.New("classroom requires an id, a positive duration and positive max users")
	ErrInvalidSection   = errors.New("section requires an id and a non-negative duration")
)

// Repository is the typed view over the classroom collections.
type Repository struct {
	store  interfaces.Store
	logger *slog.Logger
}

// NewRepository creates a classroom repository.
func NewRepository(store interfaces.Store, logger *slog.Logger) *Repository {
	return &Repository{store: store, logger: logging.OrDiscard(logger)}
}

// Get loads a classroom and its sections. Sections that no longer exist are skipped.
func (r *Repository) Get(ctx context.Context, classroomID string) (*types.Classroom, error) {
	rec, ok, err := r.store.Get(ctx, types.CollectionClassrooms, classroomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load classroom %s: %w", classroomID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: classroom %s", types.ErrNotFound, classroomID)
	}

	var c types.Classroom
	if err := types.FromRecord(rec, &c); err != nil {
		return nil, fmt.Errorf("%w: decode classroom: %w", types.ErrInternal, err)
	}
	if c.Visibility == "" {
		c.Visibility = types.VisibilityOpen
	}

	sections, err := r.Sections(ctx, c.SectionIDs)
	if err != nil {
		return nil, err
	}
	c.Sections = sections
	return &c, nil
}

// Sections loads sections by id in the given order, skipping missing ones.
func (r *Repository) Sections(ctx context.Context, sectionIDs []string) ([]types.Section, error) {
	sections := make([]types.Section, 0, len(sectionIDs))
	for _, id := range sectionIDs {
		rec, ok, err := r.store.Get(ctx, types.CollectionSections, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load section %s: %w", id, err)
		}
		if !ok {
			r.logger.Warn("classroom references missing section", "section_id", id)
			continue
		}
		var s types.Section
		if err := types.FromRecord(rec, &s); err != nil {
			return nil, fmt.Errorf("%w: decode section: %w", types.ErrInternal, err)
		}
		sections = append(sections, s)
	}
	return sections, nil
}

// List returns every classroom without loading sections.
func (r *Repository) List(ctx context.Context) ([]*types.Classroom, error) {
	records, err := r.store.Query(ctx, types.CollectionClassrooms)
	if err != nil {
		return nil, fmt.Errorf("failed to list classrooms: %w", err)
	}

	out := make([]*types.Classroom, 0, len(records))
	for _, rec := range records {
		var c types.Classroom
		if err := types.FromRecord(rec, &c); err != nil {
			return nil, fmt.Errorf("%w: decode classroom: %w", types.ErrInternal, err)
		}
		out = append(out, &c)
	}
	return out, nil
}

// Create stores a classroom together with its sections in one batch. The
// classroom's SectionIDs are taken from Sections.
func (r *Repository) Create(ctx context.Context, c *types.Classroom) error {
	if c == nil || !types.IsValidID(c.ID) || c.Duration <= 0 || c.MaxUsers <= 0 {
		return ErrInvalidClassroom
	}
	if c.Visibility == "" {
		c.Visibility = types.VisibilityOpen
	}

	ops := make([]types.WriteOp, 0, len(c.Sections)+1)
	c.SectionIDs = make([]string, 0, len(c.Sections))
	for _, s := range c.Sections {
		if !types.IsValidID(s.ID) || s.Duration < 0 {
			return fmt.Errorf("%w: %q", ErrInvalidSection, s.ID)
		}
		rec, err := types.ToRecord(s)
		if err != nil {
			return err
		}
		ops = append(ops, types.WriteOp{Kind: types.WriteSet, Collection: types.CollectionSections, ID: s.ID, Record: rec})
		c.SectionIDs = append(c.SectionIDs, s.ID)
	}

	rec, err := types.ToRecord(c)
	if err != nil {
		return err
	}
	ops = append(ops, types.WriteOp{Kind: types.WriteCreate, Collection: types.CollectionClassrooms, ID: c.ID, Record: rec})

	if err := r.store.BatchWrite(ctx, ops); err != nil {
		return fmt.Errorf("failed to create classroom %s: %w", c.ID, err)
	}
	r.logger.Info("classroom created", "classroom_id", c.ID, "sections", len(c.SectionIDs), "max_users", c.MaxUsers)
	return nil
}

// GetBooking loads a stored booking definition.
func (r *Repository) GetBooking(ctx context.Context, bookingID string) (*types.BookingRequest, error) {
	rec, ok, err := r.store.Get(ctx, types.CollectionBookings, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking %s: %w", bookingID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", types.ErrNotFound, bookingID)
	}
	var b types.BookingRequest
	if err := types.FromRecord(rec, &b); err != nil {
		return nil, fmt.Errorf("%w: decode booking: %w", types.ErrInternal, err)
	}
	return &b, nil
}

// CreateBooking stores a booking definition.
func (r *Repository) CreateBooking(ctx context.Context, b *types.BookingRequest) error {
	if b == nil || !types.IsValidID(b.ID) || b.UserCount <= 0 {
		return fmt.Errorf("%w: booking needs an id and a positive user count", types.ErrInvalidBookingState)
	}
	rec, err := types.ToRecord(b)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, types.CollectionBookings, b.ID, rec); err != nil {
		return fmt.Errorf("failed to create booking %s: %w", b.ID, err)
	}
	return nil
}

// CheckJoinable reports whether the classroom accepts joins at now.
func CheckJoinable(c *types.Classroom, now time.Time) error {
	switch {
	case now.Before(c.StartTime):
		return fmt.Errorf("%w: starts at %s", types.ErrNotStarted, c.StartTime.UTC().Format(time.RFC3339))
	case now.After(c.EndTime()):
		return fmt.Errorf("%w: ended at %s", types.ErrAlreadyEnded, c.EndTime().UTC().Format(time.RFC3339))
	case c.Visibility != types.VisibilityOpen:
		return types.ErrRestricted
	default:
		return nil
	}
}
