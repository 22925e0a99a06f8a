package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"ticket-engine/internal/status"
	"ticket-engine/models"
)

func (s *Store) CreateEvent(ctx context.Context, event *models.Event) error {
	collection, err := s.app.FindCollectionByNameOrId(CollectionEvents)
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("organization", event.OrganizationID)
	record.Set("name", event.Name)
	record.Set("venue", event.Venue)
	record.Set("hype_card_template", event.HypeCardTemplate)
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	event.ID = record.Id
	return nil
}

func (s *Store) FindEvent(id string) (*models.Event, error) {
	record, err := s.app.FindRecordById(CollectionEvents, id)
	if err != nil {
		return nil, fmt.Errorf("find event %s: %w", id, err)
	}
	return &models.Event{
		ID:               record.Id,
		OrganizationID:   record.GetString("organization"),
		Name:             record.GetString("name"),
		Venue:            record.GetString("venue"),
		HypeCardTemplate: record.GetString("hype_card_template"),
	}, nil
}

func (s *Store) CreateTicketType(ctx context.Context, tt *models.TicketType) error {
	collection, err := s.app.FindCollectionByNameOrId(CollectionTicketTypes)
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("organization", tt.OrganizationID)
	record.Set("event", tt.EventID)
	record.Set("name", tt.Name)
	record.Set("price", tt.Price.InexactFloat64())
	record.Set("currency", tt.Currency)
	record.Set("sold", tt.Sold)
	record.Set("active", tt.Active)
	if tt.Capacity == nil {
		record.Set("unlimited", true)
	} else {
		record.Set("capacity", *tt.Capacity)
	}
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save ticket type: %w", err)
	}

	tt.ID = record.Id
	return nil
}

func (s *Store) FindTicketType(id string) (*models.TicketType, error) {
	record, err := s.app.FindRecordById(CollectionTicketTypes, id)
	if err != nil {
		if isNotFound(err) {
			return nil, status.ErrInvalidTicketType
		}
		return nil, fmt.Errorf("find ticket type %s: %w", id, err)
	}
	return ticketTypeFromRecord(record), nil
}

// LockTicketType takes the write lock for the ticket type and returns its
// current state. It must run inside RunInTransaction; the lock is held until
// the transaction ends. On SQLite the no-op update takes the database write
// lock, which every other writer shares, so callers must not do network I/O
// before committing.
func (s *Store) LockTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	res, err := s.app.DB().
		NewQuery("UPDATE {{ticket_types}} SET [[sold]] = [[sold]] WHERE [[id]] = {:id}").
		Bind(dbx.Params{"id": id}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("lock ticket type %s: %w", id, err)
	}
	if n, err := rowsAffected(res); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, status.ErrInvalidTicketType
	}
	return s.FindTicketType(id)
}

// IncrementSold reserves one unit. The capacity check is repeated in the
// statement so sold can never pass capacity even without a prior lock.
func (s *Store) IncrementSold(ctx context.Context, id string) error {
	res, err := s.app.DB().
		NewQuery(`UPDATE {{ticket_types}} SET [[sold]] = [[sold]] + 1
			WHERE [[id]] = {:id} AND ([[unlimited]] = TRUE OR [[sold]] < [[capacity]])`).
		Bind(dbx.Params{"id": id}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("increment sold %s: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return status.ErrSoldOut
	}
	return nil
}

// ReleaseUnit returns one unit to the ticket type. It reports false when sold
// was already zero.
func (s *Store) ReleaseUnit(ctx context.Context, id string) (bool, error) {
	res, err := s.app.DB().
		NewQuery("UPDATE {{ticket_types}} SET [[sold]] = [[sold]] - 1 WHERE [[id]] = {:id} AND [[sold]] > 0").
		Bind(dbx.Params{"id": id}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return false, fmt.Errorf("release unit %s: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func ticketTypeFromRecord(record *core.Record) *models.TicketType {
	tt := &models.TicketType{
		ID:             record.Id,
		OrganizationID: record.GetString("organization"),
		EventID:        record.GetString("event"),
		Name:           record.GetString("name"),
		Price:          decimal.NewFromFloat(record.GetFloat("price")),
		Currency:       record.GetString("currency"),
		Sold:           record.GetInt("sold"),
		Active:         record.GetBool("active"),
	}
	if !record.GetBool("unlimited") {
		capacity := record.GetInt("capacity")
		tt.Capacity = &capacity
	}
	return tt
}
