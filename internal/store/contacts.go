package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/models"
)

// UpsertContact returns the contact for (organization, phone), creating it on
// first sight. Missing name and email are filled in from later purchases.
func (s *Store) UpsertContact(ctx context.Context, organizationID, phone, name, email string) (*models.Contact, error) {
	record, err := s.app.FindFirstRecordByFilter(
		CollectionContacts,
		"organization = {:org} && phone = {:phone}",
		dbx.Params{"org": organizationID, "phone": phone},
	)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("find contact: %w", err)
	}

	if record == nil {
		collection, err := s.app.FindCollectionByNameOrId(CollectionContacts)
		if err != nil {
			return nil, err
		}
		record = core.NewRecord(collection)
		record.Set("organization", organizationID)
		record.Set("phone", phone)
		record.Set("name", name)
		record.Set("email", email)
		if err := s.app.SaveWithContext(ctx, record); err != nil {
			return nil, fmt.Errorf("create contact: %w", err)
		}
		return contactFromRecord(record), nil
	}

	changed := false
	if record.GetString("name") == "" && name != "" {
		record.Set("name", name)
		changed = true
	}
	if record.GetString("email") == "" && email != "" {
		record.Set("email", email)
		changed = true
	}
	if changed {
		if err := s.app.SaveWithContext(ctx, record); err != nil {
			return nil, fmt.Errorf("update contact: %w", err)
		}
	}
	return contactFromRecord(record), nil
}

func contactFromRecord(record *core.Record) *models.Contact {
	return &models.Contact{
		ID:             record.Id,
		OrganizationID: record.GetString("organization"),
		Phone:          record.GetString("phone"),
		Name:           record.GetString("name"),
		Email:          record.GetString("email"),
	}
}
