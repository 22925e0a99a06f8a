package store

import (
	"fmt"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"

	"ticket-engine/models"
)

// EnsureSchema creates the engine collections that do not exist yet.
func EnsureSchema(app core.App) error {
	events, err := ensureCollection(app, CollectionEvents, func(c *core.Collection) {
		c.Fields.Add(
			&core.TextField{Name: "organization", Required: true, Max: 64},
			&core.TextField{Name: "name", Required: true, Max: 255},
			&core.TextField{Name: "venue", Max: 255},
			&core.TextField{Name: "hype_card_template", Max: 128},
		)
		c.AddIndex("idx_events_organization", false, "`organization`", "")
	})
	if err != nil {
		return err
	}

	ticketTypes, err := ensureCollection(app, CollectionTicketTypes, func(c *core.Collection) {
		c.Fields.Add(
			&core.TextField{Name: "organization", Required: true, Max: 64},
			&core.RelationField{Name: "event", CollectionId: events.Id, MaxSelect: 1, Required: true},
			&core.TextField{Name: "name", Required: true, Max: 255},
			&core.NumberField{Name: "price", Min: types.Pointer(0.0)},
			&core.TextField{Name: "currency", Max: 8},
			&core.NumberField{Name: "capacity", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.BoolField{Name: "unlimited"},
			&core.NumberField{Name: "sold", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.BoolField{Name: "active"},
		)
	})
	if err != nil {
		return err
	}

	contacts, err := ensureCollection(app, CollectionContacts, func(c *core.Collection) {
		c.Fields.Add(
			&core.TextField{Name: "organization", Required: true, Max: 64},
			&core.TextField{Name: "phone", Required: true, Max: 20},
			&core.TextField{Name: "name", Max: 255},
			&core.TextField{Name: "email", Max: 255},
		)
		c.AddIndex("idx_contacts_org_phone", true, "`organization`, `phone`", "")
	})
	if err != nil {
		return err
	}

	_, err = ensureCollection(app, CollectionTickets, func(c *core.Collection) {
		c.Fields.Add(
			&core.RelationField{Name: "ticket_type", CollectionId: ticketTypes.Id, MaxSelect: 1, Required: true},
			&core.RelationField{Name: "event", CollectionId: events.Id, MaxSelect: 1, Required: true},
			&core.TextField{Name: "organization", Required: true, Max: 64},
			&core.RelationField{Name: "contact", CollectionId: contacts.Id, MaxSelect: 1},
			&core.TextField{Name: "holder_name", Max: 255},
			&core.TextField{Name: "holder_email", Max: 255},
			&core.TextField{Name: "holder_phone", Max: 20},
			&core.NumberField{Name: "amount", Min: types.Pointer(0.0)},
			&core.TextField{Name: "currency", Max: 8},
			&core.TextField{Name: "code", Required: true, Max: 64},
			&core.TextField{Name: "qr_url", Max: 1024},
			&core.TextField{Name: "checkout_request_id", Max: 128},
			&core.SelectField{
				Name:      "payment_status",
				Required:  true,
				MaxSelect: 1,
				Values: []string{
					string(models.PaymentPending),
					string(models.PaymentCompleted),
					string(models.PaymentFailed),
				},
			},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values: []string{
					string(models.TicketReserved),
					string(models.TicketValid),
					string(models.TicketUsed),
					string(models.TicketCancelled),
				},
			},
			&core.TextField{Name: "payable_type", Max: 32},
			&core.TextField{Name: "receipt_number", Max: 64},
			&core.JSONField{Name: "payment_metadata"},
			&core.TextField{Name: "failure_reason", Max: 512},
			&core.TextField{Name: "idempotency_key", Max: 64},
			&core.DateField{Name: "reserved_at", Required: true},
			&core.DateField{Name: "paid_at"},
			&core.DateField{Name: "fulfilled_at"},
		)
		c.AddIndex("idx_tickets_code", true, "`code`", "")
		c.AddIndex("idx_tickets_checkout_request", true, "`checkout_request_id`", "`checkout_request_id` != ''")
		c.AddIndex("idx_tickets_idempotency", true, "`organization`, `idempotency_key`", "`idempotency_key` != ''")
		c.AddIndex("idx_tickets_sweep", false, "`status`, `payment_status`, `reserved_at`", "")
	})
	if err != nil {
		return err
	}

	_, err = ensureCollection(app, CollectionOutbox, func(c *core.Collection) {
		c.Fields.Add(
			&core.SelectField{
				Name:      "kind",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{string(models.OutboxArtifactJob), string(models.OutboxTrigger)},
			},
			&core.TextField{Name: "dedup_key", Required: true, Max: 255},
			&core.JSONField{Name: "payload"},
			&core.NumberField{Name: "attempts", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.TextField{Name: "last_error", Max: 1024},
			&core.BoolField{Name: "failed"},
			&core.DateField{Name: "dispatched_at"},
		)
		c.AddIndex("idx_outbox_dedup_key", true, "`dedup_key`", "")
		c.AddIndex("idx_outbox_pending", false, "`dispatched_at`, `failed`", "")
	})
	return err
}

// DropSchema removes the engine collections in reverse dependency order.
func DropSchema(app core.App) error {
	names := []string{
		CollectionOutbox,
		CollectionTickets,
		CollectionContacts,
		CollectionTicketTypes,
		CollectionEvents,
	}
	for _, name := range names {
		collection, err := app.FindCollectionByNameOrId(name)
		if err != nil {
			continue
		}
		if err := app.Delete(collection); err != nil {
			return fmt.Errorf("drop collection %s: %w", name, err)
		}
	}
	return nil
}

func ensureCollection(app core.App, name string, define func(c *core.Collection)) (*core.Collection, error) {
	if existing, err := app.FindCollectionByNameOrId(name); err == nil {
		return existing, nil
	}

	collection := core.NewBaseCollection(name)
	define(collection)
	collection.Fields.Add(
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)

	if err := app.Save(collection); err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	return collection, nil
}
