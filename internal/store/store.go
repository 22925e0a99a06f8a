// Package store persists ticket types, tickets, contacts and outbox messages
// in pocketbase collections.
//
// Writes that must be atomic go through RunInTransaction. The *Store handed to
// the callback is bound to the transaction; using the outer *Store from inside
// the callback would block on the single writer connection.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

const (
	CollectionEvents      = "events"
	CollectionTicketTypes = "ticket_types"
	CollectionContacts    = "contacts"
	CollectionTickets     = "tickets"
	CollectionOutbox      = "outbox_messages"
)

type Store struct {
	app core.App
}

func New(app core.App) *Store {
	return &Store{app: app}
}

func (s *Store) App() core.App {
	return s.app
}

// RunInTransaction runs fn in one write transaction. Nested calls join the
// outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(&Store{app: txApp})
	})
}

// IsUniqueViolation reports whether err came from a unique index, either raised
// by SQLite or by pocketbase record validation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "validation_not_unique") ||
		strings.Contains(msg, "must be unique")
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func formatTime(t time.Time) string {
	dt, err := types.ParseDateTime(t)
	if err != nil {
		return ""
	}
	return dt.String()
}

func timePtr(dt types.DateTime) *time.Time {
	if dt.IsZero() {
		return nil
	}
	t := dt.Time()
	return &t
}

func rowsAffected(res sql.Result) (int64, error) {
	if res == nil {
		return 0, nil
	}
	return res.RowsAffected()
}
