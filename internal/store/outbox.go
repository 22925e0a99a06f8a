package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"

	"ticket-engine/models"
)

// EnqueueOutbox records a message unless one with the same dedup key exists.
// It reports whether a new message was written.
func (s *Store) EnqueueOutbox(ctx context.Context, kind models.OutboxKind, dedupKey string, payload any) (bool, error) {
	if _, err := s.app.FindFirstRecordByData(CollectionOutbox, "dedup_key", dedupKey); err == nil {
		return false, nil
	} else if !isNotFound(err) {
		return false, fmt.Errorf("find outbox message: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal outbox payload: %w", err)
	}

	collection, err := s.app.FindCollectionByNameOrId(CollectionOutbox)
	if err != nil {
		return false, err
	}
	record := core.NewRecord(collection)
	record.Set("kind", string(kind))
	record.Set("dedup_key", dedupKey)
	record.Set("payload", types.JSONRaw(data))
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return false, fmt.Errorf("save outbox message: %w", err)
	}
	return true, nil
}

// PendingOutbox returns undispatched, not yet abandoned messages, oldest first.
func (s *Store) PendingOutbox(limit int) ([]*models.OutboxMessage, error) {
	records, err := s.app.FindRecordsByFilter(
		CollectionOutbox,
		"dispatched_at = '' && failed = false",
		"created",
		limit,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("find pending outbox: %w", err)
	}

	messages := make([]*models.OutboxMessage, 0, len(records))
	for _, record := range records {
		messages = append(messages, outboxFromRecord(record))
	}
	return messages, nil
}

func (s *Store) FindOutboxByDedupKey(dedupKey string) (*models.OutboxMessage, error) {
	record, err := s.app.FindFirstRecordByData(CollectionOutbox, "dedup_key", dedupKey)
	if err != nil {
		return nil, err
	}
	return outboxFromRecord(record), nil
}

func (s *Store) MarkOutboxDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := s.app.DB().
		NewQuery("UPDATE {{outbox_messages}} SET [[dispatched_at]] = {:at}, [[last_error]] = '' WHERE [[id]] = {:id}").
		Bind(dbx.Params{"id": id, "at": formatTime(at)}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}

// MarkOutboxAttemptFailed counts a failed delivery. Once maxAttempts is reached
// the message is flagged failed and no longer polled.
func (s *Store) MarkOutboxAttemptFailed(ctx context.Context, id, lastError string, maxAttempts int) error {
	if len(lastError) > 1024 {
		lastError = lastError[:1024]
	}
	_, err := s.app.DB().
		NewQuery(`UPDATE {{outbox_messages}}
			SET [[attempts]] = [[attempts]] + 1, [[last_error]] = {:err},
				[[failed]] = CASE WHEN [[attempts]] + 1 >= {:max} THEN TRUE ELSE FALSE END
			WHERE [[id]] = {:id}`).
		Bind(dbx.Params{"id": id, "err": lastError, "max": maxAttempts}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("mark outbox attempt failed: %w", err)
	}
	return nil
}

func (s *Store) OutboxStats() (*models.OutboxStats, error) {
	stats := &models.OutboxStats{}
	var err error

	stats.Pending, err = s.app.CountRecords(CollectionOutbox, dbx.HashExp{"dispatched_at": "", "failed": false})
	if err != nil {
		return nil, err
	}
	stats.Dispatched, err = s.app.CountRecords(CollectionOutbox, dbx.Not(dbx.HashExp{"dispatched_at": ""}))
	if err != nil {
		return nil, err
	}
	stats.Failed, err = s.app.CountRecords(CollectionOutbox, dbx.HashExp{"failed": true})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func outboxFromRecord(record *core.Record) *models.OutboxMessage {
	msg := &models.OutboxMessage{
		ID:           record.Id,
		Kind:         models.OutboxKind(record.GetString("kind")),
		DedupKey:     record.GetString("dedup_key"),
		Attempts:     record.GetInt("attempts"),
		LastError:    record.GetString("last_error"),
		Failed:       record.GetBool("failed"),
		DispatchedAt: timePtr(record.GetDateTime("dispatched_at")),
		CreatedAt:    record.GetDateTime("created").Time(),
	}
	if raw, ok := record.Get("payload").(types.JSONRaw); ok {
		msg.Payload = json.RawMessage(raw)
	}
	return msg
}
