package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ticket-engine/internal/store"
	"ticket-engine/models"
	"ticket-engine/monitoring"
)

const (
	DefaultOutboxPollInterval = 5 * time.Second
	DefaultOutboxBatchSize    = 50
	DefaultOutboxMaxAttempts  = 10
)

// JobQueue hands artifact jobs to the external hype-card worker.
type JobQueue interface {
	Enqueue(ctx context.Context, job models.ArtifactJob) error
}

// TriggerDispatcher fires domain triggers at the notification dispatcher.
type TriggerDispatcher interface {
	Fire(ctx context.Context, trigger models.Trigger) error
}

type OutboxRelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

type RelayStats struct {
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
}

// OutboxRelay delivers outbox messages at least once. Every delivered payload
// carries the outbox message id so consumers can drop duplicates.
type OutboxRelay struct {
	store    *store.Store
	jobs     JobQueue
	triggers TriggerDispatcher
	cfg      OutboxRelayConfig
	clock    func() time.Time
	logger   *zap.Logger
}

func NewOutboxRelay(st *store.Store, jobs JobQueue, triggers TriggerDispatcher, cfg OutboxRelayConfig, logger *zap.Logger) *OutboxRelay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultOutboxPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultOutboxBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultOutboxMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxRelay{
		store:    st,
		jobs:     jobs,
		triggers: triggers,
		cfg:      cfg,
		clock:    time.Now,
		logger:   logger.Named("outbox"),
	}
}

// DispatchPending delivers one batch of pending messages.
func (r *OutboxRelay) DispatchPending(ctx context.Context) (RelayStats, error) {
	var stats RelayStats

	messages, err := r.store.PendingOutbox(r.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if err := r.deliver(ctx, msg); err != nil {
			stats.Failed++
			monitoring.TrackOutboxDispatch(string(msg.Kind), "error")
			r.logger.Warn("outbox delivery failed",
				zap.String("message_id", msg.ID),
				zap.String("dedup_key", msg.DedupKey),
				zap.Int("attempt", msg.Attempts+1),
				zap.Error(err),
			)
			if markErr := r.store.MarkOutboxAttemptFailed(ctx, msg.ID, err.Error(), r.cfg.MaxAttempts); markErr != nil {
				r.logger.Error("record outbox failure", zap.String("message_id", msg.ID), zap.Error(markErr))
			}
			continue
		}

		if err := r.store.MarkOutboxDispatched(ctx, msg.ID, r.clock()); err != nil {
			// Delivered but not marked: it goes out again next poll and the consumer dedupes.
			r.logger.Error("mark outbox dispatched", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		stats.Dispatched++
		monitoring.TrackOutboxDispatch(string(msg.Kind), "ok")
	}
	return stats, ctx.Err()
}

func (r *OutboxRelay) deliver(ctx context.Context, msg *models.OutboxMessage) error {
	switch msg.Kind {
	case models.OutboxArtifactJob:
		var job models.ArtifactJob
		if err := json.Unmarshal(msg.Payload, &job); err != nil {
			return fmt.Errorf("decode artifact job: %w", err)
		}
		job.MessageID = msg.ID
		return r.jobs.Enqueue(ctx, job)
	case models.OutboxTrigger:
		var trigger models.Trigger
		if err := json.Unmarshal(msg.Payload, &trigger); err != nil {
			return fmt.Errorf("decode trigger: %w", err)
		}
		trigger.MessageID = msg.ID
		return r.triggers.Fire(ctx, trigger)
	default:
		return fmt.Errorf("unknown outbox kind %q", msg.Kind)
	}
}

func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.DispatchPending(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox poll failed", zap.Error(err))
			}
		}
	}
}
