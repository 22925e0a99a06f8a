// Package services holds the adapters that hand outbox messages to systems
// outside the engine.
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ticket-engine/models"
)

const DefaultArtifactQueueKey = "jobs:hype_cards"

// ArtifactQueue pushes hype-card jobs onto a Redis list. The worker pops from
// the other end, so jobs are processed oldest first.
type ArtifactQueue struct {
	Redis  *redis.Client
	key    string
	logger *zap.Logger
}

func NewArtifactQueue(redisClient *redis.Client, key string, logger *zap.Logger) *ArtifactQueue {
	if key == "" {
		key = DefaultArtifactQueueKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactQueue{
		Redis:  redisClient,
		key:    key,
		logger: logger.Named("artifact_queue"),
	}
}

func (q *ArtifactQueue) Key() string {
	return q.key
}

func (q *ArtifactQueue) Enqueue(ctx context.Context, job models.ArtifactJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal artifact job: %w", err)
	}

	if err := q.Redis.LPush(ctx, q.key, string(data)).Err(); err != nil {
		return fmt.Errorf("push artifact job: %w", err)
	}

	q.logger.Debug("artifact job queued",
		zap.String("ticket_id", job.TicketID),
		zap.String("message_id", job.MessageID),
		zap.String("template_id", job.TemplateID),
	)
	return nil
}

func (q *ArtifactQueue) Len(ctx context.Context) (int64, error) {
	return q.Redis.LLen(ctx, q.key).Result()
}
