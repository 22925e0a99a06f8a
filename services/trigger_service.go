package services

import (
	"context"
	"fmt"
	"net/http"

	pubnub "github.com/pubnub/go/v7"
	"go.uber.org/zap"

	"ticket-engine/models"
)

const DefaultTriggerChannel = "triggers"

// Publisher sends one message to a channel and returns the HTTP status of the
// publish call.
type Publisher interface {
	Publish(channel string, message any) (int, error)
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

// NewPubNubPublisher publishes through a PubNub client.
func NewPubNubPublisher(pn *pubnub.PubNub) Publisher {
	return &pubnubPublisher{pn: pn}
}

func (p *pubnubPublisher) Publish(channel string, message any) (int, error) {
	_, status, err := p.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	return status.StatusCode, err
}

// NewPubNubClient builds a publish-only PubNub client.
func NewPubNubClient(publishKey, subscribeKey, secretKey, userID string) *pubnub.PubNub {
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey
	cfg.SecretKey = secretKey
	return pubnub.NewPubNub(cfg)
}

// TriggerService fires domain triggers on a per-tenant channel where the
// notification dispatcher listens.
type TriggerService struct {
	publisher Publisher
	channel   string
	logger    *zap.Logger
}

func NewTriggerService(publisher Publisher, channel string, logger *zap.Logger) *TriggerService {
	if channel == "" {
		channel = DefaultTriggerChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriggerService{
		publisher: publisher,
		channel:   channel,
		logger:    logger.Named("triggers"),
	}
}

// ChannelFor returns the channel a tenant's triggers are published on.
func (s *TriggerService) ChannelFor(tenantID string) string {
	if tenantID == "" {
		return s.channel
	}
	return s.channel + "." + tenantID
}

func (s *TriggerService) Fire(ctx context.Context, trigger models.Trigger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	channel := s.ChannelFor(trigger.TenantID)
	code, err := s.publisher.Publish(channel, trigger)
	if err != nil {
		return fmt.Errorf("publish trigger %s: %w", trigger.Name, err)
	}
	if code != 0 && code != http.StatusOK {
		return fmt.Errorf("publish trigger %s: status %d", trigger.Name, code)
	}

	s.logger.Info("trigger fired",
		zap.String("trigger", trigger.Name),
		zap.String("channel", channel),
		zap.String("message_id", trigger.MessageID),
		zap.String("contact_id", trigger.ContactID),
	)
	return nil
}
