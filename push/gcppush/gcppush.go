// Package gcppush carries topic-id notifications over Google Cloud Pub/Sub.
//
// The notified topic id travels in the message data and in the "topicId"
// attribute. One Pub/Sub topic carries every cloudbackend topic.
package gcppush

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/coregx/cloudbackend/push"
)

// AttrTopicID is the message attribute holding the notified topic id.
const AttrTopicID = "topicId"

// Config names the Pub/Sub resources used by the transport. Either field may
// be empty when the process only publishes or only receives.
type Config struct {
	TopicID        string
	SubscriptionID string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TopicID, validation.Required.When(c.SubscriptionID == "").Error("topic or subscription id is required")),
	)
}

// Transport implements push.Notifier and push.Source on Pub/Sub.
type Transport struct {
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
	logger       zerolog.Logger
}

// New builds a transport on an existing client. It does not check that the
// topic or subscription exist; see CheckExists.
func New(client *pubsub.Client, cfg Config, logger zerolog.Logger) (*Transport, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pubsub push config: %w", err)
	}

	t := &Transport{
		logger: logger.With().Str("component", "GCPPush").Logger(),
	}
	if cfg.TopicID != "" {
		t.topic = client.Topic(cfg.TopicID)
	}
	if cfg.SubscriptionID != "" {
		t.subscription = client.Subscription(cfg.SubscriptionID)
	}
	return t, nil
}

// CheckExists verifies the configured topic and subscription exist.
func (t *Transport) CheckExists(ctx context.Context) error {
	if t.topic != nil {
		ok, err := t.topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check for topic %s: %w", t.topic.ID(), err)
		}
		if !ok {
			return fmt.Errorf("pubsub topic %s does not exist", t.topic.ID())
		}
	}
	if t.subscription != nil {
		ok, err := t.subscription.Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check for subscription %s: %w", t.subscription.ID(), err)
		}
		if !ok {
			return fmt.Errorf("pubsub subscription %s does not exist", t.subscription.ID())
		}
	}
	return nil
}

// Notify publishes topicID and waits for the server to accept it.
func (t *Transport) Notify(ctx context.Context, topicID string) error {
	if t.topic == nil {
		return errors.New("gcppush: no topic configured for publishing")
	}
	result := t.topic.Publish(ctx, &pubsub.Message{
		Data:       []byte(topicID),
		Attributes: map[string]string{AttrTopicID: topicID},
	})
	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish push notification: %w", err)
	}
	t.logger.Debug().Str("topic_id", topicID).Str("published_msg_id", msgID).Msg("Push notification published.")
	return nil
}

// Receive pulls from the subscription until ctx is canceled. Every message is
// acknowledged after h returns.
func (t *Transport) Receive(ctx context.Context, h push.Handler) error {
	if t.subscription == nil {
		return errors.New("gcppush: no subscription configured for receiving")
	}
	t.logger.Info().Str("subscription_id", t.subscription.ID()).Msg("Listening for push notifications.")

	err := t.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()
		topicID := TopicIDOf(msg)
		if topicID == "" {
			t.logger.Warn().Str("msg_id", msg.ID).Msg("Ignoring push notification without topic id.")
			return
		}
		h(ctx, topicID)
	})
	if err != nil {
		return fmt.Errorf("pubsub receive failed: %w", err)
	}
	return ctx.Err()
}

// Stop flushes pending publishes.
func (t *Transport) Stop() {
	if t.topic != nil {
		t.topic.Stop()
	}
}

// TopicIDOf extracts the notified topic id, preferring the attribute.
func TopicIDOf(msg *pubsub.Message) string {
	if id := msg.Attributes[AttrTopicID]; id != "" {
		return id
	}
	return string(msg.Data)
}

var (
	_ push.Notifier = (*Transport)(nil)
	_ push.Source   = (*Transport)(nil)
)
