// Package redispush carries topic-id notifications over a Redis pub/sub
// channel.
package redispush

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coregx/cloudbackend/push"
)

// DefaultChannel is the Redis channel used when Config.Channel is empty.
const DefaultChannel = "cloudbackend:push"

// Config holds the configuration for the Redis transport.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DB, validation.Min(0)),
	)
}

// Transport publishes topic ids on one Redis channel and subscribes to it.
// It implements push.Notifier and push.Source.
type Transport struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// New connects to Redis and pings the server before returning.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis push config: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return NewWithClient(rdb, cfg.Channel, logger), nil
}

// NewWithClient wraps an existing client. An empty channel selects
// DefaultChannel.
func NewWithClient(client *redis.Client, channel string, logger zerolog.Logger) *Transport {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Transport{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "RedisPush").Str("channel", channel).Logger(),
	}
}

// Notify publishes topicID on the channel.
func (t *Transport) Notify(ctx context.Context, topicID string) error {
	receivers, err := t.client.Publish(ctx, t.channel, topicID).Result()
	if err != nil {
		return fmt.Errorf("failed to publish push notification: %w", err)
	}
	t.logger.Debug().Str("topic_id", topicID).Int64("receivers", receivers).Msg("Push notification published.")
	return nil
}

// Receive subscribes to the channel and calls h for every topic id until ctx
// is canceled or the subscription breaks.
func (t *Transport) Receive(ctx context.Context, h push.Handler) error {
	sub := t.client.Subscribe(ctx, t.channel)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription confirmation so connection errors surface here.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to subscribe to %s: %w", t.channel, err)
	}
	t.logger.Info().Msg("Listening for push notifications.")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription to %s closed", t.channel)
			}
			if msg.Payload == "" {
				t.logger.Warn().Msg("Ignoring empty push notification.")
				continue
			}
			h(ctx, msg.Payload)
		}
	}
}

// Close closes the Redis client.
func (t *Transport) Close() error {
	return t.client.Close()
}

var (
	_ push.Notifier = (*Transport)(nil)
	_ push.Source   = (*Transport)(nil)
)
