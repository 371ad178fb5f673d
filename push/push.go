// Package push carries bare topic-id notifications from the backend to the
// devices that run a MessagingManager.
//
// A Notifier is the backend side: it announces that a topic has new
// messages. A Source is the device side: it delivers those announcements to
// a Handler, typically MessagingManager.HandlePushNotification.
package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coregx/cloudbackend/retry"
)

// Handler receives one topic-id notification.
type Handler func(ctx context.Context, topicID string)

// Source delivers notifications to a handler until ctx is canceled or the
// underlying connection fails.
type Source interface {
	// Receive blocks, calling h for each notification. It returns nil or
	// ctx.Err() after cancellation and a non-nil error when the connection
	// was lost.
	Receive(ctx context.Context, h Handler) error
}

// Notifier announces new messages on a topic.
type Notifier interface {
	Notify(ctx context.Context, topicID string) error
}

// ErrClosed is returned by a closed Loopback.
var ErrClosed = errors.New("push: transport closed")

// Loopback is an in-process Notifier and Source joined by a buffered channel.
// Useful for single-process deployments and tests.
type Loopback struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewLoopback creates a loopback with room for buffer pending notifications.
func NewLoopback(buffer int) *Loopback {
	if buffer < 0 {
		buffer = 0
	}
	return &Loopback{
		ch:   make(chan string, buffer),
		done: make(chan struct{}),
	}
}

// Notify queues topicID. It blocks while the buffer is full.
func (l *Loopback) Notify(ctx context.Context, topicID string) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	select {
	case l.ch <- topicID:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive calls h for every queued notification until ctx is canceled or the
// loopback is closed.
func (l *Loopback) Receive(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return ErrClosed
		case topicID := <-l.ch:
			h(ctx, topicID)
		}
	}
}

// Close stops Receive and makes further Notify calls fail.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

// Run keeps src receiving into h until ctx is canceled. When Receive fails,
// Run waits according to strategy and reconnects. A Receive that ran for at
// least strategy.MaxDelay resets the backoff.
//
// Run returns nil after cancellation, or the last Receive error once the
// strategy allows no further attempts.
func Run(ctx context.Context, src Source, h Handler, strategy retry.Strategy, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "PushReceiver").Logger()
	attempt := 0

	for {
		started := time.Now()
		err := src.Receive(ctx, h)
		if ctx.Err() != nil {
			logger.Info().Msg("Push receiver stopped.")
			return nil
		}
		if err == nil {
			err = errors.New("push source returned without error")
		}

		if time.Since(started) >= strategy.MaxDelay {
			attempt = 0
		}
		attempt++
		if !strategy.IsRetryable(attempt) {
			logger.Error().Err(err).Int("attempts", attempt).Msg("Push receiver giving up.")
			return err
		}

		delay := strategy.Delay(attempt)
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("Push source failed, reconnecting.")
		if err := strategy.Wait(ctx, attempt); err != nil {
			logger.Info().Msg("Push receiver stopped.")
			return nil
		}
	}
}
