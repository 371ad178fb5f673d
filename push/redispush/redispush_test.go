package redispush

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Addr: "localhost:6379"}.Validate())
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Addr: "localhost:6379", DB: -1}.Validate())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestTransport_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transport, err := New(ctx, Config{Addr: addr, Channel: "cloudbackend:test:" + t.Name()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })

	received := make(chan string, 1)
	receiveCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- transport.Receive(receiveCtx, func(_ context.Context, topicID string) {
			received <- topicID
		})
	}()

	// Keep publishing until the subscriber is up.
	require.Eventually(t, func() bool {
		if err := transport.Notify(ctx, "weather"); err != nil {
			return false
		}
		select {
		case topic := <-received:
			return topic == "weather"
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
}
