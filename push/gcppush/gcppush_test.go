package gcppush

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	testProjectID = "test-project"
	testTopicID   = "cloudbackend-push"
	testSubID     = "cloudbackend-push-device"
)

func setupPubsub(t *testing.T, ctx context.Context) *pubsub.Client {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, testProjectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, testTopicID)
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, testSubID, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	return client
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{TopicID: "t"}.Validate())
	assert.NoError(t, Config{SubscriptionID: "s"}.Validate())
	assert.Error(t, Config{}.Validate())
}

func TestNew_NilClient(t *testing.T) {
	_, err := New(nil, Config{TopicID: "t"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestTopicIDOf(t *testing.T) {
	assert.Equal(t, "news", TopicIDOf(&pubsub.Message{Attributes: map[string]string{AttrTopicID: "news"}, Data: []byte("other")}))
	assert.Equal(t, "sports", TopicIDOf(&pubsub.Message{Data: []byte("sports")}))
	assert.Empty(t, TopicIDOf(&pubsub.Message{}))
}

func TestTransport_NotifyReceive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	client := setupPubsub(t, ctx)
	transport, err := New(client, Config{TopicID: testTopicID, SubscriptionID: testSubID}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, transport.CheckExists(ctx))
	t.Cleanup(transport.Stop)

	require.NoError(t, transport.Notify(ctx, "weather"))

	received := make(chan string, 1)
	receiveCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- transport.Receive(receiveCtx, func(_ context.Context, topicID string) {
			select {
			case received <- topicID:
			default:
			}
		})
	}()

	select {
	case topicID := <-received:
		assert.Equal(t, "weather", topicID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for push notification")
	}

	stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("receive did not stop")
	}
}

func TestTransport_CheckExists_Missing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	client := setupPubsub(t, ctx)
	transport, err := New(client, Config{TopicID: "missing"}, zerolog.Nop())
	require.NoError(t, err)

	assert.Error(t, transport.CheckExists(ctx))
}

func TestTransport_DirectionNotConfigured(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	client := setupPubsub(t, ctx)

	publishOnly, err := New(client, Config{TopicID: testTopicID}, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, publishOnly.Receive(ctx, func(context.Context, string) {}))

	receiveOnly, err := New(client, Config{SubscriptionID: testSubID}, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, receiveOnly.Notify(ctx, "news"))
}
