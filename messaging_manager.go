package cloudbackend

import (
	"context"
	"time"

	"github.com/coregx/cloudbackend/model"
)

// MessagingManager is the public pub/sub API: it creates and sends messages,
// manages topic subscriptions and feeds incoming push notifications to the
// dispatcher.
//
// Key operations:
//   - Send / SendAsync: persist a message and announce its topic
//   - Subscribe / Unsubscribe: manage the handler for a topic
//   - HandlePushNotification: deliver the backlog of a notified topic
//
// Thread safety: Safe for concurrent use.
type MessagingManager struct {
	entities   EntityService
	registry   *TopicRegistry
	dispatcher *PushDispatcher
	notifier   Notifier
	executor   Executor
	observer   interface{}
	logger     Logger
	now        func() time.Time
}

// NewMessagingManager creates a new MessagingManager with the provided options.
//
// Required options:
//   - WithEntityService: backend storing messages
//   - WithLogger: logger instance
//
// Optional options:
//   - WithRegistry: shared topic registry (default: a new one)
//   - WithNotifier: push notifier called after each send
//   - WithExecutor: executor for async work (default: GoExecutor)
//   - WithObserver: event observer
//   - WithClock: watermark time source (default: time.Now)
//
// Example:
//
//	manager, err := cloudbackend.NewMessagingManager(
//	    cloudbackend.WithEntityService(repo),
//	    cloudbackend.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = manager.Subscribe("weather", 10, func(msgs []model.Message, err error) {
//	    // handle batch
//	})
func NewMessagingManager(opts ...Option) (*MessagingManager, error) {
	m := &MessagingManager{
		executor: GoExecutor{},
		now:      time.Now,
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if m.entities == nil {
		return nil, NewError(ErrCodeConfiguration, "EntityService is required (use WithEntityService)")
	}
	if m.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithLogger)")
	}
	if m.registry == nil {
		m.registry = NewTopicRegistry()
	}

	dispatcher, err := NewPushDispatcher(
		WithDispatcherRegistry(m.registry),
		WithDispatcherEntityService(m.entities),
		WithDispatcherLogger(m.logger),
		WithDispatcherExecutor(m.executor),
		WithDispatcherObserver(m.observer),
	)
	if err != nil {
		return nil, err
	}
	m.dispatcher = dispatcher

	return m, nil
}

// Registry returns the topic registry.
func (m *MessagingManager) Registry() *TopicRegistry {
	return m.registry
}

// Dispatcher returns the push dispatcher.
func (m *MessagingManager) Dispatcher() *PushDispatcher {
	return m.dispatcher
}

// CreateMessage returns an unsent message for topicID.
func (m *MessagingManager) CreateMessage(topicID string) model.Message {
	return model.NewMessage(topicID)
}

// CreateBroadcastMessage returns an unsent message for the broadcast topic.
func (m *MessagingManager) CreateBroadcastMessage() model.Message {
	return model.NewBroadcastMessage()
}

// Send persists msg and returns it with the backend-assigned id and creation
// time. When a Notifier is configured, the message's topic is announced
// afterwards; a failed announcement is logged and reported to the observer
// but does not fail the send.
//
// Validation errors are returned before anything is sent. Send failures are
// never retried.
func (m *MessagingManager) Send(ctx context.Context, msg model.Message) (model.Message, error) {
	if err := msg.Validate(); err != nil {
		return model.Message{}, NewErrorWithCause(ErrCodeValidation, "invalid message", err)
	}
	return m.send(ctx, msg)
}

// SendAsync sends msg on the executor and reports the outcome to callback
// exactly once. Validation errors are returned synchronously, in which case
// callback is not called. A nil callback discards the outcome.
func (m *MessagingManager) SendAsync(ctx context.Context, msg model.Message, callback func(model.Message, error)) error {
	if err := msg.Validate(); err != nil {
		return NewErrorWithCause(ErrCodeValidation, "invalid message", err)
	}
	if callback == nil {
		callback = func(model.Message, error) {}
	}

	ctx = context.WithoutCancel(ctx)
	if err := m.executor.Submit(func() {
		sent, err := m.send(ctx, msg)
		callback(sent, err)
	}); err != nil {
		m.reportSendFailure(msg, err)
		callback(model.Message{}, err)
	}
	return nil
}

func (m *MessagingManager) send(ctx context.Context, msg model.Message) (model.Message, error) {
	msg.ID = ""
	msg.CreatedAt = time.Time{}

	stored, err := m.entities.Create(ctx, msg.ToEntity())
	if err != nil {
		err = transportError("failed to send message", err)
		m.reportSendFailure(msg, err)
		return model.Message{}, err
	}

	sent, err := model.MessageFromEntity(stored)
	if err != nil {
		err = NewErrorWithCause(ErrCodeTransport, "backend returned a malformed message", err)
		m.reportSendFailure(msg, err)
		return model.Message{}, err
	}

	m.logger.Infof("Message sent: id=%s, topic=%s", sent.ID, sent.TopicID)
	if o, ok := m.observer.(SendObserver); ok {
		o.MessageSent(sent)
	}

	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, sent.TopicID); err != nil {
			err = transportError("failed to announce message", err)
			m.reportSendFailure(sent, err)
		}
	}

	return sent, nil
}

func (m *MessagingManager) reportSendFailure(msg model.Message, err error) {
	m.logger.Errorf("Send failed: topic=%s, error=%v", msg.TopicID, err)
	if o, ok := m.observer.(SendObserver); ok {
		o.SendFailed(msg, err)
	}
}

// Subscribe registers onReceive for topicID, replacing any handler already
// registered for it. Only messages created after this call are delivered;
// nothing is fetched until the next push notification.
//
// maxOfflineMessages bounds each delivered batch; values below 1 select
// model.DefaultMaxOfflineMessages. Subscribing to model.BroadcastTopicID
// receives broadcast messages only.
func (m *MessagingManager) Subscribe(topicID string, maxOfflineMessages int, onReceive model.MessageHandler) error {
	if topicID == "" {
		return NewError(ErrCodeValidation, "topic ID is required")
	}
	if model.IsQueryTopic(topicID) {
		return NewError(ErrCodeValidation, "topic ID is reserved for continuous queries")
	}
	if onReceive == nil {
		return NewError(ErrCodeValidation, "message handler is required")
	}

	sub := model.NewSubscription(topicID, maxOfflineMessages, onReceive)
	now := m.now()
	sub.LastSeen = now
	sub.CreatedAt = now

	sub, replaced, err := m.registry.Put(topicID, sub)
	if err != nil {
		return err
	}

	if replaced {
		m.logger.Warnf("Subscription replaced: topic=%s", topicID)
	}
	m.logger.Infof("Subscribed: topic=%s, maxOffline=%d", topicID, sub.MaxOfflineMessages)
	if o, ok := m.observer.(SubscriptionObserver); ok {
		o.SubscriptionCreated(sub)
	}
	return nil
}

// Unsubscribe removes the handler for topicID. Unsubscribing a topic without
// a subscription is a no-op.
func (m *MessagingManager) Unsubscribe(topicID string) error {
	if topicID == "" {
		return NewError(ErrCodeValidation, "topic ID is required")
	}

	if !m.registry.Unregister(topicID) {
		m.logger.Debugf("Unsubscribe ignored, no subscription: topic=%s", topicID)
		return nil
	}

	m.logger.Infof("Unsubscribed: topic=%s", topicID)
	if o, ok := m.observer.(SubscriptionObserver); ok {
		o.SubscriptionRemoved(topicID)
	}
	return nil
}

// HandlePushNotification is the entry point for the platform push layer.
// It returns the number of subscriptions the notification reached.
func (m *MessagingManager) HandlePushNotification(ctx context.Context, topicID string) int {
	return m.dispatcher.OnNotification(ctx, topicID)
}
