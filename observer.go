package cloudbackend

import "github.com/coregx/cloudbackend/model"

// Observers receive optional callbacks about messaging events. An observer is
// any value; the library checks which of the interfaces below it implements
// and calls only those methods. Observer methods run on the goroutine that
// produced the event and must not block.

// SubscriptionObserver is notified when subscriptions change.
type SubscriptionObserver interface {
	// SubscriptionCreated is called after a subscription has been registered.
	SubscriptionCreated(sub model.Subscription)

	// SubscriptionRemoved is called after a subscription has been removed.
	SubscriptionRemoved(topicID string)
}

// DispatchObserver is notified about backlog dispatches.
type DispatchObserver interface {
	// DispatchCompleted is called after a batch has been handed to a handler.
	DispatchCompleted(topicID string, delivered int)

	// DispatchFailed is called when a backlog fetch failed.
	DispatchFailed(topicID string, err error)
}

// SendObserver is notified about outgoing messages.
type SendObserver interface {
	// MessageSent is called after a message has been persisted.
	MessageSent(msg model.Message)

	// SendFailed is called when persisting or announcing a message failed.
	SendFailed(msg model.Message, err error)
}

// LoggingObserver implements every observer interface by logging.
type LoggingObserver struct {
	logger Logger
}

// NewLoggingObserver creates a new LoggingObserver.
func NewLoggingObserver(logger Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

// SubscriptionCreated logs the new subscription.
func (o *LoggingObserver) SubscriptionCreated(sub model.Subscription) {
	o.logger.Infof("Subscription created: topic=%s, maxOffline=%d, generation=%d",
		sub.TopicID, sub.MaxOfflineMessages, sub.Generation)
}

// SubscriptionRemoved logs the removal.
func (o *LoggingObserver) SubscriptionRemoved(topicID string) {
	o.logger.Infof("Subscription removed: topic=%s", topicID)
}

// DispatchCompleted logs the delivered batch size.
func (o *LoggingObserver) DispatchCompleted(topicID string, delivered int) {
	o.logger.Debugf("Dispatch completed: topic=%s, delivered=%d", topicID, delivered)
}

// DispatchFailed logs the failure.
func (o *LoggingObserver) DispatchFailed(topicID string, err error) {
	o.logger.Errorf("Dispatch failed: topic=%s, error=%v", topicID, err)
}

// MessageSent logs the sent message.
func (o *LoggingObserver) MessageSent(msg model.Message) {
	o.logger.Infof("Message sent: id=%s, topic=%s", msg.ID, msg.TopicID)
}

// SendFailed logs the failure.
func (o *LoggingObserver) SendFailed(msg model.Message, err error) {
	o.logger.Errorf("Send failed: topic=%s, error=%v", msg.TopicID, err)
}

var (
	_ SubscriptionObserver = (*LoggingObserver)(nil)
	_ DispatchObserver     = (*LoggingObserver)(nil)
	_ SendObserver         = (*LoggingObserver)(nil)
)
