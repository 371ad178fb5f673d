package cloudbackend

import (
	"fmt"
	"time"
)

// Option is a function that configures a MessagingManager.
// Used with the Options Pattern for flexible service construction.
//
// Example:
//
//	manager, err := cloudbackend.NewMessagingManager(
//	    cloudbackend.WithEntityService(repo),
//	    cloudbackend.WithLogger(logger),
//	    cloudbackend.WithNotifier(transport), // optional
//	)
type Option func(*MessagingManager) error

// WithEntityService sets the backend that stores messages.
//
// This is a required option for NewMessagingManager.
func WithEntityService(entities EntityService) Option {
	return func(m *MessagingManager) error {
		if entities == nil {
			return fmt.Errorf("entity service cannot be nil")
		}
		m.entities = entities
		return nil
	}
}

// WithLogger sets the logger instance for the manager and the dispatcher it
// creates. Logger is required and must not be nil.
//
// This is a required option for NewMessagingManager.
//
// Use NoopLogger for silent operation or NewZerologLogger for structured logs.
func WithLogger(logger Logger) Option {
	return func(m *MessagingManager) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		m.logger = logger
		return nil
	}
}

// WithRegistry sets the topic registry. This is an optional configuration -
// if not provided, the manager creates its own.
//
// Share a registry between components that must see the same subscriptions.
func WithRegistry(registry *TopicRegistry) Option {
	return func(m *MessagingManager) error {
		if registry == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		m.registry = registry
		return nil
	}
}

// WithNotifier sets the push notifier called after each successful send.
// This is an optional configuration - without it, sends only persist.
func WithNotifier(notifier Notifier) Option {
	return func(m *MessagingManager) error {
		if notifier == nil {
			return fmt.Errorf("notifier cannot be nil")
		}
		m.notifier = notifier
		return nil
	}
}

// WithExecutor sets the executor used for SendAsync and backlog dispatch.
// This is an optional configuration - default is GoExecutor.
//
// Use InlineExecutor for deterministic tests and NewPoolExecutor to bound
// the number of concurrent backend calls.
func WithExecutor(executor Executor) Option {
	return func(m *MessagingManager) error {
		if executor == nil {
			return fmt.Errorf("executor cannot be nil")
		}
		m.executor = executor
		return nil
	}
}

// WithObserver sets an observer for messaging events. The observer may
// implement any of SubscriptionObserver, DispatchObserver and SendObserver.
func WithObserver(observer interface{}) Option {
	return func(m *MessagingManager) error {
		if observer == nil {
			return fmt.Errorf("observer cannot be nil")
		}
		m.observer = observer
		return nil
	}
}

// WithClock sets the time source for subscription watermarks.
// This is an optional configuration - default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *MessagingManager) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		m.now = now
		return nil
	}
}
