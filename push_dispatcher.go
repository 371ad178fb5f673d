package cloudbackend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coregx/cloudbackend/model"
)

// PushDispatcher turns a bare topic-id push notification into batches of
// messages delivered to the subscribed handlers.
//
// For every subscription a notification reaches, the dispatcher fetches the
// messages created after the subscription's watermark (newest first, bounded
// by MaxOfflineMessages), advances the watermark to the newest one and hands
// the batch to the handler in ascending creation order.
//
// At most one fetch runs per subscription topic. Notifications arriving while
// a fetch is running are coalesced into a single follow-up fetch.
//
// Thread safety: Safe for concurrent use.
type PushDispatcher struct {
	registry *TopicRegistry
	entities EntityService
	executor Executor
	logger   Logger
	observer interface{}

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight tracks the running fetch for one topic.
type flight struct {
	rerun bool
}

// DispatcherOption configures a PushDispatcher.
type DispatcherOption func(*PushDispatcher) error

// NewPushDispatcher creates a new PushDispatcher with the provided options.
//
// Required options:
//   - WithDispatcherRegistry: registry holding the subscriptions
//   - WithDispatcherEntityService: backend used to fetch backlogs
//   - WithDispatcherLogger: logger instance
//
// Optional options:
//   - WithDispatcherExecutor: where fetches run (default: GoExecutor)
//   - WithDispatcherObserver: receives DispatchObserver callbacks
//
// Example:
//
//	dispatcher, err := cloudbackend.NewPushDispatcher(
//	    cloudbackend.WithDispatcherRegistry(registry),
//	    cloudbackend.WithDispatcherEntityService(repo),
//	    cloudbackend.WithDispatcherLogger(logger),
//	)
func NewPushDispatcher(opts ...DispatcherOption) (*PushDispatcher, error) {
	d := &PushDispatcher{
		executor: GoExecutor{},
		inflight: make(map[string]*flight),
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply dispatcher option", err)
		}
	}

	if d.registry == nil {
		return nil, NewError(ErrCodeConfiguration, "TopicRegistry is required (use WithDispatcherRegistry)")
	}
	if d.entities == nil {
		return nil, NewError(ErrCodeConfiguration, "EntityService is required (use WithDispatcherEntityService)")
	}
	if d.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithDispatcherLogger)")
	}

	return d, nil
}

// WithDispatcherRegistry sets the registry the dispatcher looks subscriptions up in.
func WithDispatcherRegistry(registry *TopicRegistry) DispatcherOption {
	return func(d *PushDispatcher) error {
		if registry == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		d.registry = registry
		return nil
	}
}

// WithDispatcherEntityService sets the backend used to fetch message backlogs.
func WithDispatcherEntityService(entities EntityService) DispatcherOption {
	return func(d *PushDispatcher) error {
		if entities == nil {
			return fmt.Errorf("entity service cannot be nil")
		}
		d.entities = entities
		return nil
	}
}

// WithDispatcherLogger sets the logger instance.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *PushDispatcher) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		d.logger = logger
		return nil
	}
}

// WithDispatcherExecutor sets the executor fetches and handlers run on.
func WithDispatcherExecutor(executor Executor) DispatcherOption {
	return func(d *PushDispatcher) error {
		if executor == nil {
			return fmt.Errorf("executor cannot be nil")
		}
		d.executor = executor
		return nil
	}
}

// WithDispatcherObserver sets an observer. Only DispatchObserver methods are used.
func WithDispatcherObserver(observer interface{}) DispatcherOption {
	return func(d *PushDispatcher) error {
		d.observer = observer
		return nil
	}
}

// OnNotification handles a push notification for topicID. It returns the
// number of subscriptions the notification reached; with none, the
// notification is dropped without querying the backend.
//
// The fetches run on the dispatcher's executor and outlive ctx cancellation;
// ctx values are kept.
func (d *PushDispatcher) OnNotification(ctx context.Context, topicID string) int {
	subs := d.registry.Lookup(topicID)
	if len(subs) == 0 {
		d.logger.Debugf("Push notification dropped, no subscription: topic=%s", topicID)
		return 0
	}

	ctx = context.WithoutCancel(ctx)
	for _, sub := range subs {
		d.admit(ctx, sub.TopicID)
	}
	return len(subs)
}

// InFlight returns the number of topics with a fetch scheduled or running.
func (d *PushDispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.inflight)
}

func (d *PushDispatcher) admit(ctx context.Context, topicID string) {
	d.mu.Lock()
	if f, ok := d.inflight[topicID]; ok {
		f.rerun = true
		d.mu.Unlock()
		d.logger.Debugf("Dispatch coalesced: topic=%s", topicID)
		return
	}
	d.inflight[topicID] = &flight{}
	d.mu.Unlock()

	if err := d.executor.Submit(func() { d.run(ctx, topicID) }); err != nil {
		d.mu.Lock()
		delete(d.inflight, topicID)
		d.mu.Unlock()

		if sub, ok := d.registry.Get(topicID); ok {
			d.fail(sub, err)
		}
	}
}

// run fetches for topicID until no notification arrived during the last fetch.
func (d *PushDispatcher) run(ctx context.Context, topicID string) {
	finished := false
	defer func() {
		if !finished {
			d.mu.Lock()
			delete(d.inflight, topicID)
			d.mu.Unlock()
		}
	}()

	for {
		d.dispatch(ctx, topicID)

		d.mu.Lock()
		f := d.inflight[topicID]
		if f == nil || !f.rerun {
			delete(d.inflight, topicID)
			finished = true
			d.mu.Unlock()
			return
		}
		f.rerun = false
		d.mu.Unlock()
	}
}

// dispatch runs one fetch for the subscription currently registered under
// topicID. A panic while fetching is reported to the handler as a transport
// error, once, unless the handler was already called for this fetch.
func (d *PushDispatcher) dispatch(ctx context.Context, topicID string) {
	sub, ok := d.registry.Get(topicID)
	if !ok {
		d.logger.Debugf("Dispatch skipped, subscription removed: topic=%s", topicID)
		return
	}

	handled := false
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Dispatch panicked: topic=%s, panic=%v", topicID, r)
			if !handled && d.isCurrent(sub) {
				d.fail(sub, NewError(ErrCodeTransport, fmt.Sprintf("backlog fetch panicked: %v", r)))
			}
		}
	}()

	if sub.IsContinuous() {
		d.rerunQuery(ctx, sub, &handled)
		return
	}
	d.fetchBacklog(ctx, sub, &handled)
}

func (d *PushDispatcher) fetchBacklog(ctx context.Context, sub model.Subscription, handled *bool) {
	topicID := sub.TopicID
	entities, err := d.entities.Query(ctx, sub.BacklogQuery())
	if err != nil {
		if d.isCurrent(sub) {
			*handled = true
			d.fail(sub, transportError("failed to fetch message backlog", err))
		}
		return
	}

	if len(entities) == 0 {
		d.logger.Debugf("Dispatch found no new messages: topic=%s, since=%s",
			topicID, sub.LastSeen.Format(time.RFC3339Nano))
		return
	}

	newest := sub.LastSeen
	messages := make([]model.Message, 0, len(entities))
	for i := len(entities) - 1; i >= 0; i-- {
		e := entities[i]
		if e.CreatedAt.After(newest) {
			newest = e.CreatedAt
		}
		msg, err := model.MessageFromEntity(e)
		if err != nil {
			d.logger.Warnf("Skipping malformed message: topic=%s, error=%v", topicID, err)
			continue
		}
		messages = append(messages, msg)
	}

	if !d.registry.Advance(topicID, sub.Generation, newest) {
		d.logger.Debugf("Dispatch dropped, subscription replaced or removed: topic=%s", topicID)
		return
	}
	if len(messages) == 0 {
		return
	}

	*handled = true
	d.deliver(sub, messages, nil)
	d.logger.Debugf("Dispatch completed: topic=%s, delivered=%d, watermark=%s",
		topicID, len(messages), newest.Format(time.RFC3339Nano))
	if o, ok := d.observer.(DispatchObserver); ok {
		o.DispatchCompleted(topicID, len(messages))
	}
}

// rerunQuery runs a continuous query again and hands the full result to its
// handler, empty results included.
func (d *PushDispatcher) rerunQuery(ctx context.Context, sub model.Subscription, handled *bool) {
	entities, err := d.entities.Query(ctx, *sub.Query)
	if !d.isCurrent(sub) {
		d.logger.Debugf("Query result dropped, subscription replaced or removed: topic=%s", sub.TopicID)
		return
	}
	*handled = true
	if err != nil {
		d.fail(sub, transportError("failed to rerun continuous query", err))
		return
	}

	d.deliverEntities(sub, entities, nil)
	d.logger.Debugf("Continuous query completed: topic=%s, kind=%s, results=%d",
		sub.TopicID, sub.Query.KindName, len(entities))
	if o, ok := d.observer.(DispatchObserver); ok {
		o.DispatchCompleted(sub.TopicID, len(entities))
	}
}

// isCurrent reports whether sub is still the registration under its topic.
func (d *PushDispatcher) isCurrent(sub model.Subscription) bool {
	current, ok := d.registry.Get(sub.TopicID)
	return ok && current.Generation == sub.Generation
}

func (d *PushDispatcher) fail(sub model.Subscription, err error) {
	d.logger.Errorf("Dispatch failed: topic=%s, error=%v", sub.TopicID, err)
	if o, ok := d.observer.(DispatchObserver); ok {
		o.DispatchFailed(sub.TopicID, err)
	}
	if sub.IsContinuous() {
		d.deliverEntities(sub, nil, err)
		return
	}
	d.deliver(sub, nil, err)
}

func (d *PushDispatcher) deliver(sub model.Subscription, messages []model.Message, err error) {
	if sub.Handler == nil {
		return
	}
	defer d.recoverHandler(sub.TopicID)
	sub.Handler(messages, err)
}

func (d *PushDispatcher) deliverEntities(sub model.Subscription, entities []model.Entity, err error) {
	if sub.OnEntities == nil {
		return
	}
	defer d.recoverHandler(sub.TopicID)
	sub.OnEntities(entities, err)
}

func (d *PushDispatcher) recoverHandler(topicID string) {
	if r := recover(); r != nil {
		d.logger.Errorf("Message handler panicked: topic=%s, panic=%v", topicID, r)
	}
}
