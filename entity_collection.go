package cloudbackend

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/coregx/cloudbackend/model"
)

// EntityCollection offers list and bulk operations on top of an EntityService.
//
// Bulk calls process every item even when some fail: they return the items
// that succeeded together with a joined error describing the failures.
//
// With a registry, listings can stay registered as continuous queries: each
// one gets its own query topic, and a PushDispatcher sharing the registry
// reruns it on every notification for that topic. With a notifier as well,
// successful bulk writes announce the topics of the continuous queries on the
// written kinds.
type EntityCollection struct {
	entities EntityService
	logger   Logger
	registry *TopicRegistry
	notifier Notifier
}

// CollectionOption configures an EntityCollection.
type CollectionOption func(*EntityCollection) error

// NewEntityCollection creates a collection over entities. A nil logger is
// replaced with NoopLogger.
//
// Optional options:
//   - WithCollectionRegistry: enables continuous queries
//   - WithCollectionNotifier: announces bulk writes to continuous queries
func NewEntityCollection(entities EntityService, logger Logger, opts ...CollectionOption) (*EntityCollection, error) {
	if entities == nil {
		return nil, NewError(ErrCodeConfiguration, "EntityService is required")
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	c := &EntityCollection{entities: entities, logger: logger}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply collection option", err)
		}
	}
	return c, nil
}

// WithCollectionRegistry sets the registry continuous queries are kept in.
// Share it with the PushDispatcher that should rerun them.
func WithCollectionRegistry(registry *TopicRegistry) CollectionOption {
	return func(c *EntityCollection) error {
		if registry == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		c.registry = registry
		return nil
	}
}

// WithCollectionNotifier sets the notifier used to announce bulk writes.
func WithCollectionNotifier(notifier Notifier) CollectionOption {
	return func(c *EntityCollection) error {
		if notifier == nil {
			return fmt.Errorf("notifier cannot be nil")
		}
		c.notifier = notifier
		return nil
	}
}

// List runs q after validating it.
func (c *EntityCollection) List(ctx context.Context, q model.Query) ([]model.Entity, error) {
	if err := q.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid query", err)
	}
	result, err := c.entities.Query(ctx, q)
	if err != nil {
		return nil, transportError("failed to list entities", err)
	}
	return result, nil
}

// ListContinuous lists q according to scope.
//
// ScopePast behaves like List and returns an empty query id. The future
// scopes register q as a continuous query under a new query topic, returned
// as the query id; every later notification for that topic reruns q and
// passes the full result to handler. ScopeFutureAndPast also returns the
// current result; if listing it fails, nothing stays registered.
func (c *EntityCollection) ListContinuous(
	ctx context.Context,
	q model.Query,
	scope model.Scope,
	handler model.EntityHandler,
) (string, []model.Entity, error) {
	if err := scope.Validate(); err != nil {
		return "", nil, NewErrorWithCause(ErrCodeValidation, "invalid scope", err)
	}
	if !scope.IncludesFuture() {
		result, err := c.List(ctx, q)
		return "", result, err
	}

	if err := q.Validate(); err != nil {
		return "", nil, NewErrorWithCause(ErrCodeValidation, "invalid query", err)
	}
	if handler == nil {
		return "", nil, NewError(ErrCodeValidation, "entity handler is required")
	}
	if c.registry == nil {
		return "", nil, NewError(ErrCodeConfiguration, "continuous queries need a registry (use WithCollectionRegistry)")
	}

	queryID := model.QueryTopicPrefix + uuid.NewString()
	if _, err := c.registry.Register(queryID, model.NewQuerySubscription(queryID, q, handler)); err != nil {
		return "", nil, err
	}
	c.logger.Infof("Continuous query registered: id=%s, kind=%s, scope=%s", queryID, q.KindName, scope)

	if !scope.IncludesPast() {
		return queryID, nil, nil
	}
	result, err := c.List(ctx, q)
	if err != nil {
		c.registry.Unregister(queryID)
		return "", nil, err
	}
	return queryID, result, nil
}

// StopQuery removes the continuous query registered as queryID. It reports
// whether such a query was registered.
func (c *EntityCollection) StopQuery(queryID string) bool {
	if c.registry == nil || !model.IsQueryTopic(queryID) {
		return false
	}
	if !c.registry.Unregister(queryID) {
		return false
	}
	c.logger.Infof("Continuous query stopped: id=%s", queryID)
	return true
}

// ListKind returns the most recently updated entities of kindName, up to
// model.DefaultQueryLimit.
func (c *EntityCollection) ListKind(ctx context.Context, kindName string) ([]model.Entity, error) {
	return c.List(ctx, model.NewQuery(kindName))
}

// InsertAll creates every entity.
func (c *EntityCollection) InsertAll(ctx context.Context, entities []model.Entity) ([]model.Entity, error) {
	return c.write(ctx, entities, "insert", func(e model.Entity) (model.Entity, error) {
		if e.KindName == "" {
			return model.Entity{}, NewError(ErrCodeValidation, "kind name is required")
		}
		return c.entities.Create(ctx, e)
	})
}

// PutAll creates entities without an id and updates the others.
func (c *EntityCollection) PutAll(ctx context.Context, entities []model.Entity) ([]model.Entity, error) {
	return c.write(ctx, entities, "put", func(e model.Entity) (model.Entity, error) {
		if e.KindName == "" {
			return model.Entity{}, NewError(ErrCodeValidation, "kind name is required")
		}
		if e.IsPersisted() {
			return c.entities.Update(ctx, e)
		}
		return c.entities.Create(ctx, e)
	})
}

// RemoveAll deletes every entity and returns their last stored state.
func (c *EntityCollection) RemoveAll(ctx context.Context, entities []model.Entity) ([]model.Entity, error) {
	return c.write(ctx, entities, "remove", func(e model.Entity) (model.Entity, error) {
		if !e.IsPersisted() {
			return model.Entity{}, NewError(ErrCodeValidation, "entity ID is required")
		}
		return c.entities.Delete(ctx, e.KindName, e.ID)
	})
}

// FetchAll loads the entities of kindName with the given ids.
func (c *EntityCollection) FetchAll(ctx context.Context, kindName string, ids []string) ([]model.Entity, error) {
	entities := make([]model.Entity, len(ids))
	for i, id := range ids {
		entities[i] = model.Entity{KindName: kindName, ID: id}
	}
	return c.each(entities, "fetch", func(e model.Entity) (model.Entity, error) {
		return c.entities.Fetch(ctx, e.KindName, e.ID)
	})
}

// write runs a bulk write and announces the kinds it changed.
func (c *EntityCollection) write(
	ctx context.Context,
	entities []model.Entity,
	op string,
	fn func(model.Entity) (model.Entity, error),
) ([]model.Entity, error) {
	done, err := c.each(entities, op, fn)
	c.announce(ctx, done)
	return done, err
}

// announce notifies the topic of every continuous query on a kind in changed.
// Notify failures are logged; the write itself already succeeded.
func (c *EntityCollection) announce(ctx context.Context, changed []model.Entity) {
	if c.registry == nil || c.notifier == nil || len(changed) == 0 {
		return
	}
	kinds := make(map[string]bool, 1)
	for _, e := range changed {
		kinds[e.KindName] = true
	}
	for _, sub := range c.registry.Subscriptions() {
		if !sub.IsContinuous() || !kinds[sub.Query.KindName] {
			continue
		}
		if err := c.notifier.Notify(ctx, sub.TopicID); err != nil {
			c.logger.Warnf("Continuous query notify failed: id=%s, error=%v", sub.TopicID, err)
		}
	}
}

func (c *EntityCollection) each(
	entities []model.Entity,
	op string,
	fn func(model.Entity) (model.Entity, error),
) ([]model.Entity, error) {
	done := make([]model.Entity, 0, len(entities))
	var errs []error
	for i, e := range entities {
		result, err := fn(e)
		if err != nil {
			c.logger.Warnf("Bulk %s failed: index=%d, kind=%s, id=%s, error=%v", op, i, e.KindName, e.ID, err)
			errs = append(errs, fmt.Errorf("%s %d (%s %s): %w", op, i, e.KindName, e.ID, err))
			continue
		}
		done = append(done, result)
	}
	return done, errors.Join(errs...)
}
