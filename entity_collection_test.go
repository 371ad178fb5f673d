package cloudbackend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/cloudbackend/model"
)

func newPerson(name string, age int64) model.Entity {
	e := model.NewEntity("Person")
	e.Properties.Set("name", model.String(name)).Set("age", model.Int(age))
	return e
}

func TestNewEntityCollection(t *testing.T) {
	_, err := NewEntityCollection(nil, nil)
	assert.Error(t, err)

	c, err := NewEntityCollection(newMemEntityService(), nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestEntityCollection_InsertAllAndListKind(t *testing.T) {
	ctx := context.Background()
	c, err := NewEntityCollection(newMemEntityService(), &NoopLogger{})
	require.NoError(t, err)

	inserted, err := c.InsertAll(ctx, []model.Entity{newPerson("ann", 30), newPerson("bob", 25)})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	for _, e := range inserted {
		assert.True(t, e.IsPersisted())
	}

	listed, err := c.ListKind(ctx, "Person")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	// Most recently updated first.
	assert.Equal(t, inserted[1].ID, listed[0].ID)
	assert.Equal(t, inserted[0].ID, listed[1].ID)
}

func TestEntityCollection_ListValidatesQuery(t *testing.T) {
	entities := newMemEntityService()
	c, err := NewEntityCollection(entities, nil)
	require.NoError(t, err)

	_, err = c.List(context.Background(), model.Query{})
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, entities.queryCount())
}

func TestEntityCollection_PutAllCreatesAndUpdates(t *testing.T) {
	ctx := context.Background()
	c, err := NewEntityCollection(newMemEntityService(), nil)
	require.NoError(t, err)

	inserted, err := c.InsertAll(ctx, []model.Entity{newPerson("ann", 30)})
	require.NoError(t, err)

	changed := inserted[0].Clone()
	changed.Properties.Set("age", model.Int(31))

	put, err := c.PutAll(ctx, []model.Entity{changed, newPerson("cid", 40)})
	require.NoError(t, err)
	require.Len(t, put, 2)
	assert.Equal(t, inserted[0].ID, put[0].ID)
	assert.True(t, put[0].UpdatedAt.After(inserted[0].UpdatedAt))
	assert.True(t, put[1].IsPersisted())

	listed, err := c.List(ctx, model.NewQuery("Person").Where(model.Eq("age", model.Int(31))))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, inserted[0].ID, listed[0].ID)
}

func TestEntityCollection_BulkContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	c, err := NewEntityCollection(newMemEntityService(), nil)
	require.NoError(t, err)

	inserted, err := c.InsertAll(ctx, []model.Entity{newPerson("ann", 30), {}, newPerson("bob", 25)})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Len(t, inserted, 2)

	fetched, err := c.FetchAll(ctx, "Person", []string{inserted[0].ID, "missing", inserted[1].ID})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Len(t, fetched, 2)

	removed, err := c.RemoveAll(ctx, []model.Entity{inserted[0], newPerson("unsaved", 1)})
	require.Error(t, err)
	assert.Len(t, removed, 1)
	assert.Equal(t, inserted[0].ID, removed[0].ID)

	listed, err := c.ListKind(ctx, "Person")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, inserted[1].ID, listed[0].ID)
}

// newContinuousCollection wires a collection and a dispatcher over one
// registry, with a notifier that dispatches in-process.
func newContinuousCollection(t *testing.T, entities *memEntityService) (*EntityCollection, *TopicRegistry) {
	t.Helper()
	registry := NewTopicRegistry()
	d, err := NewPushDispatcher(
		WithDispatcherRegistry(registry),
		WithDispatcherEntityService(entities),
		WithDispatcherLogger(&NoopLogger{}),
		WithDispatcherExecutor(InlineExecutor{}),
	)
	require.NoError(t, err)

	notifier := NotifierFunc(func(ctx context.Context, topicID string) error {
		d.OnNotification(ctx, topicID)
		return nil
	})
	c, err := NewEntityCollection(entities, &NoopLogger{},
		WithCollectionRegistry(registry),
		WithCollectionNotifier(notifier),
	)
	require.NoError(t, err)
	return c, registry
}

func TestEntityCollection_ListContinuousPastScope(t *testing.T) {
	ctx := context.Background()
	c, err := NewEntityCollection(newMemEntityService(), nil)
	require.NoError(t, err)
	_, err = c.InsertAll(ctx, []model.Entity{newPerson("ann", 30)})
	require.NoError(t, err)

	queryID, listed, err := c.ListContinuous(ctx, model.NewQuery("Person"), model.ScopePast, nil)
	require.NoError(t, err)
	assert.Empty(t, queryID)
	assert.Len(t, listed, 1)
}

func TestEntityCollection_ListContinuousValidation(t *testing.T) {
	ctx := context.Background()
	plain, err := NewEntityCollection(newMemEntityService(), nil)
	require.NoError(t, err)
	handler := (&entityRecorder{}).handle

	_, _, err = plain.ListContinuous(ctx, model.NewQuery("Person"), model.ScopeFuture, handler)
	assert.True(t, hasCode(err, ErrCodeConfiguration), "future scopes need a registry")

	c, registry := newContinuousCollection(t, newMemEntityService())
	_, _, err = c.ListContinuous(ctx, model.NewQuery("Person"), model.Scope(9), handler)
	assert.True(t, IsValidation(err))
	_, _, err = c.ListContinuous(ctx, model.NewQuery("Person"), model.ScopeFuture, nil)
	assert.True(t, IsValidation(err))
	_, _, err = c.ListContinuous(ctx, model.Query{}, model.ScopeFuture, handler)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, registry.Len())
}

func TestEntityCollection_ContinuousQueryRerunsOnWrites(t *testing.T) {
	ctx := context.Background()
	entities := newMemEntityService()
	c, registry := newContinuousCollection(t, entities)

	_, err := c.InsertAll(ctx, []model.Entity{newPerson("ann", 30), newPerson("bob", 25)})
	require.NoError(t, err)

	rec := &entityRecorder{}
	queryID, listed, err := c.ListContinuous(ctx, model.NewQuery("Person"), model.ScopeFutureAndPast, rec.handle)
	require.NoError(t, err)
	assert.True(t, model.IsQueryTopic(queryID))
	assert.Len(t, listed, 2)
	assert.Equal(t, 1, registry.Len())

	_, err = c.InsertAll(ctx, []model.Entity{newPerson("cid", 41)})
	require.NoError(t, err)
	results, errs := rec.calls()
	assert.Empty(t, errs)
	require.Len(t, results, 1)
	assert.Len(t, results[0], 3)

	pet := model.NewEntity("Pet")
	_, err = c.InsertAll(ctx, []model.Entity{pet})
	require.NoError(t, err)
	results, _ = rec.calls()
	assert.Len(t, results, 1, "writes to other kinds do not rerun the query")

	_, err = c.RemoveAll(ctx, results[0][:1])
	require.NoError(t, err)
	results, _ = rec.calls()
	require.Len(t, results, 2)
	assert.Len(t, results[1], 2)

	assert.True(t, c.StopQuery(queryID))
	assert.False(t, c.StopQuery(queryID))
	_, err = c.InsertAll(ctx, []model.Entity{newPerson("dee", 19)})
	require.NoError(t, err)
	results, _ = rec.calls()
	assert.Len(t, results, 2)
}

func TestEntityCollection_ListContinuousFutureScope(t *testing.T) {
	ctx := context.Background()
	entities := newMemEntityService()
	c, registry := newContinuousCollection(t, entities)

	rec := &entityRecorder{}
	queryID, listed, err := c.ListContinuous(ctx, model.NewQuery("Person"), model.ScopeFuture, rec.handle)
	require.NoError(t, err)
	assert.NotEmpty(t, queryID)
	assert.Nil(t, listed)
	assert.Equal(t, 0, entities.queryCount(), "future scope does not list now")

	sub, ok := registry.Get(queryID)
	require.True(t, ok)
	assert.True(t, sub.IsContinuous())
	assert.Equal(t, "Person", sub.Query.KindName)
}

func TestEntityCollection_ListContinuousFailureUnregisters(t *testing.T) {
	entities := newMemEntityService()
	entities.setQueryErr(errors.New("backend down"))
	c, registry := newContinuousCollection(t, entities)

	queryID, _, err := c.ListContinuous(context.Background(), model.NewQuery("Person"), model.ScopeFutureAndPast, (&entityRecorder{}).handle)
	assert.True(t, IsTransport(err))
	assert.Empty(t, queryID)
	assert.Equal(t, 0, registry.Len())
}
