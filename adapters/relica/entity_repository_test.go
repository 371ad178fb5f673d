package relica

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/cloudbackend"
	"github.com/coregx/cloudbackend/model"
)

func setupRepository(t *testing.T) *EntityRepository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	repo, err := Open(context.Background(), db, "sqlite3", "")
	require.NoError(t, err)
	return repo
}

func newNote(text string) model.Entity {
	e := model.NewEntity("Note")
	e.Properties.Set("text", model.String(text)).Set("stars", model.Int(3))
	e.Owner = "user-1"
	return e
}

func TestEntityRepository_CRUD(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, newNote("hello"))
	require.NoError(t, err)
	assert.True(t, created.IsPersisted())
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	fetched, err := repo.Fetch(ctx, "Note", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "user-1", fetched.Owner)
	assert.True(t, created.Properties.Equal(fetched.Properties))

	fetched.Properties.Set("text", model.String("updated"))
	updated, err := repo.Update(ctx, fetched)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	again, err := repo.Fetch(ctx, "Note", created.ID)
	require.NoError(t, err)
	text, _ := again.Properties.Get("text")
	assert.Equal(t, model.String("updated"), text)

	deleted, err := repo.Delete(ctx, "Note", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, deleted.ID)

	_, err = repo.Fetch(ctx, "Note", created.ID)
	assert.True(t, cloudbackend.IsNotFound(err))
}

func TestEntityRepository_NotFound(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, newNote("hello"))
	require.NoError(t, err)

	_, err = repo.Fetch(ctx, "OtherKind", created.ID)
	assert.True(t, cloudbackend.IsNotFound(err), "kind is part of the key")

	_, err = repo.Delete(ctx, "Note", "missing")
	assert.True(t, cloudbackend.IsNotFound(err))

	ghost := newNote("ghost")
	ghost.ID = "missing"
	_, err = repo.Update(ctx, ghost)
	assert.True(t, cloudbackend.IsNotFound(err))
}

func TestEntityRepository_Validation(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, model.Entity{})
	assert.True(t, cloudbackend.IsValidation(err))

	_, err = repo.Update(ctx, newNote("unsaved"))
	assert.True(t, cloudbackend.IsValidation(err))

	_, err = repo.Query(ctx, model.Query{})
	assert.True(t, cloudbackend.IsValidation(err))
}

func TestEntityRepository_StrictlyIncreasingTimestamps(t *testing.T) {
	repo := setupRepository(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 5; i++ {
		e, err := repo.Create(ctx, newNote("n"))
		require.NoError(t, err)
		assert.True(t, e.CreatedAt.After(prev))
		prev = e.CreatedAt
	}
}

func TestEntityRepository_Query(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	var created []model.Entity
	for _, text := range []string{"a", "b", "c", "d"} {
		e, err := repo.Create(ctx, newNote(text))
		require.NoError(t, err)
		created = append(created, e)
	}
	other := model.NewEntity("Other")
	_, err := repo.Create(ctx, other)
	require.NoError(t, err)

	t.Run("default order is newest update first", func(t *testing.T) {
		got, err := repo.Query(ctx, model.NewQuery("Note"))
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, created[3].ID, got[0].ID)
		assert.Equal(t, created[0].ID, got[3].ID)
	})

	t.Run("pushed time filter with limit", func(t *testing.T) {
		q := model.NewQuery("Note").
			Where(model.Gt(model.FieldCreatedAt, model.Time(created[0].CreatedAt))).
			OrderBy(model.FieldCreatedAt, true).
			WithLimit(2)
		got, err := repo.Query(ctx, q)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, created[1].ID, got[0].ID)
		assert.Equal(t, created[2].ID, got[1].ID)
	})

	t.Run("residual property filter", func(t *testing.T) {
		q := model.NewQuery("Note").Where(model.And(
			model.In("text", model.String("a"), model.String("c")),
			model.Ge(model.FieldCreatedAt, model.Time(created[1].CreatedAt)),
		)).WithLimit(1)
		got, err := repo.Query(ctx, q)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, created[2].ID, got[0].ID)
	})

	t.Run("sort by property", func(t *testing.T) {
		q := model.NewQuery("Note").OrderBy("text", true).WithLimit(3)
		got, err := repo.Query(ctx, q)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, want := range []string{"a", "b", "c"} {
			v, _ := got[i].Properties.Get("text")
			assert.Equal(t, model.String(want), v)
		}
	})
}

func TestEntityRepository_BacklogQuery(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	sub := model.NewSubscription("news", 2, func([]model.Message, error) {})
	sub.LastSeen = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, topic := range []string{"news", "sports", model.BroadcastTopicID, "news", "news"} {
		msg := model.NewMessage(topic)
		msg.Payload = "about " + topic
		_, err := repo.Create(ctx, msg.ToEntity())
		require.NoError(t, err)
	}

	got, err := repo.Query(ctx, sub.BacklogQuery())
	require.NoError(t, err)
	require.Len(t, got, 2)

	for _, e := range got {
		msg, err := model.MessageFromEntity(e)
		require.NoError(t, err)
		assert.Equal(t, "news", msg.TopicID)
	}
	assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt), "newest first")
}

func TestPushdown(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		query     model.Query
		wantWhere string
		wantArgs  int
		wantLimit int
		wantOrder string
	}{
		{
			name:      "kind only",
			query:     model.NewQuery("Note"),
			wantWhere: "kind_name = ?",
			wantArgs:  1,
			wantLimit: model.DefaultQueryLimit,
			wantOrder: "updated_at DESC, id ASC",
		},
		{
			name:      "single time leaf",
			query:     model.NewQuery("Note").Where(model.Lt(model.FieldUpdatedAt, model.Time(ts))).WithLimit(5),
			wantWhere: "kind_name = ? AND updated_at < ?",
			wantArgs:  2,
			wantLimit: 5,
			wantOrder: "updated_at DESC, id ASC",
		},
		{
			name: "mixed conjunction keeps limit in memory",
			query: model.NewQuery("Note").
				Where(model.And(model.Eq("text", model.String("a")), model.Gt(model.FieldCreatedAt, model.Time(ts)))).
				OrderBy(model.FieldCreatedAt, true),
			wantWhere: "kind_name = ? AND created_at > ?",
			wantArgs:  2,
			wantOrder: "created_at ASC, id ASC",
		},
		{
			name:      "disjunction is not pushed",
			query:     model.NewQuery("Note").Where(model.Or(model.Gt(model.FieldCreatedAt, model.Time(ts)))),
			wantWhere: "kind_name = ?",
			wantArgs:  1,
			wantOrder: "updated_at DESC, id ASC",
		},
		{
			name:      "property sort",
			query:     model.NewQuery("Note").OrderBy("text", true),
			wantWhere: "kind_name = ?",
			wantArgs:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pushdown(tt.query)
			assert.Equal(t, tt.wantWhere, p.where)
			assert.Len(t, p.args, tt.wantArgs)
			assert.Equal(t, tt.wantLimit, p.limit)
			assert.Equal(t, tt.wantOrder, p.orderBy)
		})
	}
}
