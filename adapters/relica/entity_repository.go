package relica

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/coregx/relica"
	"github.com/google/uuid"

	"github.com/coregx/cloudbackend"
	"github.com/coregx/cloudbackend/model"
)

// entityRow is the stored form of a model.Entity. Timestamps are Unix
// nanoseconds and properties are the JSON object produced by
// model.Properties.
type entityRow struct {
	ID         int64  `db:"id"`
	EntityID   string `db:"entity_id"`
	KindName   string `db:"kind_name"`
	Owner      string `db:"owner"`
	CreatedBy  string `db:"created_by"`
	UpdatedBy  string `db:"updated_by"`
	CreatedAt  int64  `db:"created_at"`
	UpdatedAt  int64  `db:"updated_at"`
	Properties string `db:"properties"`
}

// columns maps built-in fields to the columns a query can filter and sort on.
var columns = map[string]string{
	model.FieldCreatedAt: "created_at",
	model.FieldUpdatedAt: "updated_at",
}

// EntityRepository implements cloudbackend.EntityService using Relica.
//
// Timestamp comparisons on _createdAt and _updatedAt found at the top level
// of a query filter are evaluated by the database. The rest of the filter is
// evaluated in memory with model.Query.Apply.
//
// Thread safety: all methods are safe for concurrent use. CreatedAt is
// strictly increasing per repository instance.
type EntityRepository struct {
	db          *relica.DB
	tablePrefix string
	now         func() time.Time

	mu   sync.Mutex
	last int64
}

// NewEntityRepository creates a new EntityRepository with default table prefix.
func NewEntityRepository(sqlDB *sql.DB, driverName string) *EntityRepository {
	return NewEntityRepositoryWithPrefix(sqlDB, driverName, cloudbackend.DefaultTablePrefix)
}

// NewEntityRepositoryWithPrefix creates a new EntityRepository with custom table prefix.
func NewEntityRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *EntityRepository {
	return &EntityRepository{
		db:          relica.WrapDB(sqlDB, driverName),
		tablePrefix: prefix,
		now:         time.Now,
	}
}

func (r *EntityRepository) tableName() string {
	return r.tablePrefix + "cloud_entity"
}

// stamp returns the next timestamp in Unix nanoseconds, never repeating
// or going backwards.
func (r *EntityRepository) stamp() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now().UnixNano()
	if ts <= r.last {
		ts = r.last + 1
	}
	r.last = ts
	return ts
}

// Create inserts a new entity with a generated id.
func (r *EntityRepository) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	if e.KindName == "" {
		return model.Entity{}, cloudbackend.NewError(cloudbackend.ErrCodeValidation, "entity kind is required")
	}

	ts := r.stamp()
	e = e.Clone()
	e.ID = uuid.NewString()

	row, err := toRow(e)
	if err != nil {
		return model.Entity{}, err
	}
	row.CreatedAt = ts
	row.UpdatedAt = ts

	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Insert(); err != nil {
		return model.Entity{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport, "failed to insert entity", err)
	}
	return fromRow(row)
}

// Fetch retrieves an entity by kind and id.
func (r *EntityRepository) Fetch(ctx context.Context, kindName, id string) (model.Entity, error) {
	row, err := r.load(ctx, kindName, id)
	if err != nil {
		return model.Entity{}, err
	}
	return fromRow(row)
}

// Update stores the entity's properties and owner fields.
func (r *EntityRepository) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	if !e.IsPersisted() {
		return model.Entity{}, cloudbackend.NewError(cloudbackend.ErrCodeValidation, "entity id is required for update")
	}

	stored, err := r.load(ctx, e.KindName, e.ID)
	if err != nil {
		return model.Entity{}, err
	}

	row, err := toRow(e)
	if err != nil {
		return model.Entity{}, err
	}
	row.ID = stored.ID
	row.CreatedAt = stored.CreatedAt
	row.UpdatedAt = r.stamp()

	// Update using Model() API - auto WHERE id = ?
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Update(); err != nil {
		return model.Entity{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport, "failed to update entity", err)
	}
	return fromRow(row)
}

// Delete removes an entity and returns its last stored state.
func (r *EntityRepository) Delete(ctx context.Context, kindName, id string) (model.Entity, error) {
	row, err := r.load(ctx, kindName, id)
	if err != nil {
		return model.Entity{}, err
	}

	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Delete(); err != nil {
		return model.Entity{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport, "failed to delete entity", err)
	}
	return fromRow(row)
}

// Query returns the entities selected by q.
func (r *EntityRepository) Query(ctx context.Context, q model.Query) ([]model.Entity, error) {
	if err := q.Validate(); err != nil {
		return nil, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeValidation, "invalid query", err)
	}

	p := pushdown(q)

	sel := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where(p.where, p.args...)
	if p.orderBy != "" {
		sel = sel.OrderBy(p.orderBy)
	}
	if p.limit > 0 {
		sel = sel.Limit(int64(p.limit))
	}

	var rows []entityRow
	if err := sel.All(&rows); err != nil {
		return nil, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport, "failed to query entities", err)
	}

	entities := make([]model.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return q.Apply(entities), nil
}

func (r *EntityRepository) load(ctx context.Context, kindName, id string) (entityRow, error) {
	var row entityRow
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("entity_id = ? AND kind_name = ?", id, kindName).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return row, cloudbackend.NotFoundError(kindName, id)
	}
	if err != nil {
		return row, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport, "failed to load entity", err)
	}
	return row, nil
}

// plan is the part of a query the database evaluates.
type plan struct {
	where   string
	args    []interface{}
	orderBy string
	limit   int
}

// Times outside this range have no int64 nanosecond representation.
var (
	minStamp = time.Unix(0, math.MinInt64)
	maxStamp = time.Unix(0, math.MaxInt64)
)

var sqlOps = map[model.Operator]string{
	model.OpEQ: "=",
	model.OpNE: "<>",
	model.OpLT: "<",
	model.OpLE: "<=",
	model.OpGT: ">",
	model.OpGE: ">=",
}

// pushdown translates the kind and the pushable top-level conditions of q.
// The limit is only pushed when the whole filter was translated and the
// sort key is a column.
func pushdown(q model.Query) plan {
	conds := []string{"kind_name = ?"}
	args := []interface{}{q.KindName}

	var leaves []*model.Filter
	switch {
	case q.Filter == nil:
	case q.Filter.Operator == model.OpAND:
		leaves = q.Filter.Subfilters
	default:
		leaves = []*model.Filter{q.Filter}
	}

	complete := true
	for _, f := range leaves {
		cond, arg, ok := pushLeaf(f)
		if !ok {
			complete = false
			continue
		}
		conds = append(conds, cond)
		args = append(args, arg)
	}

	p := plan{where: strings.Join(conds, " AND "), args: args}
	if col, ok := columns[q.SortedBy]; ok {
		dir := "DESC"
		if q.SortAscending {
			dir = "ASC"
		}
		p.orderBy = fmt.Sprintf("%s %s, id ASC", col, dir)
		if complete {
			p.limit = q.EffectiveLimit()
		}
	}
	return p
}

func pushLeaf(f *model.Filter) (string, interface{}, bool) {
	if f == nil || len(f.Values) != 1 {
		return "", nil, false
	}
	col, ok := columns[f.Property]
	if !ok {
		return "", nil, false
	}
	op, ok := sqlOps[f.Operator]
	if !ok {
		return "", nil, false
	}
	t, ok := f.Values[0].AsTime()
	if !ok || t.Before(minStamp) || t.After(maxStamp) {
		return "", nil, false
	}
	return col + " " + op + " ?", t.UnixNano(), true
}

func toRow(e model.Entity) (entityRow, error) {
	props := e.Properties
	if props == nil {
		props = model.NewProperties()
	}
	data, err := json.Marshal(props)
	if err != nil {
		return entityRow{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeValidation, "failed to encode entity properties", err)
	}
	return entityRow{
		EntityID:   e.ID,
		KindName:   e.KindName,
		Owner:      e.Owner,
		CreatedBy:  e.CreatedBy,
		UpdatedBy:  e.UpdatedBy,
		Properties: string(data),
	}, nil
}

func fromRow(row entityRow) (model.Entity, error) {
	props := model.NewProperties()
	if err := json.Unmarshal([]byte(row.Properties), props); err != nil {
		return model.Entity{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport,
			fmt.Sprintf("failed to decode properties of entity %s", row.EntityID), err)
	}
	return model.Entity{
		ID:         row.EntityID,
		KindName:   row.KindName,
		Properties: props,
		Owner:      row.Owner,
		CreatedBy:  row.CreatedBy,
		UpdatedBy:  row.UpdatedBy,
		CreatedAt:  time.Unix(0, row.CreatedAt).UTC(),
		UpdatedAt:  time.Unix(0, row.UpdatedAt).UTC(),
	}, nil
}

var _ cloudbackend.EntityService = (*EntityRepository)(nil)
