package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/coregx/cloudbackend"
	"github.com/coregx/cloudbackend/model"
)

// DefaultCollection is used when Config.CollectionName is empty.
const DefaultCollection = "cloud_entities"

// Firestore stores timestamps with microsecond precision.
const stampResolution = time.Microsecond

// Config holds configuration for the Firestore entity store.
type Config struct {
	ProjectID      string
	CollectionName string
}

// entityDoc is the stored form of a model.Entity. The document id is the
// entity id.
type entityDoc struct {
	KindName   string    `firestore:"kindName"`
	Owner      string    `firestore:"owner"`
	CreatedBy  string    `firestore:"createdBy"`
	UpdatedBy  string    `firestore:"updatedBy"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
	Properties string    `firestore:"properties"`
}

// fields maps built-in entity fields to document fields a query can use.
var fields = map[string]string{
	model.FieldCreatedAt: "createdAt",
	model.FieldUpdatedAt: "updatedAt",
}

// EntityStore implements cloudbackend.EntityService on a Firestore collection.
//
// Thread safety: all methods are safe for concurrent use. CreatedAt is
// strictly increasing per store instance.
type EntityStore struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
	now        func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewEntityStore creates an EntityStore on an existing client.
func NewEntityStore(cfg Config, client *firestore.Client, logger zerolog.Logger) (*EntityStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	collection := cfg.CollectionName
	if collection == "" {
		collection = DefaultCollection
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", collection).Msg("Firestore entity store initialized.")

	return &EntityStore{
		client:     client,
		collection: collection,
		logger:     logger.With().Str("component", "FirestoreEntityStore").Logger(),
		now:        time.Now,
	}, nil
}

// stamp returns a creation time at stampResolution that is strictly
// increasing and never earlier than the clock reading, so a watermark taken
// from a nanosecond clock before the write always compares below it.
func (s *EntityStore) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	ts := now.Truncate(stampResolution)
	if ts.Before(now) {
		ts = ts.Add(stampResolution)
	}
	if !ts.After(s.last) {
		ts = s.last.Add(stampResolution)
	}
	s.last = ts
	return ts
}

// Create writes a new document with a generated id.
func (s *EntityStore) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	if e.KindName == "" {
		return model.Entity{}, cloudbackend.NewError(cloudbackend.ErrCodeValidation, "entity kind is required")
	}

	e = e.Clone()
	e.ID = uuid.NewString()
	e.CreatedAt = s.stamp()
	e.UpdatedAt = e.CreatedAt

	doc, err := toDoc(e)
	if err != nil {
		return model.Entity{}, err
	}
	if _, err := s.client.Collection(s.collection).Doc(e.ID).Create(ctx, doc); err != nil {
		s.logger.Error().Err(err).Str("kind", e.KindName).Msg("Failed to create entity document.")
		return model.Entity{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport, "failed to create entity", err)
	}
	return e, nil
}

// Fetch reads an entity by kind and id.
func (s *EntityStore) Fetch(ctx context.Context, kindName, id string) (model.Entity, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		return model.Entity{}, s.readError(err, kindName, id)
	}
	return s.fromSnapshot(snap, kindName)
}

// Update replaces the stored properties and owner fields in a transaction.
func (s *EntityStore) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	if !e.IsPersisted() {
		return model.Entity{}, cloudbackend.NewError(cloudbackend.ErrCodeValidation, "entity id is required for update")
	}

	ref := s.client.Collection(s.collection).Doc(e.ID)
	var updated model.Entity
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return s.readError(err, e.KindName, e.ID)
		}
		stored, err := s.fromSnapshot(snap, e.KindName)
		if err != nil {
			return err
		}

		updated = e.Clone()
		updated.CreatedAt = stored.CreatedAt
		updated.UpdatedAt = s.stamp()
		doc, err := toDoc(updated)
		if err != nil {
			return err
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		var cbErr *cloudbackend.Error
		if errors.As(err, &cbErr) {
			return model.Entity{}, err
		}
		return model.Entity{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport, "failed to update entity", err)
	}
	return updated, nil
}

// Delete removes an entity and returns its last stored state.
func (s *EntityStore) Delete(ctx context.Context, kindName, id string) (model.Entity, error) {
	stored, err := s.Fetch(ctx, kindName, id)
	if err != nil {
		return model.Entity{}, err
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Delete(ctx); err != nil {
		return model.Entity{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport, "failed to delete entity", err)
	}
	return stored, nil
}

// Query runs the pushable part of q in Firestore and the rest in memory.
func (s *EntityStore) Query(ctx context.Context, q model.Query) ([]model.Entity, error) {
	if err := q.Validate(); err != nil {
		return nil, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeValidation, "invalid query", err)
	}

	p := pushdown(q)
	fq := s.client.Collection(s.collection).Where("kindName", "==", q.KindName)
	for _, c := range p.conds {
		fq = fq.Where(c.path, c.op, c.value)
	}
	if p.orderBy != "" {
		fq = fq.OrderBy(p.orderBy, p.direction)
	}
	if p.limit > 0 {
		fq = fq.Limit(p.limit)
	}

	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		s.logger.Error().Err(err).Str("kind", q.KindName).Msg("Firestore query failed.")
		return nil, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport, "failed to query entities", err)
	}

	entities := make([]model.Entity, 0, len(snaps))
	for _, snap := range snaps {
		e, err := s.fromSnapshot(snap, q.KindName)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return q.Apply(entities), nil
}

func (s *EntityStore) readError(err error, kindName, id string) error {
	if status.Code(err) == codes.NotFound {
		return cloudbackend.NotFoundError(kindName, id)
	}
	s.logger.Error().Err(err).Str("id", id).Msg("Failed to get entity document.")
	return cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport, "failed to fetch entity", err)
}

func (s *EntityStore) fromSnapshot(snap *firestore.DocumentSnapshot, kindName string) (model.Entity, error) {
	var doc entityDoc
	if err := snap.DataTo(&doc); err != nil {
		return model.Entity{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport,
			fmt.Sprintf("failed to map entity document %s", snap.Ref.ID), err)
	}
	if doc.KindName != kindName {
		return model.Entity{}, cloudbackend.NotFoundError(kindName, snap.Ref.ID)
	}
	return fromDoc(snap.Ref.ID, doc)
}

// condition is one Firestore where clause.
type condition struct {
	path  string
	op    string
	value interface{}
}

type plan struct {
	conds     []condition
	orderBy   string
	direction firestore.Direction
	limit     int
}

var firestoreOps = map[model.Operator]string{
	model.OpEQ: "==",
	model.OpLT: "<",
	model.OpLE: "<=",
	model.OpGT: ">",
	model.OpGE: ">=",
}

// pushdown selects the top-level time comparisons on the sort field.
// The limit is pushed when nothing is left for memory.
func pushdown(q model.Query) plan {
	var p plan
	sortField, sortable := fields[q.SortedBy]
	if sortable {
		p.orderBy = sortField
		p.direction = firestore.Desc
		if q.SortAscending {
			p.direction = firestore.Asc
		}
	}

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
		c, ok := pushLeaf(f)
		if !ok || !sortable || c.path != sortField {
			complete = false
			continue
		}
		p.conds = append(p.conds, c)
	}

	if sortable && complete {
		p.limit = q.EffectiveLimit()
	}
	return p
}

func pushLeaf(f *model.Filter) (condition, bool) {
	if f == nil || len(f.Values) != 1 {
		return condition{}, false
	}
	path, ok := fields[f.Property]
	if !ok {
		return condition{}, false
	}
	op, ok := firestoreOps[f.Operator]
	if !ok {
		return condition{}, false
	}
	t, ok := f.Values[0].AsTime()
	if !ok {
		return condition{}, false
	}
	return condition{path: path, op: op, value: t}, true
}

func toDoc(e model.Entity) (entityDoc, error) {
	props := e.Properties
	if props == nil {
		props = model.NewProperties()
	}
	data, err := json.Marshal(props)
	if err != nil {
		return entityDoc{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeValidation, "failed to encode entity properties", err)
	}
	return entityDoc{
		KindName:   e.KindName,
		Owner:      e.Owner,
		CreatedBy:  e.CreatedBy,
		UpdatedBy:  e.UpdatedBy,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
		Properties: string(data),
	}, nil
}

func fromDoc(id string, doc entityDoc) (model.Entity, error) {
	props := model.NewProperties()
	if doc.Properties != "" {
		if err := json.Unmarshal([]byte(doc.Properties), props); err != nil {
			return model.Entity{}, cloudbackend.NewErrorWithCause(cloudbackend.ErrCodeTransport,
				fmt.Sprintf("failed to decode properties of entity %s", id), err)
		}
	}
	return model.Entity{
		ID:         id,
		KindName:   doc.KindName,
		Properties: props,
		Owner:      doc.Owner,
		CreatedBy:  doc.CreatedBy,
		UpdatedBy:  doc.UpdatedBy,
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}, nil
}

var _ cloudbackend.EntityService = (*EntityStore)(nil)
