package cloudbackend

import (
	"context"

	"github.com/coregx/cloudbackend/model"
)

// EntityService defines the backend persistence interface for entities.
// Messages are stored through it as entities of kind model.MessageKind.
//
// Implementations must be safe for concurrent use. They wrap backend
// failures in an *Error with ErrCodeTransport and report unknown ids with
// an *Error with ErrCodeNotFound.
type EntityService interface {
	// Create inserts a new entity and returns it with ID, CreatedAt and
	// UpdatedAt assigned. CreatedAt must be strictly increasing across calls
	// so that watermark queries never skip a message.
	Create(ctx context.Context, e model.Entity) (model.Entity, error)

	// Fetch retrieves an entity by kind and id.
	Fetch(ctx context.Context, kindName, id string) (model.Entity, error)

	// Update replaces the properties of an existing entity and returns it
	// with a new UpdatedAt.
	Update(ctx context.Context, e model.Entity) (model.Entity, error)

	// Delete removes an entity and returns its last stored state.
	Delete(ctx context.Context, kindName, id string) (model.Entity, error)

	// Query returns the entities selected by q, sorted and limited as q
	// requests. The result must agree with q.Apply over the stored entities.
	Query(ctx context.Context, q model.Query) ([]model.Entity, error)
}

// Notifier publishes a bare topic-id notification to devices.
// The backend calls it after a message has been persisted.
type Notifier interface {
	Notify(ctx context.Context, topicID string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, topicID string) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, topicID string) error {
	return f(ctx, topicID)
}
