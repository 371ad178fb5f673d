package model

import "time"

// Built-in entity field names. They can be used as filter properties and
// sort keys alongside user-defined property names.
const (
	FieldID        = "_id"
	FieldKindName  = "_kindName"
	FieldCreatedAt = "_createdAt"
	FieldUpdatedAt = "_updatedAt"
	FieldCreatedBy = "_createdBy"
	FieldUpdatedBy = "_updatedBy"
	FieldOwner     = "_owner"
)

// Entity is a generic backend record: a kind name, a set of typed
// properties and the bookkeeping fields the backend assigns.
//
// ID, CreatedAt and UpdatedAt are empty until the entity has been persisted.
type Entity struct {
	ID         string      `json:"id,omitempty"`
	KindName   string      `json:"kindName"`
	Properties *Properties `json:"properties"`
	Owner      string      `json:"owner,omitempty"`
	CreatedBy  string      `json:"createdBy,omitempty"`
	UpdatedBy  string      `json:"updatedBy,omitempty"`
	CreatedAt  time.Time   `json:"createdAt,omitzero"`
	UpdatedAt  time.Time   `json:"updatedAt,omitzero"`
}

// NewEntity creates an unsaved entity of the given kind with no properties.
func NewEntity(kindName string) Entity {
	return Entity{
		KindName:   kindName,
		Properties: NewProperties(),
	}
}

// IsPersisted reports whether the backend has assigned an id.
func (e Entity) IsPersisted() bool {
	return e.ID != ""
}

// Field returns the value of a built-in field or a user property.
// Zero timestamps are reported as null.
func (e Entity) Field(name string) (Value, bool) {
	switch name {
	case FieldID:
		return String(e.ID), true
	case FieldKindName:
		return String(e.KindName), true
	case FieldOwner:
		return String(e.Owner), true
	case FieldCreatedBy:
		return String(e.CreatedBy), true
	case FieldUpdatedBy:
		return String(e.UpdatedBy), true
	case FieldCreatedAt:
		return timeOrNull(e.CreatedAt), true
	case FieldUpdatedAt:
		return timeOrNull(e.UpdatedAt), true
	default:
		return e.Properties.Get(name)
	}
}

// Clone returns a copy whose properties can be modified independently.
func (e Entity) Clone() Entity {
	e.Properties = e.Properties.Clone()
	return e
}

func timeOrNull(t time.Time) Value {
	if t.IsZero() {
		return Null()
	}
	return Time(t)
}
