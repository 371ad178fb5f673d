package model

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Storage layout of messages in the entity backend.
const (
	// MessageKind is the entity kind that holds messages.
	MessageKind = "_CloudMessages"

	// BroadcastTopicID is the reserved topic delivered to every subscriber.
	BroadcastTopicID = "_broadcast"

	PropTopicID  = "topicId"
	PropPayload  = "message"
	PropDuration = "duration"
)

// Message is a unit of pub/sub content. Messages are never mutated after they
// have been sent; the backend removes them once their TTL elapses.
type Message struct {
	ID         string    `json:"id,omitempty"`        // Backend-assigned, empty until sent
	TopicID    string    `json:"topicId"`             // Destination topic
	Payload    string    `json:"message"`             // Opaque content
	TTLSeconds int       `json:"duration"`            // Retention in seconds, 0 keeps forever
	CreatedAt  time.Time `json:"createdAt,omitzero"` // Backend-assigned send time
}

// NewMessage creates an unsent message for topicID.
func NewMessage(topicID string) Message {
	return Message{TopicID: topicID}
}

// NewBroadcastMessage creates an unsent message for the broadcast topic.
func NewBroadcastMessage() Message {
	return NewMessage(BroadcastTopicID)
}

// IsBroadcast reports whether the message targets every subscriber.
func (m Message) IsBroadcast() bool {
	return m.TopicID == BroadcastTopicID
}

// IsPersisted reports whether the backend has assigned an id.
func (m Message) IsPersisted() bool {
	return m.ID != ""
}

// ExpiresAt returns the time the message becomes eligible for removal.
// It reports false for messages without a TTL or not yet persisted.
func (m Message) ExpiresAt() (time.Time, bool) {
	if m.TTLSeconds <= 0 || m.CreatedAt.IsZero() {
		return time.Time{}, false
	}
	return m.CreatedAt.Add(time.Duration(m.TTLSeconds) * time.Second), true
}

// Validate checks that the message can be sent.
func (m Message) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TopicID, validation.Required, validation.Length(1, 256)),
		validation.Field(&m.TTLSeconds, validation.Min(0)),
	)
}

// ToEntity converts the message into its storage entity.
func (m Message) ToEntity() Entity {
	e := NewEntity(MessageKind)
	e.ID = m.ID
	e.CreatedAt = m.CreatedAt
	e.Properties.
		Set(PropTopicID, String(m.TopicID)).
		Set(PropPayload, String(m.Payload)).
		Set(PropDuration, Int(int64(m.TTLSeconds)))
	return e
}

// MessageFromEntity converts a stored entity back into a message.
func MessageFromEntity(e Entity) (Message, error) {
	if e.KindName != MessageKind {
		return Message{}, fmt.Errorf("entity %s has kind %q, want %q", e.ID, e.KindName, MessageKind)
	}

	m := Message{ID: e.ID, CreatedAt: e.CreatedAt}

	v, _ := e.Properties.Get(PropTopicID)
	topicID, ok := v.AsString()
	if !ok {
		return Message{}, fmt.Errorf("entity %s: property %s is %s, want string", e.ID, PropTopicID, v.Kind())
	}
	m.TopicID = topicID

	if v, ok := e.Properties.Get(PropPayload); ok && !v.IsNull() {
		payload, ok := v.AsString()
		if !ok {
			return Message{}, fmt.Errorf("entity %s: property %s is %s, want string", e.ID, PropPayload, v.Kind())
		}
		m.Payload = payload
	}

	if v, ok := e.Properties.Get(PropDuration); ok && !v.IsNull() {
		ttl, ok := v.AsFloat()
		if !ok {
			return Message{}, fmt.Errorf("entity %s: property %s is %s, want number", e.ID, PropDuration, v.Kind())
		}
		m.TTLSeconds = int(ttl)
	}

	return m, nil
}
