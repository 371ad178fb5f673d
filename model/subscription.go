package model

import "time"

// DefaultMaxOfflineMessages bounds the backlog delivered to a subscription
// that does not choose its own limit.
const DefaultMaxOfflineMessages = 100

// MessageHandler receives a dispatched batch in ascending creation order, or
// a non-nil error when the backlog could not be fetched. Exactly one of the
// two arguments is meaningful per call.
type MessageHandler func(messages []Message, err error)

// EntityHandler receives the full result of a continuous query each time it
// is rerun, or a non-nil error when the query failed.
type EntityHandler func(entities []Entity, err error)

// Subscription is one registration of a handler for a topic.
//
// LastSeen is the watermark: the creation time of the newest message already
// delivered. Only messages created strictly after it are fetched next.
type Subscription struct {
	TopicID            string         `json:"topicId"`
	Handler            MessageHandler `json:"-"`
	MaxOfflineMessages int            `json:"maxOfflineMessages"`
	LastSeen           time.Time      `json:"lastSeen"`
	CreatedAt          time.Time      `json:"createdAt"`
	Generation         uint64         `json:"generation"` // Assigned by the registry

	// Query and OnEntities are set for continuous queries, which are rerun
	// on every notification for their topic instead of fetching messages.
	Query      *Query        `json:"query,omitempty"`
	OnEntities EntityHandler `json:"-"`
}

// NewSubscription creates a subscription whose watermark is now.
// maxOfflineMessages values below 1 select DefaultMaxOfflineMessages.
func NewSubscription(topicID string, maxOfflineMessages int, handler MessageHandler) Subscription {
	if maxOfflineMessages <= 0 {
		maxOfflineMessages = DefaultMaxOfflineMessages
	}
	now := time.Now()
	return Subscription{
		TopicID:            topicID,
		Handler:            handler,
		MaxOfflineMessages: maxOfflineMessages,
		LastSeen:           now,
		CreatedAt:          now,
	}
}

// NewQuerySubscription creates the subscription of a continuous query
// registered under topicID.
func NewQuerySubscription(topicID string, q Query, handler EntityHandler) Subscription {
	now := time.Now()
	return Subscription{
		TopicID:    topicID,
		Query:      &q,
		OnEntities: handler,
		LastSeen:   now,
		CreatedAt:  now,
	}
}

// IsContinuous reports whether the subscription belongs to a continuous query.
func (s Subscription) IsContinuous() bool {
	return s.Query != nil
}

// IsBroadcast reports whether the subscription listens on the broadcast topic.
func (s Subscription) IsBroadcast() bool {
	return s.TopicID == BroadcastTopicID
}

// BacklogTopics returns the topic ids whose messages this subscription
// receives: its own topic and the broadcast topic.
func (s Subscription) BacklogTopics() []string {
	if s.IsBroadcast() {
		return []string{BroadcastTopicID}
	}
	return []string{s.TopicID, BroadcastTopicID}
}

// BacklogQuery builds the query for messages not yet delivered to s:
// newest first, limited to MaxOfflineMessages.
func (s Subscription) BacklogQuery() Query {
	topics := s.BacklogTopics()
	values := make([]Value, len(topics))
	for i, t := range topics {
		values[i] = String(t)
	}
	limit := s.MaxOfflineMessages
	if limit <= 0 {
		limit = DefaultMaxOfflineMessages
	}
	return Query{
		KindName: MessageKind,
		Filter: And(
			In(PropTopicID, values...),
			Gt(FieldCreatedAt, Time(s.LastSeen)),
		),
		SortedBy:      FieldCreatedAt,
		SortAscending: false,
		Limit:         limit,
	}
}
