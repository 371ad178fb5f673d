package cloudbackend

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/coregx/cloudbackend/model"
)

// TopicRegistry maps topic ids to the active subscription for each topic.
//
// There is at most one subscription per topic. Registration order is kept:
// replacing a subscription keeps its original position. Every registration
// gets a new generation number, which lets the dispatcher tell a replaced
// subscription from the one it started fetching for.
//
// Thread safety: Safe for concurrent use. Readers receive copies.
type TopicRegistry struct {
	mu      sync.RWMutex
	subs    *orderedmap.OrderedMap[string, model.Subscription]
	nextGen uint64
}

// NewTopicRegistry creates an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		subs: orderedmap.New[string, model.Subscription](),
	}
}

// Register adds sub under topicID or replaces the subscription already
// registered there. The stored subscription takes topicID as its TopicID and
// is returned with its newly assigned generation.
func (r *TopicRegistry) Register(topicID string, sub model.Subscription) (model.Subscription, error) {
	stored, _, err := r.Put(topicID, sub)
	return stored, err
}

// Put is Register that also reports whether a subscription was already
// registered for topicID. The check and the write happen under one lock.
func (r *TopicRegistry) Put(topicID string, sub model.Subscription) (model.Subscription, bool, error) {
	if topicID == "" {
		return model.Subscription{}, false, NewError(ErrCodeValidation, "topic ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextGen++
	sub.TopicID = topicID
	sub.Generation = r.nextGen
	_, replaced := r.subs.Set(topicID, sub)
	return sub, replaced, nil
}

// Unregister removes the subscription for topicID. It reports whether one
// was registered; removing an unknown topic is not an error.
func (r *TopicRegistry) Unregister(topicID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.subs.Delete(topicID)
	return ok
}

// Lookup returns the subscriptions a notification for topicID must reach:
// the topic's own subscription followed by the broadcast subscription, if
// any. A notification on the broadcast topic reaches every message
// subscription, in registration order. Continuous queries are reached only
// by their own topic. The result is empty, never nil, when nothing matches.
func (r *TopicRegistry) Lookup(topicID string) []model.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Subscription, 0, 2)
	if topicID == model.BroadcastTopicID {
		for pair := r.subs.Oldest(); pair != nil; pair = pair.Next() {
			if !pair.Value.IsContinuous() {
				out = append(out, pair.Value)
			}
		}
		return out
	}

	if sub, ok := r.subs.Get(topicID); ok {
		out = append(out, sub)
	}
	if model.IsQueryTopic(topicID) {
		return out
	}
	if sub, ok := r.subs.Get(model.BroadcastTopicID); ok {
		out = append(out, sub)
	}
	return out
}

// Get returns the subscription registered for topicID.
func (r *TopicRegistry) Get(topicID string) (model.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.subs.Get(topicID)
}

// Topics returns the registered topic ids in registration order.
func (r *TopicRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, r.subs.Len())
	for pair := r.subs.Oldest(); pair != nil; pair = pair.Next() {
		topics = append(topics, pair.Key)
	}
	return topics
}

// Subscriptions returns a copy of every registered subscription in
// registration order.
func (r *TopicRegistry) Subscriptions() []model.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Subscription, 0, r.subs.Len())
	for pair := r.subs.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the number of registered topics.
func (r *TopicRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.subs.Len()
}

// Advance moves the watermark of the subscription for topicID to t.
// It only applies while the registration identified by generation is still
// current, and never moves the watermark backwards. It reports whether the
// registration is still current.
func (r *TopicRegistry) Advance(topicID string, generation uint64, t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs.Get(topicID)
	if !ok || sub.Generation != generation {
		return false
	}
	if t.After(sub.LastSeen) {
		sub.LastSeen = t
		r.subs.Set(topicID, sub)
	}
	return true
}
