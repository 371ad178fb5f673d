package cloudbackend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coregx/cloudbackend/model"
)

// memEntityService is an in-memory EntityService with failure injection.
type memEntityService struct {
	mu       sync.Mutex
	entities []model.Entity
	clock    time.Time
	seq      int

	queries   []model.Query
	queryErr  error
	createErr error
	deleteErr map[string]error

	// onQuery runs after a query has been answered, outside the lock.
	onQuery func(q model.Query)
}

func newMemEntityService() *memEntityService {
	return &memEntityService{
		clock:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		deleteErr: map[string]error{},
	}
}

// tick returns the next strictly increasing timestamp.
func (s *memEntityService) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *memEntityService) Create(_ context.Context, e model.Entity) (model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return model.Entity{}, s.createErr
	}
	s.seq++
	e = e.Clone()
	e.ID = fmt.Sprintf("e%d", s.seq)
	e.CreatedAt = s.tick()
	e.UpdatedAt = e.CreatedAt
	s.entities = append(s.entities, e)
	return e.Clone(), nil
}

func (s *memEntityService) Fetch(_ context.Context, kindName, id string) (model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entities {
		if e.KindName == kindName && e.ID == id {
			return e.Clone(), nil
		}
	}
	return model.Entity{}, NotFoundError(kindName, id)
}

func (s *memEntityService) Update(_ context.Context, e model.Entity) (model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.entities {
		if existing.KindName == e.KindName && existing.ID == e.ID {
			updated := e.Clone()
			updated.CreatedAt = existing.CreatedAt
			updated.UpdatedAt = s.tick()
			s.entities[i] = updated
			return updated.Clone(), nil
		}
	}
	return model.Entity{}, NotFoundError(e.KindName, e.ID)
}

func (s *memEntityService) Delete(_ context.Context, kindName, id string) (model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteErr[id]; err != nil {
		return model.Entity{}, err
	}
	for i, e := range s.entities {
		if e.KindName == kindName && e.ID == id {
			s.entities = append(s.entities[:i], s.entities[i+1:]...)
			return e, nil
		}
	}
	return model.Entity{}, NotFoundError(kindName, id)
}

func (s *memEntityService) Query(_ context.Context, q model.Query) ([]model.Entity, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	err := s.queryErr
	var result []model.Entity
	if err == nil {
		result = q.Apply(s.entities)
	}
	hook := s.onQuery
	s.mu.Unlock()

	if hook != nil {
		hook(q)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// put stores a message directly with the given creation time.
func (s *memEntityService) put(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e := msg.ToEntity()
	if e.ID == "" {
		e.ID = fmt.Sprintf("e%d", s.seq)
	}
	e.UpdatedAt = e.CreatedAt
	s.entities = append(s.entities, e)
}

func (s *memEntityService) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func (s *memEntityService) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

func (s *memEntityService) setQueryErr(err error) {
	s.mu.Lock()
	s.queryErr = err
	s.mu.Unlock()
}

// batchRecorder collects handler invocations.
type batchRecorder struct {
	mu      sync.Mutex
	batches [][]model.Message
	errs    []error
}

func (r *batchRecorder) handle(msgs []model.Message, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
		return
	}
	r.batches = append(r.batches, msgs)
}

func (r *batchRecorder) calls() ([][]model.Message, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]model.Message(nil), r.batches...), append([]error(nil), r.errs...)
}

func payloads(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Payload
	}
	return out
}

// recordingObserver implements every observer interface.
type recordingObserver struct {
	mu        sync.Mutex
	created   []string
	removed   []string
	completed map[string]int
	failed    []error
	sent      []model.Message
	sendErrs  []error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{completed: map[string]int{}}
}

func (o *recordingObserver) SubscriptionCreated(sub model.Subscription) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, sub.TopicID)
}

func (o *recordingObserver) SubscriptionRemoved(topicID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, topicID)
}

func (o *recordingObserver) DispatchCompleted(topicID string, delivered int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed[topicID] += delivered
}

func (o *recordingObserver) DispatchFailed(_ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

func (o *recordingObserver) MessageSent(msg model.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
}

func (o *recordingObserver) SendFailed(_ model.Message, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sendErrs = append(o.sendErrs, err)
}

// countingLogger counts warnings whose format starts with a prefix.
type countingLogger struct {
	NoopLogger
	prefix string
	warns  atomic.Int64
}

func (l *countingLogger) Warnf(format string, _ ...interface{}) {
	if strings.HasPrefix(format, l.prefix) {
		l.warns.Add(1)
	}
}

// entityRecorder collects continuous query results.
type entityRecorder struct {
	mu      sync.Mutex
	results [][]model.Entity
	errs    []error
}

func (r *entityRecorder) handle(entities []model.Entity, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
		return
	}
	r.results = append(r.results, entities)
}

func (r *entityRecorder) calls() ([][]model.Entity, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]model.Entity(nil), r.results...), append([]error(nil), r.errs...)
}
