package cloudbackend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coregx/cloudbackend/model"
)

// DefaultSweepBatchSize is the number of messages inspected per backend query.
const DefaultSweepBatchSize = 100

// RetentionSweeper deletes messages whose TTL has elapsed, i.e. whose
// createdAt + duration is not after now. Messages without a TTL are kept.
//
// A sweep can be run directly, on an interval with Run, or on a cron
// schedule with Start. Overlapping sweeps are skipped.
type RetentionSweeper struct {
	entities  EntityService
	logger    Logger
	batchSize int
	now       func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// SweeperOption configures a RetentionSweeper.
type SweeperOption func(*RetentionSweeper) error

// NewRetentionSweeper creates a new RetentionSweeper with the provided options.
//
// Required options:
//   - WithSweeperEntityService: backend storing messages
//   - WithSweeperLogger: logger instance
//
// Optional options:
//   - WithSweepBatchSize: messages per query (default: 100)
//   - WithSweeperClock: time source (default: time.Now)
func NewRetentionSweeper(opts ...SweeperOption) (*RetentionSweeper, error) {
	s := &RetentionSweeper{
		batchSize: DefaultSweepBatchSize,
		now:       time.Now,
		cron:      cron.New(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply sweeper option", err)
		}
	}

	if s.entities == nil {
		return nil, NewError(ErrCodeConfiguration, "EntityService is required (use WithSweeperEntityService)")
	}
	if s.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithSweeperLogger)")
	}

	return s, nil
}

// WithSweeperEntityService sets the backend storing messages.
func WithSweeperEntityService(entities EntityService) SweeperOption {
	return func(s *RetentionSweeper) error {
		if entities == nil {
			return fmt.Errorf("entity service cannot be nil")
		}
		s.entities = entities
		return nil
	}
}

// WithSweeperLogger sets the logger instance.
func WithSweeperLogger(logger Logger) SweeperOption {
	return func(s *RetentionSweeper) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithSweepBatchSize sets the number of messages inspected per query.
// Must be > 0.
func WithSweepBatchSize(size int) SweeperOption {
	return func(s *RetentionSweeper) error {
		if size <= 0 {
			return fmt.Errorf("batch size must be > 0, got %d", size)
		}
		s.batchSize = size
		return nil
	}
}

// WithSweeperClock sets the time source used to decide expiry.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *RetentionSweeper) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		s.now = now
		return nil
	}
}

// Sweep deletes every expired message and returns how many were deleted.
// Individual delete failures are logged and skipped; a failed query aborts
// the sweep.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	if !s.begin() {
		s.logger.Debugf("Retention sweep skipped, previous sweep still running")
		return 0, nil
	}
	defer s.end()

	now := s.now()
	var cursor time.Time
	deleted := 0

	for {
		q := model.Query{
			KindName:      model.MessageKind,
			SortedBy:      model.FieldCreatedAt,
			SortAscending: true,
			Limit:         s.batchSize,
		}
		if !cursor.IsZero() {
			q.Filter = model.Gt(model.FieldCreatedAt, model.Time(cursor))
		}

		batch, err := s.entities.Query(ctx, q)
		if err != nil {
			return deleted, transportError("failed to query messages", err)
		}

		for _, e := range batch {
			cursor = e.CreatedAt

			msg, err := model.MessageFromEntity(e)
			if err != nil {
				s.logger.Warnf("Skipping malformed message %s: %v", e.ID, err)
				continue
			}
			expiresAt, ok := msg.ExpiresAt()
			if !ok || expiresAt.After(now) {
				continue
			}
			if _, err := s.entities.Delete(ctx, model.MessageKind, msg.ID); err != nil && !IsNotFound(err) {
				s.logger.Errorf("Failed to delete expired message %s: %v", msg.ID, err)
				continue
			}
			deleted++
		}

		if len(batch) < s.batchSize {
			break
		}
	}

	if deleted > 0 {
		s.logger.Infof("Retention sweep deleted %d expired messages", deleted)
	}
	return deleted, nil
}

func (s *RetentionSweeper) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *RetentionSweeper) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Run sweeps every interval until ctx is canceled.
// This method blocks and should typically be run in a goroutine.
func (s *RetentionSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Retention sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Errorf("Retention sweep failed: %v", err)
			}
		}
	}
}

// Start schedules sweeps with a standard five-field cron spec, for example
// "*/5 * * * *" or "@every 1m".
func (s *RetentionSweeper) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Errorf("Retention sweep failed: %v", err)
		}
	}); err != nil {
		return NewErrorWithCause(ErrCodeConfiguration, fmt.Sprintf("invalid retention schedule %q", spec), err)
	}
	s.cron.Start()
	s.logger.Infof("Retention sweeper scheduled: %s", spec)
	return nil
}

// Stop stops the cron schedule. The returned context is done once a running
// sweep has finished.
func (s *RetentionSweeper) Stop() context.Context {
	return s.cron.Stop()
}
