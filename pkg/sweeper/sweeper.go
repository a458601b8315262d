// Package sweeper periodically removes expired variables from the persistent store.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/chatflow/pkg/config"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/variables"
	"github.com/robfig/cron/v3"
)

type Sweeper struct {
	persistence persistence.Persistence
	schedule    string
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// New validates the cron schedule (standard five fields or an @every/@hourly descriptor).
func New(p persistence.Persistence, cfg config.SweeperConfig, logger *slog.Logger) (*Sweeper, error) {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule '%s': %w", cfg.Schedule, err)
	}

	return &Sweeper{
		persistence: p,
		schedule:    cfg.Schedule,
		logger:      logger.With("module", "sweeper"),
		now:         time.Now,
	}, nil
}

// WithClock replaces the wall clock used to decide expiry.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now

	return s
}

// Sweep deletes expired variables of every known project. A failing project does not
// stop the others; the failures are joined into the returned error.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	projectIDs, err := s.persistence.GraphRepository().ProjectIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list projects: %w", err)
	}

	var (
		total int64
		errs  []error
	)

	for _, projectID := range projectIDs {
		manager := variables.NewManager(
			s.persistence.VariableStore(),
			variables.Owner{ProjectID: projectID},
			s.logger.With("project_id", projectID),
			variables.WithClock(s.now),
		)

		removed, err := manager.CleanupExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", projectID, err))

			continue
		}

		total += removed
	}

	return total, errors.Join(errs...)
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	entryID, err := s.cron.AddFunc(s.schedule, s.run)
	if err != nil {
		s.cancel()
		s.cron = nil

		return fmt.Errorf("failed to add sweeper job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()

	s.logger.InfoContext(ctx, "Sweeper started", "schedule", s.schedule, "entry_id", entryID)

	return nil
}

// NextRun returns the next scheduled sweep, or the zero time when the sweeper is stopped.
func (s *Sweeper) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}
	}

	return s.cron.Entry(s.entryID).Next
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	s.cancel()

	select {
	case <-c.Stop().Done():
		s.logger.InfoContext(ctx, "Sweeper stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	started := time.Now()

	removed, err := s.Sweep(s.ctx)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "Sweep failed", "error", err, "removed", removed)

		return
	}

	s.logger.DebugContext(s.ctx, "Sweep finished", "removed", removed, "elapsed", time.Since(started))
}
