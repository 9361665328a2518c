package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/metrics"
)

const sweepBatch = 50

// SizeReporter is implemented by backends that can report their on-disk size.
type SizeReporter interface {
	DBSizeBytes() (int64, error)
}

// SweeperConfig controls the background jobs.
type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Retention  time.Duration
}

// Sweeper runs the periodic outbox jobs: redelivering intents left pending
// past StaleAfter, and purging finished entries older than Retention.
type Sweeper struct {
	cfg       SweeperConfig
	store     Store
	deliverer *Deliverer
	sizer     SizeReporter
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	scheduler gocron.Scheduler
	now       func() time.Time
}

// NewSweeper creates a sweeper. sizer and m may be nil.
func NewSweeper(cfg SweeperConfig, st Store, deliverer *Deliverer, sizer SizeReporter, m *metrics.Metrics, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		cfg:       cfg,
		store:     st,
		deliverer: deliverer,
		sizer:     sizer,
		metrics:   m,
		logger:    logger.With().Str("component", "outbox.sweeper").Logger(),
		now:       time.Now,
	}
}

// Sweep redelivers pending intents older than StaleAfter. Entries another
// worker claims first are skipped. It returns the number delivered.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	pending, err := s.store.PendingOutbox(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	s.logger.Info().Int("count", len(pending)).Msg("redelivering stale outbox entries")

	delivered := 0
	for _, e := range pending {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		default:
		}

		_, err := s.deliverer.Deliver(ctx, e.ID)
		switch {
		case err == nil:
			delivered++
			s.metrics.RecordSweep("done")
		case errors.Is(err, perrors.ErrConflict):
			s.metrics.RecordSweep("skipped")
		default:
			s.metrics.RecordSweep("failed")
			s.logger.Warn().Err(err).Str("outbox_id", e.ID).Msg("redelivery failed")
		}
	}
	return delivered, nil
}

// Purge deletes finished entries older than Retention and refreshes the
// store size gauge.
func (s *Sweeper) Purge(ctx context.Context) (int, error) {
	n, err := s.store.PurgeOutbox(ctx, s.now().Add(-s.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("purged finished outbox entries")
	}
	if s.sizer != nil {
		if size, err := s.sizer.DBSizeBytes(); err == nil {
			s.metrics.SetStoreSize(size)
		} else {
			s.logger.Warn().Err(err).Msg("failed to read store size")
		}
	}
	return n, nil
}

// Start schedules the sweep and purge jobs. ctx bounds every run.
func (s *Sweeper) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() {
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("outbox sweep failed")
			}
		}),
		gocron.WithName("outbox-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			if _, err := s.Purge(ctx); err != nil {
				s.logger.Error().Err(err).Msg("outbox purge failed")
			}
		}),
		gocron.WithName("outbox-purge"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}

	s.scheduler = scheduler
	scheduler.Start()
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("stale_after", s.cfg.StaleAfter).
		Msg("outbox sweeper started")
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Sweeper) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}
