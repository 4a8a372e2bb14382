package reservation

import (
	"context"
	"time"

	"github.com/bookwell/reservation-engine/internal/observability/metrics"
	"github.com/bookwell/reservation-engine/pkg/logging"
)

// Sweeper periodically retires overdue pending holds so their slots free up
// without waiting for a confirm attempt. The interval should be no coarser
// than the smallest hold duration in use to keep staleness bounded.
type Sweeper struct {
	engine   *Engine
	clock    Clock
	logger   *logging.Logger
	metrics  *metrics.ReservationMetrics
	interval time.Duration
}

// NewSweeper creates an expiry sweeper.
func NewSweeper(engine *Engine, logger *logging.Logger) *Sweeper {
	if engine == nil {
		panic("reservation: engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		engine:   engine,
		clock:    RealClock{},
		logger:   logger,
		interval: 30 * time.Second,
	}
}

// WithInterval sets the sweep cadence.
func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithSweepClock injects a clock for tests.
func (s *Sweeper) WithSweepClock(c Clock) *Sweeper {
	s.clock = c
	return s
}

// WithSweepMetrics attaches prometheus metrics.
func (s *Sweeper) WithSweepMetrics(m *metrics.ReservationMetrics) *Sweeper {
	s.metrics = m
	return s
}

// Start runs the sweeper until the context is cancelled. It sweeps once
// immediately, then on every tick. A failed sweep is logged and retried on
// the next tick; it never brings the process down.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting expiry sweeper", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper shutting down")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single expiry pass and returns how many holds it
// retired. Sweeping is idempotent: holds that were already expired,
// confirmed, or cancelled are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	started := time.Now()
	expired, err := s.engine.ExpireDue(ctx, s.clock.Now())
	s.metrics.ObserveSweep(expired, time.Since(started).Seconds())
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return expired
	}
	if expired > 0 {
		s.logger.Info("expiry sweep retired holds", "count", expired)
	}
	return expired
}
