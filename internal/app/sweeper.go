package app

import (
	"context"
	"log"
	"time"

	"github.com/clinovet/reserve-api/internal/clock"
)

const defaultSweepInterval = 30 * time.Second

// Sweeper periodically evicts expired reservations so memory stays bounded
// and status polls reflect reality promptly. It is advisory only: TryReserve
// treats stale records as vacant on its own, so a missed tick delays cleanup
// but never violates slot exclusivity.
type Sweeper struct {
	store    ReservationStore
	clock    clock.Clock
	interval time.Duration
	logger   *log.Logger
}

func NewSweeper(store ReservationStore, clk clock.Clock, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		store:    store,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	evicted, err := s.store.SweepExpired(ctx, s.clock.Now())
	if err != nil {
		s.logger.Printf("sweep error: %v", err)
		return
	}
	if evicted > 0 {
		s.logger.Printf("sweep evicted %d expired reservations", evicted)
	}
}
