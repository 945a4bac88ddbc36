package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"cipherchat/internal/logging"
	"cipherchat/internal/metrics"
)

// Purger is the part of the store the Sweeper drives.
type Purger interface {
	PurgeExpired(ctx context.Context) (PurgeResult, error)
}

// Sweeper runs PurgeExpired once at start and then on every tick until
// stopped. A failed sweep is logged and retried on the next tick.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(p Purger, interval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		purger:   p,
		interval: interval,
		logger:   logging.OrNop(logger).Named("sweeper"),
		metrics:  m,
	}
}

// Start launches the sweep loop. Calling Start on a running Sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	res, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.SweepFailed()
		s.logger.Error("sweep failed", zap.Error(err))
		return
	}

	s.metrics.Swept(res.Empty, res.Expired)
	if res.Total() > 0 {
		s.logger.Info("purged messages",
			zap.Int64("empty", res.Empty),
			zap.Int64("expired", res.Expired),
		)
	}
}
