package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StaleTypingDeleter removes typing indicators last refreshed before a threshold.
type StaleTypingDeleter interface {
	DeleteStaleTyping(ctx context.Context, threshold time.Time) (int, error)
}

// TypingSweeper deletes typing indicators whose owners never deleted them,
// e.g. because the owner went offline before the quiet period ran out.
// It runs as a background goroutine and periodically checks for stale rows.
type TypingSweeper struct {
	db       StaleTypingDeleter
	interval time.Duration
	maxAge   time.Duration
	log      *zap.Logger
	stopChan chan struct{}
	stopped  chan struct{}
}

// NewTypingSweeper creates a new sweeper.
// - interval: how often to sweep (e.g., 1 minute)
// - maxAge: how old an indicator may get before it is considered abandoned
func NewTypingSweeper(db StaleTypingDeleter, interval, maxAge time.Duration, log *zap.Logger) *TypingSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TypingSweeper{
		db:       db,
		interval: interval,
		maxAge:   maxAge,
		log:      log.With(zap.String("component", "typing_sweeper")),
		stopChan: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins the background sweep worker.
// This method blocks and should be called with 'go'.
func (s *TypingSweeper) Start() {
	defer close(s.stopped)
	s.log.Info("typing sweeper started", zap.Duration("interval", s.interval), zap.Duration("max_age", s.maxAge))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopChan:
			s.log.Info("typing sweeper stopped")
			return
		}
	}
}

// Stop shuts the worker down and waits for it to return.
func (s *TypingSweeper) Stop() {
	close(s.stopChan)
	<-s.stopped
}

// Sweep deletes every indicator older than maxAge once.
func (s *TypingSweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	threshold := time.Now().UTC().Add(-s.maxAge)
	n, err := s.db.DeleteStaleTyping(ctx, threshold)
	if err != nil {
		s.log.Warn("typing sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("removed stale typing indicators", zap.Int("count", n))
	}
}
