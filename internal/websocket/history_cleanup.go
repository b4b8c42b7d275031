package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/domain/repositories"
)

const (
	defaultCleanupInterval = 30 * time.Minute
	initialCleanupDelay    = 1 * time.Minute
	cleanupTimeout         = 5 * time.Minute
)

// HistoryCleanupService periodically expires idle conversations
type HistoryCleanupService struct {
	store    repositories.SessionExpirer
	interval time.Duration
	delay    time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHistoryCleanupService creates a cleanup service. A zero interval uses
// the default of 30 minutes.
func NewHistoryCleanupService(store repositories.SessionExpirer, interval time.Duration, logger *zap.Logger) *HistoryCleanupService {
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	delay := initialCleanupDelay
	if interval < delay {
		delay = interval
	}
	return &HistoryCleanupService{
		store:    store,
		interval: interval,
		delay:    delay,
		logger:   logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *HistoryCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("History cleanup service started", zap.Duration("interval", s.interval))
}

// Stop stops the cleanup loop and waits for a running cleanup to finish
func (s *HistoryCleanupService) Stop() {
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info("History cleanup service stopped")
}

func (s *HistoryCleanupService) cleanupLoop() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	initialTimer := time.NewTimer(s.delay)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.runCleanup()
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *HistoryCleanupService) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := s.store.ExpireSessions(ctx); err != nil {
		s.logger.Error("Failed to expire conversations", zap.Error(err))
		return
	}
	s.logger.Debug("Conversation cleanup completed")
}
