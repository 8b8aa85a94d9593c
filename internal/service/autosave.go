package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultAutosaveInterval = 5 * time.Minute

// AutosaveService periodically flushes buffered decision history to the
// fast store. It shares the manager's exclusive lock through Flush, so
// it cannot race a foreground Evolve.
type AutosaveService struct {
	manager *BrainManager
	logger  *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewAutosaveService(manager *BrainManager, logger *zap.Logger) *AutosaveService {
	return &AutosaveService{
		manager:  manager,
		logger:   logger,
		interval: defaultAutosaveInterval,
		stopCh:   make(chan struct{}),
	}
}

func (s *AutosaveService) SetInterval(d time.Duration) {
	s.interval = d
}

// Start runs the autosave loop in a background goroutine.
func (s *AutosaveService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("autosave started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				if !s.manager.Dirty() {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := s.manager.Flush(ctx); err != nil {
					s.logger.Error("autosave flush failed", zap.Error(err))
				}
				cancel()
			case <-s.stopCh:
				s.logger.Info("autosave stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the loop.
func (s *AutosaveService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}
