package rulebank

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HarvestScheduler runs background harvests at a fixed interval.
//
// The scheduler provides lifecycle management (Start/Stop) with graceful
// shutdown. Each harvest run is independent: errors are logged but do not
// stop the scheduler, and a panicking run is recovered so the loop keeps
// going.
//
// Thread Safety: All public methods are thread-safe. The running state is
// protected by a mutex to prevent races during Start/Stop.
type HarvestScheduler struct {
	interval  time.Duration
	harvester *Harvester
	logger    *zap.Logger

	// mu protects running and stopCh from concurrent access
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// DefaultHarvestInterval is used when no interval is configured.
const DefaultHarvestInterval = 15 * time.Minute

// SchedulerOption configures a HarvestScheduler.
type SchedulerOption func(*HarvestScheduler)

// WithHarvestInterval sets the time between harvest runs.
func WithHarvestInterval(interval time.Duration) SchedulerOption {
	return func(s *HarvestScheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// NewHarvestScheduler creates a scheduler. It does not start automatically;
// call Start to begin scheduled harvest runs.
func NewHarvestScheduler(harvester *Harvester, logger *zap.Logger, opts ...SchedulerOption) (*HarvestScheduler, error) {
	if harvester == nil {
		return nil, fmt.Errorf("harvester cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &HarvestScheduler{
		interval:  DefaultHarvestInterval,
		harvester: harvester,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the background harvest loop. Calling Start on a running
// scheduler returns an error without starting a second goroutine.
func (s *HarvestScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	// Fresh stop channel for this run so Stop/Start cycles work.
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("harvest scheduler started",
		zap.Duration("interval", s.interval),
	)

	go s.run()

	return nil
}

// Stop signals the background goroutine to exit. Stopping an already
// stopped scheduler is a no-op.
func (s *HarvestScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Debug("scheduler stop called but not running")
		return nil
	}

	s.logger.Info("stopping harvest scheduler")
	s.running = false
	close(s.stopCh)

	return nil
}

func (s *HarvestScheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler goroutine panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.logger.Debug("scheduler goroutine started")
	defer s.logger.Debug("scheduler goroutine stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeHarvest()
		case <-s.stopCh:
			s.logger.Debug("scheduler received stop signal")
			return
		}
	}
}

// safeHarvest wraps one harvest run with panic recovery so a single bad
// run cannot crash the scheduler.
func (s *HarvestScheduler) safeHarvest() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("harvest run panicked, continuing scheduler",
				zap.Any("panic", r),
			)
		}
	}()

	result, err := s.harvester.Harvest()
	if err != nil {
		s.logger.Warn("scheduled harvest failed", zap.Error(err))
		return
	}
	s.logger.Debug("scheduled harvest completed",
		zap.Int("created", result.Created),
		zap.Int("samples", result.Samples),
		zap.String("skipped", result.Skipped),
	)
}
