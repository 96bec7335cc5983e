package reconnect

import (
	"context"
	"sync"
	"time"

	"riskstream/pkg/logger"
)

// DefaultDelay is the pause between a connection loss and the next attempt
const DefaultDelay = 3 * time.Second

// Scheduler runs at most one pending reconnection attempt at a time after a fixed delay.
// It owns the cancellation token of the attempt, so an explicit stop (Cancel) is distinct
// from the connection closing on its own. Retries are unbounded: callers reschedule from
// inside a failed attempt.
type Scheduler struct {
	delay time.Duration

	mu        sync.Mutex
	current   *attempt
	pending   bool
	scheduled int
	fired     int
	cancelled int

	logger *logger.Logger
}

type attempt struct {
	cancel context.CancelFunc
}

// Config configures the scheduler
type Config struct {
	Delay time.Duration // Fixed delay before each attempt (default 3s)
}

// Stats contains scheduler counters
type Stats struct {
	Delay     time.Duration
	Pending   bool
	Scheduled int
	Fired     int
	Cancelled int
}

// NewScheduler creates a reconnect scheduler
func NewScheduler(config Config, log *logger.Logger) *Scheduler {
	if config.Delay <= 0 {
		config.Delay = DefaultDelay
	}
	return &Scheduler{
		delay:  config.Delay,
		logger: log,
	}
}

// Delay returns the fixed delay between attempts
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Schedule arranges for fn to run once after the delay. It returns false without
// scheduling anything when an attempt is already pending. The context handed to fn
// is cancelled by Cancel, including while fn is running.
func (s *Scheduler) Schedule(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{cancel: cancel}
	s.current = a
	s.pending = true
	s.scheduled++

	s.logger.Infow("Reconnect scheduled", "delay", s.delay)

	go s.run(ctx, a, fn)
	return true
}

func (s *Scheduler) run(ctx context.Context, a *attempt, fn func(ctx context.Context)) {
	defer a.cancel()

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.fired++
	s.mu.Unlock()

	s.logger.Infow("🔄 Attempting reconnection")
	fn(ctx)

	s.mu.Lock()
	if s.current == a {
		s.current = nil
	}
	s.mu.Unlock()
}

// Cancel stops the pending attempt, if any, and cancels the context of an attempt
// that is already running
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.cancel()
		s.current = nil
	}
	if s.pending {
		s.pending = false
		s.cancelled++
		s.logger.Infow("Pending reconnect cancelled")
	}
}

// Pending reports whether an attempt is waiting for its delay to elapse
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// GetStats returns current scheduler counters
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Delay:     s.delay,
		Pending:   s.pending,
		Scheduled: s.scheduled,
		Fired:     s.fired,
		Cancelled: s.cancelled,
	}
}
