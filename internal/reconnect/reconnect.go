// Package reconnect schedules bounded exponential backoff for a single
// connection.
package reconnect

import (
	"math"
	"sync"
	"time"
)

// Config contains reconnection behavior settings.
type Config struct {
	// BaseDelay is the delay before the first attempt.
	BaseDelay time.Duration

	// Multiplier grows the delay per attempt.
	Multiplier float64

	// MaxAttempts bounds the number of attempts. Zero disables.
	MaxAttempts int
}

// DefaultConfig returns the default reconnection settings.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   3 * time.Second,
		Multiplier:  1.5,
		MaxAttempts: 5,
	}
}

// DelayFor returns the delay for the given attempt number (1-indexed):
// BaseDelay * Multiplier^(n-1).
func (c Config) DelayFor(attempt int) time.Duration {
	if attempt <= 1 {
		return c.BaseDelay
	}
	return time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
}

// Scheduler runs reconnection attempts with exponential backoff. The attempt
// callback fires from a timer goroutine; the exhausted callback fires once
// when the attempt budget runs out. Scheduler is safe for concurrent use.
type Scheduler struct {
	cfg       Config
	attempt   func(n int)
	exhausted func()

	mu       sync.Mutex
	attempts int
	timer    *time.Timer
	stopped  bool
}

// NewScheduler creates a scheduler. Neither callback may be nil.
func NewScheduler(cfg Config, attempt func(n int), exhausted func()) *Scheduler {
	return &Scheduler{cfg: cfg, attempt: attempt, exhausted: exhausted}
}

// Schedule arms the timer for the next attempt. If the attempt budget is
// already spent, the exhausted callback fires instead. Scheduling while a
// timer is armed replaces it without consuming an attempt.
func (s *Scheduler) Schedule() {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cfg.MaxAttempts > 0 && s.attempts >= s.cfg.MaxAttempts {
		s.mu.Unlock()
		s.exhausted()
		return
	}

	n := s.attempts + 1
	delay := s.cfg.DelayFor(n)
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.attempts = n
		s.timer = nil
		s.mu.Unlock()
		s.attempt(n)
	})
	s.mu.Unlock()
}

// Reset clears the attempt counter and cancels any armed timer. Called on
// every transition to the ready state.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = 0
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Stop cancels any armed timer and prevents further scheduling. Used on
// explicit disconnect; a stopped scheduler never fires again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Resume re-enables a stopped scheduler. Called when the caller explicitly
// connects again after a disconnect.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
}

// Attempts returns the number of attempts made since the last reset.
func (s *Scheduler) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
