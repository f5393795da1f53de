package timing

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Stopwatch measures race-relative elapsed time. Stopping and starting again
// resumes from the accumulated total. Safe for concurrent use.
type Stopwatch struct {
	clock clockwork.Clock

	mu          sync.Mutex
	running     bool
	startedAt   time.Time
	accumulated time.Duration
}

// NewStopwatch returns a stopped stopwatch reading zero.
func NewStopwatch(clock clockwork.Clock) *Stopwatch {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Stopwatch{clock: clock}
}

// Start begins or resumes timing. It reports false if already running.
func (s *Stopwatch) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.startedAt = s.clock.Now()
	return true
}

// Stop pauses timing and returns the elapsed total.
func (s *Stopwatch) Stop() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.accumulated += s.clock.Since(s.startedAt)
		s.running = false
	}
	return s.accumulated
}

// Reset stops the stopwatch and zeroes it.
func (s *Stopwatch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.accumulated = 0
}

// Elapsed returns the current total, including the running segment.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.accumulated + s.clock.Since(s.startedAt)
	}
	return s.accumulated
}

// ElapsedMillis is Elapsed in whole milliseconds.
func (s *Stopwatch) ElapsedMillis() int64 {
	return s.Elapsed().Milliseconds()
}

func (s *Stopwatch) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
