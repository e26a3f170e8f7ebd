package state

import (
	"log"
	"sync"
	"time"
)

// DefaultSaveDelay is how long a scheduled save waits before writing, so
// bursts of mutations collapse into one write.
const DefaultSaveDelay = 500 * time.Millisecond

// Saver debounces state writes. Schedule arms a one-shot timer; further
// calls while the timer is armed are absorbed into the pending save.
// Flush writes immediately and cancels any pending timer.
type Saver struct {
	mu    sync.Mutex
	path  string
	save  func(path string) error
	delay time.Duration
	timer *time.Timer
}

// NewSaver creates a Saver writing via save to path.
func NewSaver(path string, save func(path string) error) *Saver {
	return &Saver{
		path:  path,
		save:  save,
		delay: DefaultSaveDelay,
	}
}

// Schedule requests a save. Returns immediately.
func (s *Saver) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		if err := s.save(s.path); err != nil {
			log.Printf("Error saving state: %v", err)
		}
	})
}

// Flush writes now, cancelling any pending timer. Call on shutdown.
func (s *Saver) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.save(s.path)
}
