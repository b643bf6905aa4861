package dispatch

import (
	"sync"
	"time"
)

// RetryScheduler runs one deferred retry round per lead.
type RetryScheduler interface {
	// Schedule runs fn after d. It returns false when a retry is already
	// pending for leadID or the scheduler is stopped.
	Schedule(leadID string, d time.Duration, fn func()) bool
	// Cancel drops a pending retry and reports whether one existed.
	Cancel(leadID string) bool
	Pending(leadID string) bool
	Len() int
	// Stop cancels pending retries and waits for running ones.
	Stop()
}

// TimerScheduler keeps retries in process timers. Pending retries do not
// survive a restart; the expiry sweep still closes such leads.
type TimerScheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	running sync.WaitGroup
	stopped bool
}

// NewTimerScheduler returns a ready scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[string]*time.Timer)}
}

func (s *TimerScheduler) Schedule(leadID string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, ok := s.timers[leadID]; ok {
		return false
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[leadID] != t || s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, leadID)
		s.running.Add(1)
		s.mu.Unlock()
		defer s.running.Done()
		fn()
	})
	s.timers[leadID] = t
	return true
}

func (s *TimerScheduler) Cancel(leadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[leadID]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, leadID)
	return true
}

func (s *TimerScheduler) Pending(leadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[leadID]
	return ok
}

func (s *TimerScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.running.Wait()
}
