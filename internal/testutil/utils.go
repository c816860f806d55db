package testutil

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}

type manualTask struct {
	due time.Duration
	fn  func()
}

// ManualScheduler is a keyed delayed-task runner driven by Advance instead of
// the wall clock.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks map[string]manualTask
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{tasks: make(map[string]manualTask)}
}

func (s *ManualScheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[key] = manualTask{due: s.now + delay, fn: fn}
}

func (s *ManualScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, key)
}

func (s *ManualScheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Advance moves virtual time forward and runs every task that became due, in
// due order, on the calling goroutine.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []manualTask
	for key, task := range s.tasks {
		if task.due <= s.now {
			due = append(due, task)
			delete(s.tasks, key)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].due < due[j].due })
	for _, task := range due {
		task.fn()
	}
}
