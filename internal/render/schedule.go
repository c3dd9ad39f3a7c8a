package render

import (
	"slices"
	"sync"
	"time"
)

// Scheduler starts repeating tasks. The returned cancel func stops further
// invocations and is safe to call more than once.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (cancel func())
}

// LoopScheduler fires ticks from real tickers but never runs fn itself: each
// tick is handed to post, which must execute fn on the owning event loop.
type LoopScheduler struct {
	post func(fn func())
}

// NewLoopScheduler returns a scheduler that delivers ticks through post.
func NewLoopScheduler(post func(fn func())) *LoopScheduler {
	return &LoopScheduler{post: post}
}

func (s *LoopScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.post(fn)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// ManualScheduler is a deterministic Scheduler and clock driven by Advance.
type ManualScheduler struct {
	now   time.Time
	tasks map[int]*manualTask
	next  int
}

type manualTask struct {
	interval time.Duration
	due      time.Time
	fn       func()
}

// NewManualScheduler returns a scheduler whose clock starts at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start, tasks: map[int]*manualTask{}}
}

// Now returns the scheduler's clock.
func (s *ManualScheduler) Now() time.Time {
	return s.now
}

func (s *ManualScheduler) Every(interval time.Duration, fn func()) func() {
	id := s.next
	s.next++
	s.tasks[id] = &manualTask{interval: interval, due: s.now.Add(interval), fn: fn}
	return func() { delete(s.tasks, id) }
}

// Advance moves the clock forward by d, running due tasks in time order.
func (s *ManualScheduler) Advance(d time.Duration) {
	target := s.now.Add(d)
	for {
		id, ok := s.earliest(target)
		if !ok {
			break
		}
		t := s.tasks[id]
		s.now = t.due
		t.due = t.due.Add(t.interval)
		t.fn()
	}
	s.now = target
}

func (s *ManualScheduler) earliest(limit time.Time) (int, bool) {
	ids := make([]int, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	best, found := 0, false
	for _, id := range ids {
		t := s.tasks[id]
		if t.due.After(limit) {
			continue
		}
		if !found || t.due.Before(s.tasks[best].due) {
			best, found = id, true
		}
	}
	return best, found
}

// Active returns the number of tasks not yet cancelled.
func (s *ManualScheduler) Active() int {
	return len(s.tasks)
}
