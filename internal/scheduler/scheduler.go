// Package scheduler implements the single-threaded cooperative task runner
// used by the SmartWeb->MQTT gateway for its polling cadence (spec.md
// §4.5). It owns a priority-sorted task list and a condition variable:
// idle when the list is empty, otherwise woken at the earliest deadline.
package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Task is scheduled work. Run executes once at or after its due time and
// returns any successor tasks to (re-)enqueue — a periodic task typically
// returns itself rescheduled for now+period.
type Task interface {
	NextRun() time.Time
	Run(now time.Time) []Task
}

// FuncTask adapts a plain function plus a fixed period into a Task that
// reschedules itself after every run.
type FuncTask struct {
	Due    time.Time
	Period time.Duration
	Fn     func(now time.Time)
}

func (t *FuncTask) NextRun() time.Time { return t.Due }

func (t *FuncTask) Run(now time.Time) []Task {
	t.Fn(now)
	if t.Period <= 0 {
		return nil
	}
	return []Task{&FuncTask{Due: now.Add(t.Period), Period: t.Period, Fn: t.Fn}}
}

// Scheduler runs tasks on a single dedicated goroutine.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []Task
	enabled bool
	wg      sync.WaitGroup

	now func() time.Time // overridable for tests
}

// New creates a Scheduler; call Start to launch its goroutine.
func New() *Scheduler {
	s := &Scheduler{now: time.Now}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// AddTask inserts a task into the run list and wakes the runner if it may
// now be the earliest deadline.
func (s *Scheduler) AddTask(t Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.cond.Signal()
	s.mu.Unlock()
}

// Start launches the run loop goroutine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// Stop disables the scheduler, wakes the runner and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.enabled = false
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if !s.enabled {
			return
		}
		if len(s.tasks) == 0 {
			s.cond.Wait()
			continue
		}

		sort.Slice(s.tasks, func(i, j int) bool {
			return s.tasks[i].NextRun().Before(s.tasks[j].NextRun())
		})

		earliest := s.tasks[0]
		now := s.now()
		if !earliest.NextRun().After(now) {
			s.tasks = s.tasks[1:]
			s.mu.Unlock()
			successors := earliest.Run(now)
			s.mu.Lock()
			if !s.enabled {
				return
			}
			s.tasks = append(s.tasks, successors...)
			continue
		}

		s.waitUntilLocked(earliest.NextRun())
	}
}

// waitUntilLocked blocks on the condition variable until deadline, a new
// task arrives, or Stop is called — whichever is first. Must be called
// with s.mu held; re-acquires it before returning.
func (s *Scheduler) waitUntilLocked(deadline time.Time) {
	timer := time.AfterFunc(time.Until(deadline), func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.cond.Wait()
}
