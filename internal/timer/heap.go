package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a callback due at a point in time. Periodic tasks reschedule
// themselves after each run.
type Task struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
	Every    time.Duration
	index    int
}

// taskHeap is a min-heap of Tasks ordered by ExpiryAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

// Scheduler runs tasks at their expiry on a fixed pool of workers. It
// backs the tracker identify and inactivity timeouts and the periodic
// engine refreshes.
type Scheduler struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*Task
	wakeup  chan struct{}
	due     chan *Task
	workers int
	wg      sync.WaitGroup
	stopped bool
	stopCh  chan struct{}
	fired   int64
}

// NewScheduler creates a scheduler with the given number of workers
func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		heap:    make(taskHeap, 0),
		tasks:   make(map[string]*Task),
		wakeup:  make(chan struct{}, 1),
		due:     make(chan *Task, workers*4),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start launches the dispatch loop and the workers
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.run()
}

// Stop halts dispatch and waits for running callbacks to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule runs callback once at expiryAt. An existing task with the same
// id is replaced.
func (s *Scheduler) Schedule(id string, expiryAt time.Time, callback func()) error {
	return s.add(&Task{ID: id, ExpiryAt: expiryAt, Callback: callback})
}

// Every runs callback every interval, first after one interval
func (s *Scheduler) Every(id string, interval time.Duration, callback func()) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	return s.add(&Task{ID: id, ExpiryAt: time.Now().Add(interval), Callback: callback, Every: interval})
}

func (s *Scheduler) add(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	if existing, ok := s.tasks[task.ID]; ok {
		heap.Remove(&s.heap, existing.index)
	}
	heap.Push(&s.heap, task)
	s.tasks[task.ID] = task

	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a scheduled task. It returns false when no task had id.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, task.index)
	delete(s.tasks, id)
	return true
}

// next pops the task that is due, or returns how long to wait
func (s *Scheduler) next(now time.Time) (*Task, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heap.Len() == 0 {
		return nil, time.Hour
	}
	top := s.heap[0]
	if wait := top.ExpiryAt.Sub(now); wait > 0 {
		return nil, wait
	}

	heap.Pop(&s.heap)
	if top.Every > 0 {
		again := &Task{ID: top.ID, ExpiryAt: now.Add(top.Every), Callback: top.Callback, Every: top.Every}
		heap.Push(&s.heap, again)
		s.tasks[top.ID] = again
	} else {
		delete(s.tasks, top.ID)
	}
	s.fired++
	return top, 0
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		task, wait := s.next(time.Now())
		if task != nil {
			select {
			case s.due <- task:
			case <-s.stopCh:
				return
			}
			continue
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-s.wakeup:
			t.Stop()
		case <-s.stopCh:
			t.Stop()
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.due:
			task.Callback()
		case <-s.stopCh:
			return
		}
	}
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ScheduledTasks: len(s.tasks),
		Fired:          s.fired,
		Workers:        s.workers,
	}
}

// Stats contains statistics about the scheduler
type Stats struct {
	ScheduledTasks int
	Fired          int64
	Workers        int
}

var (
	ErrSchedulerStopped = &TimerError{"scheduler is stopped"}
	ErrInvalidInterval  = &TimerError{"interval must be positive"}
)

// TimerError represents a timer error
type TimerError struct {
	msg string
}

func (e *TimerError) Error() string {
	return e.msg
}
