package timer

import (
	"container/heap"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a callback scheduled for a point in time
type Task struct {
	ID       string
	RunAt    time.Time
	Callback func()
	index    int // position in the heap, -1 once removed
}

// taskHeap is a min-heap of tasks ordered by RunAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].RunAt.Before(h[j].RunAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// Scheduler runs tasks at their scheduled time on a fixed pool of workers.
// Scheduling an ID that is already pending replaces the pending task.
type Scheduler struct {
	mu       sync.Mutex
	heap     taskHeap
	tasks    map[string]*Task
	wakeup   chan struct{}
	due      chan *Task
	workers  int
	executed atomic.Int64
	wg       sync.WaitGroup
	stopped  bool
	stopCh   chan struct{}
}

// NewScheduler creates a scheduler with the given number of workers
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	s := &Scheduler{
		heap:    make(taskHeap, 0),
		tasks:   make(map[string]*Task),
		wakeup:  make(chan struct{}, 1),
		due:     make(chan *Task, workers),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start starts the dispatch loop and the workers
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.wg.Add(1)
	go s.run()
}

// Stop stops dispatching and waits for running callbacks to return.
// Pending tasks are dropped.
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

// Schedule adds a task to run at runAt
func (s *Scheduler) Schedule(id string, runAt time.Time, callback func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	if existing, ok := s.tasks[id]; ok {
		heap.Remove(&s.heap, existing.index)
	}

	task := &Task{
		ID:       id,
		RunAt:    runAt,
		Callback: callback,
	}
	heap.Push(&s.heap, task)
	s.tasks[id] = task

	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a pending task. It reports whether the task was pending.
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

// run hands due tasks to the workers
func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()

		wait := time.Duration(-1)
		var task *Task
		if s.heap.Len() > 0 {
			next := s.heap[0]
			if wait = time.Until(next.RunAt); wait <= 0 {
				task = heap.Pop(&s.heap).(*Task)
				delete(s.tasks, task.ID)
			}
		}

		s.mu.Unlock()

		if task != nil {
			select {
			case s.due <- task:
			case <-s.stopCh:
				return
			}
			continue
		}

		// An empty heap waits for a wakeup only
		var timer *time.Timer
		var timeout <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			timeout = timer.C
		}

		select {
		case <-timeout:
		case <-s.wakeup:
		case <-s.stopCh:
		}
		if timer != nil {
			timer.Stop()
		}

		select {
		case <-s.stopCh:
			return
		default:
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.due:
			s.execute(task)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) execute(task *Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Scheduled task %s panicked: %v", task.ID, r)
		}
	}()

	task.Callback()
	s.executed.Add(1)
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SchedulerStats{
		ScheduledTasks: len(s.tasks),
		Workers:        s.workers,
		Executed:       s.executed.Load(),
	}
}

// SchedulerStats contains statistics about the scheduler
type SchedulerStats struct {
	ScheduledTasks int
	Workers        int
	Executed       int64
}

var (
	ErrSchedulerStopped = &TimerError{"scheduler is stopped"}
)

// TimerError represents a timer error
type TimerError struct {
	msg string
}

func (e *TimerError) Error() string {
	return e.msg
}
