package timer

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a callback scheduled for a point in time
type Task struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
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

// Manager runs scheduled callbacks on a fixed pool of workers. Scheduling an
// ID that is already pending replaces the earlier task.
type Manager struct {
	heap     taskHeap
	tasks    map[string]*Task
	mu       sync.Mutex
	wakeup   chan struct{}
	due      chan *Task
	workers  int
	workerWg sync.WaitGroup
	stopped  bool
	stopCh   chan struct{}
	executed atomic.Int64
	panics   atomic.Int64
}

// NewManager creates a timer manager backed by the given number of workers
func NewManager(workers int) *Manager {
	if workers <= 0 {
		workers = 1
	}
	tm := &Manager{
		heap:    make(taskHeap, 0),
		tasks:   make(map[string]*Task),
		wakeup:  make(chan struct{}, 1),
		due:     make(chan *Task, workers*4),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
	heap.Init(&tm.heap)
	return tm
}

// Start launches the scheduler loop and its workers
func (tm *Manager) Start() {
	for i := 0; i < tm.workers; i++ {
		tm.workerWg.Add(1)
		go tm.worker()
	}

	go tm.run()
}

// Stop halts scheduling and waits for in-flight callbacks. Pending tasks are
// discarded.
func (tm *Manager) Stop() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.stopped = true
	close(tm.stopCh)
	tm.mu.Unlock()

	tm.workerWg.Wait()
}

// Schedule adds a task to run at expiryAt
func (tm *Manager) Schedule(id string, expiryAt time.Time, callback func()) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.stopped {
		return ErrManagerStopped
	}

	if existing, ok := tm.tasks[id]; ok {
		heap.Remove(&tm.heap, existing.index)
		delete(tm.tasks, id)
	}

	task := &Task{
		ID:       id,
		ExpiryAt: expiryAt,
		Callback: callback,
	}

	heap.Push(&tm.heap, task)
	tm.tasks[id] = task

	if tm.heap[0] == task {
		select {
		case tm.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a scheduled task
func (tm *Manager) Cancel(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[id]
	if !ok {
		return false
	}

	heap.Remove(&tm.heap, task.index)
	delete(tm.tasks, id)
	return true
}

// Pending reports whether a task with the given ID is waiting to run
func (tm *Manager) Pending(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.tasks[id]
	return ok
}

func (tm *Manager) run() {
	for {
		tm.mu.Lock()
		if tm.stopped {
			tm.mu.Unlock()
			return
		}

		var ready []*Task
		now := time.Now()
		for tm.heap.Len() > 0 && !tm.heap[0].ExpiryAt.After(now) {
			task := heap.Pop(&tm.heap).(*Task)
			delete(tm.tasks, task.ID)
			ready = append(ready, task)
		}

		wait := 24 * time.Hour
		if tm.heap.Len() > 0 {
			wait = time.Until(tm.heap[0].ExpiryAt)
		}
		tm.mu.Unlock()

		for _, task := range ready {
			select {
			case tm.due <- task:
			case <-tm.stopCh:
				return
			}
		}
		if len(ready) > 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-tm.wakeup:
			timer.Stop()
		case <-tm.stopCh:
			timer.Stop()
			return
		}
	}
}

func (tm *Manager) worker() {
	defer tm.workerWg.Done()

	for {
		select {
		case task := <-tm.due:
			tm.execute(task)
		case <-tm.stopCh:
			return
		}
	}
}

func (tm *Manager) execute(task *Task) {
	defer func() {
		if r := recover(); r != nil {
			tm.panics.Add(1)
		}
	}()
	task.Callback()
	tm.executed.Add(1)
}

// Stats returns statistics about the timer manager
func (tm *Manager) Stats() Stats {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	return Stats{
		ScheduledTasks: len(tm.tasks),
		Workers:        tm.workers,
		Executed:       tm.executed.Load(),
		Panicked:       tm.panics.Load(),
	}
}

// Stats contains statistics about the timer manager
type Stats struct {
	ScheduledTasks int
	Workers        int
	Executed       int64
	Panicked       int64
}

var (
	ErrManagerStopped = &TimerError{"timer manager is stopped"}
)

// TimerError represents a timer error
type TimerError struct {
	msg string
}

func (e *TimerError) Error() string {
	return e.msg
}
