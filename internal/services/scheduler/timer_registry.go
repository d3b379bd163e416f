package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
)

// Task is a pending feedback timeout for one user
type Task struct {
	Key         int64
	ID          uint64
	ArchivePath string
	StartedAt   time.Time

	canceled atomic.Bool
	stop     interfaces.CancelFunc
}

// Canceled reports whether the task was canceled or replaced
func (t *Task) Canceled() bool {
	return t.canceled.Load()
}

// TimerRegistry tracks at most one live task per key. Task ids are
// monotonic so a replaced task can always tell it is stale.
type TimerRegistry struct {
	nextID atomic.Uint64
	now    func() time.Time

	mu    sync.Mutex
	tasks map[int64]*Task
}

// NewTimerRegistry creates an empty registry
func NewTimerRegistry() *TimerRegistry {
	return &TimerRegistry{
		now:   time.Now,
		tasks: make(map[int64]*Task),
	}
}

// Schedule registers a new task for key, canceling any previous one
func (r *TimerRegistry) Schedule(key int64, archivePath string) *Task {
	task := &Task{
		Key:         key,
		ID:          r.nextID.Add(1),
		ArchivePath: archivePath,
		StartedAt:   r.now(),
	}

	r.mu.Lock()
	previous := r.tasks[key]
	r.tasks[key] = task
	r.mu.Unlock()

	if previous != nil {
		cancelTask(previous)
	}
	return task
}

// Arm attaches the timer cancel func to a task. If the task is no longer
// current the timer is canceled right away.
func (r *TimerRegistry) Arm(key int64, id uint64, stop interfaces.CancelFunc) {
	r.mu.Lock()
	task, ok := r.tasks[key]
	if ok && task.ID == id && !task.Canceled() {
		task.stop = stop
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Cancel cancels and removes the task for key. It reports whether one existed.
func (r *TimerRegistry) Cancel(key int64) bool {
	r.mu.Lock()
	task, ok := r.tasks[key]
	delete(r.tasks, key)
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancelTask(task)
	return true
}

// IsCurrent reports whether id is the live task for key
func (r *TimerRegistry) IsCurrent(key int64, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[key]
	return ok && task.ID == id && !task.Canceled()
}

// Complete removes the task if it is still current
func (r *TimerRegistry) Complete(key int64, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[key]
	if !ok || task.ID != id {
		return false
	}
	delete(r.tasks, key)
	return true
}

// Get returns the live task for key
func (r *TimerRegistry) Get(key int64) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[key]
	return task, ok
}

// Len returns the number of live tasks
func (r *TimerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// CancelAll cancels every live task, used on shutdown
func (r *TimerRegistry) CancelAll() int {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = make(map[int64]*Task)
	r.mu.Unlock()

	for _, task := range tasks {
		cancelTask(task)
	}
	return len(tasks)
}

func cancelTask(task *Task) {
	task.canceled.Store(true)
	if task.stop != nil {
		task.stop()
	}
}
