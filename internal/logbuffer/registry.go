package logbuffer

import (
	"sync"
	"time"
)

// Registry tracks per-task log buffers with a global cap on tracked tasks.
type Registry struct {
	mu          sync.Mutex
	tasks       map[string]*taskRecord
	bufferSize  int
	maxTasks    int
	retention   time.Duration
	now         func() time.Time
	afterFunc   func(time.Duration, func()) *time.Timer
	evictTimers map[string]*time.Timer
}

type taskRecord struct {
	buffer      *Buffer
	lastUpdated time.Time
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// BufferSize is the per-task ring capacity.
	BufferSize int
	// MaxTasks caps how many tasks are tracked at once.
	MaxTasks int
	// Retention is how long completed task logs stay readable before
	// scheduled eviction removes them.
	Retention time.Duration
}

// NewRegistry returns a Registry with the provided bounds.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = 1
	}
	return &Registry{
		tasks:       make(map[string]*taskRecord),
		bufferSize:  opts.BufferSize,
		maxTasks:    opts.MaxTasks,
		retention:   opts.Retention,
		now:         time.Now,
		afterFunc:   time.AfterFunc,
		evictTimers: make(map[string]*time.Timer),
	}
}

// Append records an entry for the named task, creating its buffer on first
// use. Appending refreshes the task's recency and cancels any pending
// scheduled eviction.
func (r *Registry) Append(task string, entry Entry) {
	r.mu.Lock()
	record, ok := r.tasks[task]
	if !ok {
		record = &taskRecord{buffer: NewBuffer(r.bufferSize)}
		r.tasks[task] = record
		r.evictOverflowLocked(task)
	}
	record.lastUpdated = r.now()
	if timer, ok := r.evictTimers[task]; ok {
		timer.Stop()
		delete(r.evictTimers, task)
	}
	buffer := record.buffer
	r.mu.Unlock()

	buffer.Append(entry)
}

// Snapshot returns the entries buffered for a task, or nil when the task is
// not tracked.
func (r *Registry) Snapshot(task string) []Entry {
	r.mu.Lock()
	record, ok := r.tasks[task]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return record.buffer.Snapshot()
}

// Tasks returns the names of all currently tracked tasks.
func (r *Registry) Tasks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}

// ScheduleEviction arranges for the task's buffer to be dropped after the
// configured retention window. A subsequent Append cancels the eviction.
// With zero retention the task is dropped immediately.
func (r *Registry) ScheduleEviction(task string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task]; !ok {
		return
	}
	if r.retention <= 0 {
		r.removeLocked(task)
		return
	}
	if timer, ok := r.evictTimers[task]; ok {
		timer.Stop()
	}
	r.evictTimers[task] = r.afterFunc(r.retention, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.evictTimers[task]; !ok {
			return
		}
		r.removeLocked(task)
	})
}

// Remove drops a task's buffer immediately.
func (r *Registry) Remove(task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(task)
}

func (r *Registry) removeLocked(task string) {
	delete(r.tasks, task)
	if timer, ok := r.evictTimers[task]; ok {
		timer.Stop()
		delete(r.evictTimers, task)
	}
}

// evictOverflowLocked drops least-recently-updated tasks until the registry
// fits the cap again. The task being inserted is never evicted.
func (r *Registry) evictOverflowLocked(keep string) {
	for len(r.tasks) > r.maxTasks {
		var (
			oldestName string
			oldestTime time.Time
			found      bool
		)
		for name, record := range r.tasks {
			if name == keep {
				continue
			}
			if !found || record.lastUpdated.Before(oldestTime) {
				oldestName = name
				oldestTime = record.lastUpdated
				found = true
			}
		}
		if !found {
			return
		}
		r.removeLocked(oldestName)
	}
}
