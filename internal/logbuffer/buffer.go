package logbuffer

import (
	"sync"
	"time"
)

// Entry is a single captured log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Buffer is a fixed-capacity ring of log entries. Appends beyond capacity
// overwrite the oldest entry.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	start    int
	count    int
}

// NewBuffer returns a ring buffer holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Append records an entry, dropping the oldest when the ring is full.
func (b *Buffer) Append(entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < b.capacity {
		b.entries[(b.start+b.count)%b.capacity] = entry
		b.count++
		return
	}
	b.entries[b.start] = entry
	b.start = (b.start + 1) % b.capacity
}

// Snapshot returns the buffered entries in append order.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(b.start+i)%b.capacity]
	}
	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
