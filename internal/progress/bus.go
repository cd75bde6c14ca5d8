package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"podbridge/internal/logging"
)

// ErrTooManySubscribers is returned when the bus subscriber cap is reached.
var ErrTooManySubscribers = errors.New("progress bus subscriber limit reached")

// Observer receives progress events. Returning an error removes the
// observer from the bus.
type Observer func(Event) error

// Bus distributes progress events to per-kind observers.
type Bus struct {
	mu             sync.Mutex
	observers      map[Kind]map[int64]Observer
	nextID         int64
	maxSubscribers int
	logger         *slog.Logger
}

// NewBus returns a Bus allowing at most maxSubscribers concurrent
// observers across all kinds.
func NewBus(maxSubscribers int, logger *slog.Logger) *Bus {
	if maxSubscribers <= 0 {
		maxSubscribers = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{
		observers:      make(map[Kind]map[int64]Observer),
		maxSubscribers: maxSubscribers,
		logger:         logger,
	}
}

// Subscribe registers an observer for one kind and returns a cancel
// function. It fails when the global subscriber cap is reached.
func (b *Bus) Subscribe(kind Kind, observer Observer) (func(), error) {
	if observer == nil {
		return nil, errors.New("observer is nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.totalLocked() >= b.maxSubscribers {
		return nil, fmt.Errorf("%w: max %d", ErrTooManySubscribers, b.maxSubscribers)
	}

	set, ok := b.observers[kind]
	if !ok {
		set = make(map[int64]Observer)
		b.observers[kind] = set
	}
	b.nextID++
	id := b.nextID
	set[id] = observer

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.observers[kind], id)
	}, nil
}

// SubscriberCount returns the number of registered observers across all kinds.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalLocked()
}

func (b *Bus) totalLocked() int {
	total := 0
	for _, set := range b.observers {
		total += len(set)
	}
	return total
}

// Publish delivers an event synchronously to every observer registered for
// its kind. Observers that return an error or panic are removed; remaining
// observers still receive the event.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	b.mu.Lock()
	set := b.observers[event.Kind]
	targets := make(map[int64]Observer, len(set))
	for id, observer := range set {
		targets[id] = observer
	}
	b.mu.Unlock()

	var failed []int64
	for id, observer := range targets {
		if err := b.deliver(observer, event); err != nil {
			b.logger.Warn("dropping progress observer",
				logging.String("kind", string(event.Kind)),
				logging.Error(err))
			failed = append(failed, id)
		}
	}

	if len(failed) > 0 {
		b.mu.Lock()
		for _, id := range failed {
			delete(b.observers[event.Kind], id)
		}
		b.mu.Unlock()
	}
}

func (b *Bus) deliver(observer Observer, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return observer(event)
}

// RunHeartbeat publishes periodic heartbeat events on every kind until the
// context is cancelled. Heartbeats share the observer path with regular
// events but carry no progress payload.
func (b *Bus) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, kind := range allKinds {
				b.Publish(Event{Kind: kind, Heartbeat: true, Time: now.UTC()})
			}
		}
	}
}
