package progress_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"podbridge/internal/progress"
)

func TestPublishDeliversToMatchingKindOnly(t *testing.T) {
	bus := progress.NewBus(8, nil)

	var downloads, translates int32
	cancelDownload, err := bus.Subscribe(progress.KindDownload, func(progress.Event) error {
		atomic.AddInt32(&downloads, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancelDownload()

	cancelTranslate, err := bus.Subscribe(progress.KindTranslate, func(progress.Event) error {
		atomic.AddInt32(&translates, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancelTranslate()

	bus.Publish(progress.Event{Kind: progress.KindDownload, EpisodeID: 1, Percent: 50})
	bus.Publish(progress.Event{Kind: progress.KindDownload, EpisodeID: 1, Percent: 100})

	if got := atomic.LoadInt32(&downloads); got != 2 {
		t.Fatalf("expected 2 download events, got %d", got)
	}
	if got := atomic.LoadInt32(&translates); got != 0 {
		t.Fatalf("expected no translate events, got %d", got)
	}
}

func TestFailingObserverIsDroppedOthersSurvive(t *testing.T) {
	bus := progress.NewBus(8, nil)

	var healthy int32
	cancel, err := bus.Subscribe(progress.KindDownload, func(progress.Event) error {
		atomic.AddInt32(&healthy, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if _, err := bus.Subscribe(progress.KindDownload, func(progress.Event) error {
		return errors.New("sink closed")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.Publish(progress.Event{Kind: progress.KindDownload, Percent: 10})
	if got := bus.SubscriberCount(); got != 1 {
		t.Fatalf("expected failing observer dropped, count=%d", got)
	}

	bus.Publish(progress.Event{Kind: progress.KindDownload, Percent: 20})
	if got := atomic.LoadInt32(&healthy); got != 2 {
		t.Fatalf("expected healthy observer to receive both events, got %d", got)
	}
}

func TestPanickingObserverIsDropped(t *testing.T) {
	bus := progress.NewBus(8, nil)

	if _, err := bus.Subscribe(progress.KindTranscribe, func(progress.Event) error {
		panic("observer bug")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.Publish(progress.Event{Kind: progress.KindTranscribe, Percent: 5})
	if got := bus.SubscriberCount(); got != 0 {
		t.Fatalf("expected panicking observer dropped, count=%d", got)
	}
}

func TestSubscribeEnforcesCap(t *testing.T) {
	bus := progress.NewBus(2, nil)

	for i := 0; i < 2; i++ {
		if _, err := bus.Subscribe(progress.KindGenerate, func(progress.Event) error { return nil }); err != nil {
			t.Fatalf("Subscribe %d: %v", i, err)
		}
	}
	if _, err := bus.Subscribe(progress.KindDownload, func(progress.Event) error { return nil }); !errors.Is(err, progress.ErrTooManySubscribers) {
		t.Fatalf("expected ErrTooManySubscribers, got %v", err)
	}
}

func TestUnsubscribeFreesSlot(t *testing.T) {
	bus := progress.NewBus(1, nil)

	cancel, err := bus.Subscribe(progress.KindDownload, func(progress.Event) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	if _, err := bus.Subscribe(progress.KindDownload, func(progress.Event) error { return nil }); err != nil {
		t.Fatalf("expected slot freed after cancel, got %v", err)
	}
}

func TestRunHeartbeatEmitsOnAllKinds(t *testing.T) {
	bus := progress.NewBus(8, nil)

	heartbeats := make(chan progress.Event, 16)
	for _, kind := range progress.AllKinds() {
		if _, err := bus.Subscribe(kind, func(evt progress.Event) error {
			if evt.Heartbeat {
				heartbeats <- evt
			}
			return nil
		}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.RunHeartbeat(ctx, 10*time.Millisecond)

	seen := make(map[progress.Kind]bool)
	deadline := time.After(2 * time.Second)
	for len(seen) < len(progress.AllKinds()) {
		select {
		case evt := <-heartbeats:
			seen[evt.Kind] = true
		case <-deadline:
			t.Fatalf("timed out waiting for heartbeats, saw %v", seen)
		}
	}
}

func TestEventIsError(t *testing.T) {
	if (progress.Event{Percent: 50}).IsError() {
		t.Fatal("positive percent must not be an error")
	}
	if !(progress.Event{Percent: -1, Message: "boom"}).IsError() {
		t.Fatal("negative percent must be an error")
	}
}
