package logbuffer_test

import (
	"fmt"
	"testing"
	"time"

	"podbridge/internal/logbuffer"
)

func TestBufferKeepsMostRecentEntries(t *testing.T) {
	buf := logbuffer.NewBuffer(3)
	for i := 0; i < 5; i++ {
		buf.Append(logbuffer.Entry{Level: "info", Message: fmt.Sprintf("line %d", i)})
	}

	snapshot := buf.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snapshot))
	}
	for i, entry := range snapshot {
		want := fmt.Sprintf("line %d", i+2)
		if entry.Message != want {
			t.Fatalf("entry %d: expected %q, got %q", i, want, entry.Message)
		}
	}
}

func TestBufferSnapshotBelowCapacity(t *testing.T) {
	buf := logbuffer.NewBuffer(10)
	buf.Append(logbuffer.Entry{Message: "only"})

	snapshot := buf.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Message != "only" {
		t.Fatalf("unexpected snapshot: %#v", snapshot)
	}
	if buf.Len() != 1 {
		t.Fatalf("expected length 1, got %d", buf.Len())
	}
}

func TestBufferStampsMissingTimes(t *testing.T) {
	buf := logbuffer.NewBuffer(2)
	buf.Append(logbuffer.Entry{Message: "no time"})
	snapshot := buf.Snapshot()
	if snapshot[0].Time.IsZero() {
		t.Fatal("expected append to stamp entry time")
	}
	if time.Since(snapshot[0].Time) > time.Minute {
		t.Fatalf("stamped time looks wrong: %v", snapshot[0].Time)
	}
}
