package services_test

import (
	"errors"
	"testing"

	"podbridge/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("exit status 1")
	err := services.Wrap(services.ErrExternalTool, "download", "convert", "ffmpeg failed", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error, got %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if err.Error() != "transient failure: service failure" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestIsPrecondition(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{services.Wrap(services.ErrValidation, "translate", "start", "already processing", nil), true},
		{services.Wrap(services.ErrNotFound, "translate", "load", "no such episode", nil), true},
		{services.Wrap(services.ErrExternalTool, "download", "convert", "", nil), false},
		{services.ErrWorkerTerminated, false},
	}
	for _, tc := range cases {
		if got := services.IsPrecondition(tc.err); got != tc.want {
			t.Fatalf("IsPrecondition(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
