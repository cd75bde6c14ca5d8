package media_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"podbridge/internal/media"
	"podbridge/internal/testsupport"
)

type fakeExecutor struct {
	lines  []string
	err    error
	binary string
	args   []string
}

func (f *fakeExecutor) Run(_ context.Context, binary string, args []string, onOutput func(string)) error {
	f.binary = binary
	f.args = args
	for _, line := range f.lines {
		onOutput(line)
	}
	return f.err
}

func TestFetchEmitsProgressFromTimeLines(t *testing.T) {
	exec := &fakeExecutor{lines: []string{
		"size=  1024KiB time=00:05:00.00 bitrate= 128.0kbits/s",
		"size=  2048KiB time=00:10:00.00 bitrate= 128.0kbits/s",
		"noise without timestamps",
	}}

	client, err := media.NewFFmpeg("ffmpeg", 0, media.WithExecutor(exec))
	if err != nil {
		t.Fatalf("NewFFmpeg: %v", err)
	}

	var updates []media.ProgressUpdate
	out := filepath.Join(t.TempDir(), "episode.mp3")
	err = client.Fetch(context.Background(), "https://example.com/stream", out, 20*time.Minute, func(u media.ProgressUpdate) {
		updates = append(updates, u)
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("expected 2 progress updates, got %d", len(updates))
	}
	if updates[0].Percent < 24 || updates[0].Percent > 26 {
		t.Fatalf("expected ~25%%, got %f", updates[0].Percent)
	}
	if updates[1].Percent < 49 || updates[1].Percent > 51 {
		t.Fatalf("expected ~50%%, got %f", updates[1].Percent)
	}
	if exec.binary != "ffmpeg" {
		t.Fatalf("unexpected binary: %s", exec.binary)
	}
}

func TestFetchCapsPercentAtHundred(t *testing.T) {
	exec := &fakeExecutor{lines: []string{
		"time=01:00:00.00",
	}}
	client, err := media.NewFFmpeg("ffmpeg", 0, media.WithExecutor(exec))
	if err != nil {
		t.Fatalf("NewFFmpeg: %v", err)
	}

	var got media.ProgressUpdate
	out := filepath.Join(t.TempDir(), "episode.mp3")
	if err := client.Fetch(context.Background(), "input", out, 30*time.Minute, func(u media.ProgressUpdate) {
		got = u
	}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Percent != 100 {
		t.Fatalf("expected percent capped at 100, got %f", got.Percent)
	}
}

func TestFetchPropagatesExecutorError(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("exit status 1")}
	client, err := media.NewFFmpeg("ffmpeg", 0, media.WithExecutor(exec))
	if err != nil {
		t.Fatalf("NewFFmpeg: %v", err)
	}

	out := filepath.Join(t.TempDir(), "episode.mp3")
	if err := client.Fetch(context.Background(), "input", out, 0, nil); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestFetchValidatesArguments(t *testing.T) {
	client, err := media.NewFFmpeg("ffmpeg", 0, media.WithExecutor(&fakeExecutor{}))
	if err != nil {
		t.Fatalf("NewFFmpeg: %v", err)
	}
	if err := client.Fetch(context.Background(), "", "/tmp/out.mp3", 0, nil); err == nil {
		t.Fatal("expected error for empty input")
	}
	if err := client.Fetch(context.Background(), "input", "", 0, nil); err == nil {
		t.Fatal("expected error for empty output")
	}
	if _, err := media.NewFFmpeg("  ", 0); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

func TestFetchCreatesOutputDirectory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	exec := &fakeExecutor{}
	client, err := media.NewFFmpeg(cfg.Downloader.FFmpegBinary, 0, media.WithExecutor(exec))
	if err != nil {
		t.Fatalf("NewFFmpeg: %v", err)
	}
	out := filepath.Join(cfg.Paths.DownloadDir, "nested", "episode.mp3")
	if err := client.Fetch(context.Background(), "input", out, 0, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(exec.args) == 0 || exec.args[len(exec.args)-1] != out {
		t.Fatalf("expected output path as final arg, got %v", exec.args)
	}
}
