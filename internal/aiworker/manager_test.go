package aiworker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"podbridge/internal/aiworker"
	"podbridge/internal/config"
	"podbridge/internal/services"
)

// scriptedTransport simulates the worker process over in-memory pipes.
type scriptedTransport struct {
	stdinReader  *io.PipeReader
	stdinWriter  *io.PipeWriter
	stdoutReader *io.PipeReader
	stdoutWriter *io.PipeWriter

	exitOnce sync.Once
	exited   chan struct{}
	waitErr  error
	killed   chan struct{}
}

func newScriptedTransport() *scriptedTransport {
	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()
	return &scriptedTransport{
		stdinReader:  stdinReader,
		stdinWriter:  stdinWriter,
		stdoutReader: stdoutReader,
		stdoutWriter: stdoutWriter,
		exited:       make(chan struct{}),
		killed:       make(chan struct{}, 1),
	}
}

func (t *scriptedTransport) Writer() io.Writer { return t.stdinWriter }
func (t *scriptedTransport) Reader() io.Reader { return t.stdoutReader }

func (t *scriptedTransport) CloseInput() error {
	return t.stdinWriter.Close()
}

func (t *scriptedTransport) Kill() error {
	select {
	case t.killed <- struct{}{}:
	default:
	}
	t.exit(errors.New("killed"))
	return nil
}

func (t *scriptedTransport) Wait() error {
	<-t.exited
	return t.waitErr
}

// exit simulates process termination: stdout reaches EOF and Wait returns.
func (t *scriptedTransport) exit(err error) {
	t.exitOnce.Do(func() {
		t.waitErr = err
		_ = t.stdoutWriter.Close()
		_ = t.stdinReader.Close()
		close(t.exited)
	})
}

// emit writes one worker message line to the manager.
func (t *scriptedTransport) emit(tb testing.TB, payload map[string]any) {
	tb.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		tb.Fatalf("marshal worker message: %v", err)
	}
	if _, err := t.stdoutWriter.Write(append(data, '\n')); err != nil {
		tb.Fatalf("write worker message: %v", err)
	}
}

// pumpJobs decodes job envelopes the manager writes to worker stdin.
func (t *scriptedTransport) pumpJobs() <-chan map[string]any {
	jobs := make(chan map[string]any, 16)
	go func() {
		defer close(jobs)
		decoder := json.NewDecoder(t.stdinReader)
		for {
			var envelope map[string]any
			if err := decoder.Decode(&envelope); err != nil {
				return
			}
			jobs <- envelope
		}
	}()
	return jobs
}

func workerConfig() config.Worker {
	return config.Worker{
		Command:        "unused",
		StartupTimeout: 5,
		ShutdownGrace:  1,
	}
}

func startReadyManager(t *testing.T) (*aiworker.Manager, *scriptedTransport, <-chan map[string]any) {
	t.Helper()

	transport := newScriptedTransport()
	mgr := aiworker.NewManager(workerConfig(), nil, aiworker.WithLauncher(
		func(context.Context) (aiworker.Transport, error) {
			return transport, nil
		},
	))
	jobs := transport.pumpJobs()

	go transport.emit(t, map[string]any{"status": "ready"})
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := mgr.State(); got != aiworker.StateReady {
		t.Fatalf("expected ready state, got %s", got)
	}
	return mgr, transport, jobs
}

func nextJob(t *testing.T, jobs <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case envelope, ok := <-jobs:
		if !ok {
			t.Fatal("job stream closed")
		}
		return envelope
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job envelope")
	}
	return nil
}

func TestInitializeWaitsForReady(t *testing.T) {
	mgr, transport, _ := startReadyManager(t)
	defer transport.exit(nil)

	if _, err := mgr.Submit(context.Background(), 1, aiworker.PingJob{}, nil); err != nil {
		t.Fatalf("Submit after ready: %v", err)
	}
}

func TestInitializeTimesOutWithoutReady(t *testing.T) {
	transport := newScriptedTransport()
	cfg := workerConfig()
	cfg.StartupTimeout = 1
	mgr := aiworker.NewManager(cfg, nil, aiworker.WithLauncher(
		func(context.Context) (aiworker.Transport, error) {
			return transport, nil
		},
	))

	if err := mgr.Initialize(context.Background()); err == nil {
		t.Fatal("expected startup timeout error")
	}
	select {
	case <-transport.killed:
	case <-time.After(time.Second):
		t.Fatal("expected worker killed after startup timeout")
	}
}

func TestSubmitAssignsMonotonicIDs(t *testing.T) {
	mgr, transport, jobs := startReadyManager(t)
	defer transport.exit(nil)

	ctx := context.Background()
	h1, err := mgr.Submit(ctx, 10, aiworker.TranscribeJob{AudioPath: "/tmp/a.mp3", Language: "en"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h2, err := mgr.Submit(ctx, 11, aiworker.TranslateJob{AudioPath: "/tmp/b.mp3", Voice: "es_ES-davefx"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h1.ID() >= h2.ID() {
		t.Fatalf("expected increasing ids, got %d then %d", h1.ID(), h2.ID())
	}

	first := nextJob(t, jobs)
	if first["job"] != "transcribe" || first["audio_path"] != "/tmp/a.mp3" || first["language"] != "en" {
		t.Fatalf("unexpected first envelope: %#v", first)
	}
	second := nextJob(t, jobs)
	if second["job"] != "translate" || second["voice"] != "es_ES-davefx" {
		t.Fatalf("unexpected second envelope: %#v", second)
	}
}

func TestResultsCorrelateByEchoedID(t *testing.T) {
	mgr, transport, jobs := startReadyManager(t)
	defer transport.exit(nil)

	ctx := context.Background()
	h1, err := mgr.Submit(ctx, 1, aiworker.TranscribeJob{AudioPath: "/tmp/1.mp3"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h2, err := mgr.Submit(ctx, 2, aiworker.TranscribeJob{AudioPath: "/tmp/2.mp3"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	nextJob(t, jobs)
	nextJob(t, jobs)

	// Complete the second job first by echoing its id.
	transport.emit(t, map[string]any{
		"id": h2.ID(), "success": true,
		"result": map[string]any{"transcript_path": "/tmp/2.txt"},
	})

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	raw, err := h2.Wait(waitCtx)
	if err != nil {
		t.Fatalf("second job failed: %v", err)
	}
	var result aiworker.TranscribeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.TranscriptPath != "/tmp/2.txt" {
		t.Fatalf("unexpected result: %#v", result)
	}

	transport.emit(t, map[string]any{
		"id": h1.ID(), "success": false, "error": "whisper model missing",
	})
	if _, err := h1.Wait(waitCtx); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestResultsFallBackToOldestPending(t *testing.T) {
	mgr, transport, jobs := startReadyManager(t)
	defer transport.exit(nil)

	ctx := context.Background()
	h1, err := mgr.Submit(ctx, 1, aiworker.ScriptJob{TranscriptPath: "/tmp/1.txt"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h2, err := mgr.Submit(ctx, 2, aiworker.ScriptJob{TranscriptPath: "/tmp/2.txt"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	nextJob(t, jobs)
	nextJob(t, jobs)

	// A worker that never echoes ids resolves jobs in FIFO order.
	transport.emit(t, map[string]any{"success": true, "result": map[string]any{"script_path": "/tmp/1.md"}})
	transport.emit(t, map[string]any{"success": true, "result": map[string]any{"script_path": "/tmp/2.md"}})

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	raw1, err := h1.Wait(waitCtx)
	if err != nil {
		t.Fatalf("first job failed: %v", err)
	}
	raw2, err := h2.Wait(waitCtx)
	if err != nil {
		t.Fatalf("second job failed: %v", err)
	}

	var r1, r2 aiworker.ScriptResult
	if err := json.Unmarshal(raw1, &r1); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(raw2, &r2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r1.ScriptPath != "/tmp/1.md" || r2.ScriptPath != "/tmp/2.md" {
		t.Fatalf("FIFO fallback mismatched results: %#v %#v", r1, r2)
	}
}

func TestProgressRoutesToPendingRequest(t *testing.T) {
	mgr, transport, jobs := startReadyManager(t)
	defer transport.exit(nil)

	ctx := context.Background()
	updates := make(chan aiworker.Update, 8)
	h, err := mgr.Submit(ctx, 5, aiworker.TranslateJob{AudioPath: "/tmp/e.mp3"}, func(u aiworker.Update) {
		updates <- u
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	nextJob(t, jobs)

	transport.emit(t, map[string]any{"stage": "tts", "percent": 70, "message": "synthesizing"})
	select {
	case u := <-updates:
		if u.Stage != "tts" || u.Percent != 70 || u.Message != "synthesizing" {
			t.Fatalf("unexpected update: %#v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progress update")
	}

	transport.emit(t, map[string]any{"id": h.ID(), "success": true, "result": map[string]any{"audio_path": "/tmp/e.es.mp3"}})
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := h.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWorkerExitFailsAllPendingJobs(t *testing.T) {
	mgr, transport, jobs := startReadyManager(t)

	ctx := context.Background()
	h1, err := mgr.Submit(ctx, 1, aiworker.PodcastJob{ScriptPath: "/tmp/1.md"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h2, err := mgr.Submit(ctx, 2, aiworker.PodcastJob{ScriptPath: "/tmp/2.md"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	nextJob(t, jobs)
	nextJob(t, jobs)

	transport.exit(errors.New("signal: killed"))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, h := range []*aiworker.Handle{h1, h2} {
		if _, err := h.Wait(waitCtx); !errors.Is(err, services.ErrWorkerTerminated) {
			t.Fatalf("expected ErrWorkerTerminated, got %v", err)
		}
	}

	// No auto-restart: further submissions and re-initialization fail.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if mgr.State() == aiworker.StateStopped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("manager never reached stopped state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := mgr.Submit(ctx, 3, aiworker.PingJob{}, nil); !errors.Is(err, services.ErrWorkerTerminated) {
		t.Fatalf("expected terminated error on submit, got %v", err)
	}
	if err := mgr.Initialize(ctx); !errors.Is(err, services.ErrWorkerTerminated) {
		t.Fatalf("expected terminated error on re-init, got %v", err)
	}
}

func TestShutdownSendsShutdownJob(t *testing.T) {
	mgr, transport, jobs := startReadyManager(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for envelope := range jobs {
			if envelope["job"] == "shutdown" {
				transport.exit(nil)
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown job never observed")
	}
	if got := mgr.State(); got != aiworker.StateStopped {
		t.Fatalf("expected stopped state, got %s", got)
	}
}
