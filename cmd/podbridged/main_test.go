package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"podbridge/internal/episode"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitCreatesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	output, err := executeCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(output, target) {
		t.Fatalf("expected output to mention %s, got %q", target, output)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample config: %v", err)
	}
	if !strings.Contains(string(data), "[paths]") || !strings.Contains(string(data), "[worker]") {
		t.Fatalf("sample config missing expected sections:\n%s", data)
	}

	if _, err := executeCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error without --overwrite")
	}
	if _, err := executeCommand(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func fakeDaemonServer(t *testing.T, episodes []*episode.Episode) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/episodes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"episodes": episodes})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListCommandRendersTable(t *testing.T) {
	srv := fakeDaemonServer(t, []*episode.Episode{
		{
			ID:                  1,
			SourceID:            "abc123",
			SourceURL:           "https://example.com/watch?v=abc123",
			Title:               "First Episode",
			Status:              episode.StatusReady,
			DurationSeconds:     754,
			TranscriptionStatus: episode.PipelineReady,
		},
	})

	address := strings.TrimPrefix(srv.URL, "http://")
	output, err := executeCommand(t, "list", "--address", address)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(output, "First Episode") || !strings.Contains(output, "12:34") {
		t.Fatalf("unexpected list output:\n%s", output)
	}
	if !strings.Contains(output, "ready") {
		t.Fatalf("expected status column in output:\n%s", output)
	}
}

func TestListCommandReportsDaemonError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/episodes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "worker process has terminated"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	address := strings.TrimPrefix(srv.URL, "http://")
	_, err := executeCommand(t, "list", "--address", address)
	if err == nil || !strings.Contains(err.Error(), "worker process has terminated") {
		t.Fatalf("expected daemon error surfaced, got %v", err)
	}
}
