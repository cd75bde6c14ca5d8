package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"podbridge/internal/config"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if cfg.Downloader.FFmpegBinary != "ffmpeg" {
		t.Fatalf("unexpected ffmpeg binary: %q", cfg.Downloader.FFmpegBinary)
	}
	if cfg.Progress.LogBufferCapacity <= 0 || cfg.Progress.LogBufferTasks <= 0 {
		t.Fatalf("expected positive log buffer bounds, got %+v", cfg.Progress)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[downloader]
max_retries = 3
retry_delay_seconds = 1

[pipelines]
transcription_languages = ["EN", "es", " en "]

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %s, got %s exists=%v", path, resolved, exists)
	}
	if cfg.Downloader.MaxRetries != 3 {
		t.Fatalf("expected max_retries=3, got %d", cfg.Downloader.MaxRetries)
	}
	if got := cfg.Pipelines.TranscriptionLanguages; len(got) != 2 || got[0] != "en" || got[1] != "es" {
		t.Fatalf("expected normalized deduplicated languages, got %v", got)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected level debug, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsUnsupportedDefaultLanguage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[pipelines]
transcription_default_language = "xx"
transcription_languages = ["en", "es"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for unsupported default language")
	}
}

func TestTranscriptionLanguageSupported(t *testing.T) {
	cfg := config.Default()
	if !cfg.TranscriptionLanguageSupported("ES") {
		t.Fatal("expected es to be supported")
	}
	if cfg.TranscriptionLanguageSupported("zz") {
		t.Fatal("expected zz to be unsupported")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.DownloadDir = filepath.Join(dir, "downloads")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, sub := range []string{"data", "downloads", "logs"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", sub, err)
		}
	}
}
