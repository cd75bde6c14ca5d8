package logging_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"podbridge/internal/logging"
	"podbridge/internal/services"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello", logging.String("key", "value"))
	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) {
		t.Fatalf("missing message in output: %s", out)
	}
	if !strings.Contains(out, `"key":"value"`) {
		t.Fatalf("missing attr in output: %s", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleHandlerIncludesComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.NewComponentLogger(logger, "worker").Info("started")
	if !strings.Contains(buf.String(), "worker: started") {
		t.Fatalf("expected component prefix, got %q", buf.String())
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info should be suppressed: %q", out)
	}
	if !strings.Contains(out, "loud") {
		t.Fatalf("warn should be emitted: %q", out)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithEpisodeID(context.Background(), 42)
	ctx = services.WithPipeline(ctx, "translate")
	logging.WithContext(ctx, logger).Info("progress")
	out := buf.String()
	if !strings.Contains(out, "episode_id=42") {
		t.Fatalf("missing episode_id: %q", out)
	}
	if !strings.Contains(out, "pipeline=translate") {
		t.Fatalf("missing pipeline: %q", out)
	}
}
