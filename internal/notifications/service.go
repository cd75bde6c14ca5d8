// Package notifications sends push notifications for pipeline milestones
// through an ntfy topic, degrading to a noop when unconfigured.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"podbridge/internal/config"
	"podbridge/internal/episode"
)

const userAgent = "Podbridge-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyEpisodeSubmitted(ctx context.Context, title string) error
	NotifyDownloadCompleted(ctx context.Context, title string) error
	NotifyDownloadFailed(ctx context.Context, title, reason string) error
	NotifyPipelineCompleted(ctx context.Context, pipeline episode.Pipeline, title string) error
	NotifyPipelineFailed(ctx context.Context, pipeline episode.Pipeline, title, reason string) error
	NotifyWorkerTerminated(ctx context.Context, reason string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyEpisodeSubmitted(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)
	data := payload{
		title:   "Podbridge - Episode Submitted",
		message: fmt.Sprintf("Queued for download: %s", title),
		tags:    []string{"podbridge", "episode", "submitted"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDownloadCompleted(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)
	data := payload{
		title:   "Podbridge - Download Complete",
		message: fmt.Sprintf("Episode ready: %s", title),
		tags:    []string{"podbridge", "download", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDownloadFailed(ctx context.Context, title, reason string) error {
	title = strings.TrimSpace(title)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Podbridge - Download Failed",
		message:  fmt.Sprintf("Download failed: %s\n%s", title, reason),
		tags:     []string{"podbridge", "download", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPipelineCompleted(ctx context.Context, pipeline episode.Pipeline, title string) error {
	title = strings.TrimSpace(title)
	data := payload{
		title:    fmt.Sprintf("Podbridge - %s Complete", pipelineLabel(pipeline)),
		message:  fmt.Sprintf("%s ready: %s", pipelineLabel(pipeline), title),
		tags:     []string{"podbridge", string(pipeline), "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPipelineFailed(ctx context.Context, pipeline episode.Pipeline, title, reason string) error {
	title = strings.TrimSpace(title)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    fmt.Sprintf("Podbridge - %s Failed", pipelineLabel(pipeline)),
		message:  fmt.Sprintf("%s failed: %s\n%s", pipelineLabel(pipeline), title, reason),
		tags:     []string{"podbridge", string(pipeline), "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyWorkerTerminated(ctx context.Context, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Podbridge - AI Worker Down",
		message:  fmt.Sprintf("AI worker terminated: %s\nRestart the daemon to recover", reason),
		tags:     []string{"podbridge", "worker", "terminated"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Podbridge - Error",
		message:  builder.String(),
		tags:     []string{"podbridge", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Podbridge - Test",
		message:  "Notification system test",
		tags:     []string{"podbridge", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func pipelineLabel(p episode.Pipeline) string {
	switch p {
	case episode.PipelineTranslation:
		return "Translation"
	case episode.PipelineTranscription:
		return "Transcription"
	case episode.PipelineGeneration:
		return "Generation"
	}
	return string(p)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyEpisodeSubmitted(context.Context, string) error  { return nil }
func (noopService) NotifyDownloadCompleted(context.Context, string) error { return nil }
func (noopService) NotifyDownloadFailed(context.Context, string, string) error {
	return nil
}
func (noopService) NotifyPipelineCompleted(context.Context, episode.Pipeline, string) error {
	return nil
}
func (noopService) NotifyPipelineFailed(context.Context, episode.Pipeline, string, string) error {
	return nil
}
func (noopService) NotifyWorkerTerminated(context.Context, string) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error     { return nil }
func (noopService) TestNotification(context.Context) error               { return nil }
