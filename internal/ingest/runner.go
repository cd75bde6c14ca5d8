package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"podbridge/internal/config"
	"podbridge/internal/episode"
	"podbridge/internal/logbuffer"
	"podbridge/internal/logging"
	"podbridge/internal/media"
	"podbridge/internal/notifications"
	"podbridge/internal/progress"
	"podbridge/internal/services"
)

const defaultPollInterval = 2 * time.Second

// Runner claims pending episodes and downloads their audio.
type Runner struct {
	cfg        *config.Config
	store      *episode.Store
	resolver   media.Resolver
	downloader media.Downloader
	bus        *progress.Bus
	logs       *logbuffer.Registry
	notifier   notifications.Service
	logger     *slog.Logger

	pollInterval time.Duration
	sleep        func(context.Context, time.Duration) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// RunnerOption configures the Runner.
type RunnerOption func(*Runner)

// WithPollInterval overrides how often the runner looks for pending work.
func WithPollInterval(interval time.Duration) RunnerOption {
	return func(r *Runner) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// NewRunner wires a download runner. All collaborators are required except
// notifier, which defaults to a noop when nil.
func NewRunner(
	cfg *config.Config,
	store *episode.Store,
	resolver media.Resolver,
	downloader media.Downloader,
	bus *progress.Bus,
	logs *logbuffer.Registry,
	notifier notifications.Service,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		cfg:          cfg,
		store:        store,
		resolver:     resolver,
		downloader:   downloader,
		bus:          bus,
		logs:         logs,
		notifier:     notifier,
		logger:       logging.NewComponentLogger(logger, "ingest"),
		pollInterval: defaultPollInterval,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the polling loop. Stop or context cancellation ends it.
func (r *Runner) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()
		for {
			if _, err := r.ProcessNext(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("download cycle failed", logging.Error(err))
			}
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the polling loop and waits for the in-flight cycle.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// ProcessNext claims the oldest pending episode and downloads it. It
// reports whether an episode was processed.
func (r *Runner) ProcessNext(ctx context.Context) (bool, error) {
	ep, err := r.store.NextForStatuses(ctx, episode.StatusPending)
	if err != nil {
		return false, err
	}
	if ep == nil {
		return false, nil
	}

	claimed, err := r.store.ClaimForDownload(ctx, ep.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	ep.Status = episode.StatusDownloading
	ep.ErrorMessage = ""
	if r.logs != nil {
		// A retried episode starts with a clean log buffer.
		r.logs.Remove(taskKey(ep.ID))
	}

	ctx = services.WithEpisodeID(ctx, ep.ID)
	if err := r.download(ctx, ep); err != nil {
		return true, err
	}
	return true, nil
}

func taskKey(episodeID int64) string {
	return fmt.Sprintf("episode:%d:download", episodeID)
}

func (r *Runner) publish(episodeID int64, stage string, percent float64, message string) {
	event := progress.Event{
		Kind:      progress.KindDownload,
		EpisodeID: episodeID,
		Stage:     stage,
		Percent:   percent,
		Message:   message,
	}
	if r.bus != nil {
		r.bus.Publish(event)
	}
	if r.logs != nil {
		level := "info"
		if event.IsError() {
			level = "error"
		}
		r.logs.Append(taskKey(episodeID), logbuffer.Entry{
			Level:   level,
			Message: fmt.Sprintf("%s: %s", stage, message),
		})
	}
}

func (r *Runner) download(ctx context.Context, ep *episode.Episode) error {
	task := taskKey(ep.ID)
	maxAttempts := r.cfg.Downloader.MaxRetries + 1
	retryDelay := time.Duration(r.cfg.Downloader.RetryDelay) * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = r.attempt(ctx, ep)
		if lastErr == nil {
			ep.Status = episode.StatusReady
			ep.ErrorMessage = ""
			ep.LastHeartbeat = nil
			if err := r.store.MarkDownloaded(ctx, ep.ID, ep.MediaPath, ep.RetryCount); err != nil {
				return err
			}
			r.publish(ep.ID, "download", 100, "episode ready")
			if r.logs != nil {
				r.logs.ScheduleEviction(task)
			}
			if r.notifier != nil {
				if err := r.notifier.NotifyDownloadCompleted(ctx, ep.Title); err != nil {
					r.logger.Warn("download notification failed", logging.Error(err))
				}
			}
			r.logger.Info("episode downloaded",
				logging.Int64("episode_id", ep.ID),
				logging.String("media_path", ep.MediaPath))
			return nil
		}

		ep.RetryCount++
		r.publish(ep.ID, "download", -1, lastErr.Error())
		r.logger.Warn("download attempt failed",
			logging.Int64("episode_id", ep.ID),
			logging.Int("attempt", attempt),
			logging.Error(lastErr))

		if attempt < maxAttempts {
			if err := r.sleep(ctx, retryDelay); err != nil {
				return err
			}
		}
	}

	ep.SetFailed(lastErr.Error())
	if err := r.store.MarkDownloadFailed(ctx, ep.ID, lastErr.Error(), ep.RetryCount); err != nil {
		return err
	}
	if r.notifier != nil {
		if err := r.notifier.NotifyDownloadFailed(ctx, ep.Title, lastErr.Error()); err != nil {
			r.logger.Warn("failure notification failed", logging.Error(err))
		}
	}
	return lastErr
}

// attempt performs one resolve-fetch-validate cycle. Partial output is
// removed before the error is returned.
func (r *Runner) attempt(ctx context.Context, ep *episode.Episode) error {
	meta, err := r.resolver.Resolve(ctx, ep.SourceURL)
	if err != nil {
		return services.Wrap(services.ErrTransient, "download", "resolve", "resolve episode metadata", err)
	}

	if meta.Title != "" {
		ep.Title = meta.Title
	}
	if meta.Author != "" {
		ep.Channel = meta.Author
	}
	if meta.Duration > 0 {
		ep.DurationSeconds = int64(meta.Duration / time.Second)
	}
	if err := r.store.UpdateMetadata(ctx, ep.ID, ep.Title, ep.Channel, ep.DurationSeconds); err != nil {
		return err
	}
	r.publish(ep.ID, "download", 10, "metadata resolved")

	input := meta.StreamURL
	if input == "" {
		input = ep.SourceURL
	}
	outputPath := filepath.Join(r.cfg.Paths.DownloadDir, ep.SourceID+".mp3")

	r.publish(ep.ID, "download", 30, "fetching audio")
	fetchErr := r.downloader.Fetch(ctx, input, outputPath, meta.Duration, func(u media.ProgressUpdate) {
		// ffmpeg progress spans the 30-95 band of the overall download.
		percent := 30 + u.Percent*0.65
		r.publish(ep.ID, "download", percent, u.Message)
		_ = r.store.UpdateHeartbeat(ctx, ep.ID)
	})
	if fetchErr != nil {
		removePartial(outputPath)
		return services.Wrap(services.ErrExternalTool, "download", "fetch", "fetch episode audio", fetchErr)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "download", "validate", "downloaded file missing", err)
	}
	if info.Size() < r.cfg.Downloader.MinArtifactBytes {
		removePartial(outputPath)
		return services.Wrap(services.ErrExternalTool, "download", "validate",
			fmt.Sprintf("downloaded file too small: %d bytes (minimum %d)", info.Size(), r.cfg.Downloader.MinArtifactBytes), nil)
	}

	ep.MediaPath = outputPath
	return nil
}

func removePartial(path string) {
	_ = os.Remove(path)
}
