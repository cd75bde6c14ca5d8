package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"podbridge/internal/aiworker"
	"podbridge/internal/config"
	"podbridge/internal/episode"
	"podbridge/internal/ingest"
	"podbridge/internal/logbuffer"
	"podbridge/internal/logging"
	"podbridge/internal/media"
	"podbridge/internal/notifications"
	"podbridge/internal/pipeline"
	"podbridge/internal/progress"
)

// Daemon coordinates the background services and enforces single-instance
// execution through a lock file in the data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *episode.Store
	worker   *aiworker.Manager
	bus      *progress.Bus
	logs     *logbuffer.Registry
	notifier notifications.Service
	runner   *ingest.Runner
	driver   *pipeline.Driver
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	workerReady atomic.Bool
	running     atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// Status reports daemon runtime information.
type Status struct {
	Running        bool                  `json:"running"`
	WorkerState    aiworker.State        `json:"worker_state"`
	Episodes       episode.HealthSummary `json:"episodes"`
	Subscribers    int                   `json:"progress_subscribers"`
	DatabasePath   string                `json:"database_path"`
	LockFilePath   string                `json:"lock_file_path"`
	APIBindAddress string                `json:"api_bind,omitempty"`
}

// Option adjusts daemon construction, primarily for tests.
type Option func(*options)

type options struct {
	resolver   media.Resolver
	downloader media.Downloader
	worker     pipeline.Worker
}

// WithResolver overrides the stream metadata resolver.
func WithResolver(resolver media.Resolver) Option {
	return func(o *options) {
		if resolver != nil {
			o.resolver = resolver
		}
	}
}

// WithDownloader overrides the audio downloader.
func WithDownloader(downloader media.Downloader) Option {
	return func(o *options) {
		if downloader != nil {
			o.downloader = downloader
		}
	}
}

// WithPipelineWorker overrides the job-submission surface used by the
// pipeline driver while keeping the manager for lifecycle control.
func WithPipelineWorker(worker pipeline.Worker) Option {
	return func(o *options) {
		if worker != nil {
			o.worker = worker
		}
	}
}

// New constructs a daemon with initialized dependencies. The worker
// manager is injected so callers own its lifecycle configuration.
func New(cfg *config.Config, store *episode.Store, worker *aiworker.Manager, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || worker == nil {
		return nil, errors.New("daemon requires config, store, and worker manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	resolved := options{
		resolver: media.NewYouTubeResolver(),
		worker:   pipeline.NewManagerWorker(worker),
	}
	for _, opt := range opts {
		opt(&resolved)
	}
	if resolved.downloader == nil {
		downloader, err := media.NewFFmpeg(cfg.Downloader.FFmpegBinary, cfg.Downloader.Timeout)
		if err != nil {
			return nil, err
		}
		resolved.downloader = downloader
	}

	bus := progress.NewBus(cfg.Progress.MaxSubscribers, logger)
	logs := logbuffer.NewRegistry(logbuffer.RegistryOptions{
		BufferSize: cfg.Progress.LogBufferCapacity,
		MaxTasks:   cfg.Progress.LogBufferTasks,
		Retention:  time.Duration(cfg.Progress.LogRetention) * time.Second,
	})
	notifier := notifications.NewService(cfg)

	lockPath := filepath.Join(cfg.Paths.DataDir, "podbridged.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		worker:   worker,
		bus:      bus,
		logs:     logs,
		notifier: notifier,
		runner:   ingest.NewRunner(cfg, store, resolved.resolver, resolved.downloader, bus, logs, notifier, logger),
		driver:   pipeline.NewDriver(cfg, store, resolved.worker, bus, logs, notifier, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, sweeps interrupted work, launches the
// AI worker, and begins background processing.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another podbridge daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	affected, err := d.store.ResetStuckProcessing(d.ctx)
	if err != nil {
		d.releaseStart()
		return fmt.Errorf("reset interrupted episodes: %w", err)
	}
	if affected > 0 {
		d.logger.Info("reset interrupted episodes", logging.Int64("affected", affected))
	}

	// A failed worker launch leaves downloads functional; pipeline
	// submissions report the worker error until the daemon restarts.
	if err := d.worker.Initialize(d.ctx); err != nil {
		d.logger.Error("ai worker failed to start", logging.Error(err))
		if notifyErr := d.notifier.NotifyError(d.ctx, err, "ai worker startup"); notifyErr != nil {
			d.logger.Warn("worker startup notification failed", logging.Error(notifyErr))
		}
	} else {
		d.workerReady.Store(true)
	}

	d.runner.Start(d.ctx)
	go d.bus.RunHeartbeat(d.ctx, time.Duration(d.cfg.Progress.HeartbeatInterval)*time.Second)
	go d.watchWorker(d.ctx)

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			d.runner.Stop()
			d.releaseStart()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("podbridge daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()))
	return nil
}

func (d *Daemon) releaseStart() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.ctx = nil
	_ = d.lock.Unlock()
}

// watchWorker notifies once when the worker process exits unexpectedly.
func (d *Daemon) watchWorker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.workerReady.Load() && d.worker.State() == aiworker.StateStopped {
				d.workerReady.Store(false)
				d.logger.Error("ai worker terminated; restart the daemon to recover")
				if err := d.notifier.NotifyWorkerTerminated(context.Background(), "worker process exited"); err != nil {
					d.logger.Warn("worker termination notification failed", logging.Error(err))
				}
			}
		}
	}
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.api != nil {
		d.api.stop()
	}
	d.runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := d.worker.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		d.logger.Warn("worker shutdown incomplete", logging.Error(err))
	}
	cancel()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.ctx = nil
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("podbridge daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Submit validates a source URL and enqueues its episode for download.
func (d *Daemon) Submit(ctx context.Context, rawURL string) (*episode.Episode, bool, error) {
	ep, created, err := ingest.Submit(ctx, d.store, rawURL)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := d.notifier.NotifyEpisodeSubmitted(ctx, ep.SourceURL); err != nil {
			d.logger.Warn("submission notification failed", logging.Error(err))
		}
	}
	return ep, created, nil
}

// ListEpisodes returns episodes filtered by optional statuses.
func (d *Daemon) ListEpisodes(ctx context.Context, statuses ...episode.Status) ([]*episode.Episode, error) {
	return d.store.List(ctx, statuses...)
}

// GetEpisode returns one episode or nil when it does not exist.
func (d *Daemon) GetEpisode(ctx context.Context, id int64) (*episode.Episode, error) {
	return d.store.GetByID(ctx, id)
}

// RemoveEpisode deletes an episode record.
func (d *Daemon) RemoveEpisode(ctx context.Context, id int64) (bool, error) {
	return d.store.Remove(ctx, id)
}

// ClearFailed removes all failed episodes.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	return d.store.ClearFailed(ctx)
}

// RetryFailed resets failed episodes (optionally a subset) back to pending.
func (d *Daemon) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	return d.store.RetryFailed(ctx, ids...)
}

// RunPipeline executes a derived-content pipeline for an episode.
func (d *Daemon) RunPipeline(ctx context.Context, episodeID int64, p episode.Pipeline, opts pipeline.Options) error {
	return d.driver.Run(ctx, episodeID, p, opts)
}

// TaskLogs returns the buffered log entries for one task key.
func (d *Daemon) TaskLogs(task string) []logbuffer.Entry {
	return d.logs.Snapshot(task)
}

// LogTasks lists the task keys with buffered logs.
func (d *Daemon) LogTasks() []string {
	return d.logs.Tasks()
}

// SubscribeProgress registers a progress observer for one event kind.
func (d *Daemon) SubscribeProgress(kind progress.Kind, observer progress.Observer) (func(), error) {
	return d.bus.Subscribe(kind, observer)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("episode health query failed", logging.Error(err))
	}
	return Status{
		Running:        d.running.Load(),
		WorkerState:    d.worker.State(),
		Episodes:       health,
		Subscribers:    d.bus.SubscriberCount(),
		DatabasePath:   d.store.Path(),
		LockFilePath:   d.lockPath,
		APIBindAddress: d.cfg.Paths.APIBind,
	}
}
