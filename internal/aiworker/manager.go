package aiworker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"podbridge/internal/config"
	"podbridge/internal/logging"
	"podbridge/internal/services"
)

// State describes the worker process lifecycle.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateReady    State = "ready"
)

var (
	// ErrWorkerNotReady is returned when jobs are submitted before the
	// worker finished starting or after it stopped.
	ErrWorkerNotReady = errors.New("ai worker is not ready")
	// ErrAlreadyStarted is returned when Initialize is called twice.
	ErrAlreadyStarted = errors.New("ai worker already started")
)

// Manager owns the worker process and correlates job submissions with
// the progress and result messages the worker emits.
type Manager struct {
	launcher       Launcher
	startupTimeout time.Duration
	shutdownGrace  time.Duration
	logger         *slog.Logger

	mu         sync.Mutex
	state      State
	terminated bool
	transport  Transport
	encoder    *json.Encoder
	readyCh    chan struct{}
	readyOnce  sync.Once
	exitCh     chan struct{}
	nextID     int64
	pending    []*request
}

type request struct {
	id         int64
	kind       string
	episodeID  int64
	onProgress func(Update)
	done       chan struct{}
	result     json.RawMessage
	err        error
}

// Handle tracks a submitted job until its result arrives.
type Handle struct {
	req *request
}

// ID returns the correlation id assigned to the job.
func (h *Handle) ID() int64 {
	return h.req.id
}

// Wait blocks until the job completes, the worker terminates, or the
// context is done.
func (h *Handle) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-h.req.done:
		return h.req.result, h.req.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Option configures the Manager.
type Option func(*Manager)

// WithLauncher injects a custom process launcher (primarily for tests).
func WithLauncher(launcher Launcher) Option {
	return func(m *Manager) {
		if launcher != nil {
			m.launcher = launcher
		}
	}
}

// NewManager builds a Manager from worker configuration. The worker is
// not started until Initialize is called.
func NewManager(cfg config.Worker, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		launcher:       CommandLauncher(cfg.Command, cfg.Args...),
		startupTimeout: time.Duration(cfg.StartupTimeout) * time.Second,
		shutdownGrace:  time.Duration(cfg.ShutdownGrace) * time.Second,
		logger:         logging.NewComponentLogger(logger, "aiworker"),
		state:          StateStopped,
		exitCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialize launches the worker process and blocks until it reports
// readiness or the startup timeout elapses. A manager whose worker has
// terminated cannot be initialized again.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return services.Wrap(services.ErrWorkerTerminated, "worker", "initialize", "worker process terminated; restart the daemon to recover", nil)
	}
	if m.state != StateStopped {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.state = StateStarting
	m.readyCh = make(chan struct{})
	m.readyOnce = sync.Once{}
	m.mu.Unlock()

	transport, err := m.launcher(ctx)
	if err != nil {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		return services.Wrap(services.ErrExternalTool, "worker", "initialize", "launch worker process", err)
	}

	m.mu.Lock()
	m.transport = transport
	m.encoder = json.NewEncoder(transport.Writer())
	readyCh := m.readyCh
	m.mu.Unlock()

	go m.readLoop(transport)

	var timeout <-chan time.Time
	if m.startupTimeout > 0 {
		timer := time.NewTimer(m.startupTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-readyCh:
		m.logger.Info("ai worker ready")
		return nil
	case <-m.exitCh:
		return services.Wrap(services.ErrWorkerTerminated, "worker", "initialize", "worker exited before reporting ready", nil)
	case <-timeout:
		_ = transport.Kill()
		return services.Wrap(services.ErrExternalTool, "worker", "initialize",
			fmt.Sprintf("worker did not report ready within %s", m.startupTimeout), nil)
	case <-ctx.Done():
		_ = transport.Kill()
		return ctx.Err()
	}
}

// Submit writes a job to the worker and returns a handle for its result.
// Progress updates attributed to the job invoke onProgress from the read
// loop goroutine.
func (m *Manager) Submit(ctx context.Context, episodeID int64, job Job, onProgress func(Update)) (*Handle, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateReady {
		if m.terminated {
			return nil, services.Wrap(services.ErrWorkerTerminated, job.Kind(), "submit", "worker process has terminated", nil)
		}
		return nil, fmt.Errorf("%w: state %s", ErrWorkerNotReady, m.state)
	}

	m.nextID++
	req := &request{
		id:         m.nextID,
		kind:       job.Kind(),
		episodeID:  episodeID,
		onProgress: onProgress,
		done:       make(chan struct{}),
	}

	if err := m.encoder.Encode(job.envelope(req.id)); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, job.Kind(), "submit", "write job to worker", err)
	}
	m.pending = append(m.pending, req)

	m.logger.Debug("job submitted",
		logging.Int64("request_id", req.id),
		logging.String("job", req.kind),
		logging.Int64("episode_id", episodeID))
	return &Handle{req: req}, nil
}

// Shutdown asks the worker to exit cleanly, escalating to a kill after
// the configured grace period.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateStopped && m.transport == nil {
		m.mu.Unlock()
		return nil
	}
	transport := m.transport
	if m.encoder != nil {
		m.nextID++
		_ = m.encoder.Encode(shutdownJob{}.envelope(m.nextID))
	}
	m.mu.Unlock()

	if transport != nil {
		_ = transport.CloseInput()
	}

	var grace <-chan time.Time
	if m.shutdownGrace > 0 {
		timer := time.NewTimer(m.shutdownGrace)
		defer timer.Stop()
		grace = timer.C
	}

	select {
	case <-m.exitCh:
		return nil
	case <-grace:
	case <-ctx.Done():
	}

	if transport != nil {
		m.logger.Warn("worker did not exit in time; killing process group")
		_ = transport.Kill()
	}

	select {
	case <-m.exitCh:
	case <-time.After(2 * time.Second):
	}
	return ctx.Err()
}

func (m *Manager) readLoop(transport Transport) {
	scanner := bufio.NewScanner(transport.Reader())
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg workerMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			m.logger.Warn("discarding malformed worker output", logging.Error(err))
			continue
		}
		m.dispatch(msg)
	}
	if err := scanner.Err(); err != nil {
		m.logger.Warn("worker stdout closed with error", logging.Error(err))
	}

	waitErr := transport.Wait()
	m.handleExit(waitErr)
}

func (m *Manager) dispatch(msg workerMessage) {
	switch {
	case msg.isStatus():
		if msg.Status == statusReady {
			m.mu.Lock()
			m.state = StateReady
			readyCh := m.readyCh
			m.mu.Unlock()
			m.readyOnce.Do(func() { close(readyCh) })
		} else {
			m.logger.Debug("worker status", logging.String("status", msg.Status))
		}

	case msg.isProgress():
		m.mu.Lock()
		req := m.findLocked(msg.ID)
		m.mu.Unlock()
		if req == nil {
			m.logger.Debug("progress without pending request", logging.Int64("request_id", msg.ID))
			return
		}
		if req.onProgress != nil {
			percent := 0.0
			if msg.Percent != nil {
				percent = *msg.Percent
			}
			req.onProgress(Update{Stage: msg.Stage, Percent: percent, Message: msg.Message})
		}

	case msg.isResult():
		m.mu.Lock()
		req := m.removeLocked(msg.ID)
		m.mu.Unlock()
		if req == nil {
			m.logger.Warn("result without pending request", logging.Int64("request_id", msg.ID))
			return
		}
		if *msg.Success {
			req.result = msg.Result
		} else {
			detail := msg.Error
			if detail == "" {
				detail = "worker reported failure without detail"
			}
			req.err = services.Wrap(services.ErrExternalTool, req.kind, "worker", detail, nil)
		}
		close(req.done)
	}
}

// findLocked resolves a request by echoed id, falling back to the oldest
// pending request when the worker does not echo ids.
func (m *Manager) findLocked(id int64) *request {
	if id != 0 {
		for _, req := range m.pending {
			if req.id == id {
				return req
			}
		}
		return nil
	}
	if len(m.pending) == 0 {
		return nil
	}
	return m.pending[0]
}

func (m *Manager) removeLocked(id int64) *request {
	if len(m.pending) == 0 {
		return nil
	}
	index := 0
	if id != 0 {
		index = -1
		for i, req := range m.pending {
			if req.id == id {
				index = i
				break
			}
		}
		if index < 0 {
			return nil
		}
	}
	req := m.pending[index]
	m.pending = append(m.pending[:index], m.pending[index+1:]...)
	return req
}

func (m *Manager) handleExit(waitErr error) {
	m.mu.Lock()
	m.terminated = true
	m.state = StateStopped
	orphaned := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, req := range orphaned {
		req.err = services.Wrap(services.ErrWorkerTerminated, req.kind, "worker",
			"worker process exited before completing job", waitErr)
		close(req.done)
	}
	if len(orphaned) > 0 {
		m.logger.Error("worker exited with pending jobs",
			logging.Int("orphaned", len(orphaned)),
			logging.Error(waitErr))
	} else {
		m.logger.Info("worker exited", logging.Error(waitErr))
	}
	close(m.exitCh)
}
