package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"podbridge/internal/aiworker"
	"podbridge/internal/config"
	"podbridge/internal/episode"
	"podbridge/internal/logbuffer"
	"podbridge/internal/logging"
	"podbridge/internal/pipeline"
	"podbridge/internal/progress"
	"podbridge/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

type submitRequest struct {
	URL string `json:"url"`
}

type retryRequest struct {
	IDs []int64 `json:"ids,omitempty"`
}

type episodeResponse struct {
	Episode *episode.Episode `json:"episode"`
	Created bool             `json:"created,omitempty"`
}

type episodeListResponse struct {
	Episodes []*episode.Episode `json:"episodes"`
}

type taskLogsResponse struct {
	Task    string            `json:"task"`
	Entries []logbuffer.Entry `json:"entries"`
}

type affectedResponse struct {
	Affected int64 `json:"affected"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/episodes", srv.handleEpisodes)
	mux.HandleFunc("/api/episodes/", srv.handleEpisodePath)
	mux.HandleFunc("/api/events", srv.handleEvents)

	srv.server = &http.Server{
		Handler:           srv.withRequestID(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Handler exposes the HTTP surface for tests.
func (s *apiServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), requestID)))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var statuses []episode.Status
		for _, value := range r.URL.Query()["status"] {
			status, ok := episode.ParseStatus(value)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
				return
			}
			statuses = append(statuses, status)
		}
		episodes, err := s.daemon.ListEpisodes(r.Context(), statuses...)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, episodeListResponse{Episodes: episodes})

	case http.MethodPost:
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		ep, created, err := s.daemon.Submit(r.Context(), req.URL)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		s.writeJSON(w, status, episodeResponse{Episode: ep, Created: created})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleEpisodePath routes /api/episodes/{id}[/{action}] plus the
// collection maintenance endpoints /api/episodes/failed and
// /api/episodes/retry.
func (s *apiServer) handleEpisodePath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/episodes/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		s.writeError(w, http.StatusNotFound, "episode not found")
		return
	}

	switch segments[0] {
	case "failed":
		if r.Method != http.MethodDelete {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		affected, err := s.daemon.ClearFailed(r.Context())
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, affectedResponse{Affected: affected})
		return
	case "retry":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req retryRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		affected, err := s.daemon.RetryFailed(r.Context(), req.IDs...)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, affectedResponse{Affected: affected})
		return
	}

	id, err := strconv.ParseInt(segments[0], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}

	if len(segments) == 1 {
		s.handleEpisode(w, r, id)
		return
	}
	if len(segments) == 2 {
		switch segments[1] {
		case "logs":
			s.handleEpisodeLogs(w, r, id)
			return
		case "translate", "transcribe", "generate":
			s.handlePipeline(w, r, id, segments[1])
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "not found")
}

func (s *apiServer) handleEpisode(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		ep, err := s.daemon.GetEpisode(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if ep == nil {
			s.writeError(w, http.StatusNotFound, "episode not found")
			return
		}
		s.writeJSON(w, http.StatusOK, episodeResponse{Episode: ep})

	case http.MethodDelete:
		removed, err := s.daemon.RemoveEpisode(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if !removed {
			s.writeError(w, http.StatusNotFound, "episode not found")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"removed": true})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

var pipelineActions = map[string]episode.Pipeline{
	"translate":  episode.PipelineTranslation,
	"transcribe": episode.PipelineTranscription,
	"generate":   episode.PipelineGeneration,
}

func (s *apiServer) handlePipeline(w http.ResponseWriter, r *http.Request, id int64, action string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p := pipelineActions[action]
	query := r.URL.Query()
	opts := pipeline.Options{
		Force:    query.Get("force") == "1" || strings.EqualFold(query.Get("force"), "true"),
		Language: query.Get("language"),
	}

	if query.Get("wait") == "1" || strings.EqualFold(query.Get("wait"), "true") {
		if err := s.daemon.RunPipeline(r.Context(), id, p, opts); err != nil {
			s.writeServiceError(w, err)
			return
		}
		ep, err := s.daemon.GetEpisode(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, episodeResponse{Episode: ep})
		return
	}

	// The run outlives the HTTP request; progress is observable via
	// /api/events and the per-task log buffer.
	go func() {
		ctx := services.WithRequestID(context.Background(), uuid.NewString())
		if err := s.daemon.RunPipeline(ctx, id, p, opts); err != nil {
			s.logger.Warn("pipeline run failed",
				logging.Int64("episode_id", id),
				logging.String("pipeline", string(p)),
				logging.Error(err))
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"pipeline": string(p),
	})
}

func (s *apiServer) handleEpisodeLogs(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	task := strings.TrimSpace(r.URL.Query().Get("task"))
	if task == "" {
		task = "download"
	}
	switch task {
	case "download", string(episode.PipelineTranslation), string(episode.PipelineTranscription), string(episode.PipelineGeneration):
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown task %q", task))
		return
	}
	key := fmt.Sprintf("episode:%d:%s", id, task)
	s.writeJSON(w, http.StatusOK, taskLogsResponse{Task: key, Entries: s.daemon.TaskLogs(key)})
}

// handleEvents streams progress events as server-sent events. Events are
// buffered per connection; a client that cannot keep up loses events
// rather than stalling publishers.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	kinds := progress.AllKinds()
	if requested := r.URL.Query()["kind"]; len(requested) > 0 {
		kinds = kinds[:0]
		for _, value := range requested {
			kind := progress.Kind(strings.TrimSpace(value))
			switch kind {
			case progress.KindDownload, progress.KindTranslate, progress.KindTranscribe, progress.KindGenerate:
				kinds = append(kinds, kind)
			default:
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", value))
				return
			}
		}
	}

	events := make(chan progress.Event, 64)
	cancels := make([]func(), 0, len(kinds))
	for _, kind := range kinds {
		cancel, err := s.daemon.SubscribeProgress(kind, func(evt progress.Event) error {
			select {
			case events <- evt:
			default:
			}
			return nil
		})
		if err != nil {
			for _, c := range cancels {
				c()
			}
			s.writeServiceError(w, err)
			return
		}
		cancels = append(cancels, cancel)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	encoder := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-events:
			if evt.Heartbeat {
				// Keepalives go out as SSE comments so clients never
				// mistake them for pipeline progress.
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
				continue
			}
			if _, err := fmt.Fprint(w, "data: "); err != nil {
				return
			}
			if err := encoder.Encode(evt); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrWorkerTerminated), errors.Is(err, aiworker.ErrWorkerNotReady),
		errors.Is(err, progress.ErrTooManySubscribers):
		status = http.StatusServiceUnavailable
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
