package services

import "context"

type contextKey string

const (
	episodeIDKey contextKey = "episode_id"
	pipelineKey  contextKey = "pipeline"
	requestIDKey contextKey = "request_id"
)

// WithEpisodeID attaches an episode identifier to the context.
func WithEpisodeID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, episodeIDKey, id)
}

// EpisodeIDFromContext extracts the episode identifier, when present.
func EpisodeIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(episodeIDKey).(int64)
	return id, ok
}

// WithPipeline attaches a pipeline name to the context.
func WithPipeline(ctx context.Context, pipeline string) context.Context {
	return context.WithValue(ctx, pipelineKey, pipeline)
}

// PipelineFromContext extracts the pipeline name, when present.
func PipelineFromContext(ctx context.Context) (string, bool) {
	pipeline, ok := ctx.Value(pipelineKey).(string)
	return pipeline, ok
}

// WithRequestID attaches a request correlation identifier to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request correlation identifier, when present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}
