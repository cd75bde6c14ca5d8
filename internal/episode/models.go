package episode

import (
	"strings"
	"time"
)

// Status represents the primary lifecycle of an episode.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusReady       Status = "ready"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusDownloading,
	StatusReady,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusDownloading: {},
}

// PipelineStatus represents the lifecycle of a single derived-content
// pipeline. The zero value means the pipeline has never been requested.
type PipelineStatus string

const (
	PipelineNotStarted PipelineStatus = ""
	PipelineProcessing PipelineStatus = "processing"
	PipelineReady      PipelineStatus = "ready"
	PipelineError      PipelineStatus = "error"
)

// Pipeline identifies one of the derived-content pipelines.
type Pipeline string

const (
	PipelineTranslation   Pipeline = "translation"
	PipelineTranscription Pipeline = "transcription"
	PipelineGeneration    Pipeline = "generation"
)

var allPipelines = []Pipeline{
	PipelineTranslation,
	PipelineTranscription,
	PipelineGeneration,
}

// AllPipelines returns the ordered list of known pipelines.
func AllPipelines() []Pipeline {
	cp := make([]Pipeline, len(allPipelines))
	copy(cp, allPipelines)
	return cp
}

// ParsePipeline converts a string into a known Pipeline.
func ParsePipeline(value string) (Pipeline, bool) {
	normalized := Pipeline(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case PipelineTranslation, PipelineTranscription, PipelineGeneration:
		return normalized, true
	}
	return "", false
}

// HealthSummary describes aggregated episode counts per key lifecycle states.
type HealthSummary struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Downloading int `json:"downloading"`
	Ready       int `json:"ready"`
	Failed      int `json:"failed"`
}

// Episode represents a podcast episode persisted in SQLite.
type Episode struct {
	ID              int64  `json:"id"`
	SourceID        string `json:"source_id"`
	SourceURL       string `json:"source_url"`
	Title           string `json:"title,omitempty"`
	Channel         string `json:"channel,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	Status          Status `json:"status"`
	MediaPath       string `json:"media_path,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	RetryCount      int    `json:"retry_count,omitempty"`

	TranslationStatus PipelineStatus `json:"translation_status,omitempty"`
	TranslationPath   string         `json:"translation_path,omitempty"`
	TranslationError  string         `json:"translation_error,omitempty"`

	TranscriptionStatus   PipelineStatus `json:"transcription_status,omitempty"`
	TranscriptionPath     string         `json:"transcription_path,omitempty"`
	TranscriptionLanguage string         `json:"transcription_language,omitempty"`
	TranscriptionError    string         `json:"transcription_error,omitempty"`

	GenerationStatus     PipelineStatus `json:"generation_status,omitempty"`
	GenerationScriptPath string         `json:"generation_script_path,omitempty"`
	GenerationAudioPath  string         `json:"generation_audio_path,omitempty"`
	GenerationError      string         `json:"generation_error,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the primary status reflects an in-flight operation.
func (e Episode) IsProcessing() bool {
	_, ok := processingStatuses[e.Status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// PipelineState returns the status of the named pipeline.
func (e *Episode) PipelineState(p Pipeline) PipelineStatus {
	switch p {
	case PipelineTranslation:
		return e.TranslationStatus
	case PipelineTranscription:
		return e.TranscriptionStatus
	case PipelineGeneration:
		return e.GenerationStatus
	}
	return PipelineNotStarted
}

// PipelineErrorMessage returns the last error recorded for the named pipeline.
func (e *Episode) PipelineErrorMessage(p Pipeline) string {
	switch p {
	case PipelineTranslation:
		return e.TranslationError
	case PipelineTranscription:
		return e.TranscriptionError
	case PipelineGeneration:
		return e.GenerationError
	}
	return ""
}

// SetPipelineState updates the named pipeline status and error message.
func (e *Episode) SetPipelineState(p Pipeline, status PipelineStatus, errMessage string) {
	switch p {
	case PipelineTranslation:
		e.TranslationStatus = status
		e.TranslationError = errMessage
	case PipelineTranscription:
		e.TranscriptionStatus = status
		e.TranscriptionError = errMessage
	case PipelineGeneration:
		e.GenerationStatus = status
		e.GenerationError = errMessage
	}
}

// ClearPipelineArtifacts resets the artifact paths recorded for the named pipeline.
func (e *Episode) ClearPipelineArtifacts(p Pipeline) {
	switch p {
	case PipelineTranslation:
		e.TranslationPath = ""
	case PipelineTranscription:
		e.TranscriptionPath = ""
	case PipelineGeneration:
		e.GenerationScriptPath = ""
		e.GenerationAudioPath = ""
	}
}

// SetFailed marks the episode as failed with the given error message.
func (e *Episode) SetFailed(message string) {
	e.Status = StatusFailed
	e.ErrorMessage = message
	e.LastHeartbeat = nil
}
