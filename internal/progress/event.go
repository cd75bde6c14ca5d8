package progress

import "time"

// Kind identifies the pipeline a progress event belongs to.
type Kind string

const (
	KindDownload   Kind = "download"
	KindTranslate  Kind = "translate"
	KindTranscribe Kind = "transcribe"
	KindGenerate   Kind = "generate"
)

var allKinds = []Kind{KindDownload, KindTranslate, KindTranscribe, KindGenerate}

// AllKinds returns the ordered list of known kinds.
func AllKinds() []Kind {
	cp := make([]Kind, len(allKinds))
	copy(cp, allKinds)
	return cp
}

// Event is a single progress update for an episode's pipeline.
//
// Percent is in [0, 100]; a negative percent signals an error condition
// and Message carries the error text. Heartbeat events carry no payload
// beyond the timestamp and let observers detect a live but quiet daemon.
type Event struct {
	Kind      Kind      `json:"kind"`
	EpisodeID int64     `json:"episode_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Heartbeat bool      `json:"heartbeat,omitempty"`
	Time      time.Time `json:"time"`
}

// IsError reports whether the event signals a failed operation.
func (e Event) IsError() bool {
	return e.Percent < 0
}
