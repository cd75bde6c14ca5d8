package aiworker

import "encoding/json"

// jobEnvelope is the NDJSON line written to the worker's stdin.
type jobEnvelope struct {
	ID             int64  `json:"id"`
	Job            string `json:"job"`
	AudioPath      string `json:"audio_path,omitempty"`
	Language       string `json:"language,omitempty"`
	Voice          string `json:"voice,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	ScriptPath     string `json:"script_path,omitempty"`
}

// workerMessage is one NDJSON line read from the worker's stdout. The
// populated fields decide its meaning: Status marks lifecycle messages,
// Success marks job results, and Stage/Percent mark progress updates.
type workerMessage struct {
	ID      int64           `json:"id,omitempty"`
	Status  string          `json:"status,omitempty"`
	Stage   string          `json:"stage,omitempty"`
	Percent *float64        `json:"percent,omitempty"`
	Message string          `json:"message,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (m workerMessage) isResult() bool {
	return m.Success != nil
}

func (m workerMessage) isProgress() bool {
	return !m.isResult() && (m.Percent != nil || m.Stage != "")
}

func (m workerMessage) isStatus() bool {
	return !m.isResult() && !m.isProgress() && m.Status != ""
}

// statusReady is emitted by the worker once models are loaded and jobs
// can be accepted.
const statusReady = "ready"

// Update is a progress report attributed to a submitted job.
//
// A negative percent signals a stage-level error; the message carries
// the error text.
type Update struct {
	Stage   string
	Percent float64
	Message string
}

// TranscribeResult is the payload of a successful transcribe job.
type TranscribeResult struct {
	TranscriptPath string `json:"transcript_path"`
	Language       string `json:"language,omitempty"`
}

// TranslateResult is the payload of a successful translate job.
type TranslateResult struct {
	AudioPath string `json:"audio_path"`
}

// ScriptResult is the payload of a successful script job.
type ScriptResult struct {
	ScriptPath string `json:"script_path"`
}

// PodcastResult is the payload of a successful podcast job.
type PodcastResult struct {
	AudioPath string `json:"audio_path"`
}
