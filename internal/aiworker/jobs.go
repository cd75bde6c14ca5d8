package aiworker

// Job kinds understood by the worker process.
const (
	JobTranscribe = "transcribe"
	JobTranslate  = "translate"
	JobScript     = "script"
	JobPodcast    = "podcast"
	JobPing       = "ping"
	jobShutdown   = "shutdown"
)

// Job is a typed request for the worker process.
type Job interface {
	Kind() string
	envelope(id int64) jobEnvelope
}

// TranscribeJob asks the worker to transcribe an audio file.
type TranscribeJob struct {
	AudioPath string
	Language  string
}

func (TranscribeJob) Kind() string { return JobTranscribe }

func (j TranscribeJob) envelope(id int64) jobEnvelope {
	return jobEnvelope{
		ID:        id,
		Job:       JobTranscribe,
		AudioPath: j.AudioPath,
		Language:  j.Language,
	}
}

// TranslateJob asks the worker to produce a translated voiced rendition
// of an audio file.
type TranslateJob struct {
	AudioPath string
	Voice     string
}

func (TranslateJob) Kind() string { return JobTranslate }

func (j TranslateJob) envelope(id int64) jobEnvelope {
	return jobEnvelope{
		ID:        id,
		Job:       JobTranslate,
		AudioPath: j.AudioPath,
		Voice:     j.Voice,
	}
}

// ScriptJob asks the worker to draft a podcast script from a transcript.
type ScriptJob struct {
	TranscriptPath string
}

func (ScriptJob) Kind() string { return JobScript }

func (j ScriptJob) envelope(id int64) jobEnvelope {
	return jobEnvelope{
		ID:             id,
		Job:            JobScript,
		TranscriptPath: j.TranscriptPath,
	}
}

// PodcastJob asks the worker to synthesize podcast audio from a script.
type PodcastJob struct {
	ScriptPath string
	Voice      string
}

func (PodcastJob) Kind() string { return JobPodcast }

func (j PodcastJob) envelope(id int64) jobEnvelope {
	return jobEnvelope{
		ID:         id,
		Job:        JobPodcast,
		ScriptPath: j.ScriptPath,
		Voice:      j.Voice,
	}
}

// PingJob checks worker liveness without side effects.
type PingJob struct{}

func (PingJob) Kind() string { return JobPing }

func (PingJob) envelope(id int64) jobEnvelope {
	return jobEnvelope{ID: id, Job: JobPing}
}

type shutdownJob struct{}

func (shutdownJob) Kind() string { return jobShutdown }

func (shutdownJob) envelope(id int64) jobEnvelope {
	return jobEnvelope{ID: id, Job: jobShutdown}
}
