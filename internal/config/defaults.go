package config

const (
	defaultDataDir           = "~/.local/share/podbridge"
	defaultDownloadDir       = "~/.local/share/podbridge/downloads"
	defaultLogDir            = "~/.local/share/podbridge/logs"
	defaultAPIBind           = "127.0.0.1:8199"
	defaultFFmpegBinary      = "ffmpeg"
	defaultMaxRetries        = 1
	defaultRetryDelaySeconds = 5
	defaultMinArtifactBytes  = 10 * 1024
	defaultDownloadTimeout   = 900
	defaultWorkerCommand     = "python3"
	defaultStartupTimeout    = 180
	defaultShutdownGrace     = 5
	defaultTranslationVoice  = "es_ES-davefx"
	defaultTranscriptionLang = "en"
	defaultHeartbeatInterval = 30
	defaultMaxSubscribers    = 64
	defaultLogBufferCapacity = 200
	defaultLogBufferTasks    = 64
	defaultLogRetention      = 300
	defaultNotifyTimeout     = 10
	defaultLogFormat         = "auto"
	defaultLogLevel          = "info"
)

func defaultTranscriptionLanguages() []string {
	return []string{
		"en", "es", "fr", "de", "it", "pt", "nl", "pl", "ru", "ja",
		"ko", "zh", "ar", "hi", "tr", "vi", "th", "id", "uk", "cs",
		"ro", "hu", "el", "he", "sv", "da", "fi", "no",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			DownloadDir: defaultDownloadDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Downloader: Downloader{
			FFmpegBinary:     defaultFFmpegBinary,
			MaxRetries:       defaultMaxRetries,
			RetryDelay:       defaultRetryDelaySeconds,
			MinArtifactBytes: defaultMinArtifactBytes,
			Timeout:          defaultDownloadTimeout,
		},
		Worker: Worker{
			Command:        defaultWorkerCommand,
			Args:           []string{"scripts/ai_worker.py"},
			StartupTimeout: defaultStartupTimeout,
			ShutdownGrace:  defaultShutdownGrace,
		},
		Pipelines: Pipelines{
			TranslationVoice:       defaultTranslationVoice,
			TranscriptionDefault:   defaultTranscriptionLang,
			TranscriptionLanguages: defaultTranscriptionLanguages(),
		},
		Progress: Progress{
			HeartbeatInterval: defaultHeartbeatInterval,
			MaxSubscribers:    defaultMaxSubscribers,
			LogBufferCapacity: defaultLogBufferCapacity,
			LogBufferTasks:    defaultLogBufferTasks,
			LogRetention:      defaultLogRetention,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
