package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Downloader.FFmpegBinary = strings.TrimSpace(c.Downloader.FFmpegBinary)
	c.Worker.Command = strings.TrimSpace(c.Worker.Command)
	c.Pipelines.TranslationVoice = strings.TrimSpace(c.Pipelines.TranslationVoice)
	c.Pipelines.TranscriptionDefault = strings.ToLower(strings.TrimSpace(c.Pipelines.TranscriptionDefault))
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)

	languages := make([]string, 0, len(c.Pipelines.TranscriptionLanguages))
	seen := make(map[string]struct{}, len(c.Pipelines.TranscriptionLanguages))
	for _, lang := range c.Pipelines.TranscriptionLanguages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" {
			continue
		}
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		languages = append(languages, lang)
	}
	c.Pipelines.TranscriptionLanguages = languages

	return nil
}

// Validate checks configuration invariants after normalization.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir is required")
	}
	if c.Paths.DownloadDir == "" {
		return fmt.Errorf("paths.download_dir is required")
	}
	if c.Paths.LogDir == "" {
		return fmt.Errorf("paths.log_dir is required")
	}
	if c.Downloader.FFmpegBinary == "" {
		return fmt.Errorf("downloader.ffmpeg_binary is required")
	}
	if c.Downloader.MaxRetries < 0 {
		return fmt.Errorf("downloader.max_retries must not be negative")
	}
	if c.Downloader.RetryDelay < 0 {
		return fmt.Errorf("downloader.retry_delay_seconds must not be negative")
	}
	if c.Downloader.MinArtifactBytes < 0 {
		return fmt.Errorf("downloader.min_artifact_bytes must not be negative")
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command is required")
	}
	if c.Worker.StartupTimeout <= 0 {
		return fmt.Errorf("worker.startup_timeout_seconds must be positive")
	}
	if c.Progress.MaxSubscribers <= 0 {
		return fmt.Errorf("progress.max_subscribers must be positive")
	}
	if c.Progress.LogBufferCapacity <= 0 {
		return fmt.Errorf("progress.log_buffer_capacity must be positive")
	}
	if c.Progress.LogBufferTasks <= 0 {
		return fmt.Errorf("progress.log_buffer_tasks must be positive")
	}
	if c.Pipelines.TranscriptionDefault != "" && !c.TranscriptionLanguageSupported(c.Pipelines.TranscriptionDefault) {
		return fmt.Errorf("pipelines.transcription_default_language %q is not in transcription_languages", c.Pipelines.TranscriptionDefault)
	}
	return nil
}

// TranscriptionLanguageSupported reports whether a language code is allowed
// for transcription.
func (c *Config) TranscriptionLanguageSupported(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	for _, candidate := range c.Pipelines.TranscriptionLanguages {
		if candidate == lang {
			return true
		}
	}
	return false
}
