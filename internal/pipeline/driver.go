package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/language"

	"podbridge/internal/aiworker"
	"podbridge/internal/config"
	"podbridge/internal/episode"
	"podbridge/internal/logbuffer"
	"podbridge/internal/logging"
	"podbridge/internal/notifications"
	"podbridge/internal/progress"
	"podbridge/internal/services"
)

// Options adjusts a single pipeline run.
type Options struct {
	// Force reruns a pipeline that already completed, discarding its
	// previous artifacts.
	Force bool
	// Language selects the transcription language; empty uses the
	// configured default.
	Language string
}

// Driver executes derived-content pipelines against the episode store.
type Driver struct {
	cfg      *config.Config
	store    *episode.Store
	worker   Worker
	bus      *progress.Bus
	logs     *logbuffer.Registry
	notifier notifications.Service
	logger   *slog.Logger
}

// NewDriver wires a pipeline driver. The worker manager is injected so
// callers control its lifecycle; bus, logs, and notifier may be nil.
func NewDriver(
	cfg *config.Config,
	store *episode.Store,
	worker Worker,
	bus *progress.Bus,
	logs *logbuffer.Registry,
	notifier notifications.Service,
	logger *slog.Logger,
) *Driver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Driver{
		cfg:      cfg,
		store:    store,
		worker:   worker,
		bus:      bus,
		logs:     logs,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
	}
}

func kindFor(p episode.Pipeline) progress.Kind {
	switch p {
	case episode.PipelineTranslation:
		return progress.KindTranslate
	case episode.PipelineTranscription:
		return progress.KindTranscribe
	case episode.PipelineGeneration:
		return progress.KindGenerate
	}
	return progress.KindDownload
}

func taskKey(episodeID int64, p episode.Pipeline) string {
	return fmt.Sprintf("episode:%d:%s", episodeID, p)
}

func (d *Driver) publish(ep *episode.Episode, p episode.Pipeline, stage string, percent float64, message string) {
	if d.bus != nil {
		d.bus.Publish(progress.Event{
			Kind:      kindFor(p),
			EpisodeID: ep.ID,
			Stage:     stage,
			Percent:   percent,
			Message:   message,
		})
	}
	if d.logs != nil {
		level := "info"
		if percent < 0 {
			level = "error"
		}
		d.logs.Append(taskKey(ep.ID, p), logbuffer.Entry{
			Level:   level,
			Message: fmt.Sprintf("%s: %s", stage, message),
		})
	}
}

// Run executes the named pipeline for an episode synchronously. A pipeline
// that already completed is left untouched unless opts.Force is set.
func (d *Driver) Run(ctx context.Context, episodeID int64, p episode.Pipeline, opts Options) error {
	ep, err := d.store.GetByID(ctx, episodeID)
	if err != nil {
		return err
	}
	if ep == nil {
		return services.Wrap(services.ErrNotFound, string(p), "run", fmt.Sprintf("episode %d not found", episodeID), nil)
	}
	if ep.Status != episode.StatusReady {
		return services.Wrap(services.ErrValidation, string(p), "run",
			fmt.Sprintf("episode %d media is not downloaded (status %s)", ep.ID, ep.Status), nil)
	}

	switch ep.PipelineState(p) {
	case episode.PipelineProcessing:
		return services.Wrap(services.ErrValidation, string(p), "run",
			fmt.Sprintf("%s already in progress for episode %d", p, ep.ID), nil)
	case episode.PipelineReady:
		if !opts.Force {
			return nil
		}
	}

	lang := ""
	if p == episode.PipelineTranscription {
		lang, err = d.transcriptionLanguage(opts.Language)
		if err != nil {
			return err
		}
	}
	if p == episode.PipelineGeneration && ep.TranscriptionStatus != episode.PipelineReady {
		return services.Wrap(services.ErrValidation, string(p), "run",
			fmt.Sprintf("generation requires a completed transcription for episode %d", ep.ID), nil)
	}

	// The conditional claim is the real concurrency guard; the snapshot
	// checks above only produce friendlier messages. Racing claimants
	// resolve to exactly one winner here.
	claimed, err := d.store.ClaimPipeline(ctx, ep.ID, p, lang, opts.Force)
	if err != nil {
		return err
	}
	if !claimed {
		latest, err := d.store.GetByID(ctx, ep.ID)
		if err != nil {
			return err
		}
		if latest != nil && !opts.Force && latest.PipelineState(p) == episode.PipelineReady {
			// A concurrent run finished first; without force that is the
			// skip case, not an error.
			return nil
		}
		return services.Wrap(services.ErrValidation, string(p), "run",
			fmt.Sprintf("%s already in progress for episode %d", p, ep.ID), nil)
	}
	if opts.Force {
		// Stale files go only after the claim is won, so a lost rerun
		// never strands a ready row without its artifact.
		d.discardArtifacts(ep, p)
	}
	if p == episode.PipelineTranscription {
		ep.TranscriptionLanguage = lang
	}
	if d.logs != nil {
		d.logs.Remove(taskKey(ep.ID, p))
	}
	d.publish(ep, p, string(p), 0, "started")

	ctx = services.WithEpisodeID(ctx, ep.ID)
	ctx = services.WithPipeline(ctx, string(p))

	runErr := d.execute(ctx, ep, p, lang)
	if runErr != nil {
		if err := d.store.FailPipeline(ctx, ep.ID, p, runErr.Error()); err != nil {
			d.logger.Error("persist pipeline failure", logging.Error(err))
		}
		d.publish(ep, p, string(p), -1, runErr.Error())
		if d.notifier != nil {
			if err := d.notifier.NotifyPipelineFailed(ctx, p, ep.Title, runErr.Error()); err != nil {
				d.logger.Warn("pipeline failure notification failed", logging.Error(err))
			}
		}
		return runErr
	}

	if err := d.store.CompletePipeline(ctx, ep.ID, p, artifactsFor(ep, p)); err != nil {
		return err
	}
	d.publish(ep, p, string(p), 100, "completed")
	if d.logs != nil {
		d.logs.ScheduleEviction(taskKey(ep.ID, p))
	}
	if d.notifier != nil {
		if err := d.notifier.NotifyPipelineCompleted(ctx, p, ep.Title); err != nil {
			d.logger.Warn("pipeline notification failed", logging.Error(err))
		}
	}
	d.logger.Info("pipeline completed",
		logging.Int64("episode_id", ep.ID),
		logging.String("pipeline", string(p)))
	return nil
}

func (d *Driver) transcriptionLanguage(requested string) (string, error) {
	lang := strings.ToLower(strings.TrimSpace(requested))
	if lang == "" {
		lang = d.cfg.Pipelines.TranscriptionDefault
	}
	if _, err := language.Parse(lang); err != nil {
		return "", services.Wrap(services.ErrValidation, "transcription", "run",
			fmt.Sprintf("malformed language code %q", lang), err)
	}
	if !d.cfg.TranscriptionLanguageSupported(lang) {
		return "", services.Wrap(services.ErrValidation, "transcription", "run",
			fmt.Sprintf("unsupported transcription language %q", lang), nil)
	}
	return lang, nil
}

// discardArtifacts clears recorded artifact paths and removes the files
// from disk ahead of a forced rerun.
func (d *Driver) discardArtifacts(ep *episode.Episode, p episode.Pipeline) {
	paths := make([]string, 0, 2)
	switch p {
	case episode.PipelineTranslation:
		paths = append(paths, ep.TranslationPath)
	case episode.PipelineTranscription:
		paths = append(paths, ep.TranscriptionPath)
	case episode.PipelineGeneration:
		paths = append(paths, ep.GenerationScriptPath, ep.GenerationAudioPath)
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("remove stale artifact", logging.String("path", path), logging.Error(err))
		}
	}
	ep.ClearPipelineArtifacts(p)
}

// artifactsFor collects the outputs the execute step recorded on the
// in-memory episode for the scoped completion write.
func artifactsFor(ep *episode.Episode, p episode.Pipeline) episode.PipelineArtifacts {
	switch p {
	case episode.PipelineTranslation:
		return episode.PipelineArtifacts{Path: ep.TranslationPath}
	case episode.PipelineTranscription:
		return episode.PipelineArtifacts{Path: ep.TranscriptionPath, Language: ep.TranscriptionLanguage}
	case episode.PipelineGeneration:
		return episode.PipelineArtifacts{ScriptPath: ep.GenerationScriptPath, AudioPath: ep.GenerationAudioPath}
	}
	return episode.PipelineArtifacts{}
}

// verifyArtifact confirms a worker-reported artifact actually exists on
// disk. A success result naming a missing file is treated as a failure.
func verifyArtifact(pipeline, path string) error {
	if _, err := os.Stat(path); err != nil {
		return services.Wrap(services.ErrExternalTool, pipeline, "result",
			fmt.Sprintf("worker reported missing artifact %q", path), err)
	}
	return nil
}

func (d *Driver) execute(ctx context.Context, ep *episode.Episode, p episode.Pipeline, lang string) error {
	switch p {
	case episode.PipelineTranslation:
		return d.runTranslation(ctx, ep)
	case episode.PipelineTranscription:
		return d.runTranscription(ctx, ep, lang)
	case episode.PipelineGeneration:
		return d.runGeneration(ctx, ep)
	}
	return services.Wrap(services.ErrValidation, string(p), "run", fmt.Sprintf("unknown pipeline %q", p), nil)
}

func (d *Driver) forwardProgress(ep *episode.Episode, p episode.Pipeline) func(aiworker.Update) {
	return func(u aiworker.Update) {
		d.publish(ep, p, u.Stage, u.Percent, u.Message)
	}
}

func (d *Driver) runTranslation(ctx context.Context, ep *episode.Episode) error {
	handle, err := d.worker.Submit(ctx, ep.ID, aiworker.TranslateJob{
		AudioPath: ep.MediaPath,
		Voice:     d.cfg.Pipelines.TranslationVoice,
	}, d.forwardProgress(ep, episode.PipelineTranslation))
	if err != nil {
		return err
	}
	raw, err := handle.Wait(ctx)
	if err != nil {
		return err
	}
	var result aiworker.TranslateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return services.Wrap(services.ErrExternalTool, "translation", "result", "decode translate result", err)
	}
	if result.AudioPath == "" {
		return services.Wrap(services.ErrExternalTool, "translation", "result", "worker returned no audio path", nil)
	}
	if err := verifyArtifact("translation", result.AudioPath); err != nil {
		return err
	}
	ep.TranslationPath = result.AudioPath
	return nil
}

func (d *Driver) runTranscription(ctx context.Context, ep *episode.Episode, lang string) error {
	handle, err := d.worker.Submit(ctx, ep.ID, aiworker.TranscribeJob{
		AudioPath: ep.MediaPath,
		Language:  lang,
	}, d.forwardProgress(ep, episode.PipelineTranscription))
	if err != nil {
		return err
	}
	raw, err := handle.Wait(ctx)
	if err != nil {
		return err
	}
	var result aiworker.TranscribeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return services.Wrap(services.ErrExternalTool, "transcription", "result", "decode transcribe result", err)
	}
	if result.TranscriptPath == "" {
		return services.Wrap(services.ErrExternalTool, "transcription", "result", "worker returned no transcript path", nil)
	}
	if err := verifyArtifact("transcription", result.TranscriptPath); err != nil {
		return err
	}
	ep.TranscriptionPath = result.TranscriptPath
	if result.Language != "" {
		ep.TranscriptionLanguage = result.Language
	}
	return nil
}

// runGeneration drafts a podcast script from the transcript, then
// synthesizes audio from the script.
func (d *Driver) runGeneration(ctx context.Context, ep *episode.Episode) error {
	scriptHandle, err := d.worker.Submit(ctx, ep.ID, aiworker.ScriptJob{
		TranscriptPath: ep.TranscriptionPath,
	}, d.forwardProgress(ep, episode.PipelineGeneration))
	if err != nil {
		return err
	}
	raw, err := scriptHandle.Wait(ctx)
	if err != nil {
		return err
	}
	var script aiworker.ScriptResult
	if err := json.Unmarshal(raw, &script); err != nil {
		return services.Wrap(services.ErrExternalTool, "generation", "result", "decode script result", err)
	}
	if script.ScriptPath == "" {
		return services.Wrap(services.ErrExternalTool, "generation", "result", "worker returned no script path", nil)
	}
	if err := verifyArtifact("generation", script.ScriptPath); err != nil {
		return err
	}
	ep.GenerationScriptPath = script.ScriptPath

	audioHandle, err := d.worker.Submit(ctx, ep.ID, aiworker.PodcastJob{
		ScriptPath: script.ScriptPath,
		Voice:      d.cfg.Pipelines.TranslationVoice,
	}, d.forwardProgress(ep, episode.PipelineGeneration))
	if err != nil {
		return err
	}
	raw, err = audioHandle.Wait(ctx)
	if err != nil {
		return err
	}
	var audio aiworker.PodcastResult
	if err := json.Unmarshal(raw, &audio); err != nil {
		return services.Wrap(services.ErrExternalTool, "generation", "result", "decode podcast result", err)
	}
	if audio.AudioPath == "" {
		return services.Wrap(services.ErrExternalTool, "generation", "result", "worker returned no audio path", nil)
	}
	if err := verifyArtifact("generation", audio.AudioPath); err != nil {
		return err
	}
	ep.GenerationAudioPath = audio.AudioPath
	return nil
}
