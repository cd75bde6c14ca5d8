package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"podbridge/internal/aiworker"
	"podbridge/internal/episode"
	"podbridge/internal/pipeline"
	"podbridge/internal/services"
	"podbridge/internal/testsupport"
)

type fakeHandle struct {
	raw json.RawMessage
	err error
}

func (h fakeHandle) Wait(context.Context) (json.RawMessage, error) {
	return h.raw, h.err
}

type fakeWorker struct {
	mu          sync.Mutex
	submissions []aiworker.Job
	handles     []fakeHandle
	submitErr   error
	updates     []aiworker.Update
}

func (w *fakeWorker) Submit(_ context.Context, _ int64, job aiworker.Job, onProgress func(aiworker.Update)) (pipeline.Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitErr != nil {
		return nil, w.submitErr
	}
	for _, u := range w.updates {
		if onProgress != nil {
			onProgress(u)
		}
	}
	index := len(w.submissions)
	w.submissions = append(w.submissions, job)
	if index < len(w.handles) {
		return w.handles[index], nil
	}
	return fakeHandle{raw: json.RawMessage(`{}`)}, nil
}

func (w *fakeWorker) jobKinds() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	kinds := make([]string, len(w.submissions))
	for i, job := range w.submissions {
		kinds[i] = job.Kind()
	}
	return kinds
}

func readyEpisode(t *testing.T, store *episode.Store) *episode.Episode {
	t.Helper()
	ep := testsupport.NewEpisode(t, store, "src1", "https://example.com/watch?v=src1", "Ready Episode")
	ep.Status = episode.StatusReady
	ep.MediaPath = "/tmp/src1.mp3"
	if err := store.Update(context.Background(), ep); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return ep
}

// artifact writes a small file the worker can claim as its output and
// returns its JSON-encodable path.
func artifact(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	testsupport.WriteFile(t, path, 64)
	return path
}

func TestRunTranslationRecordsArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)

	out := artifact(t, "src1.es.mp3")
	worker := &fakeWorker{handles: []fakeHandle{
		{raw: json.RawMessage(`{"audio_path":"` + out + `"}`)},
	}}
	driver := pipeline.NewDriver(cfg, store, worker, nil, nil, nil, nil)

	if err := driver.Run(context.Background(), ep.ID, episode.PipelineTranslation, pipeline.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := store.GetByID(context.Background(), ep.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.TranslationStatus != episode.PipelineReady || got.TranslationPath != out {
		t.Fatalf("unexpected translation state: %#v", got)
	}
	if kinds := worker.jobKinds(); len(kinds) != 1 || kinds[0] != aiworker.JobTranslate {
		t.Fatalf("unexpected submissions: %v", kinds)
	}
}

func TestRunSkipsCompletedPipelineWithoutForce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)
	ep.SetPipelineState(episode.PipelineTranslation, episode.PipelineReady, "")
	ep.TranslationPath = "/tmp/existing.es.mp3"
	if err := store.Update(context.Background(), ep); err != nil {
		t.Fatalf("Update: %v", err)
	}

	worker := &fakeWorker{}
	driver := pipeline.NewDriver(cfg, store, worker, nil, nil, nil, nil)

	if err := driver.Run(context.Background(), ep.ID, episode.PipelineTranslation, pipeline.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(worker.jobKinds()) != 0 {
		t.Fatal("expected no worker submission for completed pipeline")
	}

	got, _ := store.GetByID(context.Background(), ep.ID)
	if got.TranslationPath != "/tmp/existing.es.mp3" {
		t.Fatalf("expected artifact untouched, got %q", got.TranslationPath)
	}
}

func TestForceRerunDiscardsPreviousArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)

	stale := filepath.Join(t.TempDir(), "stale.es.mp3")
	testsupport.WriteFile(t, stale, 64)
	ep.SetPipelineState(episode.PipelineTranslation, episode.PipelineReady, "")
	ep.TranslationPath = stale
	if err := store.Update(context.Background(), ep); err != nil {
		t.Fatalf("Update: %v", err)
	}

	fresh := artifact(t, "fresh.es.mp3")
	worker := &fakeWorker{handles: []fakeHandle{
		{raw: json.RawMessage(`{"audio_path":"` + fresh + `"}`)},
	}}
	driver := pipeline.NewDriver(cfg, store, worker, nil, nil, nil, nil)

	if err := driver.Run(context.Background(), ep.ID, episode.PipelineTranslation, pipeline.Options{Force: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale artifact removed, stat err=%v", err)
	}
	got, _ := store.GetByID(context.Background(), ep.ID)
	if got.TranslationStatus != episode.PipelineReady || got.TranslationPath != fresh {
		t.Fatalf("unexpected state after force rerun: %#v", got)
	}
}

func TestRunRejectsUndownloadedEpisode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := testsupport.NewEpisode(t, store, "pend1", "https://example.com/watch?v=pend1", "Pending")

	driver := pipeline.NewDriver(cfg, store, &fakeWorker{}, nil, nil, nil, nil)
	err := driver.Run(context.Background(), ep.ID, episode.PipelineTranscription, pipeline.Options{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunRejectsMissingEpisode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	driver := pipeline.NewDriver(cfg, store, &fakeWorker{}, nil, nil, nil, nil)
	err := driver.Run(context.Background(), 9999, episode.PipelineTranslation, pipeline.Options{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestRunRejectsConcurrentPipeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)
	ep.SetPipelineState(episode.PipelineTranscription, episode.PipelineProcessing, "")
	if err := store.Update(context.Background(), ep); err != nil {
		t.Fatalf("Update: %v", err)
	}

	driver := pipeline.NewDriver(cfg, store, &fakeWorker{}, nil, nil, nil, nil)
	err := driver.Run(context.Background(), ep.ID, episode.PipelineTranscription, pipeline.Options{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTranscriptionLanguageValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)

	driver := pipeline.NewDriver(cfg, store, &fakeWorker{}, nil, nil, nil, nil)

	err := driver.Run(context.Background(), ep.ID, episode.PipelineTranscription, pipeline.Options{Language: "zz"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unsupported language, got %v", err)
	}
	err = driver.Run(context.Background(), ep.ID, episode.PipelineTranscription, pipeline.Options{Language: "not a lang"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for malformed language, got %v", err)
	}
}

func TestTranscriptionUsesDefaultLanguage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)

	transcript := artifact(t, "src1.txt")
	worker := &fakeWorker{handles: []fakeHandle{
		{raw: json.RawMessage(`{"transcript_path":"` + transcript + `"}`)},
	}}
	driver := pipeline.NewDriver(cfg, store, worker, nil, nil, nil, nil)

	if err := driver.Run(context.Background(), ep.ID, episode.PipelineTranscription, pipeline.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := store.GetByID(context.Background(), ep.ID)
	if got.TranscriptionLanguage != cfg.Pipelines.TranscriptionDefault {
		t.Fatalf("expected default language %q, got %q", cfg.Pipelines.TranscriptionDefault, got.TranscriptionLanguage)
	}
	if got.TranscriptionStatus != episode.PipelineReady || got.TranscriptionPath != transcript {
		t.Fatalf("unexpected transcription state: %#v", got)
	}
}

func TestGenerationRequiresTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)

	driver := pipeline.NewDriver(cfg, store, &fakeWorker{}, nil, nil, nil, nil)
	err := driver.Run(context.Background(), ep.ID, episode.PipelineGeneration, pipeline.Options{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGenerationRunsScriptThenPodcast(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)
	ep.SetPipelineState(episode.PipelineTranscription, episode.PipelineReady, "")
	ep.TranscriptionPath = "/tmp/src1.txt"
	if err := store.Update(context.Background(), ep); err != nil {
		t.Fatalf("Update: %v", err)
	}

	script := artifact(t, "src1.md")
	audio := artifact(t, "src1.podcast.mp3")
	worker := &fakeWorker{handles: []fakeHandle{
		{raw: json.RawMessage(`{"script_path":"` + script + `"}`)},
		{raw: json.RawMessage(`{"audio_path":"` + audio + `"}`)},
	}}
	driver := pipeline.NewDriver(cfg, store, worker, nil, nil, nil, nil)

	if err := driver.Run(context.Background(), ep.ID, episode.PipelineGeneration, pipeline.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if kinds := worker.jobKinds(); len(kinds) != 2 || kinds[0] != aiworker.JobScript || kinds[1] != aiworker.JobPodcast {
		t.Fatalf("unexpected submissions: %v", kinds)
	}
	got, _ := store.GetByID(context.Background(), ep.ID)
	if got.GenerationStatus != episode.PipelineReady {
		t.Fatalf("expected generation ready, got %q (%s)", got.GenerationStatus, got.GenerationError)
	}
	if got.GenerationScriptPath != script || got.GenerationAudioPath != audio {
		t.Fatalf("unexpected artifacts: %#v", got)
	}
}

func TestWorkerFailureMarksPipelineError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)

	worker := &fakeWorker{handles: []fakeHandle{
		{err: services.Wrap(services.ErrExternalTool, "translation", "worker", "piper voice missing", nil)},
	}}
	driver := pipeline.NewDriver(cfg, store, worker, nil, nil, nil, nil)

	err := driver.Run(context.Background(), ep.ID, episode.PipelineTranslation, pipeline.Options{})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}

	got, _ := store.GetByID(context.Background(), ep.ID)
	if got.TranslationStatus != episode.PipelineError || got.TranslationError == "" {
		t.Fatalf("unexpected translation state: %#v", got)
	}
}

func TestMissingArtifactFailsPipeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)

	missing := filepath.Join(t.TempDir(), "never-written.es.mp3")
	worker := &fakeWorker{handles: []fakeHandle{
		{raw: json.RawMessage(`{"audio_path":"` + missing + `"}`)},
	}}
	driver := pipeline.NewDriver(cfg, store, worker, nil, nil, nil, nil)

	err := driver.Run(context.Background(), ep.ID, episode.PipelineTranslation, pipeline.Options{})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error for missing artifact, got %v", err)
	}

	got, _ := store.GetByID(context.Background(), ep.ID)
	if got.TranslationStatus != episode.PipelineError || got.TranslationPath != "" {
		t.Fatalf("unexpected translation state: %#v", got)
	}
}

// gatedWorker serves canned results and holds selected job kinds in
// Handle.Wait until released, so tests can overlap pipeline runs.
type gatedWorker struct {
	mu      sync.Mutex
	kinds   []string
	results map[string]json.RawMessage
	gates   map[string]chan struct{}
}

func (w *gatedWorker) Submit(_ context.Context, _ int64, job aiworker.Job, _ func(aiworker.Update)) (pipeline.Handle, error) {
	w.mu.Lock()
	w.kinds = append(w.kinds, job.Kind())
	w.mu.Unlock()
	return gatedHandle{gate: w.gates[job.Kind()], raw: w.results[job.Kind()]}, nil
}

func (w *gatedWorker) submitted() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	kinds := make([]string, len(w.kinds))
	copy(kinds, w.kinds)
	return kinds
}

type gatedHandle struct {
	gate chan struct{}
	raw  json.RawMessage
}

func (h gatedHandle) Wait(ctx context.Context) (json.RawMessage, error) {
	if h.gate != nil {
		select {
		case <-h.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.raw, nil
}

func waitForSubmission(t *testing.T, worker *gatedWorker, kind string) {
	t.Helper()
	for i := 0; i < 200; i++ {
		for _, k := range worker.submitted() {
			if k == kind {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker never received %s job", kind)
}

func TestParallelPipelinesKeepIndependentResults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)

	translated := artifact(t, "slow.es.mp3")
	transcript := artifact(t, "fast.txt")
	release := make(chan struct{})
	worker := &gatedWorker{
		results: map[string]json.RawMessage{
			aiworker.JobTranslate:  json.RawMessage(`{"audio_path":"` + translated + `"}`),
			aiworker.JobTranscribe: json.RawMessage(`{"transcript_path":"` + transcript + `"}`),
		},
		gates: map[string]chan struct{}{aiworker.JobTranslate: release},
	}
	driver := pipeline.NewDriver(cfg, store, worker, nil, nil, nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- driver.Run(context.Background(), ep.ID, episode.PipelineTranslation, pipeline.Options{})
	}()
	waitForSubmission(t, worker, aiworker.JobTranslate)

	// The transcription finishes while the translation is still waiting
	// on the worker.
	if err := driver.Run(context.Background(), ep.ID, episode.PipelineTranscription, pipeline.Options{}); err != nil {
		t.Fatalf("transcription Run: %v", err)
	}
	mid, _ := store.GetByID(context.Background(), ep.ID)
	if mid.TranscriptionStatus != episode.PipelineReady || mid.TranscriptionPath != transcript {
		t.Fatalf("unexpected transcription state before release: %#v", mid)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("translation Run: %v", err)
	}

	got, _ := store.GetByID(context.Background(), ep.ID)
	if got.TranscriptionStatus != episode.PipelineReady || got.TranscriptionPath != transcript {
		t.Fatalf("transcription result lost to translation writeback: %#v", got)
	}
	if got.TranslationStatus != episode.PipelineReady || got.TranslationPath != translated {
		t.Fatalf("unexpected translation state: %#v", got)
	}
}

func TestRacingRunsSubmitSingleWorkerJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ep := readyEpisode(t, store)

	out := artifact(t, "race.es.mp3")
	release := make(chan struct{})
	worker := &gatedWorker{
		results: map[string]json.RawMessage{
			aiworker.JobTranslate: json.RawMessage(`{"audio_path":"` + out + `"}`),
		},
		gates: map[string]chan struct{}{aiworker.JobTranslate: release},
	}
	driver := pipeline.NewDriver(cfg, store, worker, nil, nil, nil, nil)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- driver.Run(context.Background(), ep.ID, episode.PipelineTranslation, pipeline.Options{})
		}()
	}
	waitForSubmission(t, worker, aiworker.JobTranslate)
	close(release)

	// The loser either hits the claim guard or observes the completed
	// run and skips; it must never reach the worker.
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && !errors.Is(err, services.ErrValidation) {
			t.Fatalf("unexpected run error: %v", err)
		}
	}
	if kinds := worker.submitted(); len(kinds) != 1 {
		t.Fatalf("expected exactly one worker submission, got %v", kinds)
	}

	got, _ := store.GetByID(context.Background(), ep.ID)
	if got.TranslationStatus != episode.PipelineReady || got.TranslationPath != out {
		t.Fatalf("unexpected translation state: %#v", got)
	}
}
