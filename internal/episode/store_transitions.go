package episode

import (
	"context"
	"fmt"
	"time"
)

const interruptedMessage = "interrupted by daemon restart"

// ResetStuckProcessing marks episodes left mid-flight by a previous daemon
// run as failed. In-flight work does not survive a restart, so interrupted
// downloads and processing pipelines both land in their error states;
// RetryFailed requeues downloads explicitly.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes
         SET status = ?, error_message = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`,
		StatusFailed,
		interruptedMessage,
		now,
		StatusDownloading,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck downloads: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	for _, column := range []string{"translation", "transcription", "generation"} {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE episodes
             SET `+column+`_status = ?, `+column+`_error = ?, updated_at = ?
             WHERE `+column+`_status = ?`,
			PipelineError,
			interruptedMessage,
			now,
			PipelineProcessing,
		)
		if err != nil {
			return affected, fmt.Errorf("reset stuck %s: %w", column, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return affected, fmt.Errorf("rows affected: %w", err)
		}
		affected += n
	}

	return affected, nil
}

// ClaimForDownload atomically moves a pending episode into downloading.
// The boolean reports whether this caller won the claim; a false result
// means another claimant got there first.
func (s *Store) ClaimForDownload(ctx context.Context, id int64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes
         SET status = ?, error_message = NULL, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusDownloading,
		now,
		now,
		id,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim download: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpdateMetadata records resolved source metadata without touching
// lifecycle or pipeline columns. The heartbeat is refreshed since
// metadata arrives only while a download is in flight.
func (s *Store) UpdateMetadata(ctx context.Context, id int64, title, channel string, durationSeconds int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE episodes
         SET title = ?, channel = ?, duration_seconds = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(title),
		nullableString(channel),
		durationSeconds,
		now,
		now,
		id,
	); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// MarkDownloaded records a completed download and the failed attempts
// that preceded it. Only the primary lifecycle columns are written.
func (s *Store) MarkDownloaded(ctx context.Context, id int64, mediaPath string, retryCount int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE episodes
         SET status = ?, media_path = ?, error_message = NULL, retry_count = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ?`,
		StatusReady,
		nullableString(mediaPath),
		retryCount,
		now,
		id,
	); err != nil {
		return fmt.Errorf("mark downloaded: %w", err)
	}
	return nil
}

// MarkDownloadFailed records a terminal download failure and the attempt
// count that produced it.
func (s *Store) MarkDownloadFailed(ctx context.Context, id int64, message string, retryCount int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE episodes
         SET status = ?, error_message = ?, retry_count = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ?`,
		StatusFailed,
		nullableString(message),
		retryCount,
		now,
		id,
	); err != nil {
		return fmt.Errorf("mark download failed: %w", err)
	}
	return nil
}

// PipelineArtifacts carries the outputs recorded when a pipeline
// completes. Path holds the translation audio or transcript; ScriptPath
// and AudioPath apply to generation only.
type PipelineArtifacts struct {
	Path       string
	Language   string
	ScriptPath string
	AudioPath  string
}

// ClaimPipeline atomically moves the named pipeline into processing,
// clearing its previous error and artifacts. The claim succeeds only
// while the episode is ready and the pipeline is not already processing,
// so two racing claimants resolve to exactly one winner. Without rerun
// a pipeline that already completed also refuses the claim, which keeps
// a stale caller from silently redoing finished work. The boolean
// reports whether this caller won.
func (s *Store) ClaimPipeline(ctx context.Context, id int64, p Pipeline, language string, rerun bool) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var set string
	args := []any{PipelineProcessing}
	switch p {
	case PipelineTranslation:
		set = `translation_status = ?, translation_error = NULL, translation_path = NULL`
	case PipelineTranscription:
		set = `transcription_status = ?, transcription_error = NULL, transcription_path = NULL, transcription_language = ?`
		args = append(args, nullableString(language))
	case PipelineGeneration:
		set = `generation_status = ?, generation_error = NULL, generation_script_path = NULL, generation_audio_path = NULL`
	default:
		return false, fmt.Errorf("unknown pipeline %q", p)
	}

	query := `UPDATE episodes SET ` + set + `, updated_at = ?
         WHERE id = ? AND status = ? AND ` + string(p) + `_status != ?`
	args = append(args, now, id, StatusReady, PipelineProcessing)
	if !rerun {
		query += ` AND ` + string(p) + `_status != ?`
		args = append(args, PipelineReady)
	}

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", p, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CompletePipeline records a successful pipeline result. Only the named
// pipeline's columns are written, so results recorded concurrently for
// other pipelines on the same episode are never disturbed.
func (s *Store) CompletePipeline(ctx context.Context, id int64, p Pipeline, artifacts PipelineArtifacts) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var (
		query string
		args  []any
	)
	switch p {
	case PipelineTranslation:
		query = `UPDATE episodes
             SET translation_status = ?, translation_error = NULL, translation_path = ?, updated_at = ?
             WHERE id = ?`
		args = []any{PipelineReady, nullableString(artifacts.Path), now, id}
	case PipelineTranscription:
		query = `UPDATE episodes
             SET transcription_status = ?, transcription_error = NULL, transcription_path = ?,
                 transcription_language = ?, updated_at = ?
             WHERE id = ?`
		args = []any{PipelineReady, nullableString(artifacts.Path), nullableString(artifacts.Language), now, id}
	case PipelineGeneration:
		query = `UPDATE episodes
             SET generation_status = ?, generation_error = NULL, generation_script_path = ?,
                 generation_audio_path = ?, updated_at = ?
             WHERE id = ?`
		args = []any{PipelineReady, nullableString(artifacts.ScriptPath), nullableString(artifacts.AudioPath), now, id}
	default:
		return fmt.Errorf("unknown pipeline %q", p)
	}

	if err := s.execWithoutResultRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("complete %s: %w", p, err)
	}
	return nil
}

// FailPipeline records a terminal pipeline failure, touching only the
// named pipeline's status and error columns.
func (s *Store) FailPipeline(ctx context.Context, id int64, p Pipeline, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var query string
	switch p {
	case PipelineTranslation:
		query = `UPDATE episodes SET translation_status = ?, translation_error = ?, updated_at = ? WHERE id = ?`
	case PipelineTranscription:
		query = `UPDATE episodes SET transcription_status = ?, transcription_error = ?, updated_at = ? WHERE id = ?`
	case PipelineGeneration:
		query = `UPDATE episodes SET generation_status = ?, generation_error = ?, updated_at = ? WHERE id = ?`
	default:
		return fmt.Errorf("unknown pipeline %q", p)
	}

	if err := s.execWithoutResultRetry(ctx, query, PipelineError, nullableString(message), now, id); err != nil {
		return fmt.Errorf("fail %s: %w", p, err)
	}
	return nil
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight episode.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE episodes SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// RetryFailed moves failed episodes back to pending for reprocessing.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE episodes
            SET status = ?, error_message = NULL, retry_count = 0, updated_at = ?
            WHERE status = ?`,
			StatusPending,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed episodes: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, now)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE episodes
        SET status = ?, error_message = NULL, retry_count = 0, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected episodes: %w", err)
	}
	return res.RowsAffected()
}
