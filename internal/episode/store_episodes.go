package episode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Create inserts a new pending episode for a source URL. When another caller
// already inserted the same source id, the existing row is returned instead
// and the boolean reports false.
func (s *Store) Create(ctx context.Context, sourceID, sourceURL, title string) (*Episode, bool, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO episodes (
            source_id, source_url, title, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?)`,
		sourceID,
		sourceURL,
		nullableString(title),
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			existing, getErr := s.GetBySourceID(ctx, sourceID)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert episode: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}

	ep, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return ep, true, nil
}

// GetByID fetches an episode by identifier. Missing episodes return nil.
func (s *Store) GetByID(ctx context.Context, id int64) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return ep, nil
}

// GetBySourceID fetches an episode by its source identifier.
func (s *Store) GetBySourceID(ctx context.Context, sourceID string) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE source_id = ?`, sourceID)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get episode by source id: %w", err)
	}
	return ep, nil
}

// Update rewrites every column from the given snapshot. Runtime
// transitions go through the scoped claim and mark methods; this coarse
// write is for fixtures and administrative edits.
func (s *Store) Update(ctx context.Context, ep *Episode) error {
	if ep == nil {
		return errors.New("episode is nil")
	}
	ep.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE episodes
         SET source_url = ?, title = ?, channel = ?, duration_seconds = ?, status = ?,
             media_path = ?, error_message = ?, retry_count = ?,
             translation_status = ?, translation_path = ?, translation_error = ?,
             transcription_status = ?, transcription_path = ?, transcription_language = ?, transcription_error = ?,
             generation_status = ?, generation_script_path = ?, generation_audio_path = ?, generation_error = ?,
             updated_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		ep.SourceURL,
		nullableString(ep.Title),
		nullableString(ep.Channel),
		ep.DurationSeconds,
		ep.Status,
		nullableString(ep.MediaPath),
		nullableString(ep.ErrorMessage),
		ep.RetryCount,
		string(ep.TranslationStatus),
		nullableString(ep.TranslationPath),
		nullableString(ep.TranslationError),
		string(ep.TranscriptionStatus),
		nullableString(ep.TranscriptionPath),
		nullableString(ep.TranscriptionLanguage),
		nullableString(ep.TranscriptionError),
		string(ep.GenerationStatus),
		nullableString(ep.GenerationScriptPath),
		nullableString(ep.GenerationAudioPath),
		nullableString(ep.GenerationError),
		ep.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(ep.LastHeartbeat),
		ep.ID,
	); err != nil {
		return fmt.Errorf("update episode: %w", err)
	}
	return nil
}

// List returns episodes filtered by status set (or all episodes when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Episode, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + episodeColumns + ` FROM episodes`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// NextForStatuses returns the oldest episode matching any of the provided statuses.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Episode, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE status IN (` + placeholders + `) ORDER BY created_at LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, args...)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// Remove deletes an episode by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete episode: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearFailed removes only failed episodes.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM episodes WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}
