package episode

import (
	"database/sql"
	"errors"
	"time"
)

const episodeColumns = "id, source_id, source_url, title, channel, duration_seconds, status, media_path, error_message, retry_count, translation_status, translation_path, translation_error, transcription_status, transcription_path, transcription_language, transcription_error, generation_status, generation_script_path, generation_audio_path, generation_error, created_at, updated_at, last_heartbeat"

func scanEpisode(scanner interface{ Scan(dest ...any) error }) (*Episode, error) {
	var (
		id                int64
		sourceID          string
		sourceURL         string
		title             sql.NullString
		channel           sql.NullString
		duration          sql.NullInt64
		statusStr         string
		mediaPath         sql.NullString
		errorMessage      sql.NullString
		retryCount        sql.NullInt64
		translationStatus sql.NullString
		translationPath   sql.NullString
		translationErr    sql.NullString
		transcribeStatus  sql.NullString
		transcribePath    sql.NullString
		transcribeLang    sql.NullString
		transcribeErr     sql.NullString
		generationStatus  sql.NullString
		generationScript  sql.NullString
		generationAudio   sql.NullString
		generationErr     sql.NullString
		createdRaw        sql.NullString
		updatedRaw        sql.NullString
		lastHeartbeatRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourceID,
		&sourceURL,
		&title,
		&channel,
		&duration,
		&statusStr,
		&mediaPath,
		&errorMessage,
		&retryCount,
		&translationStatus,
		&translationPath,
		&translationErr,
		&transcribeStatus,
		&transcribePath,
		&transcribeLang,
		&transcribeErr,
		&generationStatus,
		&generationScript,
		&generationAudio,
		&generationErr,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	ep := &Episode{
		ID:                    id,
		SourceID:              sourceID,
		SourceURL:             sourceURL,
		Title:                 title.String,
		Channel:               channel.String,
		DurationSeconds:       duration.Int64,
		Status:                Status(statusStr),
		MediaPath:             mediaPath.String,
		ErrorMessage:          errorMessage.String,
		RetryCount:            int(retryCount.Int64),
		TranslationStatus:     PipelineStatus(translationStatus.String),
		TranslationPath:       translationPath.String,
		TranslationError:      translationErr.String,
		TranscriptionStatus:   PipelineStatus(transcribeStatus.String),
		TranscriptionPath:     transcribePath.String,
		TranscriptionLanguage: transcribeLang.String,
		TranscriptionError:    transcribeErr.String,
		GenerationStatus:      PipelineStatus(generationStatus.String),
		GenerationScriptPath:  generationScript.String,
		GenerationAudioPath:   generationAudio.String,
		GenerationError:       generationErr.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		ep.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		ep.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			ep.LastHeartbeat = &heartbeat
		}
	}
	return ep, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
