// Package episode persists podcast episodes and their pipeline state in
// SQLite. Each episode tracks a primary download lifecycle plus independent
// translation, transcription, and generation pipelines.
package episode
