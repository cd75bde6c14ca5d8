// Package pipeline runs the derived-content pipelines (translation,
// transcription, generation) for downloaded episodes by submitting jobs
// to the AI worker and recording artifacts on completion.
package pipeline
