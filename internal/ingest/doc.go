// Package ingest accepts episode URLs and drives the download pipeline:
// pending episodes are claimed, resolved, fetched through ffmpeg, and
// validated, with bounded retries and partial-file cleanup on failure.
package ingest
