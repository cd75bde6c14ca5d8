// Package media resolves source metadata for episode URLs and drives
// ffmpeg to fetch and convert episode audio.
package media
