package ingest

import (
	"context"
	"strings"

	"github.com/kkdai/youtube/v2"

	"podbridge/internal/episode"
	"podbridge/internal/services"
)

// Submit registers an episode URL for download. Submitting a URL whose
// source id already exists returns the existing episode and created=false.
func Submit(ctx context.Context, store *episode.Store, rawURL string) (*episode.Episode, bool, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, false, services.Wrap(services.ErrValidation, "ingest", "submit", "episode url is required", nil)
	}

	sourceID, err := youtube.ExtractVideoID(rawURL)
	if err != nil {
		return nil, false, services.Wrap(services.ErrValidation, "ingest", "submit", "unrecognized episode url", err)
	}

	return store.Create(ctx, sourceID, rawURL, "")
}
