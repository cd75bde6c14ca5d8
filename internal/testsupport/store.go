package testsupport

import (
	"context"
	"testing"

	"podbridge/internal/config"
	"podbridge/internal/episode"
)

// MustOpenStore opens an episode.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *episode.Store {
	t.Helper()

	store, err := episode.Open(cfg)
	if err != nil {
		t.Fatalf("episode.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewEpisode creates a new pending episode for tests using the provided store.
func NewEpisode(t testing.TB, store *episode.Store, sourceID, sourceURL, title string) *episode.Episode {
	t.Helper()

	ep, _, err := store.Create(context.Background(), sourceID, sourceURL, title)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return ep
}
