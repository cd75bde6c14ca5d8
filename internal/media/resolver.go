package media

import (
	"context"
	"fmt"
	"time"

	"github.com/kkdai/youtube/v2"
)

// VideoMeta is the source metadata recorded for an episode.
type VideoMeta struct {
	ID       string
	Title    string
	Author   string
	Duration time.Duration
	// StreamURL points at the best audio-only stream when available.
	StreamURL string
}

// Resolver looks up source metadata for a submitted URL.
type Resolver interface {
	Resolve(ctx context.Context, url string) (*VideoMeta, error)
}

// YouTubeResolver resolves metadata through the YouTube innertube API.
type YouTubeResolver struct {
	client youtube.Client
}

// NewYouTubeResolver returns a ready resolver.
func NewYouTubeResolver() *YouTubeResolver {
	return &YouTubeResolver{client: youtube.Client{}}
}

// Resolve fetches the video metadata for a watch URL or bare video id.
func (r *YouTubeResolver) Resolve(ctx context.Context, url string) (*VideoMeta, error) {
	video, err := r.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("resolve video: %w", err)
	}

	meta := &VideoMeta{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
	}

	if formats := video.Formats.WithAudioChannels(); len(formats) > 0 {
		formats.Sort()
		if streamURL, err := r.client.GetStreamURLContext(ctx, video, &formats[0]); err == nil {
			meta.StreamURL = streamURL
		}
	}

	return meta, nil
}
