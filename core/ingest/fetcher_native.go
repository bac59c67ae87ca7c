package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/kkdai/youtube/v2"
)

// NativeFetcher extracts the audio stream in-process instead of shelling
// out, trading yt-dlp's site coverage for one fewer external dependency.
// Selected with FETCHER_STRATEGY=native.
type NativeFetcher struct {
	client     youtube.Client
	stagingDir string
}

// NewNativeFetcher creates the in-process remote fetcher.
func NewNativeFetcher(stagingDir string) *NativeFetcher {
	return &NativeFetcher{stagingDir: stagingDir}
}

// Fetch resolves metadata and downloads the best audio-only stream to a
// staging path named by a fresh unique id.
func (f *NativeFetcher) Fetch(ctx context.Context, rawURL string) (*RemoteSource, error) {
	if err := validateMediaURL(rawURL); err != nil {
		return nil, err
	}

	video, err := f.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, errDownloadFailed(err)
	}

	if video.Title == "" || video.Author == "" || len(video.Thumbnails) == 0 {
		return nil, errIncompleteMetadata(fmt.Errorf("extractor returned partial metadata for %s", video.ID))
	}
	// Last thumbnail is the largest variant.
	thumbnail := video.Thumbnails[len(video.Thumbnails)-1].URL

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return nil, errDownloadFailed(fmt.Errorf("no audio formats for %s", video.ID))
	}
	format := &formats[0]

	stream, _, err := f.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, errDownloadFailed(err)
	}
	defer stream.Close()

	if err := os.MkdirAll(f.stagingDir, 0755); err != nil {
		return nil, errDownloadFailed(err)
	}
	dest := filepath.Join(f.stagingDir, uuid.NewString()+".m4a")

	out, err := os.Create(dest)
	if err != nil {
		return nil, errDownloadFailed(err)
	}

	if _, err := io.Copy(out, stream); err != nil {
		out.Close()
		os.Remove(dest)
		if ctx.Err() != nil {
			return nil, errCanceled(ctx.Err())
		}
		return nil, errDownloadFailed(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return nil, errDownloadFailed(err)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, errDownloadFailed(err)
	}

	return &RemoteSource{
		Source: RawAudioSource{
			Origin:         OriginRemoteURL,
			LocalPath:      dest,
			MimeType:       format.MimeType,
			SizeBytes:      fi.Size(),
			SuggestedTitle: video.Title,
		},
		Title:        video.Title,
		Author:       video.Author,
		ThumbnailURL: thumbnail,
	}, nil
}
