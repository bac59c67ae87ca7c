package ingest

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"songmill/core/meta"
	"songmill/logger"
)

// YtdlpFetcher resolves metadata through the lookup service and downloads
// the audio with an external yt-dlp process. This is the default strategy.
type YtdlpFetcher struct {
	meta       *meta.Client
	ytdlpPath  string
	stagingDir string
	// One retry for the download step; remote failures are often transient.
	downloadAttempts int
}

// NewYtdlpFetcher creates the default remote fetcher.
func NewYtdlpFetcher(metaClient *meta.Client, ytdlpPath, stagingDir string) *YtdlpFetcher {
	return &YtdlpFetcher{
		meta:             metaClient,
		ytdlpPath:        ytdlpPath,
		stagingDir:       stagingDir,
		downloadAttempts: 2,
	}
}

// Fetch validates the URL, resolves title/author/thumbnail, then downloads
// the raw audio to a staging path named by a fresh unique id.
func (f *YtdlpFetcher) Fetch(ctx context.Context, rawURL string) (*RemoteSource, error) {
	if err := validateMediaURL(rawURL); err != nil {
		return nil, err
	}

	info, err := f.meta.Lookup(ctx, rawURL)
	if err != nil {
		return nil, errIncompleteMetadata(err)
	}

	if err := os.MkdirAll(f.stagingDir, 0755); err != nil {
		return nil, errDownloadFailed(err)
	}
	dest := filepath.Join(f.stagingDir, uuid.NewString()+".mp3")

	var lastErr error
	for attempt := 1; attempt <= f.downloadAttempts; attempt++ {
		lastErr = f.download(ctx, rawURL, dest)
		if lastErr == nil {
			break
		}
		os.Remove(dest)
		if ctx.Err() != nil {
			return nil, errCanceled(ctx.Err())
		}
		logger.Warn("yt-dlp download attempt failed",
			logger.String("url", rawURL),
			logger.Int("attempt", attempt),
			logger.ErrorField(lastErr))
	}
	if lastErr != nil {
		return nil, errDownloadFailed(lastErr)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, errDownloadFailed(err)
	}

	return &RemoteSource{
		Source: RawAudioSource{
			Origin:         OriginRemoteURL,
			LocalPath:      dest,
			MimeType:       "audio/mpeg",
			SizeBytes:      fi.Size(),
			SuggestedTitle: info.Title,
		},
		Title:        info.Title,
		Author:       info.Author,
		ThumbnailURL: info.ThumbnailURL,
	}, nil
}

func (f *YtdlpFetcher) download(ctx context.Context, rawURL, dest string) error {
	args := []string{
		"-x",
		"--audio-format", "mp3",
		"--no-playlist",
		"-o", dest,
		rawURL,
	}

	cmd := exec.CommandContext(ctx, f.ytdlpPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Process diagnostics go to the logs only, never to the caller.
		logger.Error("yt-dlp failed",
			logger.String("url", rawURL),
			logger.String("stderr", stderr.String()),
			logger.ErrorField(err))
		return err
	}
	return nil
}
