package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"songmill/logger"
	"songmill/storage"
)

// PlaylistName is the manifest file every transcode must produce.
const PlaylistName = "index.m3u8"

// Transcoder converts one staged audio file into a hosted HLS bundle.
// Cleanup removes whatever a run left behind, locally and in the store;
// it is safe to call when nothing was produced.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, slug string) (string, error)
	Cleanup(ctx context.Context, slug string) error
}

// FFmpegTranscoder shells out to ffmpeg and streams finished segments to
// the object store while the encode is still running, so playback assets
// are hosted the moment ffmpeg exits. The playlist is uploaded last and
// only after a clean exit: a hosted index.m3u8 therefore always names
// fully hosted segments.
type FFmpegTranscoder struct {
	ffmpegPath    string
	audioBitrate  string
	segmentTime   string
	hlsDir        string
	store         *storage.ObjectStore
	uploadWorkers int
}

// NewFFmpegTranscoder creates the ffmpeg-backed transcoder.
func NewFFmpegTranscoder(ffmpegPath, audioBitrate, segmentTime, hlsDir string, store *storage.ObjectStore, uploadWorkers int) *FFmpegTranscoder {
	if uploadWorkers <= 0 {
		uploadWorkers = 4
	}
	return &FFmpegTranscoder{
		ffmpegPath:    ffmpegPath,
		audioBitrate:  audioBitrate,
		segmentTime:   segmentTime,
		hlsDir:        hlsDir,
		store:         store,
		uploadWorkers: uploadWorkers,
	}
}

// buildArgs assembles the fixed ffmpeg option set: AAC audio at the
// configured bitrate, 10s segments by default, unbounded VOD playlist.
func (t *FFmpegTranscoder) buildArgs(inputPath, playlistPath, segmentPattern string) []string {
	return []string{
		"-i", inputPath,
		"-c:a", "aac",
		"-b:a", t.audioBitrate,
		"-hls_time", t.segmentTime,
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", segmentPattern,
		"-f", "hls",
		playlistPath,
	}
}

func (t *FFmpegTranscoder) outputDir(slug string) string {
	return filepath.Join(t.hlsDir, slug)
}

func (t *FFmpegTranscoder) objectPrefix(slug string) string {
	return "hls/" + slug + "/"
}

// Transcode blocks until ffmpeg exits and all segments plus the playlist
// are hosted, then returns the playlist's public URL. On any failure the
// partially written output directory and any hosted objects are removed
// before the error is returned.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, inputPath, slug string) (string, error) {
	outputDir := t.outputDir(slug)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", errTranscodeFailed(err)
	}

	playlistPath := filepath.Join(outputDir, PlaylistName)
	segmentPattern := filepath.Join(outputDir, "segment_%03d.ts")

	taskChan := make(chan string, 100)
	var wg sync.WaitGroup
	var uploadMu sync.Mutex
	var uploadErr error

	for i := 0; i < t.uploadWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for segmentPath := range taskChan {
				name := filepath.Base(segmentPath)
				err := t.store.UploadFile(ctx, t.objectPrefix(slug)+name, segmentPath, "video/MP2T")
				if err != nil {
					uploadMu.Lock()
					if uploadErr == nil {
						uploadErr = err
					}
					uploadMu.Unlock()
				}
			}
		}()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		close(taskChan)
		wg.Wait()
		t.Cleanup(context.Background(), slug)
		return "", errTranscodeFailed(err)
	}
	if err := watcher.Add(outputDir); err != nil {
		watcher.Close()
		close(taskChan)
		wg.Wait()
		t.Cleanup(context.Background(), slug)
		return "", errTranscodeFailed(err)
	}

	uploaded := &sync.Map{}
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		t.watchSegments(ctx, watcher, taskChan, uploaded)
	}()

	args := t.buildArgs(inputPath, playlistPath, segmentPattern)
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Info("starting transcode",
		logger.String("slug", slug),
		logger.String("input", inputPath))

	ffmpegErr := cmd.Run()

	// Let the watcher drain the last file events before shutting it down.
	time.Sleep(200 * time.Millisecond)
	watcher.Close()
	<-watcherDone

	// Final sweep for segments the watcher missed.
	t.enqueueRemaining(outputDir, taskChan, uploaded)
	close(taskChan)
	wg.Wait()

	// Cleanup below must run even when the request context is dead.
	cleanupCtx := context.Background()

	if ctx.Err() != nil {
		t.Cleanup(cleanupCtx, slug)
		return "", errCanceled(ctx.Err())
	}
	if ffmpegErr != nil {
		logger.Error("ffmpeg failed",
			logger.String("slug", slug),
			logger.String("stderr", stderr.String()),
			logger.ErrorField(ffmpegErr))
		t.Cleanup(cleanupCtx, slug)
		return "", errTranscodeFailed(ffmpegErr)
	}
	if _, err := os.Stat(playlistPath); err != nil {
		t.Cleanup(cleanupCtx, slug)
		return "", errTranscodeFailed(fmt.Errorf("ffmpeg exited cleanly but produced no playlist: %w", err))
	}
	if uploadErr != nil {
		t.Cleanup(cleanupCtx, slug)
		return "", errUploadFailed("audio segments", uploadErr)
	}

	playlistObject := t.objectPrefix(slug) + PlaylistName
	if err := t.store.UploadFile(ctx, playlistObject, playlistPath, "application/vnd.apple.mpegurl"); err != nil {
		t.Cleanup(cleanupCtx, slug)
		return "", errUploadFailed("playlist", err)
	}

	logger.Info("transcode complete", logger.String("slug", slug))
	return t.store.PublicURL(playlistObject), nil
}

// watchSegments forwards finished .ts files to the upload workers. A file
// counts as finished once it has gone 100ms without a write event.
func (t *FFmpegTranscoder) watchSegments(ctx context.Context, watcher *fsnotify.Watcher, taskChan chan<- string, uploaded *sync.Map) {
	pendingFiles := make(map[string]time.Time)
	checkTicker := time.NewTicker(50 * time.Millisecond)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && filepath.Ext(event.Name) == ".ts" {
				pendingFiles[event.Name] = time.Now()
			}

		case <-checkTicker.C:
			now := time.Now()
			for filePath, lastWrite := range pendingFiles {
				if now.Sub(lastWrite) < 100*time.Millisecond {
					continue
				}
				if _, loaded := uploaded.LoadOrStore(filepath.Base(filePath), true); loaded {
					delete(pendingFiles, filePath)
					continue
				}
				select {
				case taskChan <- filePath:
					delete(pendingFiles, filePath)
				default:
					// Channel full; leave it pending and retry on the next tick.
					uploaded.Delete(filepath.Base(filePath))
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("segment watcher error", logger.ErrorField(err))
		}
	}
}

// enqueueRemaining uploads any segment the watcher never saw, which
// happens for the last segment ffmpeg writes right before exiting.
func (t *FFmpegTranscoder) enqueueRemaining(outputDir string, taskChan chan<- string, uploaded *sync.Map) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		logger.Warn("failed to scan output directory", logger.ErrorField(err))
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".ts") {
			continue
		}
		if _, loaded := uploaded.LoadOrStore(name, true); loaded {
			continue
		}
		taskChan <- filepath.Join(outputDir, name)
	}
}

// Cleanup removes the local output directory and every hosted object for
// the slug. Compensation path; errors are logged, the first is returned.
func (t *FFmpegTranscoder) Cleanup(ctx context.Context, slug string) error {
	var firstErr error
	if err := os.RemoveAll(t.outputDir(slug)); err != nil {
		logger.Warn("failed to remove transcode output dir",
			logger.String("slug", slug), logger.ErrorField(err))
		firstErr = err
	}
	if err := t.store.RemovePrefix(ctx, t.objectPrefix(slug)); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
