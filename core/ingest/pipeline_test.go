package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"songmill/model"
	"songmill/repository"
)

// fakeCatalog is an in-memory Catalog with the same atomicity contract as
// the MySQL implementation: unique names and titles, get-or-create that
// never races with itself.
type fakeCatalog struct {
	mu      sync.Mutex
	artists map[int64]*model.Artist
	genres  map[int64]*model.Genre
	songs   map[string]*model.Song
	nextID  int64

	findCalls   int
	createCalls int
	createErr   error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		artists: make(map[int64]*model.Artist),
		genres:  make(map[int64]*model.Genre),
		songs:   make(map[string]*model.Song),
		nextID:  1,
	}
}

func (c *fakeCatalog) FindSongByTitle(title string) (*model.Song, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.findCalls++
	if s, ok := c.songs[title]; ok {
		return s, nil
	}
	return nil, nil
}

func (c *fakeCatalog) GetArtist(id int64) (*model.Artist, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artists[id], nil
}

func (c *fakeCatalog) GetGenre(id int64) (*model.Genre, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.genres[id], nil
}

func (c *fakeCatalog) GetOrCreateArtist(name string, defaults model.Artist) (*model.Artist, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.artists {
		if a.Name == name {
			return a, nil
		}
	}
	a := &model.Artist{ID: c.nextID, Name: name, AvatarURL: defaults.AvatarURL}
	c.nextID++
	c.artists[a.ID] = a
	return a, nil
}

func (c *fakeCatalog) GetOrCreateGenre(name string, defaults model.Genre) (*model.Genre, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.genres {
		if g.Name == name {
			return g, nil
		}
	}
	g := &model.Genre{ID: c.nextID, Name: name, Description: defaults.Description}
	c.nextID++
	c.genres[g.ID] = g
	return g, nil
}

func (c *fakeCatalog) CreateSong(song *model.Song) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.createErr != nil {
		return 0, c.createErr
	}
	if _, ok := c.songs[song.Title]; ok {
		return 0, repository.ErrDuplicateTitle
	}
	song.ID = c.nextID
	c.nextID++
	c.songs[song.Title] = song
	return song.ID, nil
}

func (c *fakeCatalog) songCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.songs)
}

// fakeCovers records hosted and removed covers.
type fakeCovers struct {
	mu        sync.Mutex
	uploads   int
	removed   []string
	uploadErr error
}

func (f *fakeCovers) UploadCover(ctx context.Context, cover *CoverAsset) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads++
	return fmt.Sprintf("http://cdn.local/covers/cover-%d.jpg", f.uploads), nil
}

func (f *fakeCovers) RemoveCover(ctx context.Context, coverURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, coverURL)
	return nil
}

func (f *fakeCovers) removedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removed)
}

// fakeTranscoder can succeed, fail, or block until released.
type fakeTranscoder struct {
	mu       sync.Mutex
	calls    int
	cleanups []string
	err      error
	block    chan struct{} // when set, Transcode waits on it
}

func (f *fakeTranscoder) Transcode(ctx context.Context, inputPath, slug string) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	err := f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", errCanceled(ctx.Err())
		}
	}
	if err != nil {
		return "", err
	}
	return "http://cdn.local/hls/" + slug + "/" + PlaylistName, nil
}

func (f *fakeTranscoder) Cleanup(ctx context.Context, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, slug)
	return nil
}

func (f *fakeTranscoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTranscoder) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cleanups)
}

// fakeFetcher returns a canned remote source.
type fakeFetcher struct {
	remote *RemoteSource
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*RemoteSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.remote, nil
}

func stageFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake audio bytes"), 0644); err != nil {
		t.Fatalf("failed to stage file: %v", err)
	}
	return path
}

func deviceRequest(t *testing.T, dir, title string) DeviceRequest {
	t.Helper()
	return DeviceRequest{
		Title:    title,
		ArtistID: 1,
		GenreID:  2,
		Audio:    &FileUpload{Path: stageFile(t, dir, "audio.mp3"), MimeType: "audio/mpeg", Size: 4096},
		Cover:    &FileUpload{Path: stageFile(t, dir, "cover.jpg"), MimeType: "image/jpeg", Size: 1024},
	}
}

func newTestPipeline(catalog *fakeCatalog, fetcher RemoteFetcher, covers *fakeCovers, transcoder *fakeTranscoder, opts Options) *Pipeline {
	return NewPipeline(catalog, fetcher, covers, transcoder, NewProgressHub(), nil, opts)
}

func TestDeviceIngestSuccess(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.artists[1] = &model.Artist{ID: 1, Name: "The Night Owls"}
	catalog.genres[2] = &model.Genre{ID: 2, Name: "Synthwave"}
	covers := &fakeCovers{}
	transcoder := &fakeTranscoder{}
	pipeline := newTestPipeline(catalog, nil, covers, transcoder, Options{Workers: 2, QueueSize: 4})

	dir := t.TempDir()
	req := deviceRequest(t, dir, "Midnight Drive")

	song, err := pipeline.IngestFromDevice(context.Background(), req)
	if err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}
	if song.ID == 0 {
		t.Fatal("expected a persisted song id")
	}
	if want := "http://cdn.local/hls/midnight-drive/index.m3u8"; song.FileURL != want {
		t.Fatalf("fileUrl = %q, want %q", song.FileURL, want)
	}
	if song.CoverURL == "" {
		t.Fatal("expected a hosted cover URL")
	}
	if song.Source != model.SourceDevice {
		t.Fatalf("source = %q, want %q", song.Source, model.SourceDevice)
	}
	if catalog.songCount() != 1 {
		t.Fatalf("expected exactly one song, got %d", catalog.songCount())
	}

	// The run consumes its staged audio on success.
	if _, err := os.Stat(req.Audio.Path); !os.IsNotExist(err) {
		t.Fatal("staged audio should be removed after a successful commit")
	}
}

func TestDeviceIngestDuplicateTitleShortCircuits(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.artists[1] = &model.Artist{ID: 1, Name: "The Night Owls"}
	catalog.genres[2] = &model.Genre{ID: 2, Name: "Synthwave"}
	catalog.songs["Midnight Drive"] = &model.Song{ID: 99, Title: "Midnight Drive"}
	covers := &fakeCovers{}
	transcoder := &fakeTranscoder{}
	pipeline := newTestPipeline(catalog, nil, covers, transcoder, Options{Workers: 1})

	_, err := pipeline.IngestFromDevice(context.Background(), deviceRequest(t, t.TempDir(), "Midnight Drive"))
	if KindOf(err) != KindDuplicate {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if covers.uploads != 0 {
		t.Fatal("duplicate title must not reach the cover uploader")
	}
	if transcoder.callCount() != 0 {
		t.Fatal("duplicate title must not reach the transcoder")
	}
}

func TestDeviceIngestOversizedAudioRejectedEarly(t *testing.T) {
	catalog := newFakeCatalog()
	covers := &fakeCovers{}
	transcoder := &fakeTranscoder{}
	pipeline := newTestPipeline(catalog, nil, covers, transcoder, Options{Workers: 1})

	req := deviceRequest(t, t.TempDir(), "Midnight Drive")
	req.Audio.Size = MaxAudioBytes + 1

	_, err := pipeline.IngestFromDevice(context.Background(), req)
	if ReasonOf(err) != ReasonPayloadTooLarge {
		t.Fatalf("expected payload_too_large, got %v", err)
	}
	if catalog.findCalls != 0 {
		t.Fatal("size check must run before any catalog lookup")
	}
	if covers.uploads != 0 || transcoder.callCount() != 0 {
		t.Fatal("oversized audio must not trigger any external work")
	}
}

func TestDeviceIngestTranscodeFailureCompensates(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.artists[1] = &model.Artist{ID: 1, Name: "The Night Owls"}
	catalog.genres[2] = &model.Genre{ID: 2, Name: "Synthwave"}
	covers := &fakeCovers{}
	transcoder := &fakeTranscoder{err: errTranscodeFailed(errors.New("exit status 1"))}
	pipeline := newTestPipeline(catalog, nil, covers, transcoder, Options{Workers: 1})

	req := deviceRequest(t, t.TempDir(), "Midnight Drive")
	_, err := pipeline.IngestFromDevice(context.Background(), req)
	if KindOf(err) != KindTranscode {
		t.Fatalf("expected transcode error, got %v", err)
	}
	if catalog.songCount() != 0 {
		t.Fatal("failed ingestion must not leave a song row")
	}
	if covers.removedCount() != 1 {
		t.Fatalf("hosted cover must be removed on failure, removed %d", covers.removedCount())
	}
	if _, statErr := os.Stat(req.Audio.Path); !os.IsNotExist(statErr) {
		t.Fatal("staged audio must be removed on failure")
	}
}

func TestDeviceIngestCommitFailureCompensates(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.artists[1] = &model.Artist{ID: 1, Name: "The Night Owls"}
	catalog.genres[2] = &model.Genre{ID: 2, Name: "Synthwave"}
	catalog.createErr = errors.New("connection reset")
	covers := &fakeCovers{}
	transcoder := &fakeTranscoder{}
	pipeline := newTestPipeline(catalog, nil, covers, transcoder, Options{Workers: 1})

	_, err := pipeline.IngestFromDevice(context.Background(), deviceRequest(t, t.TempDir(), "Midnight Drive"))
	if KindOf(err) != KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if covers.removedCount() != 1 {
		t.Fatal("hosted cover must be removed when the commit fails")
	}
	if transcoder.cleanupCount() != 1 {
		t.Fatal("hosted bundle must be cleaned up when the commit fails")
	}
}

func TestDeviceIngestCommitDuplicateRace(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.artists[1] = &model.Artist{ID: 1, Name: "The Night Owls"}
	catalog.genres[2] = &model.Genre{ID: 2, Name: "Synthwave"}
	catalog.createErr = repository.ErrDuplicateTitle
	covers := &fakeCovers{}
	transcoder := &fakeTranscoder{}
	pipeline := newTestPipeline(catalog, nil, covers, transcoder, Options{Workers: 1})

	// A row appearing between validation and commit surfaces as Duplicate,
	// not Persistence, with full compensation.
	_, err := pipeline.IngestFromDevice(context.Background(), deviceRequest(t, t.TempDir(), "Midnight Drive"))
	if KindOf(err) != KindDuplicate {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if covers.removedCount() != 1 || transcoder.cleanupCount() != 1 {
		t.Fatal("duplicate at commit time must compensate like any failure")
	}
}

func TestSameSlugConcurrentRejected(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.artists[1] = &model.Artist{ID: 1, Name: "The Night Owls"}
	catalog.genres[2] = &model.Genre{ID: 2, Name: "Synthwave"}
	covers := &fakeCovers{}
	block := make(chan struct{})
	transcoder := &fakeTranscoder{block: block}
	pipeline := newTestPipeline(catalog, nil, covers, transcoder, Options{Workers: 2, QueueSize: 4, LockPolicy: PolicyReject})

	firstDone := make(chan error, 1)
	go func() {
		_, err := pipeline.IngestFromDevice(context.Background(), deviceRequest(t, t.TempDir(), "Midnight Drive"))
		firstDone <- err
	}()

	// Wait until the first run is inside the transcoder and holds the lock.
	waitFor(t, func() bool { return transcoder.callCount() == 1 })

	_, err := pipeline.IngestFromDevice(context.Background(), deviceRequest(t, t.TempDir(), "Midnight Drive"))
	if KindOf(err) != KindAlreadyInProgress {
		t.Fatalf("expected AlreadyInProgress for concurrent same-slug run, got %v", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestSameSlugConcurrentWaits(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.artists[1] = &model.Artist{ID: 1, Name: "The Night Owls"}
	catalog.genres[2] = &model.Genre{ID: 2, Name: "Synthwave"}
	covers := &fakeCovers{}
	block := make(chan struct{})
	transcoder := &fakeTranscoder{block: block}
	pipeline := newTestPipeline(catalog, nil, covers, transcoder, Options{Workers: 2, QueueSize: 4, LockPolicy: PolicyWait})

	firstDone := make(chan error, 1)
	go func() {
		_, err := pipeline.IngestFromDevice(context.Background(), deviceRequest(t, t.TempDir(), "Midnight Drive"))
		firstDone <- err
	}()
	waitFor(t, func() bool { return transcoder.callCount() == 1 })

	secondDone := make(chan error, 1)
	go func() {
		_, err := pipeline.IngestFromDevice(context.Background(), deviceRequest(t, t.TempDir(), "Midnight Drive"))
		secondDone <- err
	}()

	select {
	case err := <-secondDone:
		t.Fatalf("second run finished while the first still held the slug: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	// The waiter proceeds once the slug frees up and then hits the title
	// unique key at commit time.
	select {
	case err := <-secondDone:
		if KindOf(err) != KindDuplicate {
			t.Fatalf("expected duplicate from the waiting run, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting run never completed")
	}
	if catalog.songCount() != 1 {
		t.Fatalf("expected exactly one song, got %d", catalog.songCount())
	}
}

func TestBackpressureWhenSaturated(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.artists[1] = &model.Artist{ID: 1, Name: "The Night Owls"}
	catalog.genres[2] = &model.Genre{ID: 2, Name: "Synthwave"}
	covers := &fakeCovers{}
	block := make(chan struct{})
	transcoder := &fakeTranscoder{block: block}
	pipeline := newTestPipeline(catalog, nil, covers, transcoder, Options{Workers: 1, QueueSize: 0})

	firstDone := make(chan error, 1)
	go func() {
		_, err := pipeline.IngestFromDevice(context.Background(), deviceRequest(t, t.TempDir(), "Midnight Drive"))
		firstDone <- err
	}()
	waitFor(t, func() bool { return transcoder.callCount() == 1 })

	_, err := pipeline.IngestFromDevice(context.Background(), deviceRequest(t, t.TempDir(), "Neon Rain"))
	if KindOf(err) != KindBackpressure {
		t.Fatalf("expected backpressure when the pool is saturated, got %v", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestCancellationWhileQueued(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.artists[1] = &model.Artist{ID: 1, Name: "The Night Owls"}
	catalog.genres[2] = &model.Genre{ID: 2, Name: "Synthwave"}
	covers := &fakeCovers{}
	block := make(chan struct{})
	transcoder := &fakeTranscoder{block: block}
	pipeline := newTestPipeline(catalog, nil, covers, transcoder, Options{Workers: 1, QueueSize: 1})

	firstDone := make(chan error, 1)
	go func() {
		_, err := pipeline.IngestFromDevice(context.Background(), deviceRequest(t, t.TempDir(), "Midnight Drive"))
		firstDone <- err
	}()
	waitFor(t, func() bool { return transcoder.callCount() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	secondDone := make(chan error, 1)
	go func() {
		_, err := pipeline.IngestFromDevice(ctx, deviceRequest(t, t.TempDir(), "Neon Rain"))
		secondDone <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-secondDone:
		if KindOf(err) != KindCanceled {
			t.Fatalf("expected canceled error for the queued run, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued run never returned after cancellation")
	}
	if covers.removedCount() != 1 {
		t.Fatal("the canceled run's hosted cover must be removed")
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestRemoteIngestSuccess(t *testing.T) {
	catalog := newFakeCatalog()
	covers := &fakeCovers{}
	transcoder := &fakeTranscoder{}

	dir := t.TempDir()
	staged := stageFile(t, dir, "d1b2c3.mp3")
	fetcher := &fakeFetcher{remote: &RemoteSource{
		Source: RawAudioSource{
			Origin:    OriginRemoteURL,
			LocalPath: staged,
			MimeType:  "audio/mpeg",
		},
		Title:        "Midnight Drive",
		Author:       "The Night Owls",
		ThumbnailURL: "https://img.example/thumb.jpg",
	}}
	pipeline := newTestPipeline(catalog, fetcher, covers, transcoder, Options{Workers: 1})

	song, err := pipeline.IngestFromURL(context.Background(), RemoteRequest{URL: "https://media.example/watch?v=abc"})
	if err != nil {
		t.Fatalf("remote ingestion failed: %v", err)
	}
	if song.Source != model.SourceRemote {
		t.Fatalf("source = %q, want %q", song.Source, model.SourceRemote)
	}
	if want := "http://cdn.local/hls/midnight-drive/index.m3u8"; song.FileURL != want {
		t.Fatalf("fileUrl = %q, want %q", song.FileURL, want)
	}

	// Artist and genre must be resolved by name with get-or-create.
	artist, _ := catalog.GetOrCreateArtist("The Night Owls", model.Artist{})
	if song.ArtistID != artist.ID {
		t.Fatalf("song linked to artist %d, want %d", song.ArtistID, artist.ID)
	}
	genre, _ := catalog.GetOrCreateGenre(DefaultGenreName, model.Genre{})
	if song.GenreID != genre.ID {
		t.Fatalf("song linked to genre %d, want default %d", song.GenreID, genre.ID)
	}
	if _, statErr := os.Stat(staged); !os.IsNotExist(statErr) {
		t.Fatal("downloaded audio must be removed after a successful commit")
	}
}

func TestRemoteIngestDuplicateTitle(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.songs["Midnight Drive"] = &model.Song{ID: 7, Title: "Midnight Drive"}
	covers := &fakeCovers{}
	transcoder := &fakeTranscoder{}

	dir := t.TempDir()
	staged := stageFile(t, dir, "d1b2c3.mp3")
	fetcher := &fakeFetcher{remote: &RemoteSource{
		Source:       RawAudioSource{Origin: OriginRemoteURL, LocalPath: staged},
		Title:        "Midnight Drive",
		Author:       "The Night Owls",
		ThumbnailURL: "https://img.example/thumb.jpg",
	}}
	pipeline := newTestPipeline(catalog, fetcher, covers, transcoder, Options{Workers: 1})

	_, err := pipeline.IngestFromURL(context.Background(), RemoteRequest{URL: "https://media.example/watch?v=abc"})
	if KindOf(err) != KindDuplicate {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if transcoder.callCount() != 0 {
		t.Fatal("duplicate remote title must not reach the transcoder")
	}
	if _, statErr := os.Stat(staged); !os.IsNotExist(statErr) {
		t.Fatal("downloaded audio must be removed when the run fails")
	}
}

func TestRemoteIngestFetchFailure(t *testing.T) {
	catalog := newFakeCatalog()
	covers := &fakeCovers{}
	transcoder := &fakeTranscoder{}
	fetcher := &fakeFetcher{err: errIncompleteMetadata(errors.New("missing title"))}
	pipeline := newTestPipeline(catalog, fetcher, covers, transcoder, Options{Workers: 1})

	_, err := pipeline.IngestFromURL(context.Background(), RemoteRequest{URL: "https://media.example/watch?v=abc"})
	if KindOf(err) != KindRemoteFetch {
		t.Fatalf("expected remote fetch error, got %v", err)
	}
	if covers.uploads != 0 || transcoder.callCount() != 0 {
		t.Fatal("fetch failure must stop the run before any hosting work")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
