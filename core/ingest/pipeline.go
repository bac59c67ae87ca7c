package ingest

import (
	"context"
	"errors"
	"os"
	"time"

	"songmill/core/slug"
	"songmill/logger"
	"songmill/model"
	"songmill/repository"
)

// State is a coordinator state. Transitions are strictly forward; failed
// is terminal and reachable from anywhere.
type State string

const (
	StateValidating     State = "validating"
	StateFetching       State = "fetching"
	StateCoverUploading State = "cover_uploading"
	StateTranscoding    State = "transcoding"
	StateCommitting     State = "committing"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// RemoteRequest is a URL-sourced ingestion request. GenreName is optional;
// absent genres land in a default bucket.
type RemoteRequest struct {
	URL       string
	GenreName string
}

// DefaultGenreName is used for remote ingestions that name no genre.
const DefaultGenreName = "Unknown"

// Options tunes the coordinator's scheduling.
type Options struct {
	// Workers bounds how many transcodes run at once. The encode step is
	// CPU-heavy and spawns a blocking external process, so this is sized
	// to the host, not to request volume.
	Workers int
	// QueueSize bounds how many runs may wait for a worker. A full queue
	// rejects with a backpressure error instead of piling up.
	QueueSize int
	// LockPolicy decides the fate of a second concurrent run for the
	// same slug.
	LockPolicy LockPolicy
}

// Pipeline coordinates one ingestion run per request: validation, remote
// fetch, cover hosting, transcode and the catalog commit, with per-slug
// mutual exclusion and compensating cleanup on any failure. The Song
// insert is the single commit point; before it succeeds no persisted
// state exists, and after any failure no artifacts survive.
type Pipeline struct {
	catalog    Catalog
	resolver   *SourceResolver
	fetcher    RemoteFetcher
	covers     CoverUploader
	transcoder Transcoder
	locks      *SlugLocks
	hub        *ProgressHub
	status     StatusCache // optional
	policy     LockPolicy

	workers chan struct{}
	queue   chan struct{}
}

// NewPipeline wires a coordinator. status may be nil.
func NewPipeline(catalog Catalog, fetcher RemoteFetcher, covers CoverUploader, transcoder Transcoder, hub *ProgressHub, status StatusCache, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.LockPolicy == "" {
		opts.LockPolicy = PolicyReject
	}
	return &Pipeline{
		catalog:    catalog,
		resolver:   NewSourceResolver(catalog),
		fetcher:    fetcher,
		covers:     covers,
		transcoder: transcoder,
		locks:      NewSlugLocks(),
		hub:        hub,
		status:     status,
		policy:     opts.LockPolicy,
		workers:    make(chan struct{}, opts.Workers),
		queue:      make(chan struct{}, opts.Workers+opts.QueueSize),
	}
}

// run tracks what a single ingestion has produced so far, so that
// compensation on failure is proportional to progress made.
type run struct {
	slug        string
	stagedAudio string
	coverURL    string
	transcoded  bool
}

func (p *Pipeline) setState(ctx context.Context, slugKey string, state State, reason string) {
	if p.hub != nil {
		p.hub.Publish(Event{Slug: slugKey, State: state, Reason: reason, At: time.Now()})
	}
	if p.status != nil {
		if state == StateDone {
			p.status.Clear(ctx, slugKey)
		} else {
			p.status.SetState(ctx, slugKey, state)
		}
	}
}

// fail runs compensation for everything the run produced, publishes the
// terminal state and returns the typed error unchanged.
func (p *Pipeline) fail(r *run, err error) error {
	// Compensation must proceed even when the request context is dead.
	ctx := context.Background()

	if r.stagedAudio != "" {
		if rmErr := os.Remove(r.stagedAudio); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove staged audio",
				logger.String("path", r.stagedAudio), logger.ErrorField(rmErr))
		}
	}
	if r.transcoded {
		if cleanErr := p.transcoder.Cleanup(ctx, r.slug); cleanErr != nil {
			logger.Warn("failed to clean transcode output",
				logger.String("slug", r.slug), logger.ErrorField(cleanErr))
		}
	}
	if r.coverURL != "" {
		if rmErr := p.covers.RemoveCover(ctx, r.coverURL); rmErr != nil {
			logger.Warn("failed to remove hosted cover",
				logger.String("coverUrl", r.coverURL), logger.ErrorField(rmErr))
		}
	}

	if r.slug != "" {
		p.setState(ctx, r.slug, StateFailed, ReasonOf(err))
	}
	logger.Error("ingestion failed",
		logger.String("slug", r.slug),
		logger.String("reason", ReasonOf(err)),
		logger.ErrorField(err))
	return err
}

// IngestFromDevice runs the full pipeline for an uploaded audio/cover
// pair. The staged upload files are owned by the run from here on: they
// are consumed on success and deleted on failure.
func (p *Pipeline) IngestFromDevice(ctx context.Context, req DeviceRequest) (*model.Song, error) {
	r := &run{slug: slug.Normalize(req.Title)}
	if req.Audio != nil {
		r.stagedAudio = req.Audio.Path
	}

	p.setState(ctx, r.slug, StateValidating, "")
	source, cover, err := p.resolver.Resolve(req)
	if err != nil {
		return nil, p.fail(r, err)
	}

	return p.process(ctx, r, source, cover, func(fileURL, coverURL string) (*model.Song, error) {
		return p.commit(req.Title, fileURL, coverURL, req.GenreID, req.ArtistID, model.SourceDevice)
	})
}

// IngestFromURL runs the full pipeline for a remote media URL. Artist and
// genre are resolved by name with atomic get-or-create; downloaded audio
// goes through the same transcode as device uploads.
func (p *Pipeline) IngestFromURL(ctx context.Context, req RemoteRequest) (*model.Song, error) {
	r := &run{}

	remote, err := p.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return nil, p.fail(r, err)
	}
	r.stagedAudio = remote.Source.LocalPath
	r.slug = slug.Normalize(remote.Title)

	p.setState(ctx, r.slug, StateFetching, "")

	if r.slug == "" {
		return nil, p.fail(r, errInvalidTitle(remote.Title))
	}
	existing, err := p.catalog.FindSongByTitle(remote.Title)
	if err != nil {
		return nil, p.fail(r, errPersistenceFailed(err))
	}
	if existing != nil {
		return nil, p.fail(r, errDuplicateTitle(remote.Title))
	}

	genreName := req.GenreName
	if genreName == "" {
		genreName = DefaultGenreName
	}

	cover := &CoverAsset{RemoteURL: remote.ThumbnailURL}
	return p.process(ctx, r, &remote.Source, cover, func(fileURL, coverURL string) (*model.Song, error) {
		artist, err := p.catalog.GetOrCreateArtist(remote.Author, model.Artist{AvatarURL: remote.ThumbnailURL})
		if err != nil {
			return nil, errPersistenceFailed(err)
		}
		genre, err := p.catalog.GetOrCreateGenre(genreName, model.Genre{})
		if err != nil {
			return nil, errPersistenceFailed(err)
		}
		return p.commit(remote.Title, fileURL, coverURL, genre.ID, artist.ID, model.SourceRemote)
	})
}

// process drives the shared tail of both ingestion paths: cover hosting,
// slug-locked transcode on the bounded worker pool, and the commit.
func (p *Pipeline) process(ctx context.Context, r *run, source *RawAudioSource, cover *CoverAsset, commitFn func(fileURL, coverURL string) (*model.Song, error)) (*model.Song, error) {
	p.setState(ctx, r.slug, StateCoverUploading, "")
	coverURL, err := p.covers.UploadCover(ctx, cover)
	if err != nil {
		return nil, p.fail(r, err)
	}
	r.coverURL = coverURL

	// Lock scope covers transcoding through committing: no two runs ever
	// write to the same output directory concurrently.
	release, err := p.locks.Acquire(ctx, r.slug, p.policy)
	if err != nil {
		return nil, p.fail(r, err)
	}
	defer release()

	// Bounded wait queue in front of the bounded worker pool. A full
	// queue means the host is saturated; reject instead of piling up.
	select {
	case p.queue <- struct{}{}:
		defer func() { <-p.queue }()
	default:
		return nil, p.fail(r, errBackpressure())
	}

	select {
	case p.workers <- struct{}{}:
	case <-ctx.Done():
		return nil, p.fail(r, errCanceled(ctx.Err()))
	}

	p.setState(ctx, r.slug, StateTranscoding, "")
	fileURL, err := p.transcoder.Transcode(ctx, source.LocalPath, r.slug)
	<-p.workers
	if err != nil {
		// The transcoder already removed its own partial output.
		return nil, p.fail(r, err)
	}
	r.transcoded = true

	p.setState(ctx, r.slug, StateCommitting, "")
	song, err := commitFn(fileURL, coverURL)
	if err != nil {
		// Assets exist but the catalog does not know them: compensation
		// in fail removes the hosted bundle and cover.
		return nil, p.fail(r, err)
	}

	// Ownership of the hosted assets transfers to the catalog; the staged
	// source file has served its purpose.
	if r.stagedAudio != "" {
		if rmErr := os.Remove(r.stagedAudio); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove staged audio after commit",
				logger.String("path", r.stagedAudio), logger.ErrorField(rmErr))
		}
	}

	p.setState(ctx, r.slug, StateDone, "")
	logger.Info("ingestion complete",
		logger.String("slug", r.slug),
		logger.Int64("songId", song.ID),
		logger.String("fileUrl", song.FileURL))
	return song, nil
}

// commit is the pipeline's single commit point.
func (p *Pipeline) commit(title, fileURL, coverURL string, genreID, artistID int64, source model.SongSource) (*model.Song, error) {
	song := &model.Song{
		Title:    title,
		FileURL:  fileURL,
		CoverURL: coverURL,
		GenreID:  genreID,
		ArtistID: artistID,
		Source:   source,
	}
	if _, err := p.catalog.CreateSong(song); err != nil {
		if errors.Is(err, repository.ErrDuplicateTitle) {
			return nil, errDuplicateTitle(title)
		}
		return nil, errPersistenceFailed(err)
	}
	return song, nil
}
