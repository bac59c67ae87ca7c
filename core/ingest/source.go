package ingest

import (
	"songmill/core/slug"
)

// Origin tells where a raw audio source came from.
type Origin string

const (
	OriginDevice    Origin = "DEVICE"
	OriginRemoteURL Origin = "REMOTE_URL"
)

// Input size ceilings, enforced before any network or process call.
const (
	MaxAudioBytes = 20 << 20 // 20 MiB
	MaxCoverBytes = 5 << 20  // 5 MiB
)

var allowedAudioTypes = map[string]bool{
	"audio/mpeg": true,
	"audio/mp3":  true,
}

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// RawAudioSource describes one staged audio input, owned exclusively by
// the pipeline run until the transcoder consumes it.
type RawAudioSource struct {
	Origin         Origin
	LocalPath      string
	MimeType       string
	SizeBytes      int64
	SuggestedTitle string
}

// CoverAsset describes a cover image before hosting. Exactly one of
// LocalPath and RemoteURL is set.
type CoverAsset struct {
	LocalPath string
	RemoteURL string
	MimeType  string
	SizeBytes int64
}

// FileUpload is an already-staged uploaded file.
type FileUpload struct {
	Path     string
	MimeType string
	Size     int64
}

// DeviceRequest is a device-upload ingestion request.
type DeviceRequest struct {
	Title    string
	ArtistID int64
	GenreID  int64
	Audio    *FileUpload
	Cover    *FileUpload
}

// SourceResolver performs all local validation for device uploads and
// produces the uniform source descriptors. Checks run in a fixed order,
// cheap before expensive, and the first failure wins: nothing past it is
// evaluated and no external call is made.
type SourceResolver struct {
	catalog Catalog
}

// NewSourceResolver creates a SourceResolver over the given catalog.
func NewSourceResolver(catalog Catalog) *SourceResolver {
	return &SourceResolver{catalog: catalog}
}

// Resolve validates a device request and builds its descriptors.
// Order: file presence, mimetypes, size ceilings, slug viability,
// duplicate title, artist/genre existence.
func (r *SourceResolver) Resolve(req DeviceRequest) (*RawAudioSource, *CoverAsset, error) {
	if req.Audio == nil {
		return nil, nil, errMissingFile("audio")
	}
	if req.Cover == nil {
		return nil, nil, errMissingFile("cover")
	}

	if !allowedAudioTypes[req.Audio.MimeType] {
		return nil, nil, errUnsupportedMediaType(req.Audio.MimeType)
	}
	if !allowedImageTypes[req.Cover.MimeType] {
		return nil, nil, errUnsupportedMediaType(req.Cover.MimeType)
	}

	if req.Audio.Size > MaxAudioBytes {
		return nil, nil, errPayloadTooLarge("audio", MaxAudioBytes)
	}
	if req.Cover.Size > MaxCoverBytes {
		return nil, nil, errPayloadTooLarge("cover", MaxCoverBytes)
	}

	if slug.Normalize(req.Title) == "" {
		return nil, nil, errInvalidTitle(req.Title)
	}

	existing, err := r.catalog.FindSongByTitle(req.Title)
	if err != nil {
		return nil, nil, errPersistenceFailed(err)
	}
	if existing != nil {
		return nil, nil, errDuplicateTitle(req.Title)
	}

	artist, err := r.catalog.GetArtist(req.ArtistID)
	if err != nil {
		return nil, nil, errPersistenceFailed(err)
	}
	if artist == nil {
		return nil, nil, errNotFound("artist", req.ArtistID)
	}

	genre, err := r.catalog.GetGenre(req.GenreID)
	if err != nil {
		return nil, nil, errPersistenceFailed(err)
	}
	if genre == nil {
		return nil, nil, errNotFound("genre", req.GenreID)
	}

	source := &RawAudioSource{
		Origin:         OriginDevice,
		LocalPath:      req.Audio.Path,
		MimeType:       req.Audio.MimeType,
		SizeBytes:      req.Audio.Size,
		SuggestedTitle: req.Title,
	}
	cover := &CoverAsset{
		LocalPath: req.Cover.Path,
		MimeType:  req.Cover.MimeType,
		SizeBytes: req.Cover.Size,
	}
	return source, cover, nil
}
