package ingest

import "songmill/model"

// Catalog is the slice of the catalog store the pipeline consumes. The
// get-or-create operations and CreateSong must be atomic at the store
// level (unique key + insert-or-fetch); the pipeline never synthesizes
// them from separate read-then-write calls.
type Catalog interface {
	FindSongByTitle(title string) (*model.Song, error)
	GetArtist(id int64) (*model.Artist, error)
	GetGenre(id int64) (*model.Genre, error)
	GetOrCreateArtist(name string, defaults model.Artist) (*model.Artist, error)
	GetOrCreateGenre(name string, defaults model.Genre) (*model.Genre, error)
	// CreateSong returns repository.ErrDuplicateTitle (via errors.Is) when
	// the title unique key is violated.
	CreateSong(song *model.Song) (int64, error)
}
