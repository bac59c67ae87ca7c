package repository

import (
	"songmill/model"
)

// Catalog bundles the three repositories into the single collaborator
// surface the ingestion pipeline consumes.
type Catalog struct {
	songs   SongRepository
	artists ArtistRepository
	genres  GenreRepository
}

// NewCatalog creates the catalog facade.
func NewCatalog(songs SongRepository, artists ArtistRepository, genres GenreRepository) *Catalog {
	return &Catalog{songs: songs, artists: artists, genres: genres}
}

// FindSongByTitle returns the song with the exact title, or nil.
func (c *Catalog) FindSongByTitle(title string) (*model.Song, error) {
	return c.songs.GetSongByTitle(title)
}

// GetArtist returns the artist with the given ID, or nil.
func (c *Catalog) GetArtist(id int64) (*model.Artist, error) {
	return c.artists.GetArtistByID(id)
}

// GetGenre returns the genre with the given ID, or nil.
func (c *Catalog) GetGenre(id int64) (*model.Genre, error) {
	return c.genres.GetGenreByID(id)
}

// GetOrCreateArtist atomically looks up or creates an artist by name.
func (c *Catalog) GetOrCreateArtist(name string, defaults model.Artist) (*model.Artist, error) {
	return c.artists.GetOrCreateArtist(name, defaults)
}

// GetOrCreateGenre atomically looks up or creates a genre by name.
func (c *Catalog) GetOrCreateGenre(name string, defaults model.Genre) (*model.Genre, error) {
	return c.genres.GetOrCreateGenre(name, defaults)
}

// CreateSong inserts the song row; ErrDuplicateTitle on title collision.
func (c *Catalog) CreateSong(song *model.Song) (int64, error) {
	return c.songs.CreateSong(song)
}
