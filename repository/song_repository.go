package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"songmill/db"
	"songmill/model"

	"github.com/go-sql-driver/mysql"
)

// ErrDuplicateTitle is returned by CreateSong when the title unique key is
// violated by a concurrent insert.
var ErrDuplicateTitle = errors.New("song title already exists")

const mysqlDuplicateEntry = 1062

// SongRepository defines the interface for song data operations.
type SongRepository interface {
	CreateSong(song *model.Song) (int64, error)
	GetSongByID(id int64) (*model.Song, error)
	GetSongByTitle(title string) (*model.Song, error)
	GetAllSongs() ([]*model.Song, error)
	DeleteSong(id int64) error
}

// mysqlSongRepository implements SongRepository for MySQL.
type mysqlSongRepository struct {
	DB *sql.DB
}

// NewMySQLSongRepository creates a new instance of mysqlSongRepository.
func NewMySQLSongRepository() SongRepository {
	return &mysqlSongRepository{DB: db.DB}
}

const songColumns = `id, title, file_url, cover_url, genre_id, artist_id, source, views, created_at, updated_at`

func scanSong(row interface{ Scan(...interface{}) error }) (*model.Song, error) {
	song := &model.Song{}
	err := row.Scan(&song.ID, &song.Title, &song.FileURL, &song.CoverURL, &song.GenreID,
		&song.ArtistID, &song.Source, &song.Views, &song.CreatedAt, &song.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return song, nil
}

// CreateSong inserts a new song row. The title unique key makes this the
// single commit point for an ingestion run: a concurrent duplicate insert
// loses with ErrDuplicateTitle instead of producing a second row.
func (r *mysqlSongRepository) CreateSong(song *model.Song) (int64, error) {
	query := `INSERT INTO songs (title, file_url, cover_url, genre_id, artist_id, source, views, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateSong: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(song.Title, song.FileURL, song.CoverURL, song.GenreID, song.ArtistID, song.Source, song.Views, now, now)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return 0, ErrDuplicateTitle
		}
		return 0, fmt.Errorf("failed to execute CreateSong: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateSong: %w", err)
	}
	song.ID = id
	song.CreatedAt = now
	song.UpdatedAt = now
	return id, nil
}

// GetSongByID retrieves a song by its ID. Returns (nil, nil) when absent.
func (r *mysqlSongRepository) GetSongByID(id int64) (*model.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE id = ?`
	song, err := scanSong(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan song by ID %d: %w", id, err)
	}
	return song, nil
}

// GetSongByTitle retrieves a song by its exact title. Returns (nil, nil)
// when absent; the ingestion pipeline uses this for the cheap duplicate
// pre-check before any network or transcoding cost.
func (r *mysqlSongRepository) GetSongByTitle(title string) (*model.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE title = ?`
	song, err := scanSong(r.DB.QueryRow(query, title))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan song by title %q: %w", title, err)
	}
	return song, nil
}

// GetAllSongs retrieves all songs, newest first.
func (r *mysqlSongRepository) GetAllSongs() ([]*model.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs ORDER BY created_at DESC`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	songs := make([]*model.Song, 0)
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song in GetAllSongs: %w", err)
		}
		songs = append(songs, song)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetAllSongs: %w", err)
	}

	return songs, nil
}

// DeleteSong removes a song row. Backing media assets are not cascaded.
func (r *mysqlSongRepository) DeleteSong(id int64) error {
	stmt, err := r.DB.Prepare(`DELETE FROM songs WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for DeleteSong: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.Exec(id); err != nil {
		return fmt.Errorf("failed to execute DeleteSong for ID %d: %w", id, err)
	}
	return nil
}
