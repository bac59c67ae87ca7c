package repository

import (
	"database/sql"
	"fmt"
	"time"

	"songmill/db"
	"songmill/model"
)

// ArtistRepository defines the interface for artist data operations.
type ArtistRepository interface {
	GetArtistByID(id int64) (*model.Artist, error)
	GetOrCreateArtist(name string, defaults model.Artist) (*model.Artist, error)
}

// mysqlArtistRepository implements ArtistRepository for MySQL.
type mysqlArtistRepository struct {
	DB *sql.DB
}

// NewMySQLArtistRepository creates a new instance of mysqlArtistRepository.
func NewMySQLArtistRepository() ArtistRepository {
	return &mysqlArtistRepository{DB: db.DB}
}

// GetArtistByID retrieves an artist by ID. Returns (nil, nil) when absent.
func (r *mysqlArtistRepository) GetArtistByID(id int64) (*model.Artist, error) {
	query := `SELECT id, name, biography, avatar_url, created_at, updated_at FROM artists WHERE id = ?`
	row := r.DB.QueryRow(query, id)

	artist := &model.Artist{}
	err := row.Scan(&artist.ID, &artist.Name, &artist.Biography, &artist.AvatarURL, &artist.CreatedAt, &artist.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan artist by ID %d: %w", id, err)
	}
	return artist, nil
}

// GetOrCreateArtist looks up an artist by name, creating it with the given
// defaults if absent. The insert rides on the name unique key so two
// concurrent callers with the same name both land on the same row; the
// LAST_INSERT_ID(id) trick makes the existing row's id come back on
// conflict without a separate read.
func (r *mysqlArtistRepository) GetOrCreateArtist(name string, defaults model.Artist) (*model.Artist, error) {
	query := `INSERT INTO artists (name, biography, avatar_url, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement for GetOrCreateArtist: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(name, defaults.Biography, defaults.AvatarURL, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to execute GetOrCreateArtist for %q: %w", name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID for GetOrCreateArtist: %w", err)
	}

	artist, err := r.GetArtistByID(id)
	if err != nil {
		return nil, err
	}
	if artist == nil {
		return nil, fmt.Errorf("artist %q vanished after get-or-create", name)
	}
	return artist, nil
}
