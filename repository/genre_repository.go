package repository

import (
	"database/sql"
	"fmt"
	"time"

	"songmill/db"
	"songmill/model"
)

// GenreRepository defines the interface for genre data operations.
type GenreRepository interface {
	GetGenreByID(id int64) (*model.Genre, error)
	GetOrCreateGenre(name string, defaults model.Genre) (*model.Genre, error)
}

// mysqlGenreRepository implements GenreRepository for MySQL.
type mysqlGenreRepository struct {
	DB *sql.DB
}

// NewMySQLGenreRepository creates a new instance of mysqlGenreRepository.
func NewMySQLGenreRepository() GenreRepository {
	return &mysqlGenreRepository{DB: db.DB}
}

// GetGenreByID retrieves a genre by ID. Returns (nil, nil) when absent.
func (r *mysqlGenreRepository) GetGenreByID(id int64) (*model.Genre, error) {
	query := `SELECT id, name, description, created_at, updated_at FROM genres WHERE id = ?`
	row := r.DB.QueryRow(query, id)

	genre := &model.Genre{}
	err := row.Scan(&genre.ID, &genre.Name, &genre.Description, &genre.CreatedAt, &genre.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan genre by ID %d: %w", id, err)
	}
	return genre, nil
}

// GetOrCreateGenre looks up a genre by name, creating it with the given
// defaults if absent. Atomic against concurrent same-name creation; see
// GetOrCreateArtist for the mechanism.
func (r *mysqlGenreRepository) GetOrCreateGenre(name string, defaults model.Genre) (*model.Genre, error) {
	query := `INSERT INTO genres (name, description, created_at, updated_at)
	           VALUES (?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement for GetOrCreateGenre: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(name, defaults.Description, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to execute GetOrCreateGenre for %q: %w", name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID for GetOrCreateGenre: %w", err)
	}

	genre, err := r.GetGenreByID(id)
	if err != nil {
		return nil, err
	}
	if genre == nil {
		return nil, fmt.Errorf("genre %q vanished after get-or-create", name)
	}
	return genre, nil
}
