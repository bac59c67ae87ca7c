package model

import "time"

// SongSource tells where a song's audio originally came from.
type SongSource string

const (
	SourceDevice SongSource = "DEVICE"
	SourceRemote SongSource = "REMOTE"
)

// Song is a catalog entry for a fully ingested, playback-ready track.
// A row exists only when FileURL points at a complete HLS playlist and
// CoverURL at a hosted image; the ingestion pipeline guarantees this.
type Song struct {
	ID        int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Title     string     `json:"title" gorm:"size:255;uniqueIndex:uniq_songs_title;not null"`
	FileURL   string     `json:"fileUrl" gorm:"size:512;not null"`
	CoverURL  string     `json:"coverUrl" gorm:"size:512;not null"`
	GenreID   int64      `json:"genreId" gorm:"index"`
	ArtistID  int64      `json:"artistId" gorm:"index"`
	Source    SongSource `json:"source" gorm:"size:16;not null"`
	Views     int64      `json:"views" gorm:"default:0"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
