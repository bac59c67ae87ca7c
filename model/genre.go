package model

import "time"

// Genre is referenced, not owned, by songs.
type Genre struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string    `json:"name" gorm:"size:255;uniqueIndex:uniq_genres_name;not null"`
	Description string    `json:"description" gorm:"size:512"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
