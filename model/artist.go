package model

import "time"

// Artist is referenced, not owned, by songs.
type Artist struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"size:255;uniqueIndex:uniq_artists_name;not null"`
	Biography string    `json:"biography" gorm:"type:text"`
	AvatarURL string    `json:"avatarUrl" gorm:"size:512"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
