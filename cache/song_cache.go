package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"songmill/db"
	"songmill/model"
)

// Catalog reads are cached briefly; ingestion and deletion invalidate.
const songListTTL = 5 * time.Minute

const songListKey = "songmill:songs:all"

func songKey(id int64) string {
	return fmt.Sprintf("songmill:songs:%d", id)
}

// CacheSongList stores the full song listing.
func CacheSongList(ctx context.Context, songs []*model.Song) error {
	if db.RedisClient == nil {
		return nil
	}
	data, err := json.Marshal(songs)
	if err != nil {
		return fmt.Errorf("failed to marshal song list: %w", err)
	}
	return db.RedisClient.Set(ctx, songListKey, data, songListTTL).Err()
}

// GetSongList returns the cached listing, or nil on a miss.
func GetSongList(ctx context.Context) ([]*model.Song, error) {
	if db.RedisClient == nil {
		return nil, nil
	}
	data, err := db.RedisClient.Get(ctx, songListKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached song list: %w", err)
	}
	var songs []*model.Song
	if err := json.Unmarshal(data, &songs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached song list: %w", err)
	}
	return songs, nil
}

// CacheSong stores one song.
func CacheSong(ctx context.Context, song *model.Song) error {
	if db.RedisClient == nil {
		return nil
	}
	data, err := json.Marshal(song)
	if err != nil {
		return fmt.Errorf("failed to marshal song: %w", err)
	}
	return db.RedisClient.Set(ctx, songKey(song.ID), data, songListTTL).Err()
}

// GetSong returns one cached song, or nil on a miss.
func GetSong(ctx context.Context, id int64) (*model.Song, error) {
	if db.RedisClient == nil {
		return nil, nil
	}
	data, err := db.RedisClient.Get(ctx, songKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached song: %w", err)
	}
	var song model.Song
	if err := json.Unmarshal(data, &song); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached song: %w", err)
	}
	return &song, nil
}

// InvalidateSongs drops the listing plus any per-song entries named.
func InvalidateSongs(ctx context.Context, ids ...int64) error {
	if db.RedisClient == nil {
		return nil
	}
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, songListKey)
	for _, id := range ids {
		keys = append(keys, songKey(id))
	}
	return db.RedisClient.Del(ctx, keys...).Err()
}
