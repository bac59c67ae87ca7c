package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"songmill/cache"
	"songmill/config"
	"songmill/core/ingest"
	"songmill/logger"
	"songmill/model"
	"songmill/repository"
)

// Ingestor is the pipeline surface the handlers drive.
type Ingestor interface {
	IngestFromDevice(ctx context.Context, req ingest.DeviceRequest) (*model.Song, error)
	IngestFromURL(ctx context.Context, req ingest.RemoteRequest) (*model.Song, error)
}

// APIHandler handles the HTTP API.
type APIHandler struct {
	pipeline Ingestor
	songRepo repository.SongRepository
	hub      *ingest.ProgressHub
	status   ingest.StatusCache
	cfg      *config.Config
}

// NewAPIHandler creates the API handler.
func NewAPIHandler(pipeline Ingestor, songRepo repository.SongRepository, hub *ingest.ProgressHub, status ingest.StatusCache, cfg *config.Config) *APIHandler {
	return &APIHandler{
		pipeline: pipeline,
		songRepo: songRepo,
		hub:      hub,
		status:   status,
		cfg:      cfg,
	}
}

// Multipart bodies larger than every allowed payload combined are
// rejected before parsing.
const maxUploadBody = ingest.MaxAudioBytes + ingest.MaxCoverBytes + (1 << 20)

// stageUpload copies one multipart file into dir under a generated name,
// keeping the original extension. User-controlled names never touch disk.
func stageUpload(file multipart.File, header *multipart.FileHeader, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, uuid.NewString()+filepath.Ext(header.Filename))

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// AddSongFromDeviceHandler ingests an uploaded audio/cover pair.
func (h *APIHandler) AddSongFromDeviceHandler(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > maxUploadBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("request exceeds the %d MiB upload limit", maxUploadBody>>20),
		})
		return
	}

	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		logger.Warn("failed to parse upload form", logger.ErrorField(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to parse upload form"})
		return
	}

	title := r.FormValue("title")
	artistID, _ := strconv.ParseInt(r.FormValue("artistId"), 10, 64)
	genreID, _ := strconv.ParseInt(r.FormValue("genreId"), 10, 64)

	req := ingest.DeviceRequest{
		Title:    title,
		ArtistID: artistID,
		GenreID:  genreID,
	}

	var staged []string
	if audioFile, audioHeader, err := r.FormFile("audio"); err == nil {
		defer audioFile.Close()
		path, err := stageUpload(audioFile, audioHeader, h.cfg.OriginalDir)
		if err != nil {
			logger.Error("failed to stage audio upload", logger.ErrorField(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
			return
		}
		req.Audio = &ingest.FileUpload{
			Path:     path,
			MimeType: audioHeader.Header.Get("Content-Type"),
			Size:     audioHeader.Size,
		}
	}
	if coverFile, coverHeader, err := r.FormFile("cover"); err == nil {
		defer coverFile.Close()
		path, err := stageUpload(coverFile, coverHeader, h.cfg.CoverDir)
		if err != nil {
			logger.Error("failed to stage cover upload", logger.ErrorField(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
			return
		}
		staged = append(staged, path)
		req.Cover = &ingest.FileUpload{
			Path:     path,
			MimeType: coverHeader.Header.Get("Content-Type"),
			Size:     coverHeader.Size,
		}
	}
	// The pipeline owns the staged audio; the cover staging file is ours
	// to drop once the run is over.
	defer func() {
		for _, path := range staged {
			os.Remove(path)
		}
	}()

	song, err := h.pipeline.IngestFromDevice(r.Context(), req)
	if err != nil {
		writeIngestError(w, err)
		return
	}

	if err := cache.InvalidateSongs(r.Context()); err != nil {
		logger.Warn("song list cache invalidation failed", logger.ErrorField(err))
	}
	writeJSON(w, http.StatusCreated, song)
}

// AddSongFromURLHandler ingests a remote media URL.
func (h *APIHandler) AddSongFromURLHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL       string `json:"url"`
		GenreName string `json:"genreName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	song, err := h.pipeline.IngestFromURL(r.Context(), ingest.RemoteRequest{
		URL:       body.URL,
		GenreName: body.GenreName,
	})
	if err != nil {
		writeIngestError(w, err)
		return
	}

	if err := cache.InvalidateSongs(r.Context()); err != nil {
		logger.Warn("song list cache invalidation failed", logger.ErrorField(err))
	}
	writeJSON(w, http.StatusCreated, song)
}

// GetSongsHandler lists all songs, newest first. The listing is served
// from Redis when a fresh copy exists.
func (h *APIHandler) GetSongsHandler(w http.ResponseWriter, r *http.Request) {
	if cached, err := cache.GetSongList(r.Context()); err == nil && cached != nil {
		writeJSON(w, http.StatusOK, cached)
		return
	} else if err != nil {
		logger.Warn("song list cache read failed", logger.ErrorField(err))
	}

	songs, err := h.songRepo.GetAllSongs()
	if err != nil {
		logger.Error("failed to list songs", logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list songs"})
		return
	}
	if err := cache.CacheSongList(r.Context(), songs); err != nil {
		logger.Warn("song list cache write failed", logger.ErrorField(err))
	}
	writeJSON(w, http.StatusOK, songs)
}

// GetSongHandler returns one song by id.
func (h *APIHandler) GetSongHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid song id"})
		return
	}

	if cached, err := cache.GetSong(r.Context(), id); err == nil && cached != nil {
		writeJSON(w, http.StatusOK, cached)
		return
	} else if err != nil {
		logger.Warn("song cache read failed", logger.Int64("id", id), logger.ErrorField(err))
	}

	song, err := h.songRepo.GetSongByID(id)
	if err != nil {
		logger.Error("failed to get song", logger.Int64("id", id), logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get song"})
		return
	}
	if song == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "song not found"})
		return
	}
	if err := cache.CacheSong(r.Context(), song); err != nil {
		logger.Warn("song cache write failed", logger.Int64("id", id), logger.ErrorField(err))
	}
	writeJSON(w, http.StatusOK, song)
}

// DeleteSongHandler removes a song row. The hosted media assets are not
// cascaded; see the catalog docs for the cleanup gap.
func (h *APIHandler) DeleteSongHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid song id"})
		return
	}

	if err := h.songRepo.DeleteSong(id); err != nil {
		logger.Error("failed to delete song", logger.Int64("id", id), logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete song"})
		return
	}
	if err := cache.InvalidateSongs(r.Context(), id); err != nil {
		logger.Warn("song cache invalidation failed", logger.Int64("id", id), logger.ErrorField(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
