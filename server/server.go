package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/minio/minio-go/v7"

	"songmill/config"
	"songmill/core/auth"
	"songmill/core/ingest"
	"songmill/core/meta"
	"songmill/db"
	"songmill/logger"
	"songmill/model"
	"songmill/repository"
	"songmill/storage"
)

// Start initializes every collaborator and runs the HTTP server until
// SIGINT/SIGTERM.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: "logs/songmill.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	auth.Init(cfg.JWTSecret)

	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("failed to initialize MinIO", logger.ErrorField(err))
	}

	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()

	if err := db.InitDB(); err != nil {
		logger.Fatal("failed to initialize database schema", logger.ErrorField(err))
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect GORM", logger.ErrorField(err))
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(&model.Artist{}, &model.Genre{}, &model.Song{}); err != nil {
		logger.Fatal("failed to migrate models", logger.ErrorField(err))
	}

	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	ensureDirExists(cfg.UploadDir)
	ensureDirExists(cfg.OriginalDir)
	ensureDirExists(cfg.CoverDir)
	ensureDirExists(cfg.HLSDir)

	store := storage.NewObjectStore(storage.GetMinioClient(), cfg.MinioBucket, cfg.MinioPublicURL)

	songRepo := repository.NewMySQLSongRepository()
	artistRepo := repository.NewMySQLArtistRepository()
	genreRepo := repository.NewMySQLGenreRepository()
	catalog := repository.NewCatalog(songRepo, artistRepo, genreRepo)

	var fetcher ingest.RemoteFetcher
	switch cfg.FetcherStrategy {
	case "native":
		fetcher = ingest.NewNativeFetcher(cfg.OriginalDir)
	default:
		fetcher = ingest.NewYtdlpFetcher(meta.NewClient(cfg.MetaAPIURL), cfg.YtdlpPath, cfg.OriginalDir)
	}

	covers := ingest.NewMinioCoverUploader(store)
	transcoder := ingest.NewFFmpegTranscoder(cfg.FFmpegPath, cfg.AudioBitrate, cfg.HLSSegmentTime, cfg.HLSDir, store, 4)
	hub := ingest.NewProgressHub()
	status := ingest.NewRedisStatusCache(db.RedisClient, time.Hour)

	pipeline := ingest.NewPipeline(catalog, fetcher, covers, transcoder, hub, status, ingest.Options{
		Workers:    cfg.TranscodeWorkers,
		QueueSize:  cfg.TranscodeQueue,
		LockPolicy: ingest.LockPolicy(cfg.SlugLockPolicy),
	})

	apiHandler := NewAPIHandler(pipeline, songRepo, hub, status, cfg)

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/api/songs", apiHandler.GetSongsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/device", AuthMiddleware(apiHandler.AddSongFromDeviceHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/songs/url", AuthMiddleware(apiHandler.AddSongFromURLHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/songs/{id}", apiHandler.GetSongHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/{id}", AuthMiddleware(apiHandler.DeleteSongHandler)).Methods(http.MethodDelete)

	router.HandleFunc("/api/ingest/{slug}/status", apiHandler.IngestStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/ingest/{slug}/ws", apiHandler.IngestProgressHandler).Methods(http.MethodGet)

	// Hosted HLS playlists, segments and covers, served straight out of
	// the object store.
	router.PathPrefix("/streams/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		objectPath := strings.TrimPrefix(r.URL.Path, "/streams/")
		client := storage.GetMinioClient()
		if client == nil {
			http.Error(w, "object store not available", http.StatusInternalServerError)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		object, err := client.GetObject(ctx, cfg.MinioBucket, objectPath, minio.GetObjectOptions{})
		if err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		defer object.Close()

		var contentType string
		switch {
		case strings.HasSuffix(objectPath, ".m3u8"):
			contentType = "application/vnd.apple.mpegurl"
		case strings.HasSuffix(objectPath, ".ts"):
			contentType = "video/MP2T"
		case strings.HasPrefix(objectPath, "covers/"):
			contentType = "image/jpeg"
		default:
			contentType = "application/octet-stream"
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000")

		if _, err := io.Copy(w, object); err != nil {
			logger.Warn("error serving object", logger.String("object", objectPath), logger.ErrorField(err))
		}
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			logger.Fatal("failed to create directory", logger.String("path", path), logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("failed to check directory", logger.String("path", path), logger.ErrorField(err))
	}
}
