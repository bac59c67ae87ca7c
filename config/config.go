package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	HTTPAddr string

	FFmpegPath     string
	YtdlpPath      string
	AudioBitrate   string // e.g., "192k"
	HLSSegmentTime string // seconds per HLS segment

	UploadDir   string // base directory for all local staging
	OriginalDir string // staged source audio, keyed by generated id: UploadDir/original
	CoverDir    string // staged cover images before hosting: UploadDir/covers
	HLSDir      string // transcode output, keyed by slug: UploadDir/hls

	// Remote fetcher strategy: "ytdlp" (metadata API + yt-dlp download)
	// or "native" (in-process stream extraction).
	FetcherStrategy string
	MetaAPIURL      string // metadata lookup service base URL

	// Transcode scheduling. Queue size of zero means reject immediately
	// when all workers are busy.
	TranscodeWorkers int
	TranscodeQueue   int
	// What to do when a second request arrives for a slug that is already
	// being processed: "reject" or "wait".
	SlugLockPolicy string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	MinioPublicURL string // external base URL for hosted objects

	JWTSecret string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	uploadBase := getEnv("UPLOAD_DIR", "uploads")

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		YtdlpPath:      getEnv("YTDLP_PATH", "yt-dlp"),
		AudioBitrate:   getEnv("AUDIO_BITRATE", "192k"),
		HLSSegmentTime: getEnv("HLS_SEGMENT_TIME", "10"),

		UploadDir:   uploadBase,
		OriginalDir: filepath.Join(uploadBase, "original"),
		CoverDir:    filepath.Join(uploadBase, "covers"),
		HLSDir:      filepath.Join(uploadBase, "hls"),

		FetcherStrategy: getEnv("FETCHER_STRATEGY", "ytdlp"),
		MetaAPIURL:      getEnv("META_API_URL", "http://127.0.0.1:3000"),

		TranscodeWorkers: getEnvInt("TRANSCODE_WORKERS", 2),
		TranscodeQueue:   getEnvInt("TRANSCODE_QUEUE", 8),
		SlugLockPolicy:   getEnv("SLUG_LOCK_POLICY", "reject"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for passwords
		DBName:     getEnv("DB_NAME", "songmill"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "songmill"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioPublicURL: getEnv("MINIO_PUBLIC_URL", "http://127.0.0.1:9000/songmill"),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
	}
}
