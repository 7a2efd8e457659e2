package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string
	MsgDir     string
	CORSOrigin string
	// Cache configuration
	RedisURL   string
	CacheTTL   time.Duration
	ListingTTL time.Duration
	// Extraction configuration
	ExtractWorkers int
	DecodeTimeout  time.Duration
	PageLimit      int
	// Annotation persistence - empty by default, in-memory only if not configured
	DatabaseURL   string
	MigrationsDir string
	// Search - optional
	MeiliURL       string
	MeiliMasterKey string
	// MinIO item source - empty endpoint means local filesystem
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

func Load() Config {
	// Best-effort .env for local development
	_ = godotenv.Load()

	return Config{
		Addr:           getenv("API_ADDR", ":8080"),
		MsgDir:         getenv("MSGVAULT_DIR", "./msg_files"),
		CORSOrigin:     getenv("MSGVAULT_CORS_ORIGIN", "*"),
		RedisURL:       getenv("REDIS_URL", ""),
		CacheTTL:       time.Duration(getenvInt("MSGVAULT_CACHE_TTL_SECONDS", 300)) * time.Second,
		ListingTTL:     time.Duration(getenvInt("MSGVAULT_LISTING_TTL_SECONDS", 60)) * time.Second,
		ExtractWorkers: getenvInt("MSGVAULT_EXTRACT_WORKERS", 4),
		DecodeTimeout:  time.Duration(getenvInt("MSGVAULT_DECODE_TIMEOUT_SECONDS", 10)) * time.Second,
		PageLimit:      getenvInt("MSGVAULT_PAGE_LIMIT", 50),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MigrationsDir:  getenv("MSGVAULT_MIGRATIONS_DIR", "./db/migrations"),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "msgvault"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
