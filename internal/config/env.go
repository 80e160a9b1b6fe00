package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Env is the process runtime environment.
type Env struct {
	// Host and Port bind the HTTP server.
	Host string
	Port int

	// RedisURL, when set, backs the scheduler and webhook queues with
	// Redis. Empty falls back to the in-process queue.
	RedisURL string

	// DatabaseURL, when set, backs the stores with SQLite. Empty keeps
	// everything in memory.
	DatabaseURL string

	// CORSOrigin is the allowed origin for the dashboard.
	CORSOrigin string

	// FileStoragePath is where uploaded files land.
	FileStoragePath string

	// ProjectsDir holds per-project JSON config files loaded at startup.
	ProjectsDir string
}

// LoadEnv reads the runtime environment, first merging a .env file when one
// exists. Absent variables fall back to dev-mode defaults.
func LoadEnv() *Env {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	return &Env{
		Host:            getenv("HOST", "0.0.0.0"),
		Port:            getint("PORT", 8080),
		RedisURL:        os.Getenv("REDIS_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CORSOrigin:      getenv("CORS_ORIGIN", "*"),
		FileStoragePath: getenv("FILE_STORAGE_PATH", "./data/files"),
		ProjectsDir:     getenv("PROJECTS_DIR", "./projects"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
