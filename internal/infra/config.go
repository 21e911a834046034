package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents process configuration. Values come from an optional TOML
// file (MEDIAFORGE_CONFIG) overridden by environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string // when set, jobs live in Postgres instead of SQLite
	WorkDir     string // root for tmp/, artifacts/, jobs.db and the daemon lock

	FFmpegPath  string
	FFprobePath string

	WorkerCount   int
	QueueCapacity int
	EngineTimeout time.Duration
	ProbeCacheTTL time.Duration

	GeoIPDBPath string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// fileConfig mirrors the TOML layout. Every field is optional.
type fileConfig struct {
	AppEnv        string `toml:"app_env"`
	Port          string `toml:"port"`
	DatabaseURL   string `toml:"database_url"`
	WorkDir       string `toml:"work_dir"`
	FFmpegPath    string `toml:"ffmpeg_path"`
	FFprobePath   string `toml:"ffprobe_path"`
	WorkerCount   int    `toml:"worker_count"`
	QueueCapacity int    `toml:"queue_capacity"`
	EngineTimeout int    `toml:"engine_timeout_seconds"`
	ProbeCacheTTL int    `toml:"probe_cache_ttl_seconds"`
	GeoIPDBPath   string `toml:"geoip_db_path"`
}

// LoadConfig loads configuration with precedence env > file > default.
func LoadConfig() (*Config, error) {
	var file fileConfig
	if path := os.Getenv("MEDIAFORGE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", orDefault(file.AppEnv, "development")),
		Port:             getEnv("PORT", orDefault(file.Port, "8080")),
		DatabaseURL:      getEnv("DATABASE_URL", file.DatabaseURL),
		WorkDir:          getEnv("WORK_DIR", orDefault(file.WorkDir, "./data")),
		FFmpegPath:       getEnv("FFMPEG_PATH", orDefault(file.FFmpegPath, "ffmpeg")),
		FFprobePath:      getEnv("FFPROBE_PATH", orDefault(file.FFprobePath, "ffprobe")),
		WorkerCount:      getEnvInt("WORKER_COUNT", orDefaultInt(file.WorkerCount, 4)),
		QueueCapacity:    getEnvInt("QUEUE_CAPACITY", orDefaultInt(file.QueueCapacity, 64)),
		EngineTimeout:    time.Second * time.Duration(getEnvInt("ENGINE_TIMEOUT_SECONDS", orDefaultInt(file.EngineTimeout, 600))),
		ProbeCacheTTL:    time.Second * time.Duration(getEnvInt("PROBE_CACHE_TTL_SECONDS", orDefaultInt(file.ProbeCacheTTL, 1800))),
		GeoIPDBPath:      getEnv("GEOIP_DB_PATH", file.GeoIPDBPath),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if cfg.QueueCapacity < 1 {
		return nil, fmt.Errorf("QUEUE_CAPACITY must be at least 1")
	}
	if cfg.EngineTimeout <= 0 {
		return nil, fmt.Errorf("ENGINE_TIMEOUT_SECONDS must be positive")
	}
	abs, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	cfg.WorkDir = abs

	return cfg, nil
}

// TmpDir is the root for per-invocation scratch directories.
func (c *Config) TmpDir() string { return filepath.Join(c.WorkDir, "tmp") }

// ArtifactDir is the root for published job outputs.
func (c *Config) ArtifactDir() string { return filepath.Join(c.WorkDir, "artifacts") }

// QueueDBPath is the SQLite database location used when DatabaseURL is unset.
func (c *Config) QueueDBPath() string { return filepath.Join(c.WorkDir, "jobs.db") }

// LockPath guards the work directory against a second daemon.
func (c *Config) LockPath() string { return filepath.Join(c.WorkDir, "mediaforge.lock") }

// EnsureDirectories creates the work directory tree.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.WorkDir, c.TmpDir(), c.ArtifactDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orDefaultInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
