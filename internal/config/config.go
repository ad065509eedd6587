package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load env vars from .env file directly
func init() {
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist (e.g. in production),
		// but we should log it just in case.
		log.Println("No .env file found or error loading it, using system environment variables")
	}
}

// RateLimiter holds the provider call-pacing configuration (spec.md §4.1, §6.6).
type RateLimiter struct {
	TPS              int
	SafetyFactor     float64
	ThrottlePenaltyMs int64
}

// Normalize holds the stored-photo normalization target (spec.md §4.2 step 6).
type Normalize struct {
	MaxDim  int
	Quality int
}

// Backoff holds the error-classifier backoff shape (spec.md §4.5).
type Backoff struct {
	BaseSeconds         float64
	CapSeconds          float64
	ThrottleBaseSeconds float64
}

// Config is the fully resolved runtime configuration (spec.md §6.6).
type Config struct {
	Env         string
	DatabaseURL string
	RedisURL    string

	RetentionDays     int
	CleanupBatchSize  int
	MaxFileSize       int64
	ProviderMaxBytes  int64
	MaxFacesPerImage  int
	QualityFilter     string

	Normalize   Normalize
	RateLimiter RateLimiter
	Backoff     Backoff

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string

	ProviderKind string // "rekognition" or "selfhosted"
}

const (
	defaultRetentionDays      = 30
	defaultCleanupBatchSize   = 10
	defaultMaxFileSize        = 20 * 1024 * 1024
	defaultProviderMaxBytes   = 5 * 1024 * 1024
	defaultMaxFacesPerImage   = 100
	defaultQualityFilter      = "auto"
	defaultNormalizeMaxDim    = 4000
	defaultNormalizeQuality   = 90
	defaultTPS                = 50
	defaultSafetyFactor       = 0.9
	defaultThrottlePenaltyMs  = 2000
	defaultBackoffBase        = 1.0
	defaultBackoffCap         = 300.0
	defaultBackoffThrottleMul = 3.0 // throttleBase = base * this; keeps throttleBase > base
)

// Load resolves Config from the process environment, applying the
// defaults documented in spec.md §6.6 for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		RetentionDays:    getEnvInt("RETENTION_DAYS", defaultRetentionDays),
		CleanupBatchSize: getEnvInt("CLEANUP_BATCH_SIZE", defaultCleanupBatchSize),
		MaxFileSize:      getEnvInt64("MAX_FILE_SIZE", defaultMaxFileSize),
		ProviderMaxBytes: getEnvInt64("PROVIDER_MAX_BYTES", defaultProviderMaxBytes),
		MaxFacesPerImage: getEnvInt("MAX_FACES_PER_IMAGE", defaultMaxFacesPerImage),
		QualityFilter:    getEnv("QUALITY_FILTER", defaultQualityFilter),

		Normalize: Normalize{
			MaxDim:  getEnvInt("NORMALIZE_MAX_DIM", defaultNormalizeMaxDim),
			Quality: getEnvInt("NORMALIZE_QUALITY", defaultNormalizeQuality),
		},
		RateLimiter: RateLimiter{
			TPS:               getEnvInt("TPS", defaultTPS),
			SafetyFactor:      getEnvFloat("SAFETY_FACTOR", defaultSafetyFactor),
			ThrottlePenaltyMs: int64(getEnvInt("THROTTLE_PENALTY_MS", defaultThrottlePenaltyMs)),
		},
		Backoff: Backoff{
			BaseSeconds: getEnvFloat("BACKOFF_BASE", defaultBackoffBase),
			CapSeconds:  getEnvFloat("BACKOFF_CAP", defaultBackoffCap),
		},

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicURL:       os.Getenv("R2_PUBLIC_URL"),

		ProviderKind: getEnv("FACE_PROVIDER", "rekognition"),
	}

	cfg.Backoff.ThrottleBaseSeconds = getEnvFloat("BACKOFF_THROTTLE_BASE", cfg.Backoff.BaseSeconds*defaultBackoffThrottleMul)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	return cfg, nil
}

// SafeIntervalMs is the per-call spacing the Rate Limiter enforces
// (spec.md §4.1): ceil(1000 / (TPS * SafetyFactor)).
func (r RateLimiter) SafeIntervalMs() int64 {
	perSecond := float64(r.TPS) * r.SafetyFactor
	if perSecond <= 0 {
		return 0
	}
	ms := 1000.0 / perSecond
	return int64(ms) + boolToInt(ms != float64(int64(ms)))
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

// RetentionCutoff returns the createdAt threshold for the cleanup scan
// (spec.md §4.4): events older than RetentionDays are eligible.
func (c *Config) RetentionCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(c.RetentionDays) * 24 * time.Hour)
}
