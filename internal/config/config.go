/**
 * @description
 * Configuration loader for the SwarmBet backend.
 * Responsible for reading environment variables, setting defaults, and performing strict validation.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 * - standard "os": For reading env vars
 *
 * @notes
 * - Fails fast if critical variables (Database URL) are missing.
 * - STORE_DRIVER=memory runs the engine against the in-process repository (local runs only).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	Polymarket PolymarketConfig
	Vocdoni    VocdoniConfig
	Services   ServicesConfig
	Engine     EngineConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
	Env  string // "development", "staging", "production" or "test"
}

// DBConfig holds PostgreSQL settings
type DBConfig struct {
	URL    string
	Driver string
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	URL string
}

// PolymarketConfig holds the Gamma API endpoint used as the outcome oracle
type PolymarketConfig struct {
	GammaURL string
}

// VocdoniConfig holds the anonymous voting network endpoint
type VocdoniConfig struct {
	APIURL  string
	Timeout time.Duration
}

// ServicesConfig holds auth and job credentials
type ServicesConfig struct {
	JWKSURL       string // URL to fetch JSON Web Key Set for JWT validation
	SyncJobSecret string // Shared secret for sweep and admin endpoints
}

// EngineConfig holds resolution engine tuning
type EngineConfig struct {
	PollWindow            time.Duration
	SweepConcurrency      int
	ReceiptConcurrency    int
	CloseCron             string
	ReconcileCron         string
	LeaderboardCron       string
	SweepLockTTL          time.Duration
	VoteGuardTTL          time.Duration
	BallotReceiptCacheTTL time.Duration
}

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// Attempt to load .env, but don't crash if it fails (prod injects env vars directly)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		DB: DBConfig{
			URL:    getEnv("DATABASE_URL", ""),
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Polymarket: PolymarketConfig{
			GammaURL: getEnv("POLYMARKET_GAMMA_URL", "https://gamma-api.polymarket.com"),
		},
		Vocdoni: VocdoniConfig{
			APIURL:  getEnv("VOCDONI_API_URL", "https://api-stg.vocdoni.net/v2"),
			Timeout: getEnvAsDuration("VOCDONI_TIMEOUT", 10*time.Second),
		},
		Services: ServicesConfig{
			JWKSURL:       getEnv("AUTH_JWKS_URL", ""),
			SyncJobSecret: sanitizeCredential(getEnv("JOB_SYNC_SECRET", "")),
		},
		Engine: EngineConfig{
			PollWindow:            getEnvAsDuration("POLL_WINDOW", 24*time.Hour),
			SweepConcurrency:      getEnvAsInt("SWEEP_CONCURRENCY", 4),
			ReceiptConcurrency:    getEnvAsInt("RECEIPT_CONCURRENCY", 8),
			CloseCron:             getEnv("CLOSE_POLLS_CRON", "0 * * * * *"),
			ReconcileCron:         getEnv("RESOLVE_POLYMARKET_CRON", "0 */10 * * * *"),
			LeaderboardCron:       getEnv("LEADERBOARD_CRON", "0 0 * * * *"),
			SweepLockTTL:          getEnvAsDuration("SWEEP_LOCK_TTL", 5*time.Minute),
			VoteGuardTTL:          getEnvAsDuration("VOTE_GUARD_TTL", 30*time.Second),
			BallotReceiptCacheTTL: getEnvAsDuration("BALLOT_RECEIPT_TTL", 24*time.Hour),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks for required variables
func validate(cfg *Config) error {
	switch cfg.DB.Driver {
	case StoreDriverPostgres:
		if cfg.DB.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
		if cfg.Server.Env == "production" {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.DB.Driver)
	}
	if cfg.Engine.PollWindow <= 0 {
		return fmt.Errorf("POLL_WINDOW must be positive")
	}
	if cfg.Engine.SweepConcurrency < 1 {
		cfg.Engine.SweepConcurrency = 1
	}
	if cfg.Engine.ReceiptConcurrency < 1 {
		cfg.Engine.ReceiptConcurrency = 1
	}
	if cfg.Services.SyncJobSecret == "" && cfg.Server.Env != "test" {
		// Warning: sweep endpoints reject every request without it
		fmt.Println("Warning: JOB_SYNC_SECRET is missing. Job and admin endpoints will reject requests.")
	}
	return nil
}

// Helper to get env var with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func sanitizeCredential(value string) string {
	trimmed := strings.TrimSpace(value)
	return strings.Trim(trimmed, "\"")
}

// Helper to get env var as int
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// Helper to get env var as a Go duration ("90s", "24h")
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
