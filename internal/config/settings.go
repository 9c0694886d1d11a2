package config

import (
	"os"
	"strconv"
	"time"
)

// Settings holds the process-level configuration read from the environment
// (.env is loaded by the command layer before this runs). Everything here
// is either a credential or a deployment knob; the hunting behaviour lives
// in the YAML files.
type Settings struct {
	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	DiscordWebhookURL string
	OpsWebhookURL     string

	HTTPAddr string

	RequestTimeout       time.Duration
	DetailScoreThreshold int
	NotifyCooldown       time.Duration
	NotifyBatchDelay     time.Duration
	SeenCacheTTL         time.Duration
	LogLevel             string
	Debug                bool
}

// LoadSettings reads the settings from the environment, falling back to
// the production defaults.
func LoadSettings() Settings {
	s := Settings{
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		DiscordWebhookURL:    getEnv("DISCORD_WEBHOOK_URL", ""),
		OpsWebhookURL:        getEnv("OPS_WEBHOOK_URL", ""),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8090"),
		RequestTimeout:       getEnvDuration("SCRAPING_REQUEST_TIMEOUT", 30*time.Second),
		DetailScoreThreshold: getEnvInt("SCRAPING_DETAIL_SCORE_THRESHOLD", 40),
		NotifyCooldown:       getEnvDuration("NOTIF_COOLDOWN", 60*time.Minute),
		NotifyBatchDelay:     getEnvDuration("NOTIF_BATCH_DELAY", 2*time.Second),
		SeenCacheTTL:         getEnvDuration("SEEN_CACHE_TTL", 24*time.Hour),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Debug:                getEnvBool("DEBUG", false),
	}

	// Ops alerts default to the main webhook so a single-webhook setup
	// still gets start/stop and zero-yield notices.
	if s.OpsWebhookURL == "" {
		s.OpsWebhookURL = s.DiscordWebhookURL
	}
	return s
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
