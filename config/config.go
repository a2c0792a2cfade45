package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all client-core configuration
type Config struct {
	Port               int
	BackendURL         string // origin of the conversation backend, e.g. http://localhost:8000/api
	AllowedOrigins     []string
	RedisURL           string
	RedisPassword      string
	HTTPTimeout        time.Duration // gateway request timeout
	MaxClipSize        int           // maximum recorded clip size in bytes
	AutoPlayDelay      time.Duration // delay before a fresh assistant clip speaks
	NotifyDismissAfter time.Duration // how long the booking notice stays up
	PlaybackExclusive  bool          // pause other players when one starts
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:               8080,
		AllowedOrigins:     []string{"*"},
		RedisURL:           "localhost:6379",
		RedisPassword:      "",
		HTTPTimeout:        30 * time.Second,
		MaxClipSize:        5 * 1024 * 1024, // 5MB default
		AutoPlayDelay:      300 * time.Millisecond,
		NotifyDismissAfter: 7 * time.Second,
		PlaybackExclusive:  false,
	}

	// Required: BACKEND_URL
	config.BackendURL = strings.TrimRight(os.Getenv("BACKEND_URL"), "/")
	if config.BackendURL == "" {
		return nil, fmt.Errorf("BACKEND_URL environment variable is required")
	}
	if _, err := url.ParseRequestURI(config.BackendURL); err != nil {
		return nil, fmt.Errorf("invalid BACKEND_URL: %w", err)
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: HTTP_TIMEOUT (in seconds)
	if timeout := os.Getenv("HTTP_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
		}
		config.HTTPTimeout = time.Duration(t) * time.Second
	}

	// Optional: MAX_CLIP_SIZE (in bytes)
	if clipSize := os.Getenv("MAX_CLIP_SIZE"); clipSize != "" {
		c, err := strconv.Atoi(clipSize)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_CLIP_SIZE: %w", err)
		}
		config.MaxClipSize = c
	}

	// Optional: AUTOPLAY_DELAY_MS (in milliseconds)
	if delay := os.Getenv("AUTOPLAY_DELAY_MS"); delay != "" {
		d, err := strconv.Atoi(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTOPLAY_DELAY_MS: %w", err)
		}
		config.AutoPlayDelay = time.Duration(d) * time.Millisecond
	}

	// Optional: NOTIFY_DISMISS_SECONDS
	if dismiss := os.Getenv("NOTIFY_DISMISS_SECONDS"); dismiss != "" {
		d, err := strconv.Atoi(dismiss)
		if err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_DISMISS_SECONDS: %w", err)
		}
		config.NotifyDismissAfter = time.Duration(d) * time.Second
	}

	// Optional: PLAYBACK_EXCLUSIVE ("true" pauses other clips when one starts)
	if exclusive := os.Getenv("PLAYBACK_EXCLUSIVE"); exclusive != "" {
		e, err := strconv.ParseBool(exclusive)
		if err != nil {
			return nil, fmt.Errorf("invalid PLAYBACK_EXCLUSIVE: %w", err)
		}
		config.PlaybackExclusive = e
	}

	return config, nil
}
