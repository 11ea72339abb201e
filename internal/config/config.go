package config

import (
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment configuration values for the application.
// These values are loaded from a .env file at startup.
type Config struct {
	// SupabaseURL is the URL of your Supabase project
	SupabaseURL string `env:"SUPABASE_URL"`

	// SupabaseKey is the service role key for backend operations
	// This key has elevated privileges and should never be exposed to clients
	SupabaseKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`

	// SupabaseJWTSecret verifies the access tokens browsers present
	SupabaseJWTSecret string `env:"SUPABASE_JWT_SECRET"`

	// ServerPort is the port the HTTP server listens on
	ServerPort string `env:"PORT" envDefault:"8080"`

	// CORSOrigins is a comma-separated list of allowed origins
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000"`

	Environment string `env:"ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// MediaBucket is the storage bucket chat images are uploaded to
	MediaBucket string `env:"MEDIA_BUCKET" envDefault:"post-media"`

	// MediaMaxWidth bounds the width of uploaded images; wider images are downscaled
	MediaMaxWidth uint `env:"MEDIA_MAX_WIDTH" envDefault:"1920"`

	// ClassChannelAlias is the route token that resolves to the shared class chat
	ClassChannelAlias string `env:"CLASS_CHANNEL_ALIAS" envDefault:"class-group"`
	ClassChannelName  string `env:"CLASS_CHANNEL_NAME" envDefault:"Class Group"`

	// TypingQuietPeriod is how long after the last keystroke the typing indicator is removed
	TypingQuietPeriod time.Duration `env:"TYPING_QUIET_PERIOD" envDefault:"3s"`

	// TypingSweepInterval and TypingStaleAfter drive the stale indicator sweeper
	TypingSweepInterval time.Duration `env:"TYPING_SWEEP_INTERVAL" envDefault:"1m"`
	TypingStaleAfter    time.Duration `env:"TYPING_STALE_AFTER" envDefault:"30s"`

	// ConnectTimeout bounds chat initialization; zero disables the bound
	ConnectTimeout time.Duration `env:"CHAT_CONNECT_TIMEOUT" envDefault:"20s"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment variables.
// Falls back to sensible defaults if values are not set.
func Load() (*Config, error) {
	// Attempt to load .env file - not an error if it doesn't exist
	// as we may be running in production with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, err
	}
	for i, origin := range config.CORSOrigins {
		config.CORSOrigins[i] = strings.TrimSpace(origin)
	}

	// Validate required configuration
	if config.SupabaseURL == "" {
		log.Println("WARNING: SUPABASE_URL is not set")
	}
	if config.SupabaseKey == "" {
		log.Println("WARNING: SUPABASE_SERVICE_ROLE_KEY is not set")
	}
	if config.SupabaseJWTSecret == "" {
		log.Println("WARNING: SUPABASE_JWT_SECRET is not set, every authenticated request will be rejected")
	}

	return config, nil
}

// IsProduction reports whether ENV is set to production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
