package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	GHLBaseURL string
	GHLAPIKey  string
	WPBaseURL  string
	WPAPIKey   string

	// MinConfidence overrides the matcher's suggestion floor when set.
	MinConfidence float64
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	minConfidence := 0.0
	if raw := os.Getenv("MATCH_MIN_CONFIDENCE"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return nil, fmt.Errorf("MATCH_MIN_CONFIDENCE must be a number in [0,1], got %q", raw)
		}
		minConfidence = v
	}

	return &Config{
		DBSource:      dbSource,
		Port:          port,
		Env:           env,
		GHLBaseURL:    os.Getenv("GHL_BASE_URL"),
		GHLAPIKey:     os.Getenv("GHL_API_KEY"),
		WPBaseURL:     os.Getenv("WP_BASE_URL"),
		WPAPIKey:      os.Getenv("WP_API_KEY"),
		MinConfidence: minConfidence,
	}, nil
}
