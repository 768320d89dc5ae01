// Package config loads application configuration from environment
// variables, with optional .env file support for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath       string
	KeyPath      string
	ListenAddr   string
	ProbeTimeout time.Duration
}

// Load reads configuration from the environment and returns a validated
// Config. A .env file in the working directory is loaded first when
// present; real environment variables win over .env entries.
//
// Variables and defaults: PLANHUB_DB_PATH (planhub.db), PLANHUB_KEY_PATH
// (planhub.key), PLANHUB_LISTEN_ADDR (127.0.0.1:8484),
// PLANHUB_PROBE_TIMEOUT (10s).
func Load() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	dbPath := "planhub.db"
	if v, ok := os.LookupEnv("PLANHUB_DB_PATH"); ok {
		dbPath = v
	}

	keyPath := "planhub.key"
	if v, ok := os.LookupEnv("PLANHUB_KEY_PATH"); ok {
		keyPath = v
	}

	listenAddr := "127.0.0.1:8484"
	if v, ok := os.LookupEnv("PLANHUB_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	probeTimeout := 10 * time.Second
	if v, ok := os.LookupEnv("PLANHUB_PROBE_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("PLANHUB_PROBE_TIMEOUT has invalid duration %q: %w", v, err)
		}
		probeTimeout = parsed
	}

	return &Config{
		DBPath:       dbPath,
		KeyPath:      keyPath,
		ListenAddr:   listenAddr,
		ProbeTimeout: probeTimeout,
	}, nil
}
