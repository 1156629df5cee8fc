package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/goliatone/go-resource-query/pkg/di"
)

// settings is the CLI configuration: the container config plus the
// credentials to install on the session.
type settings struct {
	Container    di.Config
	AccessToken  string
	RefreshToken string
	Tenant       string
}

// loadSettings reads PORTAL_* variables. envFile is loaded first when it
// exists; variables already set in the environment win.
func loadSettings(envFile string) (settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return settings{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	s := settings{Container: di.DefaultConfig()}
	cfg := &s.Container
	var err error

	// PORTAL_BASE_URL: backend origin (required)
	cfg.Resource.BaseURL = os.Getenv("PORTAL_BASE_URL")

	cfg.Resource.Timeout, err = getEnvDuration("PORTAL_TIMEOUT", cfg.Resource.Timeout)
	if err != nil {
		return settings{}, fmt.Errorf("PORTAL_TIMEOUT: %w", err)
	}
	cfg.Resource.Culture = getEnvDefault("PORTAL_CULTURE", cfg.Resource.Culture)
	cfg.Resource.ClientID = getEnvDefault("PORTAL_CLIENT_ID", cfg.Resource.ClientID)
	cfg.Resource.TokenPath = getEnvDefault("PORTAL_TOKEN_PATH", cfg.Resource.TokenPath)

	cfg.QueryCache.StaleTime, err = getEnvDuration("PORTAL_STALE_TIME", cfg.QueryCache.StaleTime)
	if err != nil {
		return settings{}, fmt.Errorf("PORTAL_STALE_TIME: %w", err)
	}
	cfg.QueryCache.Retry, err = getEnvInt("PORTAL_RETRY", cfg.QueryCache.Retry)
	if err != nil {
		return settings{}, fmt.Errorf("PORTAL_RETRY: %w", err)
	}

	cfg.Logging.Level = getEnvDefault("PORTAL_LOG_LEVEL", "warn")
	cfg.Logging.Pretty, err = getEnvBool("PORTAL_LOG_PRETTY", true)
	if err != nil {
		return settings{}, fmt.Errorf("PORTAL_LOG_PRETTY: %w", err)
	}

	s.AccessToken = os.Getenv("PORTAL_ACCESS_TOKEN")
	s.RefreshToken = os.Getenv("PORTAL_REFRESH_TOKEN")
	s.Tenant = os.Getenv("PORTAL_TENANT")

	return s, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q (use Go format: 30s, 1h, 15m)", val)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %q (true, false, 1, 0)", val)
	}
	return b, nil
}
