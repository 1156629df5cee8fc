package querycache

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-resource-query/cache"
)

// Config holds the cache policy.
type Config struct {
	// StaleTime is how long a fetched result is served without revalidation.
	// It also becomes the TTL of the backing store.
	StaleTime time.Duration

	// GCTime is how long an entry with no subscribers is kept before eviction.
	GCTime time.Duration

	// Retry is the number of extra attempts for retryable fetch failures.
	Retry int

	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration

	// FetchTimeout bounds a single fetch, retries included.
	FetchTimeout time.Duration

	// Store configures the sturdyc store. Its TTL is overridden by StaleTime.
	Store cache.Config
}

// DefaultConfig returns the portal defaults.
func DefaultConfig() Config {
	return Config{
		StaleTime:    60 * time.Second,
		GCTime:       5 * time.Minute,
		Retry:        1,
		RetryDelay:   200 * time.Millisecond,
		FetchTimeout: 30 * time.Second,
		Store:        cache.DefaultConfig(),
	}
}

// Validate checks the policy and the store configuration.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.StaleTime, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.GCTime, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Retry, validation.Min(0), validation.Max(10)),
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.FetchTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
	if err != nil {
		var fields validation.Errors
		if errors.As(err, &fields) {
			for _, name := range []string{"FetchTimeout", "GCTime", "Retry", "RetryDelay", "StaleTime"} {
				if fe, ok := fields[name]; ok {
					return &ConfigError{Field: name, Message: fe.Error()}
				}
			}
		}
		return err
	}

	if err := c.storeConfig().Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func (c Config) storeConfig() cache.Config {
	store := c.Store
	store.TTL = c.StaleTime
	return store
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("querycache: invalid config %s: %s", e.Field, e.Message)
}
