package resource

import (
	"errors"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config holds the backend connection settings.
type Config struct {
	// BaseURL is the backend origin, e.g. https://portal.example.com.
	BaseURL string
	// Timeout bounds every HTTP call. Default: 30s
	Timeout time.Duration
	// Culture is sent as Accept-Language when the session has none. Default: en
	Culture string
	// TokenPath is the token endpoint used for refresh_token grants.
	TokenPath string
	// ClientID is sent with refresh requests.
	ClientID string
	// AntiforgeryPath is read once before the first mutating call when no
	// XSRF-TOKEN cookie is held yet. Empty disables the priming request.
	AntiforgeryPath string
}

// DefaultConfig returns the settings of a conventional backend.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		Culture:         "en",
		TokenPath:       "/connect/token",
		ClientID:        "Portal_App",
		AntiforgeryPath: "/api/abp/application-configuration",
	}
}

// Validate checks the configuration and reports the first offending field.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Culture, validation.Required),
		validation.Field(&c.TokenPath, validation.Required),
	)
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return &ConfigError{Message: err.Error()}
	}

	fields := make([]string, 0, len(verrs))
	for field := range verrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	return &ConfigError{Field: fields[0], Message: verrs[fields[0]].Error()}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
