package qamus

import (
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/qamuslabs/qamus/internal/store"
)

// DefaultProductID is the consumable that unlocks offline access.
const DefaultProductID = "offline_access"

// Config configures the qamus client.
type Config struct {
	// DBPath is the path to the local SQLite dictionary database.
	DBPath string

	// RemoteURL is the base URL of the remote store's REST API.
	// If empty and no Gateway is injected, the client operates
	// offline-only.
	RemoteURL string

	// APIKey authenticates with the remote store.
	APIKey string

	// ProductID is the consumable billing product that unlocks offline
	// access. Defaults to DefaultProductID.
	ProductID string

	// HTTPTimeout bounds each remote request. Defaults to 30 seconds.
	HTTPTimeout time.Duration

	// RetryAttempts is how many times a failed remote read is retried
	// on top of the initial attempt. Defaults to 2.
	RetryAttempts uint

	// Logger receives structured logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Debug enables request/response logging in the remote gateway.
	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DBPath:        store.DefaultDBPath(),
		ProductID:     DefaultProductID,
		HTTPTimeout:   30 * time.Second,
		RetryAttempts: 2,
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	QAMUS_DB_PATH     → DBPath
//	QAMUS_REMOTE_URL  → RemoteURL
//	QAMUS_API_KEY     → APIKey
//	QAMUS_PRODUCT_ID  → ProductID
//	QAMUS_RETRIES     → RetryAttempts
//	QAMUS_DEBUG       → Debug (any non-empty value enables)
func ConfigFromEnv() Config {
	var retries uint
	if v := os.Getenv("QAMUS_RETRIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			retries = uint(n)
		}
	}
	return Config{
		DBPath:        os.Getenv("QAMUS_DB_PATH"),
		RemoteURL:     os.Getenv("QAMUS_REMOTE_URL"),
		APIKey:        os.Getenv("QAMUS_API_KEY"),
		ProductID:     os.Getenv("QAMUS_PRODUCT_ID"),
		RetryAttempts: retries,
		Debug:         os.Getenv("QAMUS_DEBUG") != "",
	}
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return &ValidationError{Field: "DBPath", Message: "required: path to SQLite database"}
	}

	if c.RemoteURL != "" {
		if _, err := url.ParseRequestURI(c.RemoteURL); err != nil {
			return &ValidationError{Field: "RemoteURL", Message: "must be a valid URL"}
		}
		if c.APIKey == "" {
			return &ValidationError{Field: "APIKey", Message: "required when RemoteURL is set"}
		}
	}

	if c.HTTPTimeout < 0 {
		return &ValidationError{Field: "HTTPTimeout", Message: "must be non-negative"}
	}

	return nil
}

// IsOffline returns true if the client operates in offline-only mode.
func (c *Config) IsOffline() bool {
	return c.RemoteURL == ""
}

// WithDefaults fills in default values for unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.DBPath == "" {
		c.DBPath = defaults.DBPath
	}
	if c.ProductID == "" {
		c.ProductID = defaults.ProductID
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = defaults.HTTPTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaults.RetryAttempts
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}
