package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/blockpatch/internal/history"
	"github.com/starford/blockpatch/internal/reconcile"
	"github.com/starford/blockpatch/internal/session"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Documents DocumentsConfig   `yaml:"documents"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Schema    SchemaConfig      `yaml:"schema"`
	Editor    EditorConfig      `yaml:"editor"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Documents.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Editor.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DocumentsConfig holds the directory of JSON documents.
type DocumentsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the documents configuration.
func (c *DocumentsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the journal database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SchemaConfig points at an optional YAML schema file. An empty path uses the
// built-in schema.
type SchemaConfig struct {
	Path string `yaml:"path"`
}

// EditorConfig tunes every session.
type EditorConfig struct {
	UndoLimit     int           `yaml:"undo_limit"`
	SyncChunkSize int           `yaml:"sync_chunk_size"`
	BusyRetry     time.Duration `yaml:"busy_retry"`
	ReadOnly      bool          `yaml:"read_only"`
}

// Validate validates the editor configuration.
func (c *EditorConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.UndoLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.SyncChunkSize, validation.Required, validation.Min(1)),
		validation.Field(&c.BusyRetry, validation.Required, validation.Min(time.Millisecond)),
	)
}

// SessionOptions converts the configuration into session options.
func (c *EditorConfig) SessionOptions() []session.Option {
	return []session.Option{
		session.WithUndoLimit(c.UndoLimit),
		session.WithChunkSize(c.SyncChunkSize),
		session.WithBusyRetry(c.BusyRetry),
		session.WithReadOnly(c.ReadOnly),
	}
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Documents: DocumentsConfig{
			Path: "./documents",
		},
		SQLite: SQLiteConfig{
			Path: "./blockpatch.db",
		},
		Editor: EditorConfig{
			UndoLimit:     history.DefaultLimit,
			SyncChunkSize: reconcile.DefaultChunkSize,
			BusyRetry:     reconcile.DefaultBusyRetry,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
