package internal

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Source kinds.
const (
	SourceGitHub = "github"
	SourceDir    = "dir"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Source SourceConfig      `yaml:"source"`
	Store  StoreConfig       `yaml:"store"`
	Loader LoaderConfig      `yaml:"loader"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Loader.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile, when set, also writes logs to a size-rotated file.
	LogFile  string     `yaml:"log_file"`
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

// SourceConfig selects where Markdown files are read from.
type SourceConfig struct {
	Kind   string             `yaml:"kind"`
	GitHub GitHubSourceConfig `yaml:"github"`
	Dir    DirSourceConfig    `yaml:"dir"`
}

// Validate validates the source configuration.
func (c *SourceConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(SourceGitHub, SourceDir)),
	); err != nil {
		return err
	}
	if c.Kind == SourceDir {
		return c.Dir.Validate()
	}
	return c.GitHub.Validate()
}

// GitHubSourceConfig locates a repository directory.
type GitHubSourceConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Owner     string        `yaml:"owner"`
	Repo      string        `yaml:"repo"`
	Path      string        `yaml:"path"`
	Ref       string        `yaml:"ref"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
}

// Validate validates the GitHub source configuration. The token is required.
func (c *GitHubSourceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Owner, validation.Required),
		validation.Field(&c.Repo, validation.Required),
		validation.Field(&c.Token, validation.Required.Error("is not set (export GITHUB_TOKEN)")),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.RateLimit, validation.Min(0.0)),
	)
}

// DirSourceConfig points at a local directory of Markdown files.
type DirSourceConfig struct {
	Path  string `yaml:"path"`
	Ext   string `yaml:"ext"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the directory source configuration.
func (c *DirSourceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// StoreConfig selects the content store backend.
type StoreConfig struct {
	Kind   string            `yaml:"kind"`
	SQLite SQLiteStoreConfig `yaml:"sqlite"`
	Redis  RedisStoreConfig  `yaml:"redis"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(StoreMemory, StoreSQLite, StoreRedis)),
	); err != nil {
		return err
	}
	switch c.Kind {
	case StoreSQLite:
		return validation.ValidateStruct(&c.SQLite,
			validation.Field(&c.SQLite.Path, validation.Required),
		)
	case StoreRedis:
		return validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.Addr, validation.Required),
			validation.Field(&c.Redis.DB, validation.Min(0)),
		)
	}
	return nil
}

// SQLiteStoreConfig holds SQLite database configuration.
type SQLiteStoreConfig struct {
	Path string `yaml:"path"`
}

// RedisStoreConfig holds Redis connection settings.
type RedisStoreConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LoaderConfig tunes the loader.
type LoaderConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Validate validates the loader configuration.
func (c *LoaderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1), validation.Max(64)),
	)
}

// AuthConfig holds authentication configuration for the HTTP API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
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

// NewDefaultConfig returns a new Config with sensible default values. The
// GitHub token defaults to $GITHUB_TOKEN.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Source: SourceConfig{
			Kind: SourceGitHub,
			GitHub: GitHubSourceConfig{
				BaseURL: "https://api.github.com",
				Owner:   "3mdistal",
				Repo:    "teenylilthoughts",
				Path:    "Aspirations/Tasks",
				Token:   os.Getenv("GITHUB_TOKEN"),
				Timeout: 30 * time.Second,
			},
			Dir: DirSourceConfig{
				Ext: ".md",
			},
		},
		Store: StoreConfig{
			Kind: StoreMemory,
			SQLite: SQLiteStoreConfig{
				Path: "./taskloader.db",
			},
			Redis: RedisStoreConfig{
				Addr:   "localhost:6379",
				Prefix: "taskloader:",
			},
		},
		Loader: LoaderConfig{
			Concurrency: 4,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
