package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pagestore/internal/encryption"
	"github.com/starford/pagestore/internal/index"
	"github.com/starford/pagestore/internal/integrity"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Storage    StorageConfig     `yaml:"storage"`
	Integrity  IntegrityConfig   `yaml:"integrity"`
	Encryption EncryptionConfig  `yaml:"encryption"`
	Index      IndexConfig       `yaml:"index"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Integrity.Validate(); err != nil {
		return fmt.Errorf("integrity: %w", err)
	}
	if err := c.Encryption.Validate(); err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	if err := c.Index.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	return nil
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

// StorageConfig holds the document root.
type StorageConfig struct {
	Root string `yaml:"root"`
	// TempMaxAge is how old an orphaned temp file must be before the startup
	// sweep removes it.
	TempMaxAge time.Duration `yaml:"temp_max_age"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.TempMaxAge, validation.Min(time.Duration(0))),
	)
}

// IntegrityConfig controls sidecar signing.
type IntegrityConfig struct {
	Mode string `yaml:"mode"`
	Key  string `yaml:"key"`
}

// Validate validates the integrity configuration.
func (c *IntegrityConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = string(integrity.ModeOff)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(
			string(integrity.ModeOff), string(integrity.ModeWarn), string(integrity.ModeStrict))),
	)
}

// Unsigned reports a signing mode with no key. Reads then verify as
// unverifiable and writes produce no sidecars.
func (c *IntegrityConfig) Unsigned() bool {
	return c.Mode != "" && c.Mode != string(integrity.ModeOff) && c.Key == ""
}

// Sealer builds the sealer the configuration describes.
func (c *IntegrityConfig) Sealer() *integrity.Sealer {
	mode, err := integrity.ParseMode(c.Mode)
	if err != nil || mode == integrity.ModeOff {
		return nil
	}
	return integrity.NewSealer(mode, []byte(c.Key))
}

// EncryptionConfig holds the optional body encryption key.
type EncryptionConfig struct {
	// Key is 32 bytes as hex or base64. Empty leaves encrypted pages locked.
	Key string `yaml:"key"`
}

// Validate validates the encryption configuration.
func (c *EncryptionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Key, validation.By(func(v any) error {
			_, err := encryption.ParseKey(v.(string))
			return err
		})),
	)
}

// Cipher builds the cipher for the configured key.
func (c *EncryptionConfig) Cipher() (*encryption.Cipher, error) {
	key, err := encryption.ParseKey(c.Key)
	if err != nil {
		return nil, err
	}
	return encryption.New(key)
}

// IndexConfig selects and tunes the index backend.
type IndexConfig struct {
	Backend     string        `yaml:"backend"`
	FlatPath    string        `yaml:"flat_path"`
	SQLitePath  string        `yaml:"sqlite_path"`
	Workers     int           `yaml:"workers"`
	AutoRebuild time.Duration `yaml:"auto_rebuild"`
	Watch       bool          `yaml:"watch"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(index.BackendFlat, index.BackendSQLite)),
		validation.Field(&c.FlatPath, validation.When(c.Backend == index.BackendFlat, validation.Required)),
		validation.Field(&c.SQLitePath, validation.When(c.Backend == index.BackendSQLite, validation.Required)),
		validation.Field(&c.Workers, validation.Min(0), validation.Max(256)),
		validation.Field(&c.AutoRebuild, validation.Min(time.Duration(0))),
	)
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
		Storage: StorageConfig{
			Root:       "./data/pages",
			TempMaxAge: time.Hour,
		},
		Integrity: IntegrityConfig{
			Mode: string(integrity.ModeOff),
		},
		Index: IndexConfig{
			Backend:     index.BackendSQLite,
			FlatPath:    "./data/pages-index.json",
			SQLitePath:  "./data/pages-index.db",
			Workers:     8,
			AutoRebuild: 5 * time.Second,
			Watch:       true,
		},
	}
}
