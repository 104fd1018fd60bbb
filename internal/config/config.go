package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Workspace string         `mapstructure:"workspace" validate:"required"`
	Database  DatabaseConfig `mapstructure:"database" validate:"required"`
	Blob      BlobConfig     `mapstructure:"blob"`
	Import    ImportConfig   `mapstructure:"import"`
	Watch     WatchConfig    `mapstructure:"watch"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Database string `mapstructure:"database" validate:"required"`
	Schema   string `mapstructure:"schema"` // Optional: derived from workspace name if not specified
	SSLMode  string `mapstructure:"sslmode"`
}

// BlobConfig holds media blob storage settings
type BlobConfig struct {
	Root    string `mapstructure:"root"`
	BaseURL string `mapstructure:"base_url"`
}

// ImportConfig holds import behavior settings
type ImportConfig struct {
	// Force overwrites existing notes that share a guid with an
	// incoming note.
	Force bool `mapstructure:"force"`
	// Serialize takes a per-workspace advisory lock so concurrent
	// imports into the same workspace queue up instead of interleaving.
	Serialize bool `mapstructure:"serialize"`
}

// WatchConfig holds drop-directory watcher settings
type WatchConfig struct {
	Dir             string   `mapstructure:"dir"`
	DebounceMs      int      `mapstructure:"debounce_ms"`
	IncludePatterns []string `mapstructure:"include_patterns"`
	IgnorePatterns  []string `mapstructure:"ignore_patterns"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, sslMode,
	)
	// Set search_path to use the workspace's schema
	if d.Schema != "" {
		connStr += "&search_path=" + d.Schema + ",public"
	}
	return connStr
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "require",
		},
		Blob: BlobConfig{
			Root:    "media",
			BaseURL: "file://media",
		},
		Watch: WatchConfig{
			DebounceMs: 2000,
			IncludePatterns: []string{
				"**/*.apkg",
			},
			IgnorePatterns: []string{
				"**/.DS_Store",
				"**/*.partial",
				"**/*.tmp",
			},
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("database.port", defaults.Database.Port)
	v.SetDefault("database.sslmode", defaults.Database.SSLMode)
	v.SetDefault("blob.root", defaults.Blob.Root)
	v.SetDefault("blob.base_url", defaults.Blob.BaseURL)
	v.SetDefault("watch.debounce_ms", defaults.Watch.DebounceMs)
	v.SetDefault("watch.include_patterns", defaults.Watch.IncludePatterns)
	v.SetDefault("watch.ignore_patterns", defaults.Watch.IgnorePatterns)

	// Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	// Enable environment variable substitution
	v.AutomaticEnv()
	v.SetEnvPrefix("DECKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in password
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)

	// Expand paths that may use ~ or environment variables
	cfg.Blob.Root = expandPath(cfg.Blob.Root)
	if cfg.Watch.Dir != "" {
		cfg.Watch.Dir = expandPath(cfg.Watch.Dir)
	}

	// Derive schema name from workspace if not specified
	if cfg.Database.Schema == "" {
		cfg.Database.Schema = SanitizeIdentifier(cfg.Workspace)
	}

	// Validate
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "decksync")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "decksync")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "decksync")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "decksync")
	}
}

// GetStateDir returns the directory for storing state files
func GetStateDir() (string, error) {
	dir := getConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}

// SanitizeIdentifier converts a workspace name into a valid PostgreSQL identifier (schema/database name)
// Rules:
// - Lowercase only
// - Starts with letter or underscore
// - Contains only letters, digits, underscores
// - Spaces and hyphens become underscores
// - Max 63 characters (PostgreSQL limit)
func SanitizeIdentifier(name string) string {
	// Convert to lowercase
	name = strings.ToLower(name)

	// Replace spaces and hyphens with underscores
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")

	// Remove any character that isn't alphanumeric or underscore
	reg := regexp.MustCompile(`[^a-z0-9_]`)
	name = reg.ReplaceAllString(name, "")

	// Collapse multiple underscores
	reg = regexp.MustCompile(`_+`)
	name = reg.ReplaceAllString(name, "_")

	// Trim leading/trailing underscores
	name = strings.Trim(name, "_")

	// Ensure it starts with a letter (prepend 'ws_' if it starts with digit or is empty)
	if len(name) == 0 {
		name = "workspace"
	} else if unicode.IsDigit(rune(name[0])) {
		name = "ws_" + name
	}

	// PostgreSQL max identifier length is 63 characters
	if len(name) > 63 {
		name = name[:63]
		// Make sure we don't end with underscore after truncation
		name = strings.TrimRight(name, "_")
	}

	return name
}
