package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Backend  BackendConfig  `toml:"backend"`
	Database DatabaseConfig `toml:"database"`
	Library  LibraryConfig  `toml:"library"`
	Cache    CacheConfig    `toml:"cache"`
	Download DownloadConfig `toml:"download"`
	Server   ServerConfig   `toml:"server"`
	Network  NetworkConfig  `toml:"network"`
}

// BackendConfig contains the Subsonic-compatible server location and credentials.
type BackendConfig struct {
	URL               string  `toml:"url"`
	Username          string  `toml:"username"`
	Password          string  `toml:"password"`
	AccessToken       string  `toml:"access_token"`
	Client            string  `toml:"client"`
	APIVersion        string  `toml:"api_version"`
	TranscodingFormat string  `toml:"transcoding_format"`
	MaxBitRate        int     `toml:"max_bitrate"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LibraryConfig controls how much of the local library each section shows.
type LibraryConfig struct {
	OnlineMode    bool `toml:"online_mode"`
	RecentLimit   int  `toml:"recent_limit"`
	PlaylistLimit int  `toml:"playlist_limit"`
	PodcastLimit  int  `toml:"podcast_limit"`
}

// CacheConfig contains the root of the downloaded-file store.
type CacheConfig struct {
	Root string `toml:"root"`
}

// DownloadConfig contains download pipeline settings.
type DownloadConfig struct {
	Parallel  int    `toml:"parallel"`
	UserAgent string `toml:"user_agent"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// NetworkConfig contains reachability probe settings.
type NetworkConfig struct {
	ProbeTTLSeconds     int `toml:"probe_ttl_seconds"`
	ProbeTimeoutSeconds int `toml:"probe_timeout_seconds"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return fmt.Errorf("%w: backend.url is required", ErrInvalidConfig)
	}
	if c.Download.Parallel < 0 {
		return fmt.Errorf("%w: download.parallel must not be negative", ErrInvalidConfig)
	}
	if c.Backend.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: backend.requests_per_second must not be negative", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Cache.Root) == "" {
		return fmt.Errorf("%w: cache.root is required", ErrInvalidConfig)
	}
	return nil
}

// CacheRoot returns the expanded cache root.
func (c *Config) CacheRoot() string {
	return ExpandPath(c.Cache.Root)
}

// DatabasePath returns the expanded database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path == ":memory:" {
		return c.Database.Path
	}
	return ExpandPath(c.Database.Path)
}

// BackendTimeout returns the HTTP timeout for backend API calls.
func (c *Config) BackendTimeout() time.Duration {
	if c.Backend.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// ProbeTTL returns how long a reachability result is reused.
func (c *Config) ProbeTTL() time.Duration {
	if c.Network.ProbeTTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Network.ProbeTTLSeconds) * time.Second
}

// ProbeTimeout returns the dial timeout of a reachability probe.
func (c *Config) ProbeTimeout() time.Duration {
	if c.Network.ProbeTimeoutSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Network.ProbeTimeoutSeconds) * time.Second
}

// Addr returns the host:port the HTTP surface listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ExpandPath replaces a leading "~" with the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
