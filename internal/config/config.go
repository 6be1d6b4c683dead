package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the adbkit configuration
type Config struct {
	ADB     ADBConfig     `mapstructure:"adb" yaml:"adb"`
	Shell   ShellConfig   `mapstructure:"shell" yaml:"shell"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Listing ListingConfig `mapstructure:"listing" yaml:"listing"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ADBConfig locates the adb server
type ADBConfig struct {
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	DefaultDevice string `mapstructure:"default_device" yaml:"default_device"`
}

// ShellConfig contains shell command settings
type ShellConfig struct {
	FirstOutputTimeout time.Duration `mapstructure:"first_output_timeout" yaml:"first_output_timeout"`
}

// SyncConfig contains file transfer settings
type SyncConfig struct {
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
}

// ListingConfig contains remote directory listing settings
type ListingConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate" yaml:"refresh_rate"`
	BusyBox     bool          `mapstructure:"busybox" yaml:"busybox"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig contains the prometheus endpoint; empty Addr disables it
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

var envKeyReplacer = strings.NewReplacer(".", "_")

// Address returns host:port of the adb server
func (c *Config) Address() string {
	return net.JoinHostPort(c.ADB.Host, strconv.Itoa(c.ADB.Port))
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ADB: ADBConfig{
			Host: "127.0.0.1",
			Port: 5037,
		},
		Sync: SyncConfig{
			ChunkSize: 64 * 1024,
		},
		Listing: ListingConfig{
			RefreshRate: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	def := Default()
	v.SetDefault("adb.host", def.ADB.Host)
	v.SetDefault("adb.port", def.ADB.Port)
	v.SetDefault("adb.default_device", def.ADB.DefaultDevice)
	v.SetDefault("shell.first_output_timeout", def.Shell.FirstOutputTimeout)
	v.SetDefault("sync.chunk_size", def.Sync.ChunkSize)
	v.SetDefault("listing.refresh_rate", def.Listing.RefreshRate)
	v.SetDefault("listing.busybox", def.Listing.BusyBox)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("metrics.addr", def.Metrics.Addr)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("adbkit")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "adbkit"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// ADBKIT_ADB_HOST, ADBKIT_SYNC_CHUNK_SIZE, ...
	v.SetEnvPrefix("ADBKIT")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.ADB.Port <= 0 || cfg.ADB.Port > 65535 {
		return nil, fmt.Errorf("invalid adb.port %d", cfg.ADB.Port)
	}
	if cfg.Sync.ChunkSize <= 0 || cfg.Sync.ChunkSize > 64*1024 {
		cfg.Sync.ChunkSize = 64 * 1024
	}
	return &cfg, nil
}

// Save writes cfg as YAML
func Save(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// SaveTemplate saves a commented configuration template
func SaveTemplate(path string) error {
	templateContent := `# adbkit configuration file

adb:
  # adb server address
  host: "127.0.0.1"
  port: 5037

  # Serial used when -s is not given and several devices are connected
  default_device: ""

shell:
  # Fail a shell command when it prints nothing for this long (0 = wait forever)
  first_output_timeout: 0s

sync:
  # DATA chunk size for push, at most 65536 bytes
  chunk_size: 65536

listing:
  # How long a directory listing stays cached
  refresh_rate: 5s

  # Use busybox ls -lFa instead of the device ls
  busybox: false

log:
  # debug, info, warn, error
  level: "info"

  # text, json or compact
  format: "text"

  # Also write logs to this file
  file: ""

metrics:
  # Serve prometheus metrics on this address (e.g. ":9090"), empty = disabled
  addr: ""
`

	return os.WriteFile(path, []byte(templateContent), 0644)
}
