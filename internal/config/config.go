// Package config handles loading, saving, and resolving the VaultKeeper
// configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/skaphos/vaultkeeper/internal/backup"
	"github.com/skaphos/vaultkeeper/internal/model"
)

const (
	// LocalConfigFilename is the per-directory VaultKeeper config file.
	LocalConfigFilename = ".vaultkeeper.yaml"
	// ConfigAPIVersion is the current config schema apiVersion.
	ConfigAPIVersion = "skaphos.io/vaultkeeper/v1beta1"
	// ConfigKind is the current config schema kind.
	ConfigKind = "VaultKeeperConfig"
	// EnvPrefix prefixes environment overrides, e.g. VAULTKEEPER_SYNC_DEFAULT_STRATEGY.
	EnvPrefix = "VAULTKEEPER"
	// EnvConfig points at a config file or directory.
	EnvConfig = EnvPrefix + "_CONFIG"
)

// Vault identifies the local vault and its remote.
type Vault struct {
	Path      string `yaml:"path,omitempty" mapstructure:"path"`
	RemoteURL string `yaml:"remote_url,omitempty" mapstructure:"remote_url"`
	Remote    string `yaml:"remote" mapstructure:"remote"`
	// Branch is detected from the remote (main, then master) when empty.
	Branch string `yaml:"branch,omitempty" mapstructure:"branch"`
}

// Sync holds synchronization defaults.
type Sync struct {
	// DefaultStrategy skips the strategy prompt when set.
	DefaultStrategy       string `yaml:"default_strategy,omitempty" mapstructure:"default_strategy"`
	NetworkTimeoutSeconds int    `yaml:"network_timeout_seconds" mapstructure:"network_timeout_seconds"`
	// ProbeAddress overrides the host:port used for reachability checks.
	ProbeAddress         string `yaml:"probe_address,omitempty" mapstructure:"probe_address"`
	WatchIntervalSeconds int    `yaml:"watch_interval_seconds" mapstructure:"watch_interval_seconds"`
	DebounceMillis       int    `yaml:"debounce_millis" mapstructure:"debounce_millis"`
}

// Backup holds snapshot retention limits.
type Backup struct {
	MaxPerReason   int      `yaml:"max_per_reason" mapstructure:"max_per_reason"`
	MaxAgeDays     int      `yaml:"max_age_days" mapstructure:"max_age_days"`
	MaxTotalSizeMB int      `yaml:"max_total_size_mb" mapstructure:"max_total_size_mb"`
	Exclude        []string `yaml:"exclude" mapstructure:"exclude"`
}

// Log configures the log file sink.
type Log struct {
	File        string `yaml:"file,omitempty" mapstructure:"file"`
	DisableFile bool   `yaml:"disable_file,omitempty" mapstructure:"disable_file"`
}

// Config represents the VaultKeeper configuration.
type Config struct {
	APIVersion string `yaml:"apiVersion" mapstructure:"apiVersion"`
	Kind       string `yaml:"kind" mapstructure:"kind"`
	Vault      Vault  `yaml:"vault" mapstructure:"vault"`
	Sync       Sync   `yaml:"sync" mapstructure:"sync"`
	Backup     Backup `yaml:"backup" mapstructure:"backup"`
	// Editor is the argv used for manual edits; $VISUAL and $EDITOR apply when empty.
	Editor []string `yaml:"editor,omitempty" mapstructure:"editor"`
	Log    Log      `yaml:"log,omitempty" mapstructure:"log"`
}

// DefaultConfig returns a Config with sensible defaults applied.
func DefaultConfig() Config {
	return Config{
		APIVersion: ConfigAPIVersion,
		Kind:       ConfigKind,
		Vault: Vault{
			Remote: "origin",
		},
		Sync: Sync{
			NetworkTimeoutSeconds: 30,
			WatchIntervalSeconds:  60,
			DebounceMillis:        2000,
		},
		Backup: Backup{
			MaxPerReason:   10,
			MaxAgeDays:     30,
			MaxTotalSizeMB: 500,
			Exclude:        []string{"**/.obsidian/workspace*.json", "**/.trash/**", "**/.DS_Store"},
		},
	}
}

// NetworkTimeout returns the timeout applied to remote git operations.
func (c *Config) NetworkTimeout() time.Duration {
	return time.Duration(c.Sync.NetworkTimeoutSeconds) * time.Second
}

// WatchInterval returns the connectivity probe interval for watch mode.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Sync.WatchIntervalSeconds) * time.Second
}

// Debounce returns the quiet period before local edits trigger a sync.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Sync.DebounceMillis) * time.Millisecond
}

// DefaultStrategy returns the configured Stage-1 strategy, or "" when the
// user should be asked.
func (c *Config) DefaultStrategy() (model.Strategy, error) {
	if strings.TrimSpace(c.Sync.DefaultStrategy) == "" {
		return "", nil
	}
	return model.ParseStrategy(c.Sync.DefaultStrategy)
}

// BackupPolicy converts retention settings into a prune policy.
func (c *Config) BackupPolicy() backup.Policy {
	return backup.Policy{
		MaxAge:       time.Duration(c.Backup.MaxAgeDays) * 24 * time.Hour,
		MaxCount:     c.Backup.MaxPerReason,
		MaxTotalSize: int64(c.Backup.MaxTotalSizeMB) << 20,
	}
}

// ConfigDir returns the platform-appropriate config directory path.
// It checks, in order: the override parameter, VAULTKEEPER_CONFIG env var,
// and finally os.UserConfigDir()/vaultkeeper.
func ConfigDir(override string) (string, error) {
	if override != "" {
		if isConfigFilePath(override) {
			return filepath.Dir(override), nil
		}
		return override, nil
	}

	if env := os.Getenv(EnvConfig); env != "" {
		if isConfigFilePath(env) {
			return filepath.Dir(env), nil
		}
		return env, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "vaultkeeper"), nil
}

// ConfigPath resolves the config file path from override/env/defaults.
func ConfigPath(override string) (string, error) {
	if override != "" {
		if isConfigFilePath(override) {
			return override, nil
		}
		return filepath.Join(override, "config.yaml"), nil
	}

	if env := os.Getenv(EnvConfig); env != "" {
		if isConfigFilePath(env) {
			return env, nil
		}
		return filepath.Join(env, "config.yaml"), nil
	}

	dir, err := ConfigDir("")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// InitConfigPath resolves where "vaultkeeper init" should write config.
// Order: explicit override, VAULTKEEPER_CONFIG, then local dotfile in cwd.
func InitConfigPath(override, cwd string) (string, error) {
	if override != "" || os.Getenv(EnvConfig) != "" {
		return ConfigPath(override)
	}

	if strings.TrimSpace(cwd) == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(cwd, LocalConfigFilename), nil
}

// ResolveConfigPath resolves config for runtime commands.
// Order: explicit override, VAULTKEEPER_CONFIG, nearest local dotfile in cwd/parents,
// then global platform config path.
func ResolveConfigPath(override, cwd string) (string, error) {
	if override != "" || os.Getenv(EnvConfig) != "" {
		return ConfigPath(override)
	}

	if strings.TrimSpace(cwd) == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}

	localPath, err := FindNearestConfigPath(cwd)
	if err != nil {
		return "", err
	}
	if localPath != "" {
		return localPath, nil
	}

	return ConfigPath("")
}

// FindNearestConfigPath searches cwd and each parent directory for .vaultkeeper.yaml.
// It returns an empty string when no local config file is found.
func FindNearestConfigPath(cwd string) (string, error) {
	dir := cwd
	for {
		candidate := filepath.Join(dir, LocalConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Load reads the config file at path, layered over defaults and
// VAULTKEEPER_* environment overrides. An empty path yields defaults plus
// environment. A missing file is returned as an os.IsNotExist error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyConfigGVK(&cfg)
	if err := validateConfigGVK(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("apiVersion", d.APIVersion)
	v.SetDefault("kind", d.Kind)
	v.SetDefault("vault.path", d.Vault.Path)
	v.SetDefault("vault.remote_url", d.Vault.RemoteURL)
	v.SetDefault("vault.remote", d.Vault.Remote)
	v.SetDefault("vault.branch", d.Vault.Branch)
	v.SetDefault("sync.default_strategy", d.Sync.DefaultStrategy)
	v.SetDefault("sync.network_timeout_seconds", d.Sync.NetworkTimeoutSeconds)
	v.SetDefault("sync.probe_address", d.Sync.ProbeAddress)
	v.SetDefault("sync.watch_interval_seconds", d.Sync.WatchIntervalSeconds)
	v.SetDefault("sync.debounce_millis", d.Sync.DebounceMillis)
	v.SetDefault("backup.max_per_reason", d.Backup.MaxPerReason)
	v.SetDefault("backup.max_age_days", d.Backup.MaxAgeDays)
	v.SetDefault("backup.max_total_size_mb", d.Backup.MaxTotalSizeMB)
	v.SetDefault("backup.exclude", d.Backup.Exclude)
	v.SetDefault("editor", d.Editor)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.disable_file", d.Log.DisableFile)
}

// Validate rejects settings that would make synchronization misbehave.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := cfg.DefaultStrategy(); err != nil {
		errs = append(errs, fmt.Errorf("sync.default_strategy: %w", err))
	}
	if strings.TrimSpace(cfg.Vault.Remote) == "" {
		errs = append(errs, errors.New("vault.remote must not be empty"))
	}
	if cfg.Sync.NetworkTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("sync.network_timeout_seconds must be positive"))
	}
	if cfg.Sync.WatchIntervalSeconds < 0 || cfg.Sync.DebounceMillis < 0 {
		errs = append(errs, errors.New("sync intervals must not be negative"))
	}
	if cfg.Backup.MaxPerReason < 0 || cfg.Backup.MaxAgeDays < 0 || cfg.Backup.MaxTotalSizeMB < 0 {
		errs = append(errs, errors.New("backup limits must not be negative"))
	}
	return errors.Join(errs...)
}

// ResolveVaultPath resolves vault.path against the config file location.
// Absolute paths are returned unchanged; relative paths are joined to the
// directory containing configPath.
func ResolveVaultPath(configPath, vaultPath string) string {
	if strings.TrimSpace(vaultPath) == "" {
		return ""
	}
	if filepath.IsAbs(vaultPath) || strings.TrimSpace(configPath) == "" {
		return filepath.Clean(vaultPath)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(configPath), vaultPath))
}

// ConfigRoot returns the directory holding configPath.
func ConfigRoot(configPath string) string {
	if strings.TrimSpace(configPath) == "" {
		return ""
	}
	return filepath.Clean(filepath.Dir(configPath))
}

// EffectiveVault returns the vault directory for commands: vault.path when
// set, otherwise the directory holding a local dotfile config.
func EffectiveVault(configPath string, cfg *Config) string {
	if cfg != nil && strings.TrimSpace(cfg.Vault.Path) != "" {
		return ResolveVaultPath(configPath, cfg.Vault.Path)
	}
	if filepath.Base(configPath) == LocalConfigFilename {
		return ConfigRoot(configPath)
	}
	return ""
}

// Save writes the config to the given path.
func Save(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	applyConfigGVK(cfg)
	if err := validateConfigGVK(cfg); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func isConfigFilePath(path string) bool {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, "config.yaml") || strings.HasSuffix(lower, "config.yml") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func applyConfigGVK(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = ConfigAPIVersion
	}
	if strings.TrimSpace(cfg.Kind) == "" {
		cfg.Kind = ConfigKind
	}
}

func validateConfigGVK(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.APIVersion != ConfigAPIVersion {
		return fmt.Errorf("unsupported config apiVersion %q (expected %q)", cfg.APIVersion, ConfigAPIVersion)
	}
	if cfg.Kind != ConfigKind {
		return fmt.Errorf("unsupported config kind %q (expected %q)", cfg.Kind, ConfigKind)
	}
	return nil
}
