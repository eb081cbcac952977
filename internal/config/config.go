// Package config loads and validates the bindzone YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jabberwocky238/bindzone/internal/logging"
	"jabberwocky238/bindzone/internal/types"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "BINDZONE_CONFIG"

// DefaultPath is used when neither a flag nor the environment names a file.
const DefaultPath = "/etc/bindzone/config.yaml"

// Config represents the application configuration.
type Config struct {
	Logging     logging.Config `yaml:"logging"`
	Zones       []ZoneConfig   `yaml:"zones"`
	ZoneDir     string         `yaml:"zone_dir"`
	ZonePrefix  string         `yaml:"zone_prefix"`
	DefaultZone string         `yaml:"default_zone"`
	Backup      BackupConfig   `yaml:"backup"`
	Reload      ReloadConfig   `yaml:"reload"`
	Check       CheckConfig    `yaml:"check"`
	TCP         TCPConfig      `yaml:"tcp"`
	HTTP        HTTPConfig     `yaml:"http"`
	Watch       WatchConfig    `yaml:"watch"`
	ACME        ACMEConfig     `yaml:"acme"`
}

// ZoneConfig binds a zone origin to its file.
type ZoneConfig struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
}

type BackupConfig struct {
	Type          string          `yaml:"type"` // dir or configmap
	Dir           string          `yaml:"dir"`
	Retention     int             `yaml:"retention"`
	SweepInterval time.Duration   `yaml:"sweep_interval"`
	ConfigMap     ConfigMapConfig `yaml:"configmap"`
}

type ConfigMapConfig struct {
	Namespace string `yaml:"namespace"`
	Prefix    string `yaml:"prefix"`
}

// ReloadConfig selects how the name server is told to load a new zone.
// Placeholders {zone} and {serial} are substituted in Command.
type ReloadConfig struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
	Probe   ProbeConfig   `yaml:"probe"`
}

// ProbeConfig enables an SOA query after the reload command to confirm the
// new serial is served.
type ProbeConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Server   string        `yaml:"server"`
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CheckConfig controls validation of a zone before it is written. Command
// receives {zone} and {file}, e.g. named-checkzone {zone} {file}.
type CheckConfig struct {
	BeforeWrite bool     `yaml:"before_write"`
	Command     []string `yaml:"command"`
}

type TCPConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Listen      string        `yaml:"listen"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type HTTPConfig struct {
	Enabled bool       `yaml:"enabled"`
	Listen  string     `yaml:"listen"`
	Metrics bool       `yaml:"metrics"`
	Auth    AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
}

type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ACMEConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ServerURL       string        `yaml:"server_url"`
	Email           string        `yaml:"email"`
	KeyType         string        `yaml:"key_type"`
	Domains         []string      `yaml:"domains"`
	RenewBefore     time.Duration `yaml:"renew_before"`
	CheckInterval   time.Duration `yaml:"check_interval"`
	PropagationWait time.Duration `yaml:"propagation_wait"`
	Resolvers       []string      `yaml:"resolvers"`
	AccountKey      string        `yaml:"account_key"`
	EAB             EABConfig     `yaml:"eab"`
	Storage         CertStorage   `yaml:"storage"`
}

type EABConfig struct {
	KID        string `yaml:"kid"`
	HMACKeyEnv string `yaml:"hmac_key_env"`
}

type CertStorage struct {
	Type      string `yaml:"type"` // file or kubernetes-secret
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Default returns a configuration with every default applied and no zones.
func Default() *Config {
	cfg := &Config{}
	cfg.TCP.Enabled = true
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates the YAML file at path. Unknown keys are errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{TCP: TCPConfig{Enabled: true}}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies defaults and checks the configuration.
func (cfg *Config) Validate() error {
	cfg.applyDefaults()

	switch cfg.Backup.Type {
	case "dir":
		if cfg.Backup.Dir == "" {
			return errors.New("backup.dir is required")
		}
	case "configmap":
		if cfg.Backup.ConfigMap.Namespace == "" {
			return errors.New("backup.configmap.namespace is required")
		}
	default:
		return fmt.Errorf("backup.type must be dir or configmap, got %q", cfg.Backup.Type)
	}
	if cfg.Backup.Retention < 1 {
		return errors.New("backup.retention must be at least 1")
	}

	seen := make(map[string]bool)
	for i, z := range cfg.Zones {
		if types.NormalizeName(z.Name) == "" || z.File == "" {
			return fmt.Errorf("zones[%d]: name and file are required", i)
		}
		name := types.NormalizeName(z.Name)
		if seen[name] {
			return fmt.Errorf("zones[%d]: zone %s listed twice", i, name)
		}
		seen[name] = true
	}
	if len(cfg.Zones) == 0 && cfg.ZoneDir == "" {
		return errors.New("no zones configured: set zones or zone_dir")
	}

	if cfg.Reload.Probe.Enabled && cfg.Reload.Probe.Server == "" {
		return errors.New("reload.probe.server is required when the probe is enabled")
	}

	if cfg.HTTP.Enabled && cfg.HTTP.Auth.Enabled {
		if cfg.HTTP.Auth.TokenEnv == "" {
			return errors.New("HTTP authentication is enabled but token_env is not configured")
		}
		if os.Getenv(cfg.HTTP.Auth.TokenEnv) == "" {
			return fmt.Errorf("HTTP authentication is enabled but environment variable %s is not set or empty", cfg.HTTP.Auth.TokenEnv)
		}
	}

	if cfg.ACME.Enabled {
		if cfg.ACME.Email == "" {
			return errors.New("acme.email is required")
		}
		if len(cfg.ACME.Domains) == 0 {
			return errors.New("acme.domains is required")
		}
		if t := cfg.ACME.Storage.Type; t != "file" && t != "kubernetes-secret" {
			return fmt.Errorf("acme.storage.type must be file or kubernetes-secret, got %q", t)
		}
	}
	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.ZonePrefix == "" {
		cfg.ZonePrefix = "db."
	}

	if cfg.Backup.Type == "" {
		cfg.Backup.Type = "dir"
	}
	if cfg.Backup.Type == "dir" && cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "/var/backups/dns_api"
	}
	if cfg.Backup.Retention == 0 {
		cfg.Backup.Retention = 30
	}
	if cfg.Backup.SweepInterval <= 0 {
		cfg.Backup.SweepInterval = 24 * time.Hour
	}

	if len(cfg.Reload.Command) == 0 {
		cfg.Reload.Command = []string{"rndc", "reload", "{zone}"}
	}
	if cfg.Reload.Timeout <= 0 {
		cfg.Reload.Timeout = 30 * time.Second
	}
	if cfg.Reload.Probe.Attempts <= 0 {
		cfg.Reload.Probe.Attempts = 5
	}
	if cfg.Reload.Probe.Interval <= 0 {
		cfg.Reload.Probe.Interval = 500 * time.Millisecond
	}
	if cfg.Reload.Probe.Timeout <= 0 {
		cfg.Reload.Probe.Timeout = 2 * time.Second
	}

	if cfg.TCP.Listen == "" {
		cfg.TCP.Listen = ":5050"
	}
	if cfg.TCP.ReadTimeout <= 0 {
		cfg.TCP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8080"
	}

	if cfg.ACME.KeyType == "" {
		cfg.ACME.KeyType = "EC256"
	}
	if cfg.ACME.CheckInterval <= 0 {
		cfg.ACME.CheckInterval = 24 * time.Hour
	}
	if cfg.ACME.Storage.Type == "" {
		cfg.ACME.Storage.Type = "file"
	}
	if cfg.ACME.Storage.Type == "file" && cfg.ACME.Storage.Path == "" {
		cfg.ACME.Storage.Path = "/var/lib/bindzone/certs"
	}
	if cfg.ACME.AccountKey == "" && cfg.ACME.Storage.Type == "file" {
		cfg.ACME.AccountKey = filepath.Join(cfg.ACME.Storage.Path, "account.key")
	}
}

// ResolveZones returns the explicit zones followed by those discovered in
// ZoneDir: every regular file named ZonePrefix + origin, such as
// db.example.com, not already listed. Zone files are resolved relative to
// ZoneDir when not absolute.
func (cfg *Config) ResolveZones() ([]ZoneConfig, error) {
	zones := make([]ZoneConfig, 0, len(cfg.Zones))
	seen := make(map[string]bool)
	for _, z := range cfg.Zones {
		file := z.File
		if cfg.ZoneDir != "" && !filepath.IsAbs(file) {
			file = filepath.Join(cfg.ZoneDir, file)
		}
		name := types.NormalizeName(z.Name)
		zones = append(zones, ZoneConfig{Name: name, File: file})
		seen[name] = true
	}
	if cfg.ZoneDir == "" {
		return zones, nil
	}

	entries, err := os.ReadDir(cfg.ZoneDir)
	if err != nil {
		return nil, fmt.Errorf("scan zone_dir: %w", err)
	}
	var found []ZoneConfig
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		origin, ok := strings.CutPrefix(e.Name(), cfg.ZonePrefix)
		if !ok || origin == "" || strings.HasSuffix(origin, ".jnl") || strings.HasPrefix(origin, ".") {
			continue
		}
		name := types.NormalizeName(origin)
		if seen[name] {
			continue
		}
		seen[name] = true
		found = append(found, ZoneConfig{Name: name, File: filepath.Join(cfg.ZoneDir, e.Name())})
	}
	slices.SortFunc(found, func(a, b ZoneConfig) int { return strings.Compare(a.Name, b.Name) })

	zones = append(zones, found...)
	if len(zones) == 0 {
		return nil, fmt.Errorf("no zone files matching %s* in %s", cfg.ZonePrefix, cfg.ZoneDir)
	}
	return zones, nil
}

// AuthToken returns the bearer token for the HTTP API, or "" when auth is
// disabled.
func (cfg *Config) AuthToken() string {
	if !cfg.HTTP.Auth.Enabled || cfg.HTTP.Auth.TokenEnv == "" {
		return ""
	}
	return os.Getenv(cfg.HTTP.Auth.TokenEnv)
}

// ResolvePath picks the config file path: the flag value, then
// BINDZONE_CONFIG, then DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultPath
}
