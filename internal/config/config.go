// Package config loads kgindex configuration with viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file base name searched for (kgindex.yaml, kgindex.json, kgindex.toml).
const FileName = "kgindex"

// EnvPrefix prefixes environment overrides, e.g. KGINDEX_STATE_DIR.
const EnvPrefix = "KGINDEX"

// Config represents the complete kgindex configuration
type Config struct {
	Roots        []RootConfig `json:"roots" yaml:"roots" mapstructure:"roots"`
	Suffixes     []string     `json:"suffixes" yaml:"suffixes" mapstructure:"suffixes"`
	Exclude      []string     `json:"exclude" yaml:"exclude" mapstructure:"exclude"`
	StateDir     string       `json:"stateDir" yaml:"stateDir" mapstructure:"stateDir"`
	MaxFileBytes int64        `json:"maxFileBytes" yaml:"maxFileBytes" mapstructure:"maxFileBytes"`

	Backups  BackupsConfig  `json:"backups" yaml:"backups" mapstructure:"backups"`
	Watch    WatchConfig    `json:"watch" yaml:"watch" mapstructure:"watch"`
	Extract  ExtractConfig  `json:"extract" yaml:"extract" mapstructure:"extract"`
	Semantic SemanticConfig `json:"semantic" yaml:"semantic" mapstructure:"semantic"`
	Server   ServerConfig   `json:"server" yaml:"server" mapstructure:"server"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" mapstructure:"logging"`
}

// RootConfig is one corpus root and its provenance label
type RootConfig struct {
	Path       string `json:"path" yaml:"path" mapstructure:"path"`
	Provenance string `json:"provenance" yaml:"provenance" mapstructure:"provenance"`
}

// BackupsConfig controls snapshot backup retention
type BackupsConfig struct {
	Retain int `json:"retain" yaml:"retain" mapstructure:"retain"`
}

// WatchConfig controls the poll loop
type WatchConfig struct {
	Interval   time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
	FSNotify   bool          `json:"fsnotify" yaml:"fsnotify" mapstructure:"fsnotify"`
	DebounceMs int           `json:"debounceMs" yaml:"debounceMs" mapstructure:"debounceMs"`
}

// ExtractConfig controls entity extraction
type ExtractConfig struct {
	Workers   int    `json:"workers" yaml:"workers" mapstructure:"workers"`
	RulesFile string `json:"rulesFile" yaml:"rulesFile" mapstructure:"rulesFile"`
}

// SemanticConfig points at the external embedding collaborator. An empty
// endpoint disables semantic search (queries fall back to keyword search).
type SemanticConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	TimeoutMs int    `json:"timeoutMs" yaml:"timeoutMs" mapstructure:"timeoutMs"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Addr           string `json:"addr" yaml:"addr" mapstructure:"addr"`
	AdminTokenHash string `json:"adminTokenHash" yaml:"adminTokenHash" mapstructure:"adminTokenHash"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" mapstructure:"level"`
	MaxSize    string `json:"maxSize" yaml:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Roots: []RootConfig{
			{Path: "knowledge-base-action", Provenance: "curated"},
			{Path: "knowledge-base-research", Provenance: "research"},
		},
		Suffixes:     []string{".md", ".sol", ".html"},
		Exclude:      []string{"**/node_modules/**", "**/.git/**"},
		StateDir:     ".kgindex",
		MaxFileBytes: 4 << 20,
		Backups:      BackupsConfig{Retain: 5},
		Watch: WatchConfig{
			Interval:   30 * time.Second,
			FSNotify:   true,
			DebounceMs: 2000,
		},
		Extract:  ExtractConfig{Workers: 4},
		Semantic: SemanticConfig{TimeoutMs: 3000},
		Server:   ServerConfig{Addr: "localhost:8080"},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// envBindings maps config keys to the environment variables operators use.
var envBindings = map[string]string{
	"stateDir":              "STATE_DIR",
	"server.addr":           "SERVER_ADDR",
	"server.adminTokenHash": "ADMIN_TOKEN_HASH",
	"semantic.endpoint":     "SEMANTIC_ENDPOINT",
	"semantic.timeoutMs":    "SEMANTIC_TIMEOUT_MS",
	"logging.level":         "LOG_LEVEL",
	"backups.retain":        "BACKUPS_RETAIN",
	"watch.interval":        "WATCH_INTERVAL",
	"extract.workers":       "EXTRACT_WORKERS",
	"extract.rulesFile":     "RULES_FILE",
	"maxFileBytes":          "MAX_FILE_BYTES",
}

// LoadConfig loads configuration. When path is non-empty that file is read
// and must exist; otherwise kgindex.{yaml,json,toml} is searched in dir and
// dir/.kgindex, and defaults apply when none is found. Environment variables
// override file values.
func LoadConfig(path, dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, EnvPrefix+"_"+env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(dir)
		v.AddConfigPath(filepath.Join(dir, ".kgindex"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.resolvePaths(configBaseDir(v, dir))
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	roots := make([]map[string]interface{}, 0, len(d.Roots))
	for _, r := range d.Roots {
		roots = append(roots, map[string]interface{}{"path": r.Path, "provenance": r.Provenance})
	}
	v.SetDefault("roots", roots)
	v.SetDefault("suffixes", d.Suffixes)
	v.SetDefault("exclude", d.Exclude)
	v.SetDefault("stateDir", d.StateDir)
	v.SetDefault("maxFileBytes", d.MaxFileBytes)
	v.SetDefault("backups.retain", d.Backups.Retain)
	v.SetDefault("watch.interval", d.Watch.Interval)
	v.SetDefault("watch.fsnotify", d.Watch.FSNotify)
	v.SetDefault("watch.debounceMs", d.Watch.DebounceMs)
	v.SetDefault("extract.workers", d.Extract.Workers)
	v.SetDefault("extract.rulesFile", d.Extract.RulesFile)
	v.SetDefault("semantic.endpoint", d.Semantic.Endpoint)
	v.SetDefault("semantic.timeoutMs", d.Semantic.TimeoutMs)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.adminTokenHash", d.Server.AdminTokenHash)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

// configBaseDir is the directory relative paths in the config resolve against:
// the directory holding the config file, or dir when defaults are used.
func configBaseDir(v *viper.Viper, dir string) string {
	if used := v.ConfigFileUsed(); used != "" {
		base := filepath.Dir(used)
		if filepath.Base(base) == ".kgindex" {
			base = filepath.Dir(base)
		}
		return base
	}
	return dir
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range c.Roots {
		c.Roots[i].Path = resolve(c.Roots[i].Path)
	}
	c.StateDir = resolve(c.StateDir)
	c.Extract.RulesFile = resolve(c.Extract.RulesFile)
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SemanticTimeout returns the collaborator timeout as a duration.
func (c *Config) SemanticTimeout() time.Duration {
	return time.Duration(c.Semantic.TimeoutMs) * time.Millisecond
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Roots) == 0 {
		return &ConfigError{Field: "roots", Message: "at least one corpus root is required"}
	}
	seen := make(map[string]bool, len(c.Roots))
	for i, r := range c.Roots {
		field := fmt.Sprintf("roots[%d]", i)
		if r.Path == "" {
			return &ConfigError{Field: field + ".path", Message: "must not be empty"}
		}
		if r.Provenance == "" {
			return &ConfigError{Field: field + ".provenance", Message: "must not be empty"}
		}
		if strings.ContainsAny(r.Provenance, ":/") {
			return &ConfigError{Field: field + ".provenance", Message: "must not contain ':' or '/'"}
		}
		if seen[r.Provenance] {
			return &ConfigError{Field: field + ".provenance", Message: "duplicate provenance label " + r.Provenance}
		}
		seen[r.Provenance] = true
	}
	if len(c.Suffixes) == 0 {
		return &ConfigError{Field: "suffixes", Message: "at least one file suffix is required"}
	}
	for _, s := range c.Suffixes {
		if !strings.HasPrefix(s, ".") {
			return &ConfigError{Field: "suffixes", Message: "suffix " + s + " must start with '.'"}
		}
	}
	if c.StateDir == "" {
		return &ConfigError{Field: "stateDir", Message: "must not be empty"}
	}
	if c.Backups.Retain < 1 {
		return &ConfigError{Field: "backups.retain", Message: "must be at least 1"}
	}
	if c.Watch.Interval <= 0 {
		return &ConfigError{Field: "watch.interval", Message: "must be positive"}
	}
	if c.Extract.Workers < 1 {
		return &ConfigError{Field: "extract.workers", Message: "must be at least 1"}
	}
	if c.Semantic.TimeoutMs < 0 {
		return &ConfigError{Field: "semantic.timeoutMs", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
