package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	TLSCertFile string `json:"tls_cert_file" yaml:"tls_cert_file" toml:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file" yaml:"tls_key_file" toml:"tls_key_file"`
	AdminToken  string `json:"admin_token" yaml:"admin_token" toml:"admin_token"`

	VariantsRoot string `json:"variants_root" yaml:"variants_root" toml:"variants_root"`
	Entry        string `json:"entry" yaml:"entry" toml:"entry"`
	EnvFile      string `json:"env_file" yaml:"env_file" toml:"env_file"`
	MarkerFile   string `json:"marker_file" yaml:"marker_file" toml:"marker_file"`

	NodeBin              string   `json:"node_bin" yaml:"node_bin" toml:"node_bin"`
	NodeArgs             []string `json:"node_args" yaml:"node_args" toml:"node_args"`
	WorkerCommand        string   `json:"worker_command" yaml:"worker_command" toml:"worker_command"`
	WorkerArgs           []string `json:"worker_args" yaml:"worker_args" toml:"worker_args"`
	WorkersPerGeneration int      `json:"workers_per_generation" yaml:"workers_per_generation" toml:"workers_per_generation"`

	StartupTimeout string `json:"startup_timeout" yaml:"startup_timeout" toml:"startup_timeout"`
	RequestTimeout string `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	StopGrace      string `json:"stop_grace" yaml:"stop_grace" toml:"stop_grace"`

	Debounce       string   `json:"debounce" yaml:"debounce" toml:"debounce"`
	PollInterval   string   `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	ForcePoll      bool     `json:"force_poll" yaml:"force_poll" toml:"force_poll"`
	WatchExtraDirs []string `json:"watch_extra_dirs" yaml:"watch_extra_dirs" toml:"watch_extra_dirs"`
	WatchIgnore    []string `json:"watch_ignore" yaml:"watch_ignore" toml:"watch_ignore"`

	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Timings are the parsed duration settings of a Config.
type Timings struct {
	StartupTimeout time.Duration
	RequestTimeout time.Duration
	StopGrace      time.Duration
	Debounce       time.Duration
	PollInterval   time.Duration
}

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	return Config{
		Addr:                 "127.0.0.1:9321",
		VariantsRoot:         "~/.danmud",
		Entry:                "worker.js",
		EnvFile:              "~/.danmud/config/.env",
		NodeBin:              "node",
		WorkersPerGeneration: 1,
		StartupTimeout:       "15s",
		RequestTimeout:       "30s",
		StopGrace:            "2s",
		Debounce:             "300ms",
		PollInterval:         "2s",
		WatchIgnore:          []string{".git", "*.swp", "*~", "*.tmp", ".DS_Store"},
		MaxBodyBytes:         10 << 20,
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// ApplyDefaults fills every unspecified field from Defaults.
// An empty MarkerFile follows EnvFile, so both live in one file by default.
func (c *Config) ApplyDefaults() {
	d := Defaults()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.VariantsRoot == "" {
		c.VariantsRoot = d.VariantsRoot
	}
	if c.Entry == "" {
		c.Entry = d.Entry
	}
	if c.EnvFile == "" {
		c.EnvFile = d.EnvFile
	}
	if c.MarkerFile == "" {
		c.MarkerFile = c.EnvFile
	}
	if c.NodeBin == "" {
		c.NodeBin = d.NodeBin
	}
	if c.WorkersPerGeneration <= 0 {
		c.WorkersPerGeneration = d.WorkersPerGeneration
	}
	if c.StartupTimeout == "" {
		c.StartupTimeout = d.StartupTimeout
	}
	if c.RequestTimeout == "" {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.StopGrace == "" {
		c.StopGrace = d.StopGrace
	}
	if c.Debounce == "" {
		c.Debounce = d.Debounce
	}
	if c.PollInterval == "" {
		c.PollInterval = d.PollInterval
	}
	if c.WatchIgnore == nil {
		c.WatchIgnore = d.WatchIgnore
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
}

// Timings parses the duration fields. Every duration must be positive.
func (c Config) Timings() (Timings, error) {
	var t Timings
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"startup_timeout", c.StartupTimeout, &t.StartupTimeout},
		{"request_timeout", c.RequestTimeout, &t.RequestTimeout},
		{"stop_grace", c.StopGrace, &t.StopGrace},
		{"debounce", c.Debounce, &t.Debounce},
		{"poll_interval", c.PollInterval, &t.PollInterval},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(strings.TrimSpace(f.raw))
		if err != nil {
			return Timings{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if d <= 0 {
			return Timings{}, fmt.Errorf("%s: must be positive, got %s", f.name, f.raw)
		}
		*f.dst = d
	}
	return t, nil
}

// Validate checks cross-field constraints after defaults are applied.
func (c Config) Validate() error {
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}
	if _, err := c.Timings(); err != nil {
		return err
	}
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// EnvPrefix prefixes every environment override, e.g. DANMUD_ADDR.
const EnvPrefix = "DANMUD_"

// ApplyEnv overrides fields from DANMUD_* variables found through lookup.
// List values are comma separated. Malformed numbers and booleans are errors.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = SplitCSV(v)
		}
	}
	str("ADDR", &c.Addr)
	str("TLS_CERT_FILE", &c.TLSCertFile)
	str("TLS_KEY_FILE", &c.TLSKeyFile)
	str("ADMIN_TOKEN", &c.AdminToken)
	str("VARIANTS_ROOT", &c.VariantsRoot)
	str("ENTRY", &c.Entry)
	str("ENV_FILE", &c.EnvFile)
	str("MARKER_FILE", &c.MarkerFile)
	str("NODE_BIN", &c.NodeBin)
	list("NODE_ARGS", &c.NodeArgs)
	str("WORKER_COMMAND", &c.WorkerCommand)
	list("WORKER_ARGS", &c.WorkerArgs)
	str("STARTUP_TIMEOUT", &c.StartupTimeout)
	str("REQUEST_TIMEOUT", &c.RequestTimeout)
	str("STOP_GRACE", &c.StopGrace)
	str("DEBOUNCE", &c.Debounce)
	str("POLL_INTERVAL", &c.PollInterval)
	list("WATCH_EXTRA_DIRS", &c.WatchExtraDirs)
	list("WATCH_IGNORE", &c.WatchIgnore)
	list("CORS_ORIGINS", &c.CORSOrigins)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if v, ok := lookup(EnvPrefix + "WORKERS_PER_GENERATION"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sWORKERS_PER_GENERATION: %w", EnvPrefix, err)
		}
		c.WorkersPerGeneration = n
	}
	if v, ok := lookup(EnvPrefix + "MAX_BODY_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_BODY_BYTES: %w", EnvPrefix, err)
		}
		c.MaxBodyBytes = n
	}
	for key, dst := range map[string]*bool{"FORCE_POLL": &c.ForcePoll, "CORS_ENABLED": &c.CORSEnabled} {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}
	return nil
}

// SplitCSV splits a comma separated list, trimming blanks and dropping empties.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
