package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/taskconsole/internal/logger"
	"github.com/loykin/taskconsole/internal/pipeline"
	"github.com/loykin/taskconsole/internal/worker"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TASKCONSOLE_SERVER_LISTEN.
const EnvPrefix = "TASKCONSOLE"

// Config represents the top-level TOML structure.
type Config struct {
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Registry RegistryConfig `toml:"registry" mapstructure:"registry"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Pipeline PipelineConfig `toml:"pipeline" mapstructure:"pipeline"`
}

type ServerConfig struct {
	Listen         string        `toml:"listen" mapstructure:"listen"`
	BasePath       string        `toml:"base_path" mapstructure:"base_path"`
	StreamInterval time.Duration `toml:"stream_interval" mapstructure:"stream_interval"`
	CORSOrigins    []string      `toml:"cors_origins" mapstructure:"cors_origins"`
	TLS            TLSConfig     `toml:"tls" mapstructure:"tls"`
}

// TLSConfig serves HTTPS either from CertFile/KeyFile or from tls.crt and
// tls.key under Dir, generated on first start when AutoGenerate is set.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
}

type RegistryConfig struct {
	ReapInterval   time.Duration `toml:"reap_interval" mapstructure:"reap_interval"`
	RunningTimeout time.Duration `toml:"running_timeout" mapstructure:"running_timeout"`
	IdleTimeout    time.Duration `toml:"idle_timeout" mapstructure:"idle_timeout"`
	OutputCapacity int           `toml:"output_capacity" mapstructure:"output_capacity"`
	PromptRecheck  time.Duration `toml:"prompt_recheck" mapstructure:"prompt_recheck"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

type PipelineConfig struct {
	AskAccount  bool          `toml:"ask_account" mapstructure:"ask_account"`
	ItemWait    time.Duration `toml:"item_wait" mapstructure:"item_wait"`
	MaxFailures int           `toml:"max_failures" mapstructure:"max_failures"`
	Items       []ItemConfig  `toml:"items" mapstructure:"items"`
}

type ItemConfig struct {
	Name     string        `toml:"name" mapstructure:"name"`
	Kind     string        `toml:"kind" mapstructure:"kind"`
	Duration time.Duration `toml:"duration" mapstructure:"duration"`
	Fail     bool          `toml:"fail" mapstructure:"fail"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8000")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.stream_interval", 2*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.tls.enabled", false)

	v.SetDefault("registry.reap_interval", 5*time.Second)
	v.SetDefault("registry.running_timeout", worker.DefaultRunningTimeout)
	v.SetDefault("registry.idle_timeout", worker.DefaultIdleTimeout)
	v.SetDefault("registry.output_capacity", 50)
	v.SetDefault("registry.prompt_recheck", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("history.sinks", []string{})

	v.SetDefault("pipeline.ask_account", true)
	v.SetDefault("pipeline.item_wait", 2*time.Second)
	v.SetDefault("pipeline.max_failures", 3)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c, err := load("")
	if err != nil {
		// defaults always validate
		panic(err)
	}
	return c
}

// Load reads the TOML file at path, applies defaults and TASKCONSOLE_*
// environment overrides, and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) normalize() {
	for i := range c.Pipeline.Items {
		c.Pipeline.Items[i].Kind = strings.ToLower(strings.TrimSpace(c.Pipeline.Items[i].Kind))
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"server.stream_interval", c.Server.StreamInterval},
		{"registry.reap_interval", c.Registry.ReapInterval},
		{"registry.running_timeout", c.Registry.RunningTimeout},
		{"registry.idle_timeout", c.Registry.IdleTimeout},
		{"registry.prompt_recheck", c.Registry.PromptRecheck},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
		}
	}
	if c.Registry.OutputCapacity <= 0 {
		errs = append(errs, errors.New("registry.output_capacity must be positive"))
	}
	if c.Pipeline.ItemWait < 0 {
		errs = append(errs, errors.New("pipeline.item_wait must not be negative"))
	}
	if c.Pipeline.MaxFailures <= 0 {
		errs = append(errs, errors.New("pipeline.max_failures must be positive"))
	}
	if t := c.Server.TLS; t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			errs = append(errs, errors.New("server.tls: cert_file and key_file go together"))
		}
		if t.CertFile == "" && t.Dir == "" {
			errs = append(errs, errors.New("server.tls: cert_file/key_file or dir is required"))
		}
		switch t.MinVersion {
		case "", "1.2", "1.3":
		default:
			errs = append(errs, fmt.Errorf("server.tls.min_version %q is not 1.2 or 1.3", t.MinVersion))
		}
	}
	switch c.Log.Format {
	case "", "text", "json", "color":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json, color", c.Log.Format))
	}
	for i, it := range c.Pipeline.Items {
		if strings.TrimSpace(it.Name) == "" {
			errs = append(errs, fmt.Errorf("pipeline.items[%d]: name is required", i))
		}
		if it.Duration < 0 {
			errs = append(errs, fmt.Errorf("pipeline.items[%d]: duration must not be negative", i))
		}
	}
	return errors.Join(errs...)
}

// Logger converts the [log] section for the logger package.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:  l.Level,
		Format: l.Format,
		File: logger.FileConfig{
			Path:       l.File,
			Dir:        l.Dir,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

// Policy converts the [registry] timeouts into a worker policy.
func (r RegistryConfig) Policy() worker.Policy {
	return worker.Policy{RunningTimeout: r.RunningTimeout, IdleTimeout: r.IdleTimeout}
}

// Options converts the [pipeline] section for the scripted pipeline.
func (p PipelineConfig) Options(l *slog.Logger) pipeline.Options {
	items := make([]pipeline.Item, len(p.Items))
	for i, it := range p.Items {
		items[i] = pipeline.Item{Name: it.Name, Kind: pipeline.Kind(it.Kind), Duration: it.Duration, Fail: it.Fail}
	}
	return pipeline.Options{
		AskAccount:  p.AskAccount,
		ItemWait:    p.ItemWait,
		MaxFailures: p.MaxFailures,
		Items:       items,
		Logger:      l,
	}
}
