// Package config loads the sessiond settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	tuning "github.com/tomz197/skirmish/internal/loop/config"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "SKIRMISH_"

const maxConfigFileSize = 1024 * 1024 // 1MB

// Config is the sessiond configuration.
type Config struct {
	Session SessionConfig `koanf:"session"`
	SSH     SSHConfig     `koanf:"ssh"`
	Admin   AdminConfig   `koanf:"admin"`
	Log     LogConfig     `koanf:"log"`
	Catalog CatalogConfig `koanf:"catalog"`
	NATS    NATSConfig    `koanf:"nats"`
	Redis   RedisConfig   `koanf:"redis"`
}

// SessionConfig controls the match itself.
type SessionConfig struct {
	ID              string        `koanf:"id"` // Generated when empty
	MapName         string        `koanf:"map_name"`
	Options         string        `koanf:"options"` // e.g. "?listen?Experience=Exp_Match_Warmup"
	TickRate        int           `koanf:"tick_rate"`
	Warmup          time.Duration `koanf:"warmup"`
	Combat          time.Duration `koanf:"combat"`
	Result          time.Duration `koanf:"result"`
	RetryInterval   time.Duration `koanf:"retry_interval"`
	MaxRetries      int           `koanf:"max_retries"`
	StartSpots      int           `koanf:"start_spots"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SSHConfig controls the member front end.
type SSHConfig struct {
	Host        string  `koanf:"host"`
	Port        string  `koanf:"port"`
	HostKeyPath string  `koanf:"host_key_path"`
	JoinRate    float64 `koanf:"join_rate"` // Joins per second
	JoinBurst   int     `koanf:"join_burst"`
}

// AdminConfig controls the HTTP control surface. An empty Addr disables it.
type AdminConfig struct {
	Addr         string `koanf:"addr"`
	AdvanceLimit int    `koanf:"advance_limit"` // Phase advances per minute
	// SSHDisplayHost is the host shown in the join command on the landing page
	SSHDisplayHost string `koanf:"ssh_display_host"`
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CatalogConfig selects the experience catalog. An empty Path uses the
// built-in catalog.
type CatalogConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// NATSConfig enables state replication over NATS when URL is set.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// RedisConfig enables state replication over Redis when Addr is set.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// Load reads the YAML file at path, if any, then applies SKIRMISH_
// environment overrides.
//
// Environment variables map to keys by splitting on the first underscore
// after the prefix:
//
//	SKIRMISH_SESSION_MAP_NAME -> session.map_name
//	SKIRMISH_NATS_URL         -> nats.url
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func applyDefaults(cfg *Config) {
	// Session defaults
	if cfg.Session.MapName == "" {
		cfg.Session.MapName = "MatchLevel"
	}
	if cfg.Session.TickRate == 0 {
		cfg.Session.TickRate = tuning.SessionTickRate
	}
	if cfg.Session.Warmup == 0 {
		cfg.Session.Warmup = tuning.WarmupDuration
	}
	if cfg.Session.Combat == 0 {
		cfg.Session.Combat = tuning.CombatDuration
	}
	if cfg.Session.Result == 0 {
		cfg.Session.Result = tuning.ResultDuration
	}
	if cfg.Session.RetryInterval == 0 {
		cfg.Session.RetryInterval = tuning.LoadRetryInterval
	}
	if cfg.Session.MaxRetries == 0 {
		cfg.Session.MaxRetries = tuning.LoadMaxRetries
	}
	if cfg.Session.StartSpots == 0 {
		cfg.Session.StartSpots = tuning.StartSpotCount
	}
	if cfg.Session.ShutdownTimeout == 0 {
		cfg.Session.ShutdownTimeout = 15 * time.Second
	}

	// SSH defaults
	if cfg.SSH.Host == "" {
		cfg.SSH.Host = "::"
	}
	if cfg.SSH.Port == "" {
		cfg.SSH.Port = "2222"
	}
	if cfg.SSH.JoinRate == 0 {
		cfg.SSH.JoinRate = 2
	}
	if cfg.SSH.JoinBurst == 0 {
		cfg.SSH.JoinBurst = 4
	}

	if cfg.Admin.AdvanceLimit == 0 {
		cfg.Admin.AdvanceLimit = 10
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "skirmish.session"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "skirmish:session"
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Session.TickRate < 1 || c.Session.TickRate > 240 {
		errs = append(errs, fmt.Errorf("session.tick_rate must be between 1 and 240, got %d", c.Session.TickRate))
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"session.warmup", c.Session.Warmup},
		{"session.combat", c.Session.Combat},
		{"session.result", c.Session.Result},
		{"session.retry_interval", c.Session.RetryInterval},
	}
	for _, d := range durations {
		if d.d < 0 {
			errs = append(errs, fmt.Errorf("%s cannot be negative", d.name))
		}
	}
	if c.Session.MaxRetries < 0 {
		errs = append(errs, errors.New("session.max_retries cannot be negative"))
	}
	if c.Session.StartSpots < 1 {
		errs = append(errs, errors.New("session.start_spots must be at least 1"))
	}
	if c.SSH.JoinRate < 0 || c.SSH.JoinBurst < 1 {
		errs = append(errs, errors.New("ssh.join_rate must be positive and ssh.join_burst at least 1"))
	}
	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text, json or logfmt, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
