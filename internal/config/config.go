// Package config loads the rowsync node configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rowsync/internal/crdt"
	"github.com/roach88/rowsync/internal/discovery"
)

// Config is the node configuration.
type Config struct {
	// Name is the display name announced over mDNS. Defaults to the hostname.
	Name string `yaml:"name"`

	Database string `yaml:"database"`
	Listen   string `yaml:"listen"`

	// Schema is an optional CUE file. Empty selects the built-in todos schema.
	Schema string `yaml:"schema"`

	TombstoneParity string `yaml:"tombstone_parity"`
	LogLevel        string `yaml:"log_level"`

	Discovery Discovery `yaml:"discovery"`
	Sync      Sync      `yaml:"sync"`
}

// Discovery configures the mDNS peer directory.
type Discovery struct {
	Enabled *bool    `yaml:"enabled"`
	Service string   `yaml:"service"`
	Domain  string   `yaml:"domain"`
	Timeout Duration `yaml:"timeout"`
}

// IsEnabled reports whether mDNS discovery is on. Unset means on.
func (d Discovery) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Sync configures the pull loop.
type Sync struct {
	Interval   Duration `yaml:"interval"`
	BatchLimit int      `yaml:"batch_limit"`
	Compress   *bool    `yaml:"compress"`
	Peers      []string `yaml:"peers"`

	// ForgetAfter is the number of consecutive failed pulls after which a
	// discovered peer is dropped until discovery sees it again.
	ForgetAfter int `yaml:"forget_after"`
}

// IsCompressed reports whether pulls ask for snappy bodies. Unset means yes.
func (s Sync) IsCompressed() bool {
	return s.Compress == nil || *s.Compress
}

// Duration is a time.Duration that reads "30s" style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", node.Line)
	}
	v, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults.
const (
	DefaultDatabase     = "rowsync.db"
	DefaultListen       = "127.0.0.1:0"
	DefaultLogLevel     = "info"
	DefaultSyncInterval = 30 * time.Second
	DefaultForgetAfter  = 5
)

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML, rejecting unknown fields, then applies defaults and
// validates.
func Parse(data []byte) (*Config, error) {
	var c Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		if host, err := os.Hostname(); err == nil {
			c.Name = host
		} else {
			c.Name = "rowsync"
		}
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.TombstoneParity == "" {
		c.TombstoneParity = string(crdt.DefaultParity)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Discovery.Service == "" {
		c.Discovery.Service = discovery.DefaultService
	}
	if c.Discovery.Domain == "" {
		c.Discovery.Domain = discovery.DefaultDomain
	}
	if c.Discovery.Timeout == 0 {
		c.Discovery.Timeout = Duration(discovery.DefaultTimeout)
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = Duration(DefaultSyncInterval)
	}
	if c.Sync.ForgetAfter == 0 {
		c.Sync.ForgetAfter = DefaultForgetAfter
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if _, err := crdt.ParseParity(c.TombstoneParity); err != nil {
		errs = append(errs, fmt.Errorf("tombstone_parity: %w", err))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Discovery.Timeout < 0 {
		errs = append(errs, errors.New("discovery.timeout must be >= 0"))
	}
	if !strings.HasPrefix(c.Discovery.Service, "_") {
		errs = append(errs, fmt.Errorf("discovery.service %q must look like _name._tcp", c.Discovery.Service))
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, errors.New("sync.interval must be >= 0"))
	}
	if c.Sync.BatchLimit < 0 {
		errs = append(errs, errors.New("sync.batch_limit must be >= 0"))
	}
	if c.Sync.ForgetAfter < 0 {
		errs = append(errs, errors.New("sync.forget_after must be >= 0"))
	}
	for i, p := range c.Sync.Peers {
		if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
			errs = append(errs, fmt.Errorf("sync.peers[%d]: %q is not an http(s) URL", i, p))
		}
	}
	return errors.Join(errs...)
}

// Parity returns the parsed tombstone parity.
func (c *Config) Parity() crdt.Parity {
	p, err := crdt.ParseParity(c.TombstoneParity)
	if err != nil {
		return crdt.DefaultParity
	}
	return p
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(text string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(text)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", text)
	}
	return l, nil
}
