// Package config loads connection and logging settings from YAML.
package config

import (
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-sql-driver/mysql"
	"github.com/goccy/go-yaml"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/coregx/relicorm/internal/core"
	"github.com/coregx/relicorm/internal/dialects"
	"github.com/coregx/relicorm/internal/logger"
)

// Config defines the connections available to models and how to log.
type Config struct {
	// Default names the connection used by schemas without one.
	Default     string                `yaml:"default" default:"main"`
	Connections map[string]Connection `yaml:"connections"`
	Logging     Logging               `yaml:"logging"`
}

// UnmarshalYAML implements the yaml.InterfaceUnmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	// Prevent recursion.
	type self Config
	if err := unmarshal((*self)(c)); err != nil {
		return errors.Wrap(err, "can't unmarshal config")
	}
	for name, conn := range c.Connections {
		if err := defaults.Set(&conn); err != nil {
			return err
		}
		c.Connections[name] = conn
	}
	return defaults.Set(&c.Logging)
}

// Validate checks every connection and the logging section.
func (c *Config) Validate() error {
	if len(c.Connections) == 0 {
		return errors.New("at least one connection must be configured")
	}
	if _, ok := c.Connections[c.Default]; !ok {
		return errors.Errorf("default connection %q is not configured", c.Default)
	}
	for _, name := range c.ConnectionNames() {
		conn := c.Connections[name]
		if err := conn.Validate(); err != nil {
			return errors.Wrapf(err, "connection %q", name)
		}
	}
	return c.Logging.Validate()
}

// ConnectionNames returns the configured connection names, sorted.
func (c *Config) ConnectionNames() []string {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenAll opens every configured connection. On failure the connections
// opened so far are closed.
func (c *Config) OpenAll(log logger.Logger, opts ...core.Option) (map[string]*core.DB, error) {
	dbs := make(map[string]*core.DB, len(c.Connections))
	for _, name := range c.ConnectionNames() {
		conn := c.Connections[name]
		db, err := conn.Open(log, opts...)
		if err != nil {
			for _, opened := range dbs {
				_ = opened.Close()
			}
			return nil, errors.Wrapf(err, "can't open connection %q", name)
		}
		dbs[name] = db
	}
	return dbs, nil
}

// Connection defines one database connection.
type Connection struct {
	Driver              string        `yaml:"driver" default:"sqlite"`
	DSN                 string        `yaml:"dsn"`
	MaxOpenConns        int           `yaml:"max_open_conns" default:"16"`
	MaxIdleConns        int           `yaml:"max_idle_conns" default:"4"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	StmtCacheCapacity   int           `yaml:"stmt_cache_capacity" default:"1000"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	SensitiveFields     []string      `yaml:"sensitive_fields"`
}

// UnmarshalYAML implements the yaml.InterfaceUnmarshaler interface.
func (c *Connection) UnmarshalYAML(unmarshal func(interface{}) error) error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	// Prevent recursion.
	type self Connection
	return unmarshal((*self)(c))
}

// Validate checks the driver against the dialect registry and parses the DSN
// where the driver's DSN format is known.
func (c *Connection) Validate() error {
	if _, ok := dialects.LookupDialect(c.Driver); !ok {
		return errors.Errorf("unknown driver %q, expected one of %s", c.Driver, strings.Join(dialects.Drivers(), ", "))
	}
	if c.DSN == "" {
		return errors.New("dsn must not be empty")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("max_open_conns must be at least 1")
	}

	switch c.Driver {
	case "mysql":
		if _, err := mysql.ParseDSN(c.DSN); err != nil {
			return errors.Wrap(err, "invalid mysql dsn")
		}
	case "postgres", "postgresql", "pgx":
		if strings.HasPrefix(c.DSN, "postgres://") || strings.HasPrefix(c.DSN, "postgresql://") {
			if _, err := pq.ParseURL(c.DSN); err != nil {
				return errors.Wrap(err, "invalid postgres url")
			}
		}
	}
	return nil
}

// Options translates the connection settings into core options.
func (c *Connection) Options() []core.Option {
	opts := []core.Option{
		core.WithMaxOpenConns(c.MaxOpenConns),
		core.WithMaxIdleConns(c.MaxIdleConns),
		core.WithConnMaxLifetime(c.ConnMaxLifetime),
		core.WithStmtCacheCapacity(c.StmtCacheCapacity),
	}
	if c.HealthCheckInterval > 0 {
		opts = append(opts, core.WithHealthCheck(c.HealthCheckInterval))
	}
	if len(c.SensitiveFields) > 0 {
		opts = append(opts, core.WithSensitiveFields(c.SensitiveFields...))
	}
	return opts
}

// Open opens the connection. Extra options are applied after the configured
// ones.
func (c *Connection) Open(log logger.Logger, opts ...core.Option) (*core.DB, error) {
	all := c.Options()
	if log != nil {
		all = append(all, core.WithLogger(log))
	}
	return core.Open(c.Driver, c.DSN, append(all, opts...)...)
}

// FromYAMLFile reads and validates the configuration at path.
func FromYAMLFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "can't open YAML file "+path)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}

// Load reads and validates a YAML configuration.
func Load(r io.Reader) (*Config, error) {
	c := &Config{}
	if err := yaml.NewDecoder(r).Decode(c); err != nil {
		return nil, errors.Wrap(err, "can't parse YAML")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return c, nil
}
