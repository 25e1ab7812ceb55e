package adapter

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/internal/redact"
)

// Config is the normalized connection configuration for adapters.
type Config struct {
	// DSN is the original connection string, credentials included.
	// Never log it directly; use Redacted.
	DSN string

	// Driver is the dialect name derived from the DSN scheme.
	Driver string

	Username string
	Password string
	Host     string
	Port     int
	Database string

	Autocommit     bool
	IsolationLevel string
	Timeout        time.Duration

	// Options holds the remaining DSN query parameters.
	Options map[string]string

	// Source names where the config came from (e.g. an env var) for
	// diagnostics.
	Source string
}

var schemeDrivers = map[string]string{
	"sqlite":     "sqlite",
	"sqlite3":    "sqlite",
	"postgres":   "postgres",
	"postgresql": "postgres",
	"mysql":      "mysql",
}

// ParseDSN parses a URL-style DSN into a Config. Recognized query
// parameters (autocommit, timeout, isolation_level) are lifted into
// dedicated fields; everything else lands in Options.
func ParseDSN(dsn string) (Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return Config{}, blaze.NewConfigurationError(fmt.Sprintf("malformed DSN: %v", err), err)
	}
	driver, ok := schemeDrivers[u.Scheme]
	if !ok {
		return Config{}, blaze.NewConfigurationError(fmt.Sprintf("unknown driver %q", u.Scheme), nil)
	}

	cfg := Config{
		DSN:      dsn,
		Driver:   driver,
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
		Options:  map[string]string{},
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Config{}, blaze.NewConfigurationError(fmt.Sprintf("invalid port %q", p), err)
		}
		cfg.Port = port
	}

	for key, values := range u.Query() {
		value := values[0]
		switch key {
		case "autocommit":
			b, err := parseBool(value)
			if err != nil {
				return Config{}, blaze.NewConfigurationError(fmt.Sprintf("invalid boolean for autocommit: %q", value), err)
			}
			cfg.Autocommit = b
		case "timeout":
			secs, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Config{}, blaze.NewConfigurationError(fmt.Sprintf("invalid timeout: %q", value), err)
			}
			cfg.Timeout = time.Duration(secs * float64(time.Second))
		case "isolation_level":
			cfg.IsolationLevel = value
		default:
			cfg.Options[key] = value
		}
	}
	return cfg, nil
}

// FromEnv builds a Config from a DSN held in the named environment variable.
func FromEnv(envVar string) (Config, error) {
	value := os.Getenv(envVar)
	if value == "" {
		return Config{}, blaze.NewConfigurationError(fmt.Sprintf("environment variable %s is not set", envVar), nil)
	}
	cfg, err := ParseDSN(value)
	if err != nil {
		return Config{}, err
	}
	cfg.Source = envVar
	return cfg, nil
}

type fileConfig struct {
	DSN            string            `yaml:"dsn"`
	Autocommit     *bool             `yaml:"autocommit"`
	TimeoutSeconds *float64          `yaml:"timeout_seconds"`
	IsolationLevel string            `yaml:"isolation_level"`
	Options        map[string]string `yaml:"options"`
}

// FromFile builds a Config from a YAML file containing at least a dsn key.
// File-level settings override those parsed from the DSN.
func FromFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, blaze.NewConfigurationError(fmt.Sprintf("reading config file %s", path), err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, blaze.NewConfigurationError(fmt.Sprintf("parsing config file %s", path), err)
	}
	if fc.DSN == "" {
		return Config{}, blaze.NewConfigurationError(fmt.Sprintf("config file %s has no dsn", path), nil)
	}
	cfg, err := ParseDSN(fc.DSN)
	if err != nil {
		return Config{}, err
	}
	cfg.Source = path
	if fc.Autocommit != nil {
		cfg.Autocommit = *fc.Autocommit
	}
	if fc.TimeoutSeconds != nil {
		cfg.Timeout = time.Duration(*fc.TimeoutSeconds * float64(time.Second))
	}
	if fc.IsolationLevel != "" {
		cfg.IsolationLevel = fc.IsolationLevel
	}
	for key, value := range fc.Options {
		cfg.Options[key] = value
	}
	return cfg, nil
}

// Redacted returns a DSN safe for logging, credentials removed.
func (c Config) Redacted() string {
	userPart := c.Username
	if userPart != "" && c.Password != "" {
		userPart += ":" + redact.Placeholder
	}
	if userPart != "" {
		userPart += "@"
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := ""
	if c.Port != 0 {
		port = ":" + strconv.Itoa(c.Port)
	}
	db := ""
	if c.Database != "" {
		db = "/" + c.Database
	}
	return fmt.Sprintf("%s://%s%s%s%s", c.Driver, userPart, host, port, db)
}

// Label describes the config source for diagnostics.
func (c Config) Label() string {
	if c.Source != "" {
		return fmt.Sprintf("%s (%s)", c.Source, c.Redacted())
	}
	return c.Redacted()
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized boolean %q", value)
}
