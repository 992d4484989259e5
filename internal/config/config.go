package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/iTrooz/offline-cache/internal/cache"
)

const (
	DefaultCacheName = "journal-cache-v1"
	DefaultPort      = 8080
)

// DefaultAssets are pre-cached when the config does not list any
var DefaultAssets = []string{"/", "/static/manifest.json"}

// Config represents the application configuration
type Config struct {
	Server ServerConfig `koanf:"server" yaml:"server"`
	Cache  CacheConfig  `koanf:"cache" yaml:"cache"`
	Assets AssetsConfig `koanf:"assets" yaml:"assets"`
	Log    LogConfig    `koanf:"log" yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port int `koanf:"port" yaml:"port"`
	// serve the admin API on requests that are not proxy requests
	Admin bool        `koanf:"admin" yaml:"admin"`
	HTTPS HTTPSConfig `koanf:"https" yaml:"https"`
}

// HTTPSConfig contains TLS interception configuration
type HTTPSConfig struct {
	MITM       bool   `koanf:"mitm" yaml:"mitm"`
	CACertFile string `koanf:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile  string `koanf:"ca_key_file" yaml:"ca_key_file"`
	// listen address for transparent (SNI routed) HTTPS, empty to disable
	TransparentAddr string `koanf:"transparent_addr" yaml:"transparent_addr"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	Name     string `koanf:"name" yaml:"name"`
	Storage  string `koanf:"storage" yaml:"storage"` // "disk", "memory" or "sqlite"
	Location string `koanf:"location" yaml:"location"`
}

// AssetsConfig lists the resources pre-cached at install
type AssetsConfig struct {
	// scope of the cache, relative asset URLs resolve against it
	Origin string   `koanf:"origin" yaml:"origin"`
	URLs   []string `koanf:"urls" yaml:"urls"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
}

// Default returns the configuration used for any key the file leaves out
func Default() Config {
	return Config{
		Server: ServerConfig{Port: DefaultPort, Admin: true},
		Cache: CacheConfig{
			Name:     DefaultCacheName,
			Storage:  cache.KindDisk,
			Location: "./cache",
		},
		Assets: AssetsConfig{URLs: append([]string(nil), DefaultAssets...)},
		Log:    LogConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return &config, nil
}

// Dump renders the configuration as YAML
func (c *Config) Dump() ([]byte, error) {
	return yamlv3.Marshal(c)
}

// OriginURL parses the asset origin
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Assets.Origin)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin host is required")
	}
	return u, nil
}

// LogLevel parses the configured log level
func (c *Config) LogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.Log.Level)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.HTTPS.TransparentAddr != "" && !c.Server.HTTPS.MITM {
		return fmt.Errorf("transparent HTTPS requires https.mitm")
	}

	if (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("ca_cert_file and ca_key_file must be set together")
	}

	if c.Cache.Name == "" {
		return fmt.Errorf("cache name is required")
	}
	if strings.ContainsAny(c.Cache.Name, `/\`) || c.Cache.Name == "." || c.Cache.Name == ".." {
		return fmt.Errorf("invalid cache name: %q", c.Cache.Name)
	}

	switch c.Cache.Storage {
	case cache.KindDisk, cache.KindSQLite:
		if c.Cache.Location == "" {
			return fmt.Errorf("cache location is required for %s storage", c.Cache.Storage)
		}
	case cache.KindMemory:
	default:
		return fmt.Errorf("cache storage must be 'disk', 'memory' or 'sqlite', got: %s", c.Cache.Storage)
	}

	if _, err := c.OriginURL(); err != nil {
		return fmt.Errorf("invalid assets origin: %w", err)
	}

	if len(c.Assets.URLs) == 0 {
		return fmt.Errorf("at least one asset URL is required")
	}
	seen := make(map[string]bool, len(c.Assets.URLs))
	for _, u := range c.Assets.URLs {
		if _, err := url.Parse(u); err != nil {
			return fmt.Errorf("invalid asset URL %q: %w", u, err)
		}
		if seen[u] {
			return fmt.Errorf("duplicate asset URL: %s", u)
		}
		seen[u] = true
	}

	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}
