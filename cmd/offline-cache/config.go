package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	classifier "github.com/always-cache/offline-cache/pkg/request-classifier"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const envPrefix = "OFFLINE_CACHE_"

// Config is read from the YAML config file, then overlaid with
// OFFLINE_CACHE_* environment variables and finally with flags.
type Config struct {
	Version            string                          `yaml:"version" env:"VERSION"`
	Origin             string                          `yaml:"origin" env:"ORIGIN"`
	Host               string                          `yaml:"host" env:"HOST"`
	Port               int                             `yaml:"port" env:"PORT"`
	Manifest           []string                        `yaml:"manifest" env:"MANIFEST" envSeparator:","`
	ExcludedOrigins    []string                        `yaml:"excludedOrigins" env:"EXCLUDED_ORIGINS" envSeparator:","`
	DocumentSuffixes   []string                        `yaml:"documentSuffixes" env:"DOCUMENT_SUFFIXES" envSeparator:","`
	Fallback           string                          `yaml:"fallback" env:"FALLBACK"`
	Routes             classifier.Rules                `yaml:"routes"`
	InstallConcurrency int                             `yaml:"installConcurrency" env:"INSTALL_CONCURRENCY"`
	WriteTimeout       time.Duration                   `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	MaxEntryBytes      int64                           `yaml:"maxEntryBytes" env:"MAX_ENTRY_BYTES"`
	Notification       offlinecache.NotificationConfig `yaml:"notification"`
	Store              StoreConfig                     `yaml:"store" envPrefix:"STORE_"`
}

type StoreConfig struct {
	// sqlite, memory, bigcache or redis
	Provider    string `yaml:"provider" env:"PROVIDER"`
	DB          string `yaml:"db" env:"DB"`
	RedisURL    string `yaml:"redisUrl" env:"REDIS_URL"`
	RedisPrefix string `yaml:"redisPrefix" env:"REDIS_PREFIX"`
	// msgpack or cbor
	Codec         string        `yaml:"codec" env:"CODEC"`
	BigCacheMaxMB int           `yaml:"bigcacheMaxMb" env:"BIGCACHE_MAX_MB"`
	HotMaxBytes   int64         `yaml:"hotMaxBytes" env:"HOT_MAX_BYTES"`
	HotTTL        time.Duration `yaml:"hotTtl" env:"HOT_TTL"`
}

func defaultConfig() Config {
	return Config{
		Version: "offline-cache-" + version,
		Port:    8080,
		Store: StoreConfig{
			Provider: "sqlite",
			DB:       "cache.db",
			Codec:    "msgpack",
		},
	}
}

func loadConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

func (c Config) originURL() (*url.URL, error) {
	if c.Origin == "" {
		return nil, fmt.Errorf("no origin specified")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("origin %q is not an absolute url", c.Origin)
	}
	return u, nil
}

// workerConfig builds the configuration of the worker for version.
func (c Config) workerConfig(version string, storage *cache.Storage, logger *zerolog.Logger) (offlinecache.Config, error) {
	origin, err := c.originURL()
	if err != nil {
		return offlinecache.Config{}, err
	}
	scope := *origin
	if scope.Path == "" {
		scope.Path = "/"
	}
	return offlinecache.Config{
		Version:            version,
		Scope:              scope,
		Manifest:           c.Manifest,
		ExcludedOrigins:    c.ExcludedOrigins,
		DocumentSuffixes:   c.DocumentSuffixes,
		Routes:             c.Routes,
		FallbackKey:        c.Fallback,
		InstallConcurrency: c.InstallConcurrency,
		WriteTimeout:       c.WriteTimeout,
		MaxEntryBytes:      c.MaxEntryBytes,
		Notification:       c.Notification,
		Storage:            storage,
		Logger:             logger,
	}, nil
}
