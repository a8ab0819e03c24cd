// Package config loads the frontier's TOML configuration file, kept
// close to the teacher's config/config.go go-micro loader, with
// ServerConfig extended to carry every tunable spec.md §6 names.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-micro/plugins/v4/config/encoder/toml"
	"go-micro.dev/v4/config"
	"go-micro.dev/v4/config/reader"
	"go-micro.dev/v4/config/reader/json"
	"go-micro.dev/v4/config/source"
	"go-micro.dev/v4/config/source/file"
)

// ServerConfig is the frontier's full runtime configuration, loaded
// from config.toml and layered with spec.md §6 defaults.
type ServerConfig struct {
	// Transport
	GRPCListenAddress string
	HTTPListenAddress string
	ID                string
	RegistryAddress   string
	RegisterTTL       int
	RegisterInterval  int
	Name              string
	ClientTimeOut     int

	// Coordination (C6)
	EtcdEndpoints []string
	ElectionKey   string
	SessionTTL    int
	NodeNumber    int64

	// Store (C2)
	StoreBackend string // "memory" or "mysql"
	MySQLDSN     string

	// Scheduling defaults (spec.md §6)
	DefaultMinDelaySeconds         int
	DefaultMaxQueueSize            int
	DefaultDelayRequestableSeconds int
	DefaultMaxURLs                 int
	DefaultMaxQueues               int
	FetchDeadlineMs                int
	IngestOutstandingLimit         int

	// Logging
	LogLevel string
	LogFile  string
}

// MinDelay is DefaultMinDelaySeconds as a time.Duration.
func (c ServerConfig) MinDelay() time.Duration {
	return time.Duration(c.DefaultMinDelaySeconds) * time.Second
}

// DelayRequestable is DefaultDelayRequestableSeconds as a time.Duration.
func (c ServerConfig) DelayRequestable() time.Duration {
	return time.Duration(c.DefaultDelayRequestableSeconds) * time.Second
}

// FetchDeadline is FetchDeadlineMs as a time.Duration.
func (c ServerConfig) FetchDeadline() time.Duration {
	return time.Duration(c.FetchDeadlineMs) * time.Millisecond
}

func withDefaults(c ServerConfig) ServerConfig {
	if c.StoreBackend == "" {
		c.StoreBackend = "memory"
	}
	if c.DefaultMinDelaySeconds <= 0 {
		c.DefaultMinDelaySeconds = 1
	}
	if c.DefaultMaxQueueSize <= 0 {
		c.DefaultMaxQueueSize = 100_000
	}
	if c.DefaultDelayRequestableSeconds <= 0 {
		c.DefaultDelayRequestableSeconds = 30
	}
	if c.DefaultMaxURLs <= 0 {
		c.DefaultMaxURLs = 100
	}
	if c.DefaultMaxQueues <= 0 {
		c.DefaultMaxQueues = 10
	}
	if c.FetchDeadlineMs <= 0 {
		c.FetchDeadlineMs = 1000
	}
	if c.IngestOutstandingLimit <= 0 {
		c.IngestOutstandingLimit = 10_000
	}
	if c.ElectionKey == "" {
		c.ElectionKey = "/urlfrontier/election"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 5
	}
	if c.NodeNumber <= 0 {
		c.NodeNumber = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	return c
}

// GetCfg loads config.toml from the working directory, mirroring the
// teacher's loader.
func GetCfg() (config.Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	enc := toml.NewEncoder()
	cfg, err := config.NewConfig(config.WithReader(json.NewReader(reader.WithEncoder(enc))))
	if err != nil {
		return nil, err
	}
	configPath := fmt.Sprintf("%s/config.toml", dir)
	if err := cfg.Load(file.NewSource(
		file.WithPath(configPath),
		source.WithEncoder(enc),
	)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServerConfig loads config.toml and scans it into a ServerConfig,
// applying spec.md §6 defaults for anything the file omits.
func LoadServerConfig() (ServerConfig, error) {
	cfg, err := GetCfg()
	if err != nil {
		return ServerConfig{}, err
	}
	var sc ServerConfig
	if err := cfg.Get("server").Scan(&sc); err != nil {
		return ServerConfig{}, err
	}
	return withDefaults(sc), nil
}
