// Package config assembles the machined configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ringtail/che/internal/storage"
)

const (
	DefaultHTTPAddr       = ":8080"
	DefaultGRPCAddr       = ":50051"
	DefaultMetricsAddr    = ":9090"
	DefaultRequestTimeout = 10 * time.Second
	DefaultSubjectPrefix  = "che"
	DefaultStoragePath    = "./data/machined"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
)

// Config holds daemon configuration.
//
// Configuration is assembled from three sources in priority order:
//  1. CLI flags (highest priority)
//  2. Config file
//  3. Defaults (lowest priority)
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// WorkspaceAPI is the base URL of the workspace master REST API. Required.
	WorkspaceAPI   string        `yaml:"workspace_api"`
	APIToken       string        `yaml:"api_token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// WorkspaceID is rebuilt at startup and used when requests name no
	// workspace.
	WorkspaceID string `yaml:"workspace_id"`

	// NATSURL enables the NATS bridge when set.
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`

	Storage Storage `yaml:"storage"`

	// Tracing exports spans to stdout.
	Tracing bool `yaml:"tracing"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type Storage struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// ApplyDefaults fills in zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = DefaultGRPCAddr
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = storage.DriverBadger
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
		if c.Storage.Driver == storage.DriverSQLite {
			c.Storage.Path += ".db"
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Validate checks that configuration values are valid.
// Call after ApplyDefaults.
func (c *Config) Validate() error {
	if c.WorkspaceAPI == "" {
		return fmt.Errorf("workspace-api is required (use --workspace-api or set workspace_api in config file)")
	}
	u, err := url.Parse(c.WorkspaceAPI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("workspace-api %q must be an http(s) URL", c.WorkspaceAPI)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive, got %v", c.RequestTimeout)
	}
	switch c.Storage.Driver {
	case storage.DriverBadger, storage.DriverSQLite:
	default:
		return fmt.Errorf("storage driver %q must be badger or sqlite", c.Storage.Driver)
	}
	if c.Storage.Driver == storage.DriverSQLite && c.Storage.Path == "" {
		return fmt.Errorf("sqlite storage needs a path")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log-format %q must be json or console", c.LogFormat)
	}
	return nil
}

// LoadConfigFile reads a YAML config file and merges it into the config.
// Only zero-valued fields are overwritten, so CLI flags take precedence.
// Returns nil if the file does not exist.
func LoadConfigFile(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	mergeConfig(&file, into)
	return nil
}

// mergeConfig copies non-zero fields from src into dst where dst has the zero
// value.
func mergeConfig(src, dst *Config) {
	setString(&dst.HTTPAddr, src.HTTPAddr)
	setString(&dst.GRPCAddr, src.GRPCAddr)
	setString(&dst.MetricsAddr, src.MetricsAddr)
	setString(&dst.WorkspaceAPI, src.WorkspaceAPI)
	setString(&dst.APIToken, src.APIToken)
	setString(&dst.WorkspaceID, src.WorkspaceID)
	setString(&dst.NATSURL, src.NATSURL)
	setString(&dst.SubjectPrefix, src.SubjectPrefix)
	setString(&dst.Storage.Driver, src.Storage.Driver)
	setString(&dst.Storage.Path, src.Storage.Path)
	setString(&dst.LogLevel, src.LogLevel)
	setString(&dst.LogFormat, src.LogFormat)
	if dst.RequestTimeout == 0 {
		dst.RequestTimeout = src.RequestTimeout
	}
	if !dst.Tracing {
		dst.Tracing = src.Tracing
	}
}

func setString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
