// Package config loads the service configuration from a YAML file, applies
// environment overrides and defaults, and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-annotationcache/pkg/fetchthrough"
	"github.com/illmade-knight/go-annotationcache/pkg/microservice"
	"github.com/illmade-knight/go-annotationcache/pkg/store"
	"github.com/illmade-knight/go-annotationcache/pkg/upstream"
	"github.com/illmade-knight/go-annotationcache/pkg/variant"
	"gopkg.in/yaml.v3"
)

// HotspotsConfig locates the hotspot snapshot. Exactly one of URL or GCS is
// used; URL wins when both are set.
type HotspotsConfig struct {
	URL             string                    `yaml:"url"`
	GCS             *upstream.GCSSourceConfig `yaml:"gcs"`
	RefreshInterval time.Duration             `yaml:"refresh_interval"`
}

// Config is the full service configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Upstream upstream.ClientConfig `yaml:"upstream"`
	Variant  fetchthrough.Config   `yaml:"variant"`
	Hotspots HotspotsConfig        `yaml:"hotspots"`
	Store    store.Config          `yaml:"store"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    "info",
			HTTPPort:    ":8080",
			ServiceName: "annotationd",
		},
		Upstream: upstream.DefaultClientConfig(),
		Variant:  fetchthrough.DefaultConfig(variant.Collection, ""),
		Store:    store.Config{Backend: store.BackendMemory},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("HTTP_PORT", &c.HTTPPort)
	str("GCP_PROJECT_ID", &c.ProjectID)
	str("GCP_CREDENTIALS_FILE", &c.CredentialsFile)
	str("VEP_URL", &c.Variant.URL)
	str("HOTSPOTS_URL", &c.Hotspots.URL)
	str("STORE_BACKEND", &c.Store.Backend)
	str("SQL_DSN", &c.Store.SQL.DSN)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)

	if v, ok := lookup("MAX_PAGE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_PAGE_SIZE: %w", err)
		}
		c.Variant.MaxPageSize = n
	}
	if v, ok := lookup("HOTSPOTS_REFRESH_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HOTSPOTS_REFRESH_INTERVAL: %w", err)
		}
		c.Hotspots.RefreshInterval = d
	}
	if v, ok := lookup("UPSTREAM_RETRY_MAX"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UPSTREAM_RETRY_MAX: %w", err)
		}
		c.Upstream.RetryMax = n
	}

	if c.Store.Firestore.ProjectID == "" {
		c.Store.Firestore.ProjectID = c.ProjectID
	}
	if c.Store.Firestore.CredentialsFile == "" {
		c.Store.Firestore.CredentialsFile = c.CredentialsFile
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.HTTPPort == "" {
		errs = multierror.Append(errs, errors.New("http_port is required"))
	}
	if c.Variant.URL == "" {
		errs = multierror.Append(errs, errors.New("variant.url is required"))
	}
	if c.Variant.Collection == "" {
		errs = multierror.Append(errs, errors.New("variant.collection is required"))
	}
	if c.Variant.MaxPageSize <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("variant.max_page_size must be positive, got %d", c.Variant.MaxPageSize))
	}
	if c.Variant.PageConcurrency < 0 {
		errs = multierror.Append(errs, errors.New("variant.page_concurrency cannot be negative"))
	}
	if c.Hotspots.URL == "" && (c.Hotspots.GCS == nil || c.Hotspots.GCS.BucketName == "" || c.Hotspots.GCS.ObjectName == "") {
		errs = multierror.Append(errs, errors.New("hotspots.url or hotspots.gcs bucket and object are required"))
	}
	if c.Hotspots.RefreshInterval < 0 {
		errs = multierror.Append(errs, errors.New("hotspots.refresh_interval cannot be negative"))
	}
	if c.Upstream.Timeout <= 0 {
		errs = multierror.Append(errs, errors.New("upstream.timeout must be positive"))
	}

	switch c.Store.Backend {
	case "", store.BackendMemory:
	case store.BackendSQLite, store.BackendPostgres:
		if c.Store.SQL.DSN == "" {
			errs = multierror.Append(errs, fmt.Errorf("store.sql.dsn is required for the %s backend", c.Store.Backend))
		}
	case store.BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = multierror.Append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	case store.BackendFirestore:
		if c.Store.Firestore.ProjectID == "" {
			errs = multierror.Append(errs, errors.New("store.firestore.project_id or project_id is required for the firestore backend"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	return errs.ErrorOrNil()
}
