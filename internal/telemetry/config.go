// Package telemetry exports recordsync's sync cycles, source fetches and API
// requests as OpenTelemetry traces and metrics over OTLP HTTP, and optionally
// serves the metrics for Prometheus scraping on /metrics.
package telemetry

import (
	"errors"
	"fmt"
)

const (
	// DefaultServiceName identifies recordsync in exported telemetry
	DefaultServiceName = "recordsync"

	// DefaultEndpoint is the OTLP HTTP collector address
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the fraction of root traces kept when sampling is unset
	DefaultSampling = 0.05

	unknownServiceVersion = "unknown"
)

// Config is the telemetry section of the recordsync config file.
// Nothing is exported unless Enabled and the signal's own Enabled are both set.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// ServiceName defaults to DefaultServiceName
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to "unknown"
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is host:port of the collector; /v1/traces and /v1/metrics are appended
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure exports over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls spans for cycles, source fetches and API requests
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of root traces kept, in (0, 1]. Traces started by
	// a caller of the API follow the caller's sampling decision.
	Sampling *float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig controls the sync and HTTP instruments
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Prometheus additionally serves the instruments on /metrics
	Prometheus bool `yaml:"prometheus,omitempty"`
}

// PrometheusEnabled reports whether /metrics should be served
func (c *Config) PrometheusEnabled() bool {
	return metricsEnabled(c) && c.Metrics.Prometheus
}

// GetServiceName returns ServiceName or DefaultServiceName
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns ServiceVersion or "unknown"
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return unknownServiceVersion
	}
	return c.ServiceVersion
}

// GetEndpoint returns Endpoint or DefaultEndpoint
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetInsecure returns Insecure
func (c *Config) GetInsecure() bool {
	return c.Insecure
}

// GetSampling returns Sampling or DefaultSampling. It does not validate.
func (c *TracingConfig) GetSampling() float64 {
	if c == nil || c.Sampling == nil {
		return DefaultSampling
	}
	return *c.Sampling
}

// Validate checks the enabled signals. A nil or disabled config is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	return errors.Join(errs...)
}

// Validate rejects a sampling ratio outside (0, 1] when tracing is enabled
func (c *TracingConfig) Validate() error {
	if c == nil || !c.Enabled || c.Sampling == nil {
		return nil
	}
	if sampling := *c.Sampling; sampling <= 0 || sampling > 1.0 {
		return fmt.Errorf("sampling must be greater than 0.0 and at most 1.0, got %f", sampling)
	}
	return nil
}
