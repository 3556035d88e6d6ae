package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{Enabled: true}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())
	assert.False(t, cfg.GetInsecure())
	assert.Equal(t, DefaultSampling, cfg.Tracing.GetSampling())
	assert.False(t, cfg.PrometheusEnabled())

	var nilCfg *Config
	assert.False(t, nilCfg.PrometheusEnabled())
	assert.NoError(t, nilCfg.Validate())
}

func TestConfig_FromRecordSyncYAML(t *testing.T) {
	t.Parallel()

	const doc = `
enabled: true
serviceName: recordsync-eu
serviceVersion: v1.4.0
endpoint: otel-collector:4318
insecure: true
tracing:
  enabled: true
  sampling: 0.25
metrics:
  enabled: true
  prometheus: true
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "recordsync-eu", cfg.GetServiceName())
	assert.Equal(t, "v1.4.0", cfg.GetServiceVersion())
	assert.Equal(t, "otel-collector:4318", cfg.GetEndpoint())
	assert.True(t, cfg.GetInsecure())
	assert.InDelta(t, 0.25, cfg.Tracing.GetSampling(), 1e-9)
	assert.True(t, cfg.PrometheusEnabled())
	assert.True(t, tracingEnabled(&cfg))
	assert.True(t, metricsEnabled(&cfg))
}

func TestConfig_PrometheusEnabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *Config
		want bool
	}{
		{
			name: "telemetry disabled",
			cfg:  &Config{Metrics: &MetricsConfig{Enabled: true, Prometheus: true}},
		},
		{
			name: "metrics disabled",
			cfg:  &Config{Enabled: true, Metrics: &MetricsConfig{Prometheus: true}},
		},
		{
			name: "OTLP only",
			cfg:  &Config{Enabled: true, Metrics: &MetricsConfig{Enabled: true}},
		},
		{
			name: "scrape endpoint on",
			cfg:  &Config{Enabled: true, Metrics: &MetricsConfig{Enabled: true, Prometheus: true}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cfg.PrometheusEnabled())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{
			name: "disabled telemetry ignores bad sampling",
			cfg:  &Config{Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(7.0)}},
		},
		{
			name: "disabled tracing ignores bad sampling",
			cfg:  &Config{Enabled: true, Tracing: &TracingConfig{Sampling: ptr.To(-1.0)}},
		},
		{
			name: "unset sampling falls back to the default",
			cfg:  &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true}},
		},
		{
			name: "full sampling",
			cfg:  &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.0)}},
		},
		{
			name:    "zero sampling",
			cfg:     &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(0.0)}},
			wantErr: "tracing: sampling must be greater than 0.0",
		},
		{
			name:    "sampling above one",
			cfg:     &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.5)}},
			wantErr: "at most 1.0, got 1.500000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
