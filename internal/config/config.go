// Package config provides configuration loading and management for the sync service.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/recordsync/internal/telemetry"
)

const (
	// SourceTypeAPI is the type for change-sets fetched from an HTTP endpoint
	SourceTypeAPI = "api"

	// SourceTypeFile is the type for change-sets read from a local JSON file
	SourceTypeFile = "file"
)

const (
	// StorageTypeMemory keeps reconciled entities in process memory
	StorageTypeMemory = "memory"

	// StorageTypePostgres stores reconciled entities in PostgreSQL
	StorageTypePostgres = "postgres"
)

const (
	// DefaultInterval is the cycle interval when neither interval nor dailyScheduleTime is set
	DefaultInterval = 15 * time.Minute

	// DefaultMaxConsecutiveFailures is the failure threshold that moves a runner to Failed
	DefaultMaxConsecutiveFailures = 5

	// DefaultLookbackDays is how many days back a scheduled cycle asks for changes
	DefaultLookbackDays = 1

	// DefaultAPITimeout bounds a single outbound request
	DefaultAPITimeout = 30 * time.Second

	// DefaultKeyPath is the gjson path of the natural key inside a record
	DefaultKeyPath = "key"

	// DefaultTenantPath is the gjson path of the tenant inside a record
	DefaultTenantPath = "tenant"

	// DefaultStatusDir is where per-job sync status is persisted
	DefaultStatusDir = "./data/status"

	// DefaultServerAddress is the listen address of the HTTP surface
	DefaultServerAddress = ":8080"

	// EnvPrefix prefixes every environment variable read by the CLI
	EnvPrefix = "RECORDSYNC"

	// PasswordEnvVar is consulted when no password file is configured
	PasswordEnvVar = "RECORDSYNC_DATABASE_PASSWORD"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Server configures the HTTP surface
	Server *ServerConfig `yaml:"server,omitempty"`

	// StatusDir is where per-job status files are written
	// Defaults to "./data/status" if not specified
	StatusDir string `yaml:"statusDir,omitempty"`

	// Storage selects the sink implementation
	Storage StorageConfig `yaml:"storage"`

	// Database is required when storage.type is postgres
	Database *DatabaseConfig `yaml:"database,omitempty"`

	// Telemetry configures OpenTelemetry tracing and metrics
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`

	// Jobs lists the independent sync jobs, one runner each
	Jobs []JobConfig `yaml:"jobs"`
}

// ServerConfig defines the HTTP server settings
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `yaml:"address,omitempty"`
}

// StorageConfig selects where reconciled entities are written
type StorageConfig struct {
	// Type is either memory or postgres. Defaults to memory.
	Type string `yaml:"type,omitempty"`
}

// JobConfig defines one scheduled sync job
type JobConfig struct {
	// Name identifies the job in logs, metrics, status files and the API
	Name string `yaml:"name"`

	// Enabled pauses the job's runner when false. Defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Interval between cycles (e.g., "15m"); ignored when DailyScheduleTime is set
	Interval string `yaml:"interval,omitempty"`

	// InitialDelay is waited once before the first cycle
	InitialDelay string `yaml:"initialDelay,omitempty"`

	// DailyScheduleTime runs the job once a day at HH:MM:SS UTC
	DailyScheduleTime *TimeOfDay `yaml:"dailyScheduleTime,omitempty"`

	// MaxConsecutiveFailures moves the runner to Failed once reached
	MaxConsecutiveFailures int `yaml:"maxConsecutiveFailures,omitempty"`

	// LookbackDays sets the since date of scheduled cycles
	LookbackDays int `yaml:"lookbackDays,omitempty"`

	// Type-specific source configurations (only one should be set)
	API  *APIConfig  `yaml:"api,omitempty"`
	File *FileConfig `yaml:"file,omitempty"`

	// Mapping projects raw records into entity attributes
	Mapping MappingConfig `yaml:"mapping"`
}

// RecordLayout locates records and their identity inside a JSON document
type RecordLayout struct {
	// RecordsPath is the gjson path of the record array. Empty means the document is the array.
	RecordsPath string `yaml:"recordsPath,omitempty"`

	// KeyPath is the gjson path of the natural key. Defaults to "key".
	KeyPath string `yaml:"keyPath,omitempty"`

	// TenantPath is the gjson path of the tenant. Defaults to "tenant".
	TenantPath string `yaml:"tenantPath,omitempty"`
}

// GetKeyPath returns the key path, using the default if not specified
func (l RecordLayout) GetKeyPath() string {
	if l.KeyPath == "" {
		return DefaultKeyPath
	}
	return l.KeyPath
}

// GetTenantPath returns the tenant path, using the default if not specified
func (l RecordLayout) GetTenantPath() string {
	if l.TenantPath == "" {
		return DefaultTenantPath
	}
	return l.TenantPath
}

// APIConfig defines an HTTP change-set source.
// The source issues GET {endpoint}?since=YYYY-MM-DD[&until=YYYY-MM-DD].
type APIConfig struct {
	// Endpoint is the full change-set URL
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds a single request (e.g., "30s")
	Timeout string `yaml:"timeout,omitempty"`

	// Headers are added to every request
	Headers map[string]string `yaml:"headers,omitempty"`

	RecordLayout `yaml:",inline"`
}

// GetTimeout returns the request timeout, using the default if not specified
func (a *APIConfig) GetTimeout() time.Duration {
	if a.Timeout == "" {
		return DefaultAPITimeout
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return DefaultAPITimeout
	}
	return d
}

// FileConfig defines a local file change-set source
type FileConfig struct {
	// Path is the JSON file on the local filesystem
	Path string `yaml:"path"`

	RecordLayout `yaml:",inline"`
}

// MappingConfig defines how records are projected into entity attributes
type MappingConfig struct {
	// Fields maps attribute names to gjson paths in the record payload
	Fields map[string]string `yaml:"fields"`

	// Required attributes must be present in every record
	Required []string `yaml:"required,omitempty"`

	// Golden attributes make up the cross-tenant golden entity
	Golden []string `yaml:"golden,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from RECORDSYNC_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(PasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", PasswordEnvVar,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetStatusDir returns the status directory, using the default if not specified
func (c *Config) GetStatusDir() string {
	if c.StatusDir == "" {
		return DefaultStatusDir
	}
	return c.StatusDir
}

// GetServerAddress returns the listen address, using the default if not specified
func (c *Config) GetServerAddress() string {
	if c.Server == nil || c.Server.Address == "" {
		return DefaultServerAddress
	}
	return c.Server.Address
}

// GetStorageType returns the storage type, using memory if not specified
func (c *Config) GetStorageType() string {
	if c.Storage.Type == "" {
		return StorageTypeMemory
	}
	return c.Storage.Type
}

// Job returns the job with the given name
func (c *Config) Job(name string) (*JobConfig, bool) {
	for i := range c.Jobs {
		if c.Jobs[i].Name == name {
			return &c.Jobs[i], true
		}
	}
	return nil, false
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	if len(c.Jobs) == 0 {
		return fmt.Errorf("at least one job must be configured")
	}

	jobNames := make(map[string]bool)
	for i := range c.Jobs {
		job := &c.Jobs[i]
		if job.Name == "" {
			return fmt.Errorf("job[%d]: name is required", i)
		}

		if jobNames[job.Name] {
			return fmt.Errorf("job[%d]: duplicate job name '%s'", i, job.Name)
		}
		jobNames[job.Name] = true

		if err := validateJobConfig(job, i); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.GetStorageType() {
	case StorageTypeMemory:
		return nil
	case StorageTypePostgres:
		if c.Database == nil {
			return fmt.Errorf("storage: database configuration is required when type is %s", StorageTypePostgres)
		}
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("database: host and database are required")
		}
		if c.Database.ConnMaxLifetime != "" {
			if _, err := time.ParseDuration(c.Database.ConnMaxLifetime); err != nil {
				return fmt.Errorf("database: connMaxLifetime must be a valid duration: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("storage: type must be %s or %s, got %s",
			StorageTypeMemory, StorageTypePostgres, c.Storage.Type)
	}
}

// validateJobConfig validates a single job configuration
func validateJobConfig(job *JobConfig, index int) error {
	prefix := fmt.Sprintf("job[%d] (%s)", index, job.Name)

	if err := validateSchedule(job, prefix); err != nil {
		return err
	}

	if err := validateSourceTypeCount(job, prefix); err != nil {
		return err
	}

	if err := validateSourceSpecificConfig(job, prefix); err != nil {
		return err
	}

	return validateMapping(&job.Mapping, prefix)
}

// validateSchedule validates the scheduling and failure policy settings
func validateSchedule(job *JobConfig, prefix string) error {
	if job.Interval != "" {
		d, err := time.ParseDuration(job.Interval)
		if err != nil {
			return fmt.Errorf("%s: interval must be a valid duration (e.g., '30m', '1h'): %w", prefix, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: interval must be positive", prefix)
		}
	}

	if job.InitialDelay != "" {
		d, err := time.ParseDuration(job.InitialDelay)
		if err != nil {
			return fmt.Errorf("%s: initialDelay must be a valid duration: %w", prefix, err)
		}
		if d < 0 {
			return fmt.Errorf("%s: initialDelay must not be negative", prefix)
		}
	}

	if job.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("%s: maxConsecutiveFailures must not be negative", prefix)
	}
	if job.LookbackDays < 0 {
		return fmt.Errorf("%s: lookbackDays must not be negative", prefix)
	}

	return nil
}

// validateSourceTypeCount ensures exactly one source type is configured
func validateSourceTypeCount(job *JobConfig, prefix string) error {
	configCount := 0
	if job.API != nil {
		configCount++
	}
	if job.File != nil {
		configCount++
	}

	if configCount == 0 {
		return fmt.Errorf("%s: one of api or file configuration must be specified", prefix)
	}
	if configCount > 1 {
		return fmt.Errorf("%s: only one of api or file configuration may be specified", prefix)
	}

	return nil
}

// validateSourceSpecificConfig validates the configuration for each source type
func validateSourceSpecificConfig(job *JobConfig, prefix string) error {
	if job.API != nil {
		return validateAPIConfig(job.API, prefix)
	}

	if job.File != nil {
		return validateFileConfig(job.File, prefix)
	}

	return nil
}

// validateAPIConfig validates API-specific configuration
func validateAPIConfig(api *APIConfig, prefix string) error {
	if api.Endpoint == "" {
		return fmt.Errorf("%s: api.endpoint is required", prefix)
	}
	u, err := url.ParseRequestURI(api.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s: api.endpoint must be an http(s) URL, got %q", prefix, api.Endpoint)
	}
	if api.Timeout != "" {
		if _, err := time.ParseDuration(api.Timeout); err != nil {
			return fmt.Errorf("%s: api.timeout must be a valid duration: %w", prefix, err)
		}
	}
	return nil
}

// validateFileConfig validates File-specific configuration
func validateFileConfig(file *FileConfig, prefix string) error {
	if file.Path == "" {
		return fmt.Errorf("%s: file.path is required", prefix)
	}
	return nil
}

// validateMapping checks that required and golden attributes are mapped
func validateMapping(m *MappingConfig, prefix string) error {
	if len(m.Fields) == 0 {
		return fmt.Errorf("%s: mapping.fields must not be empty", prefix)
	}
	for name, path := range m.Fields {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("%s: mapping.fields.%s has an empty path", prefix, name)
		}
	}
	for _, name := range m.Required {
		if _, ok := m.Fields[name]; !ok {
			return fmt.Errorf("%s: mapping.required references unmapped field '%s'", prefix, name)
		}
	}
	for _, name := range m.Golden {
		if _, ok := m.Fields[name]; !ok {
			return fmt.Errorf("%s: mapping.golden references unmapped field '%s'", prefix, name)
		}
	}
	return nil
}

// GetType returns the inferred source type based on which field is present
func (j *JobConfig) GetType() string {
	if j.API != nil {
		return SourceTypeAPI
	}
	if j.File != nil {
		return SourceTypeFile
	}
	return ""
}

// IsEnabled reports whether the job should run. Jobs are enabled unless disabled explicitly.
func (j *JobConfig) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// GetInterval returns the cycle interval, using the default if not specified
func (j *JobConfig) GetInterval() time.Duration {
	return parseDurationOr(j.Interval, DefaultInterval)
}

// GetInitialDelay returns the delay before the first cycle
func (j *JobConfig) GetInitialDelay() time.Duration {
	return parseDurationOr(j.InitialDelay, 0)
}

// GetMaxConsecutiveFailures returns the failure threshold, using the default if not specified
func (j *JobConfig) GetMaxConsecutiveFailures() int {
	if j.MaxConsecutiveFailures == 0 {
		return DefaultMaxConsecutiveFailures
	}
	return j.MaxConsecutiveFailures
}

// GetLookbackDays returns the lookback window, using the default if not specified
func (j *JobConfig) GetLookbackDays() int {
	if j.LookbackDays == 0 {
		return DefaultLookbackDays
	}
	return j.LookbackDays
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
