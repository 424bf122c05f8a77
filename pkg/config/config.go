// Package config loads the orchestration core's YAML configuration
// surface, following the scenario-parsing idiom used elsewhere in this
// codebase (os.ReadFile → yaml.Unmarshal → applyDefaults) generalized
// from a single scenario file to the full worker configuration.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netraven-io/netraven-core/pkg/credential"
	"github.com/netraven-io/netraven-core/pkg/dispatcher"
	"github.com/netraven-io/netraven-core/pkg/driver"
	"github.com/netraven-io/netraven-core/pkg/logpipeline"
	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/redact"
	"github.com/netraven-io/netraven-core/pkg/store"
)

// Config is the full configuration surface the core consumes, one field
// group per configuration-surface table entry.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Worker     WorkerConfig     `yaml:"worker"`
	Logging    LoggingConfig    `yaml:"logging"`
	SSH        SSHConfig        `yaml:"ssh"`
	Git        GitConfig        `yaml:"git"`
	Credential CredentialConfig `yaml:"credential"`
}

// DatabaseConfig mirrors pkg/store.Config's field set. Durations are
// expressed in seconds, matching the rest of the configuration surface
// (scheduler/worker sections below) rather than a Go duration string.
type DatabaseConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	User                   string `yaml:"user"`
	Password               string `yaml:"password"`
	Database               string `yaml:"database"`
	SSLMode                string `yaml:"sslmode"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

// SchedulerConfig maps scheduler.* in the configuration surface table.
type SchedulerConfig struct {
	PollingIntervalSeconds int `yaml:"polling_interval_seconds"`
	MaxRetries             int `yaml:"max_retries"`
	RetryBackoffSeconds    int `yaml:"retry_backoff_seconds"`
}

// WorkerConfig maps worker.* in the configuration surface table.
type WorkerConfig struct {
	ThreadPoolSize      int             `yaml:"thread_pool_size"`
	ConnectionTimeout   int             `yaml:"connection_timeout"`
	RetryAttempts       int             `yaml:"retry_attempts"`
	RetryBackoffSeconds int             `yaml:"retry_backoff"`
	QueueWorkers        int             `yaml:"queue_workers"`
	Redaction           RedactionConfig `yaml:"redaction"`
}

type RedactionConfig struct {
	Patterns []string `yaml:"patterns"`
}

// LoggingConfig maps logging.* in the configuration surface table.
type LoggingConfig struct {
	Level  string             `yaml:"level"`
	Format string             `yaml:"format"`
	File   FileLoggingConfig  `yaml:"file"`
	Redis  RedisLoggingConfig `yaml:"redis"`
	DB     SinkToggleConfig   `yaml:"db"`
	Stdout SinkToggleConfig   `yaml:"stdout"`
}

type FileLoggingConfig struct {
	Path        string `yaml:"path"`
	When        string `yaml:"when"`
	Interval    int    `yaml:"interval"`
	BackupCount int    `yaml:"backupCount"`
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
}

type RedisLoggingConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	DB            int    `yaml:"db"`
	Password      string `yaml:"password"`
	ChannelPrefix string `yaml:"channel_prefix"`
	Enabled       bool   `yaml:"enabled"`
}

// SinkToggleConfig gates one of the always-available log sinks
// (stdout/db). Enabled is a pointer so applyDefaults can tell "the user
// left this out" (nil, defaults to on) apart from an explicit
// `enabled: false`.
type SinkToggleConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the sink should be built, defaulting to true
// when the user never set the field.
func (s SinkToggleConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SSHConfig maps ssh.* in the configuration surface table.
type SSHConfig struct {
	AllowLegacyKEX bool     `yaml:"allow_legacy_kex"`
	LegacyKEX      []string `yaml:"legacy_kex"`
	LegacyMACs     []string `yaml:"macs"`
}

// GitConfig maps git.* in the configuration surface table — reserved,
// may be unused.
type GitConfig struct {
	RepoPath string `yaml:"repo_path"`
}

// CredentialConfig supplies the at-rest encryption key for stored
// credential secrets. EncryptionKeyBase64 decodes to the 32-byte AES-256
// key pkg/credential.NewBox expects; empty means credentials are stored
// and read back as plaintext, which Resolver's nil-Box mode supports for
// local development only.
type CredentialConfig struct {
	EncryptionKeyBase64 string `yaml:"encryption_key"`
}

// Load reads and parses the YAML file at path, applying the same
// defaults a zero-value Config would get from applyDefaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	storeDefaults := store.DefaultConfig()
	if c.Database.Host == "" {
		c.Database.Host = storeDefaults.Host
	}
	if c.Database.Port <= 0 {
		c.Database.Port = storeDefaults.Port
	}
	if c.Database.Database == "" {
		c.Database.Database = storeDefaults.Database
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = storeDefaults.SSLMode
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = storeDefaults.MaxOpenConns
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = storeDefaults.MaxIdleConns
	}
	if c.Database.ConnMaxLifetimeSeconds <= 0 {
		c.Database.ConnMaxLifetimeSeconds = int(storeDefaults.ConnMaxLifetime.Seconds())
	}
	if c.Database.ConnMaxIdleTimeSeconds <= 0 {
		c.Database.ConnMaxIdleTimeSeconds = int(storeDefaults.ConnMaxIdleTime.Seconds())
	}

	if c.Scheduler.PollingIntervalSeconds <= 0 {
		c.Scheduler.PollingIntervalSeconds = 30
	}
	if c.Worker.ThreadPoolSize <= 0 {
		c.Worker.ThreadPoolSize = 10
	}
	if c.Worker.ConnectionTimeout <= 0 {
		c.Worker.ConnectionTimeout = 10
	}
	if c.Worker.QueueWorkers <= 0 {
		c.Worker.QueueWorkers = 4
	}
	if len(c.Worker.Redaction.Patterns) == 0 {
		c.Worker.Redaction.Patterns = redact.DefaultPatterns()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = string(model.LevelInfo)
	}
	if c.Logging.File.BackupCount <= 0 {
		c.Logging.File.BackupCount = 10
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port <= 0 {
		c.Redis.Port = 6379
	}
	if c.Logging.Redis.Port <= 0 {
		c.Logging.Redis.Port = c.Redis.Port
	}
	if c.Logging.Redis.ChannelPrefix == "" {
		c.Logging.Redis.ChannelPrefix = "netraven:logs"
	}
}

// StoreConfig translates the database configuration surface into
// pkg/store.Config.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(c.Database.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(c.Database.ConnMaxIdleTimeSeconds) * time.Second,
	}
}

// DriverConfig translates the worker/ssh configuration surface into
// pkg/driver.Config.
func (c *Config) DriverConfig() driver.Config {
	return driver.Config{
		ConnectTimeout:      time.Duration(c.Worker.ConnectionTimeout) * time.Second,
		AllowLegacyKEX:      c.SSH.AllowLegacyKEX,
		LegacyKEXAlgorithms: c.SSH.LegacyKEX,
		LegacyMACs:          c.SSH.LegacyMACs,
		DialRetries:         c.Worker.RetryAttempts,
		DialRetryBackoff:    time.Duration(c.Worker.RetryBackoffSeconds) * time.Second,
	}
}

// DispatcherConfig translates the scheduler configuration surface into
// pkg/dispatcher.Config.
func (c *Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		ThreadPoolSize: c.Worker.ThreadPoolSize,
		MaxRetries:     c.Scheduler.MaxRetries,
		RetryBackoff:   time.Duration(c.Scheduler.RetryBackoffSeconds) * time.Second,
	}
}

// PollingInterval returns the scheduler reconcile period as a
// time.Duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Scheduler.PollingIntervalSeconds) * time.Second
}

// RedisAddr formats the queue/log-channel Redis address as host:port.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// CredentialBox decodes Credential.EncryptionKeyBase64 into a
// *credential.Box, or returns (nil, nil) when no key is configured —
// the Resolver treats a nil Box as "credentials are stored as
// plaintext."
func (c *Config) CredentialBox() (*credential.Box, error) {
	if c.Credential.EncryptionKeyBase64 == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Credential.EncryptionKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("config: decoding credential.encryption_key: %w", err)
	}
	box, err := credential.NewBox(key)
	if err != nil {
		return nil, fmt.Errorf("config: building credential box: %w", err)
	}
	return box, nil
}

// FileRotationConfig translates logging.file's when/interval/backupCount
// knobs into pkg/logpipeline.RotationConfig, following the same
// calendar-rotation semantics as this codebase's other rolling logs.
func (c *Config) FileRotationConfig() logpipeline.RotationConfig {
	return logpipeline.RotationConfig{
		When:       c.Logging.File.When,
		Interval:   c.Logging.File.Interval,
		MaxBackups: c.Logging.File.BackupCount,
	}
}
