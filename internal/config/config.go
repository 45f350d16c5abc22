package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config represents the main configuration for tb.
// Fields tagged with env can be overridden by TB_* environment variables
// after the file is decoded.
type Config struct {
	HostID    string `toml:"host_id" env:"TB_HOST_ID"`
	BaseDir   string `toml:"base_dir"`
	LogDir    string `toml:"log_dir" env:"TB_LOG_DIR"`
	LogLevel  string `toml:"log_level" env:"TB_LOG_LEVEL"` // debug, info, warn, error
	SessionID string `toml:"session_id" env:"TB_SESSION_ID"`
	Timezone  string `toml:"timezone" env:"TB_TIMEZONE"` // IANA name; empty means UTC

	Calendar   CalendarConfig   `toml:"calendar"`
	Vaults     []VaultConfig    `toml:"vaults" env:"-"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Sync       SyncConfig       `toml:"sync"`
	Generator  GeneratorConfig  `toml:"generator"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// CalendarConfig selects the remote calendar backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CalendarConfig struct {
	Type string `toml:"type" env:"TB_CALENDAR_TYPE"` // "memory" or "ics"
	ID   string `toml:"id" env:"TB_CALENDAR_ID"`

	// ICS-specific fields (only used when Type == "ics")
	ICSDir string `toml:"ics_dir,omitempty" env:"TB_CALENDAR_ICS_DIR"`
}

// EncryptionConfig selects how transaction payloads are sealed at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a log archive backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores
	// Static credentials. When empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the transaction log.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SyncConfig holds sync engine and repair loop settings.
type SyncConfig struct {
	BestEffort          bool     `toml:"best_effort" env:"TB_BEST_EFFORT"`
	MaxRepairAttempts   int      `toml:"max_repair_attempts" env:"TB_MAX_REPAIR_ATTEMPTS"`
	PrefetchSchedule    string   `toml:"prefetch_schedule" env:"TB_PREFETCH_SCHEDULE"` // cron spec
	PrefetchDays        int      `toml:"prefetch_days"`
	FetchTimeoutSeconds int      `toml:"fetch_timeout_seconds" env:"TB_FETCH_TIMEOUT_SECONDS"`
	Constraints         []string `toml:"constraints" env:"TB_CONSTRAINTS" envSeparator:";"`
}

// GeneratorConfig selects where `tb patch` gets its edit proposals from.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type GeneratorConfig struct {
	Type string `toml:"type" env:"TB_GENERATOR_TYPE"` // "file" (default) or "command"

	// Command-specific fields (only used when Type == "command")
	Command        []string `toml:"command,omitempty"`
	TimeoutSeconds int      `toml:"timeout_seconds,omitempty"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `toml:"otlp_endpoint" env:"TB_OTLP_ENDPOINT"`
	ServiceName  string `toml:"service_name"`
}

const (
	DefaultMaxRepairAttempts   = 5
	DefaultFetchTimeoutSeconds = 20
	DefaultPrefetchSchedule    = "*/15 * * * *"
	DefaultLogLevel            = "info"
	DefaultGeneratorTimeout    = 60
)

// NewConfig creates a new Config with the provided values and defaults
// rooted at baseDir.
func NewConfig(hostID, baseDir string) *Config {
	cfg := &Config{
		HostID:    hostID,
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		SessionID: "default",
		Calendar: CalendarConfig{
			Type:   "ics",
			ID:     "primary",
			ICSDir: filepath.Join(baseDir, "calendars"),
		},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "tb.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "tb.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Telemetry: TelemetryConfig{
			ServiceName: "tb",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued settings that have a documented default.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.SessionID == "" {
		c.SessionID = "default"
	}
	if c.Sync.MaxRepairAttempts <= 0 {
		c.Sync.MaxRepairAttempts = DefaultMaxRepairAttempts
	}
	if c.Sync.FetchTimeoutSeconds <= 0 {
		c.Sync.FetchTimeoutSeconds = DefaultFetchTimeoutSeconds
	}
	if c.Sync.PrefetchSchedule == "" {
		c.Sync.PrefetchSchedule = DefaultPrefetchSchedule
	}
	if c.Sync.PrefetchDays <= 0 {
		c.Sync.PrefetchDays = 1
	}
	if c.Generator.Type == "" {
		c.Generator.Type = "file"
	}
	if c.Generator.TimeoutSeconds <= 0 {
		c.Generator.TimeoutSeconds = DefaultGeneratorTimeout
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "none"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "tb"
	}
}

// ApplyEnv overrides fields from TB_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path, applies
// environment overrides and fills defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
