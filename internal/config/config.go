package config

import (
	"fmt"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"skylift/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Storage   StorageConfig   `yaml:"storage"`
	Bluesky   BlueskyConfig   `yaml:"bluesky"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

// StorageConfig selects where archive images land. Type "local" keeps
// objects under LocalDir; type "s3" uses the configured bucket.
type StorageConfig struct {
	Type          string `yaml:"type"`
	LocalDir      string `yaml:"local_dir"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type BlueskyConfig struct {
	Host string `yaml:"host"`
	// CredentialKey encrypts the stored app password; the server refuses to
	// start without it rather than fall back to plaintext storage.
	CredentialKey string `yaml:"credential_key"`
}

type SchedulerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Interval    string `yaml:"interval"`
	MaxAttempts int    `yaml:"max_attempts"`
}

type NotifyConfig struct {
	Email    string `yaml:"email"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	SMTPUser string `yaml:"smtp_user"`
	SMTPPass string `yaml:"smtp_pass"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5717
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "uploads"
	}
	if cfg.Bluesky.Host == "" {
		cfg.Bluesky.Host = "https://bsky.social"
	}
	if cfg.Scheduler.Interval == "" {
		cfg.Scheduler.Interval = "1m"
	}
	if cfg.Scheduler.MaxAttempts == 0 {
		cfg.Scheduler.MaxAttempts = 5
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would otherwise fail silently at
// runtime: a missing credential key, an S3 store without a bucket, or a
// notification target without SMTP connectivity.
func (c *Config) Validate() error {
	if c.Bluesky.CredentialKey == "" {
		return fmt.Errorf("bluesky.credential_key is required")
	}
	if c.Storage.Type == "s3" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.type is s3")
	}
	if c.Notify.Email != "" && c.Notify.SMTPHost == "" {
		return fmt.Errorf("notify.smtp_host is required when notify.email is set")
	}
	return nil
}
