// Package config loads the server configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Bus         BusConfig         `yaml:"bus"`
	ContextLoop ContextLoopConfig `yaml:"context_loop"`
	Intensity   IntensityConfig   `yaml:"intensity"`
	Storage     StorageConfig     `yaml:"storage"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Audit       AuditConfig       `yaml:"audit"`
	Registry    RegistryConfig    `yaml:"registry"`
	Laws        LawsConfig        `yaml:"laws"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	PubSub      PubSubConfig      `yaml:"pubsub"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type BusConfig struct {
	QueueHighWater int `yaml:"queue_high_water"`
	PerUserMailbox int `yaml:"per_user_mailbox"`
	HistoryPerType int `yaml:"history_per_type"`
	HistoryPerUser int `yaml:"history_per_user"`
}

type ContextLoopConfig struct {
	IdleTTLSeconds int `yaml:"idle_ttl_seconds"`
}

type IntensityConfig struct {
	RollingWindow int `yaml:"rolling_window"`
}

type StorageConfig struct {
	Provider       string `yaml:"provider"` // local | supabase
	LocalRoot      string `yaml:"local_root"`
	SupabaseURL    string `yaml:"supabase_url"`
	SupabaseKey    string `yaml:"supabase_key"`
	Bucket         string `yaml:"bucket"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ClassifierConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type ShutdownConfig struct {
	DeadlineSeconds int `yaml:"deadline_seconds"`
}

type AuditConfig struct {
	LogDir string `yaml:"log_dir"`
}

type RegistryConfig struct {
	OrgPrefix string `yaml:"org_prefix"`
}

type LawsConfig struct {
	CorpusPath string `yaml:"corpus_path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	Topic     string `yaml:"topic"`
}

// Defaults returns the documented default configuration.
func Defaults() *Config {
	return &Config{
		Server:      ServerConfig{Port: "8080", Env: "development"},
		Bus:         BusConfig{QueueHighWater: 10000, PerUserMailbox: 1000, HistoryPerType: 1000, HistoryPerUser: 500},
		ContextLoop: ContextLoopConfig{IdleTTLSeconds: 86400},
		Intensity:   IntensityConfig{RollingWindow: 100},
		Storage:     StorageConfig{Provider: "local", LocalRoot: "data/storage", Bucket: "documents", TimeoutSeconds: 60},
		Classifier:  ClassifierConfig{TimeoutSeconds: 30},
		Shutdown:    ShutdownConfig{DeadlineSeconds: 30},
		Audit:       AuditConfig{LogDir: "logs/audit"},
		Registry:    RegistryConfig{OrgPrefix: "TG"},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays TG_* environment variables for the values that differ
// between deployments.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.Server.Port, "TG_PORT")
	setStr(&c.Server.Env, "TG_ENV")
	setStr(&c.Storage.Provider, "TG_STORAGE_PROVIDER")
	setStr(&c.Storage.LocalRoot, "TG_STORAGE_ROOT")
	setStr(&c.Storage.SupabaseURL, "SUPABASE_URL")
	setStr(&c.Storage.SupabaseKey, "SUPABASE_SERVICE_KEY")
	setStr(&c.Storage.Bucket, "TG_STORAGE_BUCKET")
	setStr(&c.Audit.LogDir, "TG_AUDIT_DIR")
	setStr(&c.Laws.CorpusPath, "TG_LAWS_CORPUS")
	setStr(&c.Redis.Addr, "TG_REDIS_ADDR")
	setStr(&c.Redis.Password, "TG_REDIS_PASSWORD")
	setStr(&c.Postgres.DSN, "TG_POSTGRES_DSN")
	setStr(&c.PubSub.ProjectID, "TG_PUBSUB_PROJECT")
	setStr(&c.PubSub.Topic, "TG_PUBSUB_TOPIC")
	setInt(&c.Bus.QueueHighWater, "TG_BUS_HIGH_WATER")
	setInt(&c.Shutdown.DeadlineSeconds, "TG_SHUTDOWN_DEADLINE")
}

// StorageTimeout is Storage.TimeoutSeconds as a duration.
func (c *Config) StorageTimeout() time.Duration {
	return time.Duration(c.Storage.TimeoutSeconds) * time.Second
}

// ClassifierTimeout is Classifier.TimeoutSeconds as a duration.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

// ShutdownDeadline is Shutdown.DeadlineSeconds as a duration.
func (c *Config) ShutdownDeadline() time.Duration {
	return time.Duration(c.Shutdown.DeadlineSeconds) * time.Second
}

// IdleTTL is ContextLoop.IdleTTLSeconds as a duration.
func (c *Config) IdleTTL() time.Duration {
	return time.Duration(c.ContextLoop.IdleTTLSeconds) * time.Second
}
