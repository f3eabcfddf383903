/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the environment,
// e.g. provider.api_key -> VOICEMIRROR_PROVIDER_API_KEY.
const EnvPrefix = "VOICEMIRROR"

// Config holds all configuration for the VoiceMirror service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Responses ResponsesConfig `mapstructure:"responses"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	NATS      NATSConfig      `mapstructure:"nats"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`    // Prefix for every returned media locator
	UploadsDir   string        `mapstructure:"uploads_dir"` // Served under /uploads/
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ProviderConfig holds the voice provider (ElevenLabs REST) configuration.
// An empty APIKey switches the service into mock mode.
type ProviderConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	ModelID         string        `mapstructure:"model_id"`
	LanguageCode    string        `mapstructure:"language_code"`
	Stability       float64       `mapstructure:"stability"`
	SimilarityBoost float64       `mapstructure:"similarity_boost"`
	Style           float64       `mapstructure:"style"`
	SpeakerBoost    bool          `mapstructure:"speaker_boost"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
}

// Enabled reports whether real provider calls should be made
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

// QuotaConfig bounds the number of custom voices kept on the provider
type QuotaConfig struct {
	Ceiling     int    `mapstructure:"ceiling"`
	Floor       int    `mapstructure:"floor"`
	CleanupKeep int    `mapstructure:"cleanup_keep"`
	NameMarker  string `mapstructure:"name_marker"`
	Strict      bool   `mapstructure:"strict"` // Serialize enforce+create behind one lock
}

// WorkerConfig sizes the background clone executor
type WorkerConfig struct {
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// ResponsesConfig configures the canned response batch
type ResponsesConfig struct {
	ScriptFile string `mapstructure:"script_file"` // YAML or TOML; empty uses the built-in script
}

// StorageConfig selects where synthesized audio is written
type StorageConfig struct {
	Backend string   `mapstructure:"backend"` // "local" or "s3"
	S3      S3Config `mapstructure:"s3"`
}

// S3Config holds settings for an S3-compatible bucket
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicURL       string `mapstructure:"public_url"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// DatabaseConfig holds SQLite configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxReconnect  int           `mapstructure:"max_reconnect"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// legacyEnv maps keys to the bare variable names older deployments use
var legacyEnv = map[string]string{
	"provider.api_key": "ELEVENLABS_API_KEY",
	"server.base_url":  "BASE_URL",
	"server.port":      "PORT",
	"database.path":    "DATABASE_PATH",
	"logging.level":    "LOG_LEVEL",
	"logging.format":   "LOG_FORMAT",
	"nats.url":         "NATS_URL",
}

// SetDefaults registers every configuration key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.base_url", "http://localhost:3000")
	v.SetDefault("server.uploads_dir", "./uploads")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "https://api.elevenlabs.io/v1")
	v.SetDefault("provider.model_id", "eleven_multilingual_v2")
	v.SetDefault("provider.language_code", "ru")
	v.SetDefault("provider.stability", 0.65)
	v.SetDefault("provider.similarity_boost", 0.85)
	v.SetDefault("provider.style", 0.3)
	v.SetDefault("provider.speaker_boost", true)
	v.SetDefault("provider.timeout", 60*time.Second)
	v.SetDefault("provider.max_concurrent", 4)

	v.SetDefault("quota.ceiling", 5)
	v.SetDefault("quota.floor", 3)
	v.SetDefault("quota.cleanup_keep", 2)
	v.SetDefault("quota.name_marker", "voicemirror")
	v.SetDefault("quota.strict", false)

	v.SetDefault("worker.workers", 2)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.job_timeout", 5*time.Minute)

	v.SetDefault("responses.script_file", "")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.public_url", "")
	v.SetDefault("storage.s3.path_style", false)

	v.SetDefault("database.path", "./data/voicemirror.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "voicemirror")
	v.SetDefault("nats.timeout", 5*time.Second)
	v.SetDefault("nats.max_reconnect", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
}

// BindEnv wires VOICEMIRROR_* variables and the legacy bare names into v
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, legacy)
	}
}

// Load builds the configuration from defaults, an optional config file and the environment
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates a prepared viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	config.Server.BaseURL = strings.TrimRight(config.Server.BaseURL, "/")

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.BaseURL == "" {
		return errors.New("server base URL must be provided")
	}

	if c.Server.UploadsDir == "" {
		return errors.New("uploads directory must be provided")
	}

	if c.Provider.Enabled() && c.Provider.BaseURL == "" {
		return errors.New("provider base URL must be provided when an API key is set")
	}

	for name, value := range map[string]float64{
		"stability":        c.Provider.Stability,
		"similarity_boost": c.Provider.SimilarityBoost,
		"style":            c.Provider.Style,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("provider %s must be within [0,1]: %v", name, value)
		}
	}

	if c.Provider.MaxConcurrent <= 0 {
		return fmt.Errorf("provider max concurrent must be positive: %d", c.Provider.MaxConcurrent)
	}

	if c.Quota.Floor < 0 || c.Quota.Ceiling <= 0 || c.Quota.Floor >= c.Quota.Ceiling {
		return fmt.Errorf("quota floor (%d) must be non-negative and below ceiling (%d)", c.Quota.Floor, c.Quota.Ceiling)
	}

	if c.Quota.CleanupKeep < 0 {
		return fmt.Errorf("quota cleanup keep must not be negative: %d", c.Quota.CleanupKeep)
	}

	if c.Worker.Workers <= 0 {
		return fmt.Errorf("worker count must be positive: %d", c.Worker.Workers)
	}

	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker queue size must be positive: %d", c.Worker.QueueSize)
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket must be provided for the s3 backend")
		}
		if c.Storage.S3.PublicURL == "" {
			return errors.New("storage.s3.public_url must be provided for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	if c.Database.Path == "" {
		return errors.New("database path must be provided")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("NATS URL must be provided when NATS is enabled")
	}

	return nil
}
