/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
)

// EnvPrefix is the prefix for environment variables used to configure the agent
const EnvPrefix = "DADP_"

// Config holds all configuration for the crypto agent
type Config struct {
	Agent    AgentConfig    `koanf:"agent"`
	Logging  LoggingConfig  `koanf:"logging"`
	Admin    AdminConfig    `koanf:"admin"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
}

// AgentConfig holds the core agent configuration sections
type AgentConfig struct {
	// Alias is the caller-chosen stable instance label sent to the Hub
	Alias string `koanf:"alias"`

	// Shape selects the deployment mode: "AOP" or "WRAPPER"
	Shape string `koanf:"shape"`

	// HubURL is the Hub control-plane base URL
	HubURL string `koanf:"hub_url"`

	// CryptoURL overrides endpoint discovery for the Engine data plane
	CryptoURL string `koanf:"crypto_url"`

	// DatasourceID qualifies policy keys when one Hub tenant spans datasources
	DatasourceID string `koanf:"datasource_id"`

	// DataDir is the persistence directory; empty means ~/.dadp-<shape>
	DataDir string `koanf:"data_dir"`

	// CACertPath pins outbound TLS to a single PEM bundle when set
	CACertPath string `koanf:"ca_cert_path"`

	// EntityManifest is an optional YAML file describing entity fields for
	// host types that cannot carry struct tags
	EntityManifest string `koanf:"entity_manifest"`

	FailOpen           bool `koanf:"fail_open"`
	FallbackToOriginal bool `koanf:"fallback_to_original"`

	HTTPTimeout       time.Duration `koanf:"http_timeout"`
	SyncInterval      time.Duration `koanf:"sync_interval"`
	SchemaWaitTimeout time.Duration `koanf:"schema_wait_timeout"`

	Batch BatchConfig `koanf:"batch"`
}

// BatchConfig holds the Engine round-trip batching thresholds
type BatchConfig struct {
	MinSize  int  `koanf:"min_size"`
	MaxSize  int  `koanf:"max_size"`
	Disabled bool `koanf:"disabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`  // "debug", "info", "warn", "error"
	Format string `koanf:"format"` // "json" (default) or "console"
}

// AdminConfig holds the admin/ops HTTP server configuration
type AdminConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus metrics server configuration
type MetricsConfig struct {
	// Enabled indicates whether the metrics server should be started
	Enabled bool `koanf:"enabled"`

	// Port is the port for the metrics HTTP server
	Port int `koanf:"port"`
}

// DatabaseConfig holds the database connection the WRAPPER shape collects
// schema from
type DatabaseConfig struct {
	Vendor string `koanf:"vendor"` // "postgresql" or "sqlite"
	DSN    string `koanf:"dsn"`
}

// LoadConfig loads configuration from file, environment variables, and defaults
// Priority: Environment variables > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")

	// Load config file if a path is provided; embedded deployments configure
	// the agent purely through the environment
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load environment variables with prefix
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)

		// Custom mappings for the documented agent variables
		switch s {
		case "instance_id":
			return "agent.alias"
		case "hub_url":
			return "agent.hub_url"
		case "crypto_url":
			return "agent.crypto_url"
		case "datasource_id":
			return "agent.datasource_id"
		case "data_dir":
			return "agent.data_dir"
		case "ca_cert_path":
			return "agent.ca_cert_path"
		case "fail_open":
			return "agent.fail_open"
		case "fallback_to_original":
			return "agent.fallback_to_original"
		case "http_timeout":
			return "agent.http_timeout"
		case "sync_interval":
			return "agent.sync_interval"
		case "batch_min_size":
			return "agent.batch.min_size"
		case "batch_max_size":
			return "agent.batch.max_size"
		case "batch_disabled":
			return "agent.batch.disabled"
		case "log_level":
			return "logging.level"
		case "database_dsn":
			return "database.dsn"
		default:
			// For other DADP_ prefixed vars, use standard mapping (underscore to dot)
			// Step 1: Convert double underscore "__" into a temporary placeholder
			s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
			// Step 2: Convert single "_" into "."
			s = strings.ReplaceAll(s, "_", ".")
			// Step 3: Convert placeholder back into literal "_"
			s = strings.ReplaceAll(s, "%UNDERSCORE%", "_")
			return s
		}
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into Config struct with DecodeHook for duration strings
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config struct with default configuration values
func defaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Shape:              constants.ShapeAOP,
			FailOpen:           true,
			FallbackToOriginal: true,
			HTTPTimeout:        constants.DefaultHTTPTimeout,
			SyncInterval:       constants.DefaultSyncInterval,
			SchemaWaitTimeout:  constants.DefaultSchemaWaitTimeout,
			Batch: BatchConfig{
				MinSize:  constants.DefaultBatchMinSize,
				MaxSize:  constants.DefaultBatchMaxSize,
				Disabled: false,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Admin: AdminConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            9445,
			ShutdownTimeout: 15 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9464,
		},
		Database: DatabaseConfig{},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Agent.Alias == "" {
		return fmt.Errorf("agent.alias is required")
	}

	if c.Agent.Shape != constants.ShapeAOP && c.Agent.Shape != constants.ShapeWrapper {
		return fmt.Errorf("agent.shape must be one of: %s, %s, got: %s",
			constants.ShapeAOP, constants.ShapeWrapper, c.Agent.Shape)
	}

	if c.Agent.HubURL == "" {
		return fmt.Errorf("agent.hub_url is required")
	}
	if _, err := url.Parse(c.Agent.HubURL); err != nil {
		return fmt.Errorf("agent.hub_url is not a valid URL: %w", err)
	}

	// A crypto override must never point at the Hub control plane
	if c.Agent.CryptoURL != "" {
		parsed, err := url.Parse(c.Agent.CryptoURL)
		if err != nil {
			return fmt.Errorf("agent.crypto_url is not a valid URL: %w", err)
		}
		if strings.Contains(parsed.Path, constants.HubControlSegment) {
			return fmt.Errorf("agent.crypto_url must not contain the Hub control segment %q", constants.HubControlSegment)
		}
	}

	if c.Agent.Batch.MinSize < 1 {
		return fmt.Errorf("agent.batch.min_size must be at least 1, got: %d", c.Agent.Batch.MinSize)
	}
	if c.Agent.Batch.MaxSize < c.Agent.Batch.MinSize {
		return fmt.Errorf("agent.batch.max_size (%d) must not be below agent.batch.min_size (%d)",
			c.Agent.Batch.MaxSize, c.Agent.Batch.MinSize)
	}

	if c.Agent.HTTPTimeout <= 0 {
		return fmt.Errorf("agent.http_timeout must be positive, got: %s", c.Agent.HTTPTimeout)
	}
	if c.Agent.SyncInterval <= 0 {
		return fmt.Errorf("agent.sync_interval must be positive, got: %s", c.Agent.SyncInterval)
	}
	if c.Agent.SchemaWaitTimeout < 0 {
		return fmt.Errorf("agent.schema_wait_timeout must not be negative, got: %s", c.Agent.SchemaWaitTimeout)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console", "text":
	default:
		return fmt.Errorf("logging.format must be either 'json' or 'console', got: %s", c.Logging.Format)
	}

	// The WRAPPER shape collects schema from the database, so the vendor
	// cannot be left unset there.
	switch c.Database.Vendor {
	case "":
		if c.Agent.Shape == constants.ShapeWrapper {
			return fmt.Errorf("database.vendor is required when agent.shape is %s", constants.ShapeWrapper)
		}
	case constants.VendorPostgres, constants.VendorSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when database.vendor is %q", c.Database.Vendor)
		}
	default:
		return fmt.Errorf("database.vendor must be one of: %s, %s, got: %s",
			constants.VendorPostgres, constants.VendorSQLite, c.Database.Vendor)
	}

	return nil
}
