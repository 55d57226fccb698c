package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/flowforge/pipelinectl/pkg/errors"
)

// ServiceConfig is the closed set of operator-tunable knobs for the running
// service: where the durable store and coordination backend live, the
// Trigger API's bind address and callback secret, and the engine defaults
// handed to engine.SupervisorConfig.
type ServiceConfig struct {
	HTTPAddr          string        `yaml:"http_addr" validate:"required"`
	PostgresDSN       string        `yaml:"postgres_dsn" validate:"required"`
	RedisAddr         string        `yaml:"redis_addr" validate:"required"`
	CallbackSecret    string        `yaml:"callback_secret"`
	LogLevel          string        `yaml:"log_level"`
	MetricsNamespace  string        `yaml:"metrics_namespace"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"required"`
	HeartbeatTTL      time.Duration `yaml:"heartbeat_ttl" validate:"required"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace" validate:"required"`
	StatsWindowDays   int           `yaml:"stats_window_days" validate:"gt=0"`
	RiskThresholds    struct {
		Low           float64 `yaml:"low" validate:"gt=0,lt=1"`
		Medium        float64 `yaml:"medium" validate:"gt=0,lt=1"`
		High          float64 `yaml:"high" validate:"gt=0,lt=1"`
		BlockHighRisk bool    `yaml:"block_high_risk"`
	} `yaml:"risk_thresholds"`
}

// DefaultServiceConfig mirrors engine.DefaultSupervisorConfig's defaults so
// a minimal YAML file only needs to override connection strings.
func DefaultServiceConfig() ServiceConfig {
	cfg := ServiceConfig{
		HTTPAddr:          ":8080",
		LogLevel:          "info",
		MetricsNamespace:  "pipelinectl",
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTTL:      30 * time.Second,
		ShutdownGrace:     5 * time.Second,
		StatsWindowDays:   30,
	}
	cfg.RiskThresholds.Low = 0.2
	cfg.RiskThresholds.Medium = 0.4
	cfg.RiskThresholds.High = 0.7
	cfg.RiskThresholds.BlockHighRisk = true
	return cfg
}

// LoadServiceConfig reads a YAML service configuration file, applying
// DefaultServiceConfig's values for anything the file omits.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, apperrors.NewParseError(path, 0, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, apperrors.NewParseError(path, 0, err)
	}

	if cfg.HeartbeatTTL < 3*cfg.HeartbeatInterval {
		return cfg, apperrors.NewValidationError("heartbeat_ttl", "heartbeat_ttl must be at least 3x heartbeat_interval", nil)
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return cfg, apperrors.NewValidationError("", err.Error(), err)
	}
	return cfg, nil
}
