package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Graph        GraphConfig        `mapstructure:"graph"`
	ARM          ARMConfig          `mapstructure:"arm"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Events       EventsConfig       `mapstructure:"events"`
	Server       ServerConfig       `mapstructure:"server"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	// AuthorityURL is the token endpoint authority.
	AuthorityURL string `mapstructure:"authority_url"`
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// GraphToken and ARMToken are pre-acquired bearer tokens. When set they
	// take precedence over the client-credentials flow for that backend.
	GraphToken string `mapstructure:"graph_token"`
	ARMToken   string `mapstructure:"arm_token"`
	// PrincipalID overrides the principal resolved from the token claims.
	PrincipalID string `mapstructure:"principal_id"`
}

type GraphConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type ARMConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIVersion string `mapstructure:"api_version"`
}

type OrchestratorConfig struct {
	PacingDelay          time.Duration `mapstructure:"pacing_delay"`
	SettleDelay          time.Duration `mapstructure:"settle_delay"`
	ActivationDuration   time.Duration `mapstructure:"activation_duration"`
	DefaultJustification string        `mapstructure:"default_justification"`
}

type EventsConfig struct {
	// Brokers enables the Kafka outcome tap when non-empty.
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: PIM_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.authority_url", "https://login.microsoftonline.com")
	v.SetDefault("graph.base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("arm.base_url", "https://management.azure.com")
	v.SetDefault("arm.api_version", "2020-10-01")
	v.SetDefault("orchestrator.pacing_delay", time.Second)
	v.SetDefault("orchestrator.settle_delay", 5*time.Second)
	v.SetDefault("orchestrator.activation_duration", 8*time.Hour)
	v.SetDefault("orchestrator.default_justification", "Administrative work requirement")
	v.SetDefault("events.topic", "pim-transitions")
	v.SetDefault("server.port", "8095")

	// Environment variables (e.g. AUTH_TENANT_ID -> auth.tenant_id)
	v.SetEnvPrefix("PIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support the conventional Azure env vars without prefix
	v.BindEnv("auth.tenant_id", "AZURE_TENANT_ID")
	v.BindEnv("auth.client_id", "AZURE_CLIENT_ID")
	v.BindEnv("auth.client_secret", "AZURE_CLIENT_SECRET")
	v.BindEnv("auth.graph_token", "PIM_GRAPH_TOKEN")
	v.BindEnv("auth.arm_token", "PIM_ARM_TOKEN")
	v.BindEnv("events.brokers", "KAFKA_BROKERS")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
