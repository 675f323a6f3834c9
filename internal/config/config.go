package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the workflow engine service.
type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Handlers struct {
		GatewayURL    string `mapstructure:"gateway_url"`
		StepTimeoutMs int    `mapstructure:"step_timeout_ms"`
	} `mapstructure:"handlers"`
	Notifier struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"notifier"`
	Definitions struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"definitions"`
	TLS struct {
		Enable       bool     `mapstructure:"enable"`
		CertFile     string   `mapstructure:"cert_file"`
		KeyFile      string   `mapstructure:"key_file"`
		Hostnames    []string `mapstructure:"hostnames"`
		Organization string   `mapstructure:"organization"`
		ValidityDays int      `mapstructure:"validity_days"`
	} `mapstructure:"tls"`
}

// StepTimeout returns the bounded timeout applied to a single handler
// invocation.
func (c *Config) StepTimeout() time.Duration {
	if c.Handlers.StepTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Handlers.StepTimeoutMs) * time.Millisecond
}

// UsePostgres reports whether a database connection is configured; without
// one the service runs on the in-memory stores only.
func (c *Config) UsePostgres() bool {
	return c.DB.Host != ""
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("handlers.step_timeout_ms", 30000)
	viper.SetDefault("db.sslmode", "disable")

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine; defaults plus env cover local runs.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
