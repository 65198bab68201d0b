package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration knobs for the delivery engine.
type Config struct {
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`
	Gateway struct {
		BaseURL         string        `mapstructure:"base_url"`
		CredentialsPath string        `mapstructure:"credentials_path"`
		RequestTimeout  time.Duration `mapstructure:"request_timeout"`
		MulticastLimit  int           `mapstructure:"multicast_limit"`
	} `mapstructure:"gateway"`
	Storage struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"storage"`
	Dispatch struct {
		BatchSize     int           `mapstructure:"batch_size"`
		Workers       int           `mapstructure:"workers"`
		TargetTimeout time.Duration `mapstructure:"target_timeout"`
		BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
		Cron          string        `mapstructure:"cron"`
	} `mapstructure:"dispatch"`
	Retention struct {
		Window time.Duration `mapstructure:"window"`
		Cron   string        `mapstructure:"cron"`
	} `mapstructure:"retention"`
	Auth struct {
		Enabled   bool   `mapstructure:"enabled"`
		Username  string `mapstructure:"username"`
		Password  string `mapstructure:"password"`
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
}

// GatewayConfigured reports whether push credentials were provided. Without
// them the dispatcher queues records but never sends.
func (c *Config) GatewayConfigured() bool {
	return strings.TrimSpace(c.Gateway.CredentialsPath) != ""
}

// Load reads the configuration from disk/environment using Viper.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("pushgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// allow env-only configuration when the file is missing
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("gateway.base_url", "http://127.0.0.1:8080")
	v.SetDefault("gateway.request_timeout", "10s")
	v.SetDefault("gateway.multicast_limit", 500)

	v.SetDefault("storage.path", "./data/pushgate.db")

	v.SetDefault("dispatch.batch_size", 100)
	v.SetDefault("dispatch.workers", 16)
	v.SetDefault("dispatch.target_timeout", "5s")
	v.SetDefault("dispatch.batch_timeout", "2m")
	v.SetDefault("dispatch.cron", "@every 1m")

	v.SetDefault("retention.window", "2160h") // 90 days
	v.SetDefault("retention.cron", "30 3 * * *")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "admin123")
	v.SetDefault("auth.jwt_secret", "change-me-secret")
}
