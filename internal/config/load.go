package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "METAGEN"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", 100<<20)

	v.SetDefault("database.max_conns", 10)

	v.SetDefault("providers.openai.text_model", "gpt-4o-mini")
	v.SetDefault("providers.openai.vision_model", "gpt-4o")
	v.SetDefault("providers.openai.max_concurrency", 8)
	v.SetDefault("providers.openai.min_delay", 0)
	v.SetDefault("providers.openai.timeout", 60*time.Second)

	v.SetDefault("providers.gemini.text_model", "gemini-1.5-flash")
	v.SetDefault("providers.gemini.vision_model", "gemini-2.0-flash-001")
	v.SetDefault("providers.gemini.max_concurrency", 1)
	v.SetDefault("providers.gemini.min_delay", 4*time.Second)
	v.SetDefault("providers.gemini.timeout", 60*time.Second)

	v.SetDefault("pricing.shared_text", 10)
	v.SetDefault("pricing.shared_vision", 50)
	v.SetDefault("pricing.own_text", 3)
	v.SetDefault("pricing.own_vision", 5)

	v.SetDefault("batch.max_files", 500)
	v.SetDefault("batch.max_attempts", 3)
	v.SetDefault("batch.run_timeout", 2*time.Hour)
	v.SetDefault("batch.queue_workers", 10)

	v.SetDefault("log.level", "info")
}

// Keys without a default are invisible to AutomaticEnv and must be bound.
var boundKeys = []string{
	"database.url",
	"auth.jwt_secret",
	"credentials.encryption_key",
	"credentials.shared_openai_key",
	"providers.openai.base_url",
	"providers.gemini.base_url",
	"profiles.path",
}

// Load reads configuration. An explicit file path must exist; with an empty
// path config.yaml is looked up in . and ./config and may be absent.
// Environment variables win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range boundKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
