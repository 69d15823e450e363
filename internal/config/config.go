// Package config loads service settings from an optional YAML file and
// METAGEN_* environment variables.
package config

import "time"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Profiles    ProfilesConfig    `mapstructure:"profiles"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"gt=0,lt=65536"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" validate:"dive,url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// MaxBodyBytes caps a generate request, base64 images included.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"gt=0"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url" validate:"required"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gt=0"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`
}

type CredentialsConfig struct {
	// EncryptionKey seals owner API keys at rest: 32 bytes, hex encoded.
	EncryptionKey   string `mapstructure:"encryption_key" validate:"required,len=64,hexadecimal"`
	SharedOpenAIKey string `mapstructure:"shared_openai_key"`
}

type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	TextModel      string        `mapstructure:"text_model" validate:"required"`
	VisionModel    string        `mapstructure:"vision_model" validate:"required"`
	MaxConcurrency int           `mapstructure:"max_concurrency" validate:"gte=1"`
	MinDelay       time.Duration `mapstructure:"min_delay" validate:"gte=0"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type ProvidersConfig struct {
	OpenAI ProviderConfig `mapstructure:"openai"`
	Gemini ProviderConfig `mapstructure:"gemini"`
}

// PricingConfig is the credit cost per file for each credential tier.
type PricingConfig struct {
	SharedText   int `mapstructure:"shared_text" validate:"gt=0"`
	SharedVision int `mapstructure:"shared_vision" validate:"gt=0"`
	OwnText      int `mapstructure:"own_text" validate:"gt=0"`
	OwnVision    int `mapstructure:"own_vision" validate:"gt=0"`
}

type BatchConfig struct {
	MaxFiles     int           `mapstructure:"max_files" validate:"gt=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	RunTimeout   time.Duration `mapstructure:"run_timeout" validate:"gt=0"`
	QueueWorkers int           `mapstructure:"queue_workers" validate:"gt=0"`
}

type ProfilesConfig struct {
	// Path to a YAML catalog. Empty selects the embedded catalog.
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}
