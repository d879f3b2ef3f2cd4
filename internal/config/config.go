package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DefaultSecret signs dev cookie sessions only; production must override secret.
const DefaultSecret = "tripsync-dev-secret"

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	LogLevel    string        `mapstructure:"log_level"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	PongWait    time.Duration `mapstructure:"pong_wait"`
	WriteWait   time.Duration `mapstructure:"write_wait"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	Secret      string        `mapstructure:"secret"`

	// Backpressure is kick or lenient.
	Backpressure string `mapstructure:"backpressure"`

	Auth  AuthConfig  `mapstructure:"auth"`
	Rate  RateConfig  `mapstructure:"rate"`
	Store StoreConfig `mapstructure:"store"`
	ICE   ICEConfig   `mapstructure:"ice"`
}

type AuthConfig struct {
	Required  bool          `mapstructure:"required"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type RateConfig struct {
	EventsPerSec float64 `mapstructure:"events_per_sec"`
	Burst        int     `mapstructure:"burst"`
}

type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	QueueSize int    `mapstructure:"queue_size"`
}

type ICEConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("idle_timeout", "30s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("secret", DefaultSecret)
	v.SetDefault("backpressure", "kick")

	v.SetDefault("auth.required", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "tripsync")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("rate.events_per_sec", 20)
	v.SetDefault("rate.burst", 40)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", "tripsync.db")
	v.SetDefault("store.queue_size", 1024)

	v.SetDefault("ice.urls", []string{"stun:stun.l.google.com:19302"})
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults; TRIPSYNC_* env vars win.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("TRIPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Bool("auth", cfg.Auth.Required).Bool("store", cfg.Store.Enabled).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.required needs auth.jwt_secret")
	}
	// Cookie sessions carry verified user ids.
	if c.Auth.Required && (c.Secret == "" || c.Secret == DefaultSecret) {
		return fmt.Errorf("auth.required needs a non-default secret")
	}
	switch c.Backpressure {
	case "", "kick", "lenient":
	default:
		return fmt.Errorf("backpressure must be kick or lenient, got %q", c.Backpressure)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	return nil
}
