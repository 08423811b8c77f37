package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/praxislabs/scout/internal/preference"
	"github.com/praxislabs/scout/internal/store"
	"github.com/praxislabs/scout/internal/tools"
	"github.com/praxislabs/scout/internal/tracing"
	"github.com/praxislabs/scout/internal/workflow"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// HeartbeatSeconds is the SSE keepalive comment interval.
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
	// ReplayCapacity bounds the per-thread frame replay ring.
	ReplayCapacity int `mapstructure:"replay_capacity"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects and configures the thread state store.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string             `mapstructure:"backend"`
	Memory  store.MemoryConfig `mapstructure:"memory"`
	Redis   store.RedisConfig  `mapstructure:"redis"`
}

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Tools      tools.HTTPConfig  `mapstructure:"tools"`
	Workflow   workflow.Config   `mapstructure:"workflow"`
	Preference preference.Config `mapstructure:"preference"`
	Store      StoreConfig       `mapstructure:"store"`
	Tracing    tracing.Config    `mapstructure:"tracing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.heartbeat_seconds", 15)
	v.SetDefault("server.replay_capacity", 256)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("tools.model_url", "http://localhost:8000")
	v.SetDefault("tools.search_url", "http://localhost:8001")
	v.SetDefault("tools.max_results", 5)
	v.SetDefault("workflow.answer_mode", "incremental")
	v.SetDefault("preference.enabled", true)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.memory.ttl", "1h")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.ttl", "24h")
	v.SetDefault("tracing.service_name", "scout")
}

// Load reads config from CONFIG_PATH (default config/scout.yaml). A missing
// file is not an error; defaults plus SCOUT_* env overrides apply either
// way, with dots replaced by underscores (SCOUT_SERVER_ADDR and so on).
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/scout.yaml"
	}
	return LoadFile(cfgPath)
}

// LoadFile reads config from the given path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("scout")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file; run on defaults and env.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
