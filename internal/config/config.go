package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Engine string `mapstructure:"engine"` // hertz | echo
	Store  string `mapstructure:"store"`  // memory | redis

	RedisURL string `mapstructure:"redis_url"`

	Sync SyncConfig `mapstructure:"sync"`
}

// SyncConfig carries the reconciler tunables. The intervals and threshold are
// deliberately configuration, not contract.
type SyncConfig struct {
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	MaxDrift            float64       `mapstructure:"max_drift"`
	BufferingGraceTicks int           `mapstructure:"buffering_grace_ticks"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("engine", "hertz")
	v.SetDefault("store", "memory")
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("sync.heartbeat_interval", "2s")
	v.SetDefault("sync.tick_interval", "1s")
	v.SetDefault("sync.max_drift", 0.8)
	v.SetDefault("sync.buffering_grace_ticks", 8)

	if err := v.ReadInConfig(); err != nil {
		log.Info().Str("file", fileName).Msg("config file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
