package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	Secret          string        `mapstructure:"secret"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	SendBufferSize  int           `mapstructure:"send_buffer_size"`
	MaxMessageBytes int           `mapstructure:"max_message_bytes"`
	BacklogCap      int           `mapstructure:"backlog_cap"`
	DrainGrace      time.Duration `mapstructure:"drain_grace"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	DatabaseDSN     string        `mapstructure:"database_dsn"`
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
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer_size", 32)
	v.SetDefault("max_message_bytes", 4096)
	v.SetDefault("backlog_cap", 128)
	v.SetDefault("drain_grace", "5s")
	v.SetDefault("redis_addr", "")
	v.SetDefault("database_dsn", "chatter.db")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
