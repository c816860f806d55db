package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "READROOM"

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	RedisAddr      string
	TTSBaseURL     string
	HistoryLimit   int
	Migrate        bool
}

type serverFile struct {
	Addr           string   `mapstructure:"addr"`
	DatabaseDSN    string   `mapstructure:"database_dsn"`
	SigningKey     string   `mapstructure:"signing_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RedisAddr      string   `mapstructure:"redis_addr"`
	TTSBaseURL     string   `mapstructure:"tts_base_url"`
	HistoryLimit   int      `mapstructure:"history_limit"`
	Migrate        bool     `mapstructure:"migrate"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		RedisAddr:      "localhost:6379",
		TTSBaseURL:     "http://localhost:8000/audio",
		HistoryLimit:   200,
	}, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// Load reads the server configuration from an optional YAML file, then from
// READROOM_* environment variables.
func Load(path string) (*Config, error) {
	v := newViper(path)
	v.SetDefault("addr", ":8000")
	v.SetDefault("database_dsn", "")
	v.SetDefault("signing_key", "")
	v.SetDefault("allowed_origins", []string{"http://localhost:8000"})
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("tts_base_url", "http://localhost:8000/audio")
	v.SetDefault("history_limit", 200)
	v.SetDefault("migrate", false)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var f serverFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg, err := NewConfig(f.Addr, f.DatabaseDSN, f.SigningKey, f.AllowedOrigins)
	if err != nil {
		return nil, err
	}
	if f.RedisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if f.HistoryLimit <= 0 {
		return nil, fmt.Errorf("history limit must be positive")
	}

	cfg.RedisAddr = f.RedisAddr
	cfg.TTSBaseURL = f.TTSBaseURL
	cfg.HistoryLimit = f.HistoryLimit
	cfg.Migrate = f.Migrate
	return cfg, nil
}
