package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

type ClientConfig struct {
	ServerURL    string `mapstructure:"server_url"`
	TokenFile    string `mapstructure:"token_file"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// WebsocketURL derives the /ws endpoint from the server URL.
func (c *ClientConfig) WebsocketURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

func LoadClient(path string) (*ClientConfig, error) {
	v := newViper(path)
	v.SetDefault("server_url", "http://localhost:8000")
	v.SetDefault("token_file", "")
	v.SetDefault("history_limit", 50)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.ServerURL)
	}
	if cfg.HistoryLimit <= 0 {
		return nil, fmt.Errorf("history limit must be positive")
	}
	return &cfg, nil
}

// LoadToken reads the access token persisted at path.
func LoadToken(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("token file cannot be empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}
