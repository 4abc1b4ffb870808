package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all bridge configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr     string `json:"listen_addr"`
	EditorAddr     string `json:"editor_addr"`
	WorkflowPath   string `json:"workflow_path"`
	LogLevel       string `json:"log_level"`
	RequestTimeout string `json:"request_timeout"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     "127.0.0.1:4200",
		EditorAddr:     "127.0.0.1:4201",
		LogLevel:       "info",
		RequestTimeout: "8s",
	}
}

func bridgeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowcanvas"
	}
	return filepath.Join(home, ".flowcanvas")
}

func settingsPath() string {
	return filepath.Join(bridgeDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWCANVAS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLOWCANVAS_EDITOR_ADDR"); v != "" {
		cfg.EditorAddr = v
	}
	if v := os.Getenv("FLOWCANVAS_WORKFLOW_PATH"); v != "" {
		cfg.WorkflowPath = v
	}
	if v := os.Getenv("FLOWCANVAS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWCANVAS_REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout = v
	}

	return cfg
}

// requestTimeout parses the configured round-trip deadline, falling
// back to zero (the provider default) on a malformed value.
func (c Config) requestTimeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0
	}
	return d
}
