// Package config loads settings from an optional YAML file, a .env file
// and environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"llm-council-relay/internal/council"
	"llm-council-relay/internal/provider"
)

// RelayConfig covers the public relay server.
type RelayConfig struct {
	Addr           string        `yaml:"addr"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	ProxyTimeout   time.Duration `yaml:"proxy_timeout"`
	KeepRequests   int           `yaml:"keep_requests"`
	DataDir        string        `yaml:"data_dir"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
}

// HostConfig covers the credentialed host: its relay connection and its
// loopback HTTP API.
type HostConfig struct {
	RelayURL      string        `yaml:"relay_url"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	ReconnectBase time.Duration `yaml:"reconnect_base"`
	ReconnectMax  time.Duration `yaml:"reconnect_max"`
	MaxAttempts   int           `yaml:"max_attempts"`
	LocalAddr     string        `yaml:"local_addr"`
	DataDir       string        `yaml:"data_dir"`
	CORSOrigins   []string      `yaml:"cors_origins"`
	CatalogTTL    time.Duration `yaml:"catalog_ttl"`
}

// CouncilConfig covers the pipeline itself.
type CouncilConfig struct {
	Providers    []provider.Provider  `yaml:"providers"`
	ChairmanID   string               `yaml:"chairman_id"`
	ChairmanMode council.ChairmanMode `yaml:"chairman_mode"`
}

// OpenRouterConfig covers the model transport.
type OpenRouterConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the root configuration shared by all binaries.
type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Host       HostConfig       `yaml:"host"`
	Council    CouncilConfig    `yaml:"council"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Relay: RelayConfig{
			Addr:           ":8787",
			DefaultTimeout: 2 * time.Minute,
			MaxTimeout:     5 * time.Minute,
			ProxyTimeout:   10 * time.Second,
			KeepRequests:   50,
			DataDir:        "data/requests",
		},
		Host: HostConfig{
			RelayURL:      "ws://localhost:8787/ws",
			PingInterval:  30 * time.Second,
			ReconnectBase: 2 * time.Second,
			ReconnectMax:  30 * time.Second,
			MaxAttempts:   10,
			LocalAddr:     ":8001",
			DataDir:       "data/conversations",
			CatalogTTL:    time.Hour,
		},
		Council: CouncilConfig{
			Providers:    provider.Defaults(),
			ChairmanID:   "gemini",
			ChairmanMode: council.ChairmanSingle,
		},
		OpenRouter: OpenRouterConfig{
			BaseURL: "https://openrouter.ai/api/v1/chat/completions",
			Timeout: 120 * time.Second,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// at path (skipped when empty or missing), then .env, then environment
// variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
			log.Printf("[config] no config file at %s, using defaults", path)
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file %s: %w", path, err)
			}
			log.Printf("[config] loaded %s", path)
		}
	}

	loadDotEnv()
	applyEnv(&cfg)

	if len(cfg.Council.Providers) == 0 {
		cfg.Council.Providers = provider.Defaults()
	}

	return cfg, nil
}

// loadDotEnv looks for a .env file in the usual spots. Absence is fine,
// environment variables still apply.
func loadDotEnv() {
	for _, envPath := range []string{".env", "../.env"} {
		absPath, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}
		if _, err := os.Stat(absPath); err == nil {
			if err := godotenv.Load(absPath); err == nil {
				log.Printf("[config] loaded .env from %s", absPath)
				return
			}
		}
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.OpenRouter.APIKey, "OPENROUTER_API_KEY")
	setString(&cfg.OpenRouter.BaseURL, "OPENROUTER_API_URL")
	setString(&cfg.Relay.Addr, "RELAY_ADDR")
	setString(&cfg.Relay.DataDir, "RELAY_DATA_DIR")
	setString(&cfg.Relay.RedisAddr, "RELAY_REDIS_ADDR")
	setString(&cfg.Relay.RedisPassword, "RELAY_REDIS_PASSWORD")
	setInt(&cfg.Relay.RedisDB, "RELAY_REDIS_DB")
	setInt(&cfg.Relay.KeepRequests, "RELAY_KEEP_REQUESTS")
	setString(&cfg.Host.RelayURL, "RELAY_URL")
	setString(&cfg.Host.LocalAddr, "LOCAL_API_ADDR")
	setString(&cfg.Host.DataDir, "DATA_DIR")
	setString(&cfg.Council.ChairmanID, "COUNCIL_CHAIRMAN")

	if v := os.Getenv("COUNCIL_CHAIRMAN_MODE"); v != "" {
		cfg.Council.ChairmanMode = council.ChairmanMode(v)
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		cfg.Host.CORSOrigins = origins
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
