package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP             HTTPConfig    `yaml:"http"`
	Backend          BackendConfig `yaml:"backend"`
	DatabaseURL      string        `yaml:"database_url"`
	ProfileStateFile string        `yaml:"profile_state_file"`
	SessionStateFile string        `yaml:"session_state_file"`
	AuditLogFile     string        `yaml:"audit_log_file"`
	Retry            RetryConfig   `yaml:"retry"`
	Network          NetworkConfig `yaml:"network"`
	Bridge           BridgeConfig  `yaml:"bridge"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig points at the hosted identity service.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TokenURL       string        `yaml:"token_url"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

type NetworkConfig struct {
	ProbeAddr     string        `yaml:"probe_addr"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	Interfaces    bool          `yaml:"interfaces"`
}

// BridgeConfig guards the local HTTP bridge.
type BridgeConfig struct {
	Token          string `yaml:"token"`
	RatePerMinute  int    `yaml:"rate_per_minute"`
	RateBurst      int    `yaml:"rate_burst"`
	AllowedOrigins string `yaml:"allowed_origins"`
	// TrustProxyHeaders keys rate limits on X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

func defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:        "https://identitytoolkit.googleapis.com",
			TokenURL:       "https://securetoken.googleapis.com",
			RequestTimeout: 15 * time.Second,
		},
		ProfileStateFile: "./data/profiles.json",
		SessionStateFile: "./data/session.json",
		AuditLogFile:     "./data/audit.log",
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delay:       time.Second,
		},
		Network: NetworkConfig{
			ProbeAddr:     "1.1.1.1:443",
			ProbeTimeout:  3 * time.Second,
			ProbeInterval: 5 * time.Second,
			Interfaces:    true,
		},
		Bridge: BridgeConfig{
			RatePerMinute: 10,
			RateBurst:     5,
		},
	}
}

// Load builds the config from defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (Config, error) {
	cfg := defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.ReadTimeout = getEnvSeconds("HTTP_READ_TIMEOUT_SEC", cfg.HTTP.ReadTimeout)
	cfg.HTTP.WriteTimeout = getEnvSeconds("HTTP_WRITE_TIMEOUT_SEC", cfg.HTTP.WriteTimeout)
	cfg.HTTP.ShutdownTimeout = getEnvSeconds("HTTP_SHUTDOWN_TIMEOUT_SEC", cfg.HTTP.ShutdownTimeout)
	cfg.Backend.BaseURL = getEnv("BACKEND_BASE_URL", cfg.Backend.BaseURL)
	cfg.Backend.TokenURL = getEnv("BACKEND_TOKEN_URL", cfg.Backend.TokenURL)
	cfg.Backend.APIKey = getEnv("BACKEND_API_KEY", cfg.Backend.APIKey)
	cfg.Backend.RequestTimeout = getEnvSeconds("BACKEND_REQUEST_TIMEOUT_SEC", cfg.Backend.RequestTimeout)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.ProfileStateFile = getEnv("PROFILE_STATE_FILE", cfg.ProfileStateFile)
	cfg.SessionStateFile = getEnv("SESSION_STATE_FILE", cfg.SessionStateFile)
	cfg.AuditLogFile = getEnv("AUDIT_LOG_FILE", cfg.AuditLogFile)
	cfg.Retry.MaxAttempts = getEnvInt("PROFILE_FETCH_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.Delay = getEnvMillis("PROFILE_FETCH_RETRY_DELAY_MS", cfg.Retry.Delay)
	cfg.Network.ProbeAddr = getEnv("NETWORK_PROBE_ADDR", cfg.Network.ProbeAddr)
	cfg.Network.ProbeTimeout = getEnvSeconds("NETWORK_PROBE_TIMEOUT_SEC", cfg.Network.ProbeTimeout)
	cfg.Network.ProbeInterval = getEnvSeconds("NETWORK_PROBE_INTERVAL_SEC", cfg.Network.ProbeInterval)
	cfg.Network.Interfaces = getEnvBool("NETWORK_CHECK_INTERFACES", cfg.Network.Interfaces)
	cfg.Bridge.Token = getEnv("BRIDGE_TOKEN", cfg.Bridge.Token)
	cfg.Bridge.RatePerMinute = getEnvInt("BRIDGE_RATE_PER_MINUTE", cfg.Bridge.RatePerMinute)
	cfg.Bridge.RateBurst = getEnvInt("BRIDGE_RATE_BURST", cfg.Bridge.RateBurst)
	cfg.Bridge.AllowedOrigins = getEnv("BRIDGE_ALLOWED_ORIGINS", cfg.Bridge.AllowedOrigins)
	cfg.Bridge.TrustProxyHeaders = getEnvBool("BRIDGE_TRUST_PROXY_HEADERS", cfg.Bridge.TrustProxyHeaders)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL must not be empty")
	}
	if c.Backend.APIKey == "" {
		return fmt.Errorf("BACKEND_API_KEY must not be empty")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("BACKEND_REQUEST_TIMEOUT_SEC must be > 0")
	}
	if c.ProfileStateFile == "" {
		return fmt.Errorf("PROFILE_STATE_FILE must not be empty")
	}
	if c.SessionStateFile == "" {
		return fmt.Errorf("SESSION_STATE_FILE must not be empty")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("PROFILE_FETCH_MAX_ATTEMPTS must be >= 1")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("PROFILE_FETCH_RETRY_DELAY_MS must be >= 0")
	}
	if c.Network.ProbeInterval <= 0 {
		return fmt.Errorf("NETWORK_PROBE_INTERVAL_SEC must be > 0")
	}
	if c.Network.ProbeTimeout <= 0 {
		return fmt.Errorf("NETWORK_PROBE_TIMEOUT_SEC must be > 0")
	}
	if c.Bridge.RatePerMinute <= 0 {
		return fmt.Errorf("BRIDGE_RATE_PER_MINUTE must be > 0")
	}
	if c.Bridge.RateBurst <= 0 {
		return fmt.Errorf("BRIDGE_RATE_BURST must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}
