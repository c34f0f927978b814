package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort      int
	Username     string
	Password     string
	DatabasePath string
	ConfigsDir   string
	LogLevel     string

	MonitorInterval  time.Duration
	MetricsInterval  time.Duration
	ProxyWaitTimeout time.Duration

	DefaultBots int
	MaxBots     int

	WebhookURL  string
	WebhookRate float64

	RedisAddr     string
	RedisPassword string
	RedisStream   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:          getEnvAsInt("API_PORT", 8080),
		Username:         getEnv("API_USERNAME", ""),
		Password:         getEnv("API_PASSWORD", ""),
		DatabasePath:     getEnv("DATABASE_PATH", "./data/runner.db"),
		ConfigsDir:       getEnv("CONFIGS_DIR", "./configs"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MonitorInterval:  time.Duration(getEnvAsInt("MONITOR_INTERVAL", 1)) * time.Second,
		MetricsInterval:  time.Duration(getEnvAsInt("METRICS_INTERVAL", 1)) * time.Second,
		ProxyWaitTimeout: time.Duration(getEnvAsInt("PROXY_WAIT_TIMEOUT", 5)) * time.Second,
		DefaultBots:      getEnvAsInt("DEFAULT_BOTS", 10),
		MaxBots:          getEnvAsInt("MAX_BOTS", 200),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		WebhookRate:      getEnvAsFloat("WEBHOOK_RATE", 1),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisStream:      getEnv("REDIS_STREAM", "runner:events"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges that would otherwise surface as runtime panics.
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be between 1 and 65535, got %d", c.APIPort)
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive")
	}
	if c.MetricsInterval <= 0 {
		return fmt.Errorf("METRICS_INTERVAL must be positive")
	}
	if c.ProxyWaitTimeout < 0 {
		return fmt.Errorf("PROXY_WAIT_TIMEOUT must not be negative")
	}
	if c.DefaultBots <= 0 || c.MaxBots <= 0 {
		return fmt.Errorf("DEFAULT_BOTS and MAX_BOTS must be positive")
	}
	if c.DefaultBots > c.MaxBots {
		return fmt.Errorf("DEFAULT_BOTS (%d) exceeds MAX_BOTS (%d)", c.DefaultBots, c.MaxBots)
	}
	if c.WebhookRate <= 0 {
		return fmt.Errorf("WEBHOOK_RATE must be positive")
	}
	if (c.Username == "") != (c.Password == "") {
		return fmt.Errorf("API_USERNAME and API_PASSWORD must be set together")
	}
	return nil
}

// AuthEnabled reports whether the API is protected by basic auth.
func (c *Config) AuthEnabled() bool {
	return c.Username != "" && c.Password != ""
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
