// Package config provides configuration parsing and validation for the notifier service.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all configuration parameters for the notifier service.
type Config struct {
	HTTPAddr        string
	KafkaBrokers    string
	EventsTopic     string
	ConsumerGroupID string
	RedisAddr       string
	PostgresDSN     string
	FanoutChannel   string
	ProcessID       string
	WebhookURL      string
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	MetricsInterval time.Duration
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http-addr cannot be empty")
	}
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.EventsTopic == "" {
		return fmt.Errorf("events-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.FanoutChannel == "" {
		return fmt.Errorf("fanout-channel cannot be empty")
	}
	if c.ProcessID == "" {
		return fmt.Errorf("process-id cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session-ttl must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep-interval must be > 0")
	}
	return nil
}

// GetEnvOrDefault returns the environment variable value or a default if not set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MaskDSN masks sensitive information in a DSN for logging.
func MaskDSN(dsn string) string {
	if len(dsn) > 50 {
		return dsn[:20] + "***" + dsn[len(dsn)-20:]
	}
	return "***"
}
