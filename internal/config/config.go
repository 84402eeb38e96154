// Package config provides configuration parsing and validation for the docwatch service.
package config

import (
	"fmt"
	"time"
)

// Queue types a docwatch worker can consume.
const (
	QueueIngest = "ingest"
	QueueAlerts = "alerts"
)

// Config holds all configuration parameters for the docwatch service.
type Config struct {
	QueueType       string
	KafkaBrokers    string
	DocumentsTopic  string
	ConsumerGroupID string
	PostgresDSN     string
	RedisAddr       string

	// PipelineFile is a YAML pipeline configuration. When empty, the configuration
	// is loaded from the Redis snapshot and reloaded when its version changes.
	PipelineFile string

	// AlertsCreatedTopic receives alert.created events. Empty disables publishing.
	AlertsCreatedTopic string

	Workers             int
	MaxChuteConcurrency int
	LockTimeout         time.Duration
	PollInterval        time.Duration
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.QueueType != QueueIngest && c.QueueType != QueueAlerts {
		return fmt.Errorf("queue-type must be %q or %q, got %q", QueueIngest, QueueAlerts, c.QueueType)
	}
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.DocumentsTopic == "" {
		return fmt.Errorf("documents-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.MaxChuteConcurrency < 0 {
		return fmt.Errorf("max-chute-concurrency cannot be negative")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock-timeout must be positive")
	}
	if c.PipelineFile == "" && c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive when pipeline-file is empty")
	}
	return nil
}
