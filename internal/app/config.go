package app

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ManifestPath is a single .hcl file or a directory of .hcl files
	// declaring the node forest.
	ManifestPath string
	// BaseURL is the remote store's base URL.
	BaseURL string
	// EndpointPath overrides the bulk-create endpoint path when non-empty.
	EndpointPath string

	// BatchLimit is the maximum number of nodes per create request.
	BatchLimit int
	// WorkerCount is the number of concurrent batch executors.
	WorkerCount int
	// RequestTimeout bounds each create call.
	RequestTimeout time.Duration

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and returns it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ManifestPath == "" {
		return nil, errors.New("ManifestPath is a required configuration field and cannot be empty")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURL is a required configuration field and cannot be empty")
	}
	if cfg.BatchLimit < 1 {
		return nil, fmt.Errorf("BatchLimit must be positive, got %d", cfg.BatchLimit)
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WorkerCount must be positive, got %d", cfg.WorkerCount)
	}
	return &cfg, nil
}
