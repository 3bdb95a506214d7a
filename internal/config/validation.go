// internal/config/validation.go - Configuration validation
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/valpere/tilecutter/pkg/geogrid"
)

// Validate validates the configuration structure and values
func Validate(config *Config) error {
	if err := validateSource(config); err != nil {
		return fmt.Errorf("source configuration invalid: %w", err)
	}

	if err := validateRegion(&config.Region); err != nil {
		return fmt.Errorf("region configuration invalid: %w", err)
	}

	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}

	if err := validateNetwork(&config.Network); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}

	if err := validateBatch(&config.Batch); err != nil {
		return fmt.Errorf("batch configuration invalid: %w", err)
	}

	if err := validateOutput(&config.Output); err != nil {
		return fmt.Errorf("output configuration invalid: %w", err)
	}

	if err := validateFailures(&config.Failures); err != nil {
		return fmt.Errorf("failures configuration invalid: %w", err)
	}

	if err := validateLogging(&config.Logging); err != nil {
		return fmt.Errorf("logging configuration invalid: %w", err)
	}

	return nil
}

// validateSource validates source configuration parameters
func validateSource(config *Config) error {
	if strings.TrimSpace(config.Source.URL) == "" {
		return fmt.Errorf("url is required")
	}

	if config.Source.TileSize <= 0 || config.Source.TileSize > 4096 {
		return fmt.Errorf("tile_size must be between 1 and 4096")
	}

	if _, err := config.FlipRowsOverride(); err != nil {
		return err
	}

	return nil
}

// validateRegion validates the crawl region
func validateRegion(config *RegionConfig) error {
	if _, err := ParseBounds(config.Bounds); err != nil {
		return fmt.Errorf("invalid bounds: %w", err)
	}

	if config.MinZoom < 0 || config.MaxZoom > geogrid.MaxZoom {
		return fmt.Errorf("zoom levels must be between 0 and %d", geogrid.MaxZoom)
	}

	if config.MinZoom > config.MaxZoom {
		return fmt.Errorf("min_zoom %d exceeds max_zoom %d", config.MinZoom, config.MaxZoom)
	}

	return nil
}

// validateServer validates server configuration parameters
func validateServer(config *ServerConfig) error {
	if config.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}

	if config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

// validateNetwork validates network configuration parameters
func validateNetwork(config *NetworkConfig) error {
	if config.ProxyURL != "" {
		if _, err := url.Parse(config.ProxyURL); err != nil {
			return fmt.Errorf("invalid proxy_url: %w", err)
		}
	}

	if config.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns must be non-negative")
	}

	if config.UserAgent == "" {
		return fmt.Errorf("user_agent cannot be empty")
	}

	if config.KeepAlive < 0 {
		return fmt.Errorf("keep_alive must be non-negative")
	}

	if config.IdleConnTimeout < 0 {
		return fmt.Errorf("idle_conn_timeout must be non-negative")
	}

	return nil
}

// validateBatch validates pipeline sizing parameters
func validateBatch(config *BatchConfig) error {
	if config.FetchConcurrency <= 0 {
		return fmt.Errorf("fetch_concurrency must be positive")
	}

	if config.FetchConcurrency > 1000 {
		return fmt.Errorf("fetch_concurrency must not exceed 1000")
	}

	if config.WriteConcurrency <= 0 {
		return fmt.Errorf("write_concurrency must be positive")
	}

	if config.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}

	if config.QueueSize < 0 {
		return fmt.Errorf("queue_size must be non-negative")
	}

	return nil
}

// validateOutput validates output configuration parameters
func validateOutput(config *OutputConfig) error {
	if config.Filename == "" {
		return fmt.Errorf("filename is required")
	}

	if config.Directory == "" {
		return fmt.Errorf("directory is required")
	}

	validFormats := []string{"", "png", "jpg", "gif", "webp", "pbf"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("invalid format: %s, must be one of %v", config.Format, validFormats[1:])
	}

	return nil
}

func validateFailures(config *FailuresConfig) error {
	validFormats := []string{"", "json", "text"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("invalid format: %s, must be one of %v", config.Format, validFormats[1:])
	}
	return nil
}

// validateLogging validates logging configuration parameters
func validateLogging(config *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	if !contains(validLevels, config.Level) {
		return fmt.Errorf("invalid log level: %s, must be one of %v", config.Level, validLevels)
	}

	validFormats := []string{"console", "json"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("invalid log format: %s, must be one of %v", config.Format, validFormats)
	}

	if config.Output == "" {
		return fmt.Errorf("log output cannot be empty")
	}

	return nil
}

// contains checks if a string slice contains a specific string (case-insensitive)
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
