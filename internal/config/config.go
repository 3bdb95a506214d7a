// internal/config/config.go - Configuration management
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/viper"

	"github.com/valpere/tilecutter/internal"
)

// Config represents the complete application configuration
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Region   RegionConfig   `mapstructure:"region"`
	Server   ServerConfig   `mapstructure:"server"`
	Network  NetworkConfig  `mapstructure:"network"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Output   OutputConfig   `mapstructure:"output"`
	Failures FailuresConfig `mapstructure:"failures"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig selects the map service and how tile addresses are built for it
type SourceConfig struct {
	Type       string   `mapstructure:"type"`
	URL        string   `mapstructure:"url"`
	Params     string   `mapstructure:"params"`
	Subdomains []string `mapstructure:"subdomains"`
	FlipRows   string   `mapstructure:"flip_rows"`
	TileSize   int      `mapstructure:"tile_size"`
	BasePath   string   `mapstructure:"base_path"`
}

// RegionConfig describes the area and zoom levels to crawl
type RegionConfig struct {
	Bounds  string `mapstructure:"bounds"`
	MinZoom int    `mapstructure:"min_zoom"`
	MaxZoom int    `mapstructure:"max_zoom"`
}

// ServerConfig contains per-request settings for HTTP tile services
type ServerConfig struct {
	Headers        map[string]string `mapstructure:"headers"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	MaxRetries     int               `mapstructure:"max_retries"`
	ValidateImages bool              `mapstructure:"validate_images"`
}

// NetworkConfig contains network-related configuration
type NetworkConfig struct {
	ProxyURL         string        `mapstructure:"proxy_url"`
	UserAgent        string        `mapstructure:"user_agent"`
	KeepAlive        time.Duration `mapstructure:"keep_alive"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	IdleConnTimeout  time.Duration `mapstructure:"idle_conn_timeout"`
	DisableKeepAlive bool          `mapstructure:"disable_keep_alive"`
}

// BatchConfig contains the pipeline sizing
type BatchConfig struct {
	FetchConcurrency int `mapstructure:"fetch_concurrency"`
	WriteConcurrency int `mapstructure:"write_concurrency"`
	BatchSize        int `mapstructure:"batch_size"`
	QueueSize        int `mapstructure:"queue_size"`
}

// OutputConfig describes the cache file and its MBTiles metadata
type OutputConfig struct {
	Directory   string `mapstructure:"directory"`
	Filename    string `mapstructure:"filename"`
	Replace     bool   `mapstructure:"replace"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Format      string `mapstructure:"format"`
}

// FailuresConfig selects where per-tile failure records are reported
type FailuresConfig struct {
	File          string `mapstructure:"file"`
	Format        string `mapstructure:"format"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Progress bool   `mapstructure:"progress"`
}

// DefaultBounds is the region crawled when none is configured (min_lon,min_lat,max_lon,max_lat)
const DefaultBounds = "-95.844727,35.978006,-88.989258,40.563895"

// DefaultServiceURL is the ArcGIS MapServer used when no source URL is configured
const DefaultServiceURL = "http://sampleserver1.arcgisonline.com/ArcGIS/rest/services/Specialty/ESRI_StateCityHighway_USA/MapServer"

// Load loads configuration from various sources
func Load() (*Config, error) {
	// Set default values
	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "failed to unmarshal configuration", err)
	}

	if err := Validate(&config); err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "configuration validation failed", err)
	}

	return &config, nil
}

// setDefaults configures default values for all configuration options
func setDefaults() {
	// Source defaults
	viper.SetDefault("source.type", "export")
	viper.SetDefault("source.url", DefaultServiceURL)
	viper.SetDefault("source.params", "")
	viper.SetDefault("source.subdomains", []string{"a", "b", "c"})
	viper.SetDefault("source.flip_rows", "auto")
	viper.SetDefault("source.tile_size", 256)

	// Region defaults
	viper.SetDefault("region.bounds", DefaultBounds)
	viper.SetDefault("region.min_zoom", 7)
	viper.SetDefault("region.max_zoom", 10)

	// Server defaults
	viper.SetDefault("server.timeout", 30*time.Second)
	viper.SetDefault("server.max_retries", 0)
	viper.SetDefault("server.validate_images", false)

	// Network defaults
	viper.SetDefault("network.user_agent", "TileCutter/1.0")
	viper.SetDefault("network.keep_alive", 30*time.Second)
	viper.SetDefault("network.max_idle_conns", 100)
	viper.SetDefault("network.idle_conn_timeout", 90*time.Second)
	viper.SetDefault("network.disable_keep_alive", false)

	// Batch defaults
	viper.SetDefault("batch.fetch_concurrency", 10)
	viper.SetDefault("batch.write_concurrency", 4)
	viper.SetDefault("batch.batch_size", 50)
	viper.SetDefault("batch.queue_size", 0)

	// Output defaults
	viper.SetDefault("output.directory", ".")
	viper.SetDefault("output.filename", "tilecache.mbtiles")
	viper.SetDefault("output.replace", true)
	viper.SetDefault("output.name", "tilecache")
	viper.SetDefault("output.description", "Tile cache built by tilecutter")
	viper.SetDefault("output.format", "")

	// Failure report defaults
	viper.SetDefault("failures.redis_key", "tilecutter:failures")

	// Metrics defaults
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("logging.output", "stderr")
	viper.SetDefault("logging.progress", true)
}

// ParseBounds parses "min_lon,min_lat,max_lon,max_lat" into a normalized bound
func ParseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bounds must have 4 comma-separated values, got %d", len(parts))
	}

	var coords [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid coordinate %q: %w", part, err)
		}
		coords[i] = v
	}

	if coords[0] < -180 || coords[0] > 180 || coords[2] < -180 || coords[2] > 180 {
		return orb.Bound{}, fmt.Errorf("longitude must be between -180 and 180")
	}
	if coords[1] <= -90 || coords[1] >= 90 || coords[3] <= -90 || coords[3] >= 90 {
		return orb.Bound{}, fmt.Errorf("latitude must be strictly between -90 and 90")
	}

	// Extend normalizes corners given in any order
	b := orb.Point{coords[0], coords[1]}.Bound()
	return b.Extend(orb.Point{coords[2], coords[3]}), nil
}

// Extent returns the parsed crawl region
func (c *Config) Extent() (orb.Bound, error) {
	return ParseBounds(c.Region.Bounds)
}

// OutputPath returns the full path of the cache file
func (c *Config) OutputPath() string {
	return filepath.Join(c.Output.Directory, c.Output.Filename)
}

// QueueCapacity returns the capacity of the channel between the two pipeline stages
func (c *Config) QueueCapacity() int {
	if c.Batch.QueueSize > 0 {
		return c.Batch.QueueSize
	}
	return 4 * c.Batch.BatchSize
}

// FlipRowsOverride returns nil when the source variant should pick its own row scheme
func (c *Config) FlipRowsOverride() (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(c.Source.FlipRows)) {
	case "", "auto":
		return nil, nil
	}

	v, err := strconv.ParseBool(c.Source.FlipRows)
	if err != nil {
		return nil, fmt.Errorf("flip_rows must be auto, true or false: %w", err)
	}
	return &v, nil
}
