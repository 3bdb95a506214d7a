// internal/config/config_test.go - Configuration tests
package config

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/tilecutter/internal"
)

func validConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Type:     "tile",
			URL:      "http://tile.openstreetmap.org",
			FlipRows: "auto",
			TileSize: 256,
		},
		Region: RegionConfig{Bounds: DefaultBounds, MinZoom: 7, MaxZoom: 10},
		Server: ServerConfig{Timeout: 10 * time.Second},
		Network: NetworkConfig{
			UserAgent:    "TileCutter/1.0",
			MaxIdleConns: 10,
		},
		Batch: BatchConfig{
			FetchConcurrency: 10,
			WriteConcurrency: 4,
			BatchSize:        50,
		},
		Output: OutputConfig{Directory: ".", Filename: "tilecache.mbtiles"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty url", func(c *Config) { c.Source.URL = "  " }, true},
		{"bad tile size", func(c *Config) { c.Source.TileSize = 0 }, true},
		{"bad flip rows", func(c *Config) { c.Source.FlipRows = "sometimes" }, true},
		{"explicit flip rows", func(c *Config) { c.Source.FlipRows = "true" }, false},
		{"zoom inverted", func(c *Config) { c.Region.MinZoom = 11 }, true},
		{"zoom too deep", func(c *Config) { c.Region.MaxZoom = 31 }, true},
		{"polar bounds", func(c *Config) { c.Region.Bounds = "-10,-90,10,10" }, true},
		{"short bounds", func(c *Config) { c.Region.Bounds = "1,2,3" }, true},
		{"negative retries", func(c *Config) { c.Server.MaxRetries = -1 }, true},
		{"zero timeout", func(c *Config) { c.Server.Timeout = 0 }, true},
		{"no fetch workers", func(c *Config) { c.Batch.FetchConcurrency = 0 }, true},
		{"no write workers", func(c *Config) { c.Batch.WriteConcurrency = 0 }, true},
		{"zero batch size", func(c *Config) { c.Batch.BatchSize = 0 }, true},
		{"unknown format", func(c *Config) { c.Output.Format = "tiff" }, true},
		{"gif format", func(c *Config) { c.Output.Format = "gif" }, false},
		{"text failure report", func(c *Config) { c.Failures.Format = "text" }, false},
		{"unknown failure report format", func(c *Config) { c.Failures.Format = "csv" }, true},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"empty user agent", func(c *Config) { c.Network.UserAgent = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseBoundsNormalizes(t *testing.T) {
	b, err := ParseBounds("-88.99, 40.56, -95.84, 35.98")
	require.NoError(t, err)
	assert.Equal(t, orb.Point{-95.84, 35.98}, b.Min)
	assert.Equal(t, orb.Point{-88.99, 40.56}, b.Max)

	_, err = ParseBounds("a,b,c,d")
	assert.Error(t, err)
}

func TestQueueCapacity(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 200, cfg.QueueCapacity())

	cfg.Batch.QueueSize = 7
	assert.Equal(t, 7, cfg.QueueCapacity())
}

func TestFlipRowsOverride(t *testing.T) {
	cfg := validConfig()

	v, err := cfg.FlipRowsOverride()
	require.NoError(t, err)
	assert.Nil(t, v)

	cfg.Source.FlipRows = "false"
	v, err = cfg.FlipRowsOverride()
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.False(t, *v)
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "export", cfg.Source.Type)
	assert.Equal(t, 7, cfg.Region.MinZoom)
	assert.Equal(t, 10, cfg.Region.MaxZoom)
	assert.Equal(t, 10, cfg.Batch.FetchConcurrency)
	assert.Equal(t, 50, cfg.Batch.BatchSize)
	assert.Equal(t, 0, cfg.Server.MaxRetries)
	assert.True(t, cfg.Output.Replace)
	assert.Equal(t, "tilecache.mbtiles", cfg.Output.Filename)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Source.Subdomains)
}

func TestLoadRejectsInvalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("source.url", "")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, internal.ErrorCodeConfig, internal.CodeOf(err))
}
