// cmd/root.go - Root command implementation
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/valpere/tilecutter/internal/config"
	"github.com/valpere/tilecutter/internal/logger"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tilecutter",
	Short: "Build offline MBTiles caches from remote map tile services",
	Long: `TileCutter crawls a geographic region across a range of zoom levels from a
remote map service and stores the tiles in a single MBTiles (SQLite) file.
Identical tile images are stored once and shared by every tile address that
uses them.

Sources:
- Slippy-map tile templates (OpenStreetMap style, optional {s} subdomains)
- ArcGIS dynamic map services (export)
- WMS 1.1.1 and 1.3.0 GetMap
- Local tile files (file:// URLs or paths, .gz inflated)

Examples:
  # Seed the default region from an ArcGIS MapServer
  tilecutter seed --url "http://example.com/ArcGIS/rest/services/Roads/MapServer" --min-zoom 7 --max-zoom 10

  # Seed OpenStreetMap tiles for a bounding box
  tilecutter seed --source-type subdomain --url "http://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png" \
    --bbox "-74.1,40.6,-73.8,40.9" --min-zoom 10 --max-zoom 12

  # Show the request for one tile
  tilecutter resolve --source-type wms130 --url "http://example.com/wms" --params "LAYERS=roads" --z 7 --x 29 --y 77

  # Inspect a cache
  tilecutter info tilecache.mbtiles`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tilecutter.yaml)")

	// Source configuration flags
	rootCmd.PersistentFlags().String("source-type", "export", "tile source type (tile, osm, subdomain, export, agsdynamic, wms111, wms130)")
	rootCmd.PersistentFlags().String("url", "", "tile URL template or map service endpoint")
	rootCmd.PersistentFlags().String("params", "", "extra request parameters: 'key=value&key=value'")
	rootCmd.PersistentFlags().StringSlice("subdomains", []string{"a", "b", "c"}, "subdomains substituted for {s}")
	rootCmd.PersistentFlags().String("flip-rows", "auto", "request rows with a north origin (auto, true, false)")
	rootCmd.PersistentFlags().Int("tile-size", 256, "tile edge in pixels")
	rootCmd.PersistentFlags().String("base-path", "", "base directory for relative local tile paths")

	// Transport flags
	rootCmd.PersistentFlags().Duration("timeout", 0, "per-tile request timeout (default 30s)")
	rootCmd.PersistentFlags().Int("retries", 0, "retry attempts for failed requests")
	rootCmd.PersistentFlags().String("user-agent", "", "HTTP User-Agent header")
	rootCmd.PersistentFlags().String("proxy", "", "HTTP proxy URL")
	rootCmd.PersistentFlags().Bool("validate-images", false, "treat non-image responses as failures")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "shorthand for --log-level debug")

	// Bind flags to viper
	bindFlags(rootCmd, map[string]string{
		"source.type":            "source-type",
		"source.url":             "url",
		"source.params":          "params",
		"source.subdomains":      "subdomains",
		"source.flip_rows":       "flip-rows",
		"source.tile_size":       "tile-size",
		"source.base_path":       "base-path",
		"server.timeout":         "timeout",
		"server.max_retries":     "retries",
		"server.validate_images": "validate-images",
		"network.user_agent":     "user-agent",
		"network.proxy_url":      "proxy",
		"logging.level":          "log-level",
		"logging.format":         "log-format",
	})
}

// bindFlags binds the persistent or local flags of cmd to viper keys
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			flag = cmd.Flags().Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %s is not defined", name))
		}
		cobra.CheckErr(viper.BindPFlag(key, flag))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// A missing .env is fine
	_ = godotenv.Load(".env")

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".tilecutter" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tilecutter")
	}

	// Environment variables
	viper.SetEnvPrefix("TILECUTTER")
	viper.AutomaticEnv() // read in environment variables that match

	if verbose, _ := rootCmd.PersistentFlags().GetBool("verbose"); verbose {
		viper.Set("logging.level", "debug")
	}

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetString("logging.level") == "debug" {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig loads the configuration and builds the logger described by it
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, log, nil
}
