// cmd/info.go - Inspect an MBTiles cache
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/store"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info [cache.mbtiles]",
	Short: "Show statistics, metadata and integrity of a cache",
	Long: `Print tile and image counts per zoom, the deduplication ratio, the metadata
rows and the result of an integrity check. The cache defaults to the configured
output path.

Examples:
  tilecutter info
  tilecutter info ./cache/nyc.mbtiles --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().Bool("json", false, "print the report as JSON")
	infoCmd.Flags().Bool("strict", false, "exit with an error when the integrity check fails")
}

// cacheReport is the output of the info command
type cacheReport struct {
	Path       string            `json:"path"`
	Stats      store.Stats       `json:"stats"`
	DedupRatio float64           `json:"dedup_ratio"`
	Metadata   map[string]string `json:"metadata"`
	Integrity  store.Integrity   `json:"integrity"`
}

func runInfo(cmd *cobra.Command, args []string) (err error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	asJSON, _ := cmd.Flags().GetBool("json")
	strict, _ := cmd.Flags().GetBool("strict")

	path := cfg.OutputPath()
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err != nil {
		return internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("cache %s not found", path), err)
	}

	cache, err := store.Open(path, store.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, cache.Close())
	}()

	ctx := cmd.Context()
	report := cacheReport{Path: path}
	if report.Stats, err = cache.Stats(ctx); err != nil {
		return err
	}
	report.DedupRatio = report.Stats.DedupRatio()
	if report.Metadata, err = cache.ReadMetadata(ctx); err != nil {
		return err
	}
	if report.Integrity, err = cache.CheckIntegrity(ctx); err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if strict && !report.Integrity.OK() {
		return internal.NewError(internal.ErrorCodeStore, "integrity check failed", nil)
	}
	return nil
}

func printReport(r cacheReport) {
	fmt.Printf("Cache:   %s\n", r.Path)
	fmt.Printf("Tiles:   %d\n", r.Stats.Tiles)
	fmt.Printf("Images:  %d (%d bytes)\n", r.Stats.Images, r.Stats.ImageBytes)
	fmt.Printf("Dedup:   %.2f tiles per image\n", r.DedupRatio)

	zooms := make([]int, 0, len(r.Stats.Zooms))
	for z := range r.Stats.Zooms {
		zooms = append(zooms, z)
	}
	slices.Sort(zooms)
	for _, z := range zooms {
		fmt.Printf("  zoom %2d: %d tiles\n", z, r.Stats.Zooms[z])
	}

	if len(r.Metadata) > 0 {
		fmt.Println("Metadata:")
		names := make([]string, 0, len(r.Metadata))
		for name := range r.Metadata {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Printf("  %s = %s\n", name, r.Metadata[name])
		}
	}

	status := "ok"
	if !r.Integrity.OK() {
		status = "FAILED"
	}
	fmt.Printf("Integrity: %s (orphan tiles %d, duplicate addresses %d, unused images %d)\n",
		status, r.Integrity.OrphanTiles, r.Integrity.DuplicateAddresses, r.Integrity.UnusedImages)
}
