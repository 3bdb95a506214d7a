// cmd/resolve.go - Show the request behind one tile
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/config"
	"github.com/valpere/tilecutter/internal/tile"
	"github.com/valpere/tilecutter/pkg/geogrid"
	"github.com/valpere/tilecutter/pkg/mvt"
)

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the request URL and bounds of one tile",
	Long: `Resolve a TMS tile coordinate (row 0 at the south edge) against the configured
source and print the request URL, quadkey and bounds. With --fetch the tile is
downloaded and written to a file, which helps checking a source before seeding.

Examples:
  tilecutter resolve --source-type osm --url "http://tile.openstreetmap.org" --z 7 --x 29 --y 77
  tilecutter resolve --url "http://example.com/ArcGIS/rest/services/Roads/MapServer" --z 7 --x 29 --y 77 --fetch tile.png
  tilecutter resolve --source-type wms130 --url "http://example.com/wms" --params "LAYERS=roads" --z 3 --x 1 --y 6 --json`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().Int("z", 0, "zoom level")
	resolveCmd.Flags().Int("x", 0, "tile column")
	resolveCmd.Flags().Int("y", 0, "tile row (TMS)")
	resolveCmd.Flags().String("fetch", "", "download the tile into this file ('-' for stdout)")
	resolveCmd.Flags().Bool("json", false, "print the result as JSON")
	resolveCmd.Flags().Bool("geojson", false, "write a fetched vector tile as GeoJSON instead of raw bytes")

	resolveCmd.MarkFlagRequired("z")
	resolveCmd.MarkFlagRequired("x")
	resolveCmd.MarkFlagRequired("y")
}

// resolution describes one resolved tile
type resolution struct {
	Coordinate  tile.Coordinate `json:"coordinate"`
	Source      string          `json:"source"`
	URL         string          `json:"url"`
	QuadKey     string          `json:"quadkey"`
	XYZRow      int             `json:"xyz_row"`
	GeoBounds   [4]float64      `json:"geo_bounds"`
	MeterBounds [4]float64      `json:"meter_bounds"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	z, _ := cmd.Flags().GetInt("z")
	x, _ := cmd.Flags().GetInt("x")
	y, _ := cmd.Flags().GetInt("y")
	fetchTo, _ := cmd.Flags().GetString("fetch")
	asJSON, _ := cmd.Flags().GetBool("json")
	asGeoJSON, _ := cmd.Flags().GetBool("geojson")

	c := tile.Coordinate{Level: z, Column: x, Row: y}
	if err := tile.ValidateCoordinate(c); err != nil {
		return err
	}

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}

	grid := geogrid.New(cfg.Source.TileSize)
	geo := grid.TileGeoBounds(x, y, z)
	meters := grid.TileBounds(x, y, z)

	res := resolution{
		Coordinate:  c,
		Source:      resolver.Name(),
		URL:         resolver.TileURL(c),
		QuadKey:     geogrid.QuadKey(z, x, y),
		XYZRow:      geogrid.FlipRow(z, y),
		GeoBounds:   [4]float64{geo.Min.X(), geo.Min.Y(), geo.Max.X(), geo.Max.Y()},
		MeterBounds: [4]float64{meters.Min.X(), meters.Min.Y(), meters.Max.X(), meters.Max.Y()},
	}

	if err := printResolution(res, asJSON); err != nil {
		return err
	}

	if fetchTo == "" {
		return nil
	}
	return fetchTile(cmd.Context(), cfg, c, res.URL, fetchTo, asGeoJSON)
}

func printResolution(res resolution, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("Tile:    %s (TMS), xyz row %d\n", res.Coordinate, res.XYZRow)
	fmt.Printf("Source:  %s\n", res.Source)
	fmt.Printf("URL:     %s\n", res.URL)
	fmt.Printf("QuadKey: %s\n", res.QuadKey)
	fmt.Printf("Bounds:  %.6f,%.6f,%.6f,%.6f (lon/lat)\n", res.GeoBounds[0], res.GeoBounds[1], res.GeoBounds[2], res.GeoBounds[3])
	fmt.Printf("         %.2f,%.2f,%.2f,%.2f (EPSG:3857)\n", res.MeterBounds[0], res.MeterBounds[1], res.MeterBounds[2], res.MeterBounds[3])
	return nil
}

func fetchTile(ctx context.Context, cfg *config.Config, c tile.Coordinate, url, dest string, asGeoJSON bool) error {
	fetcher, err := tile.NewFetcherFactory(cfg).CreateFetcherFor(url)
	if err != nil {
		return err
	}

	if cfg.Server.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Server.Timeout)
		defer cancel()
	}

	data, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to fetch tile: %w", err)
	}

	format := tile.DetectFormat(data)
	if format == "" {
		format = "unknown"
	}

	if format == tile.FormatPBF || asGeoJSON {
		if data, err = inspectVectorTile(c, data, asGeoJSON); err != nil {
			return err
		}
	}

	if dest == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to write %s", dest), err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d bytes (%s) to %s\n", len(data), format, dest)
	return nil
}

// inspectVectorTile prints the layers of a vector tile and optionally converts it to GeoJSON
func inspectVectorTile(c tile.Coordinate, data []byte, asGeoJSON bool) ([]byte, error) {
	summary, err := mvt.Inspect(data)
	if err != nil && !asGeoJSON {
		fmt.Fprintf(os.Stderr, "Not a vector tile: %v\n", err)
		return data, nil
	}
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeValidation, "tile is not a vector tile", err)
	}
	for _, l := range summary.Layers {
		fmt.Fprintf(os.Stderr, "Layer %s: %d features %v\n", l.Name, l.Features, l.Geometries)
	}

	if !asGeoJSON {
		return data, nil
	}

	fc, err := mvt.DecodeGeoJSON(data, c.Level, c.Column, c.Row)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeValidation, "failed to decode vector tile", err)
	}
	return fc.MarshalJSON()
}
