package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/discovery"
	"github.com/sells-group/thotem-cli/internal/geo"
	"github.com/sells-group/thotem-cli/internal/model"
)

var (
	pointsFormat string
	pointsOut    string
	pointsLimit  int
)

var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "Map the charging points of the feed",
	Long: "Downloads the KML feed and writes every located point as GeoJSON (file or ftp:// URL) " +
		"or as a point shapefile. The correspondent endpoint is not called.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("limit") {
			cfg.Feed.Limit = pointsLimit
		}
		if err := cfg.Validate("points"); err != nil {
			return err
		}

		ctx := cmd.Context()
		points, err := discovery.New(feedFetcher(cfg), cfg.Feed.URL, cfg.Feed.Limit).DiscoverPoints(ctx)
		if err != nil {
			return err
		}

		stats, err := writePoints(ctx, pointsFormat, pointsOut, points)
		if err != nil {
			return err
		}
		zap.L().Info("points written",
			zap.String("format", pointsFormat),
			zap.String("out", pointsOut),
			zap.Int("written", stats.Written),
			zap.Int("unlocated", stats.Unlocated),
		)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d points written to %s (%d without coordinates)\n",
			stats.Written, pointsOut, stats.Unlocated)
		return nil
	},
}

func writePoints(ctx context.Context, format, out string, points []model.Point) (geo.Stats, error) {
	switch strings.ToLower(format) {
	case "geojson":
		var stats geo.Stats
		err := writeOutput(ctx, out, func(w io.Writer) error {
			var werr error
			stats, werr = geo.WriteGeoJSON(w, points)
			return werr
		})
		return stats, err
	case "shp":
		if isRemote(out) {
			return geo.Stats{}, eris.New("shapefiles are written locally; use --format geojson for ftp:// targets")
		}
		return geo.WriteShapefile(out, points)
	default:
		return geo.Stats{}, eris.Errorf("unknown points format %q (geojson, shp)", format)
	}
}

func init() {
	pointsCmd.Flags().StringVar(&pointsFormat, "format", "geojson", "output format: geojson or shp")
	pointsCmd.Flags().StringVar(&pointsOut, "out", "", "output file (.geojson, .shp) or ftp:// URL for geojson")
	pointsCmd.Flags().IntVar(&pointsLimit, "limit", 0, "stop after this many placemarks (0 = all)")
	_ = pointsCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(pointsCmd)
}
