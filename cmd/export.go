package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/geoexport"
)

var (
	exportRunID      string
	exportMobility   string
	exportOut        string
	exportFormat     string
	exportResolution int
	exportBatchSize  int
	exportDedup      bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export aggregated features as GeoJSON, shapefile or CSV",
	Long: `Export writes an aggregated feature table in a GIS-friendly format:
GeoJSON hexagon polygons, a point shapefile, or plain CSV. Features come
from a saved run (--features-run) or from a fresh aggregation of a mobility
dump (--mobility).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := geoexport.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		res := exportResolution
		if res == 0 {
			res = cfg.Aggregate.Resolution
		}
		batch := exportBatchSize
		if batch == 0 {
			batch = cfg.Aggregate.BatchSize
		}

		features, err := loadFeatures(ctx, featureSource{
			RunID:      exportRunID,
			Mobility:   exportMobility,
			Resolution: res,
			BatchSize:  batch,
			Dedup:      exportDedup || cfg.Aggregate.TrackDevices,
		})
		if err != nil {
			return err
		}

		if err := geoexport.Write(features, format, exportOut); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("format", string(format)),
			zap.Int("cells", features.Len()),
			zap.String("output", exportOut),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRunID, "features-run", "", "export the persisted features of this run")
	exportCmd.Flags().StringVar(&exportMobility, "mobility", "", "mobility dump to aggregate features from")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (required)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "geojson", "output format: geojson, shapefile or csv")
	exportCmd.Flags().IntVar(&exportResolution, "resolution", 0, "hexagon resolution 1-15")
	exportCmd.Flags().IntVar(&exportBatchSize, "batch-size", 0, "pings per batch when aggregating")
	exportCmd.Flags().BoolVar(&exportDedup, "dedup-devices", false, "count devices exactly across batches")
	_ = exportCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(exportCmd)
}
