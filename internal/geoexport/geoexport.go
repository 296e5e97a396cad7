// Package geoexport renders an aggregated feature table for GIS tooling:
// hexagon boundary polygons as GeoJSON, cell centers as a point shapefile,
// or the plain tabular CSV.
package geoexport

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/aggregate"
	"github.com/sells-group/mobility-cli/internal/hexgrid"
)

// Format selects an export encoding.
type Format string

const (
	FormatGeoJSON   Format = "geojson"
	FormatShapefile Format = "shapefile"
	FormatCSV       Format = "csv"
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatGeoJSON:
		return FormatGeoJSON, nil
	case FormatShapefile, "shp":
		return FormatShapefile, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", eris.Errorf("geoexport: unknown format %q (want geojson, shapefile or csv)", s)
}

// Write renders the table at path in the given format.
func Write(t *aggregate.FeatureTable, format Format, path string) error {
	switch format {
	case FormatGeoJSON:
		return WriteGeoJSON(t, path)
	case FormatShapefile:
		return WriteShapefile(t, path)
	case FormatCSV:
		return WriteCSV(t, path)
	}
	return eris.Errorf("geoexport: unknown format %q", format)
}

// WriteGeoJSON writes the table as a FeatureCollection of hexagon boundary
// polygons, one feature per cell with the derived statistics as properties.
// Features are emitted in identifier order.
func WriteGeoJSON(t *aggregate.FeatureTable, path string) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, t.Len())}

	for _, c := range t.Cells() {
		stats, _ := t.Stats(c)

		poly, err := cellPolygon(c)
		if err != nil {
			return eris.Wrapf(err, "geoexport: cell %s", c)
		}

		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       c.String(),
			Geometry: poly,
			Properties: map[string]interface{}{
				"hex_id":         c.String(),
				"device_count":   stats.DeviceCount,
				"ping_count":     stats.PingCount,
				"mean_timestamp": stats.MeanTimestamp,
			},
		})
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "geoexport: encode feature collection")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "geoexport: write GeoJSON")
	}

	zap.L().Info("wrote GeoJSON export",
		zap.Int("features", t.Len()),
		zap.String("path", path),
	)
	return nil
}

// cellPolygon builds the closed hexagon outline as a (lon, lat) polygon, the
// coordinate order GeoJSON mandates.
func cellPolygon(c hexgrid.Cell) (*geom.Polygon, error) {
	bound := hexgrid.Boundary(c)
	if len(bound) == 0 {
		return nil, eris.New("empty boundary")
	}

	flat := make([]float64, 0, (len(bound)+1)*2)
	for _, v := range bound {
		flat = append(flat, v[1], v[0])
	}
	flat = append(flat, bound[0][1], bound[0][0])

	poly := geom.NewPolygon(geom.XY).SetSRID(4326)
	if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
		return nil, eris.Wrap(err, "close boundary ring")
	}
	return poly, nil
}

// shapefileFields is the DBF schema for point exports. dBASE caps field
// names at ten characters.
func shapefileFields() []shp.Field {
	return []shp.Field{
		shp.StringField("HEX_ID", 16),
		shp.NumberField("DEVICES", 12),
		shp.NumberField("PINGS", 12),
		shp.FloatField("MEAN_TS", 24, 6),
	}
}

// WriteShapefile writes cell centers as a point shapefile with the derived
// statistics as DBF attributes. The .shx and .dbf siblings land next to path.
func WriteShapefile(t *aggregate.FeatureTable, path string) error {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrap(err, "geoexport: create shapefile")
	}
	defer w.Close()

	w.SetFields(shapefileFields())

	for _, c := range t.Cells() {
		stats, _ := t.Stats(c)
		lat, lon := hexgrid.Center(c)

		row := int(w.Write(&shp.Point{X: lon, Y: lat}))

		attrs := []interface{}{
			c.String(),
			int(stats.DeviceCount),
			int(stats.PingCount),
			stats.MeanTimestamp,
		}
		for i, v := range attrs {
			if err := w.WriteAttribute(row, i, v); err != nil {
				return eris.Wrapf(err, "geoexport: cell %s attribute %d", c, i)
			}
		}
	}

	zap.L().Info("wrote shapefile export",
		zap.Int("points", t.Len()),
		zap.String("path", path),
	)
	return nil
}

// WriteCSV writes the rendered feature table as CSV.
func WriteCSV(t *aggregate.FeatureTable, path string) error {
	if err := t.Table().WriteFile(path); err != nil {
		return eris.Wrap(err, "geoexport: write CSV")
	}

	zap.L().Info("wrote CSV export",
		zap.Int("cells", t.Len()),
		zap.String("path", path),
	)
	return nil
}
