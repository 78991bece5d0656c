// Package geo writes charging-point locations as GeoJSON or as an ESRI
// point shapefile. Points without coordinates are skipped and counted.
package geo

import (
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/thotem-cli/internal/model"
)

// SRID of the feed coordinates (WGS 84).
const SRID = 4326

// Shapefile attribute columns. DBF names are limited to 10 characters.
const (
	FieldID   = "POINT_ID"
	FieldName = "NAME"

	idSize   = 32
	nameSize = 128
)

// Stats counts the points written and skipped.
type Stats struct {
	Written   int
	Unlocated int
}

func located(points []model.Point) ([]model.Point, int) {
	out := make([]model.Point, 0, len(points))
	for _, p := range points {
		if p.Located {
			out = append(out, p)
		}
	}
	return out, len(points) - len(out)
}

func pointGeom(p model.Point) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(SRID)
}

// WriteGeoJSON writes one FeatureCollection with a Point feature per located
// point. The feature id is the point id; the name goes to properties.
func WriteGeoJSON(w io.Writer, points []model.Point) (Stats, error) {
	pts, skipped := located(points)

	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(pts))}
	bounds := geom.NewBounds(geom.XY)
	for _, p := range pts {
		g := pointGeom(p)
		bounds.Extend(g)
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         string(p.ID),
			Geometry:   g,
			Properties: map[string]any{"name": p.Name},
		})
	}
	if len(pts) > 0 {
		fc.BBox = bounds
	}

	b, err := json.Marshal(&fc)
	if err != nil {
		return Stats{}, eris.Wrap(err, "geo: encode geojson")
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return Stats{}, eris.Wrap(err, "geo: write geojson")
	}
	return Stats{Written: len(pts), Unlocated: skipped}, nil
}

// WriteShapefile creates path (.shp) and its .shx and .dbf siblings.
func WriteShapefile(path string, points []model.Point) (Stats, error) {
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		return Stats{}, eris.Errorf("geo: shapefile path %q must end in .shp", path)
	}
	pts, skipped := located(points)

	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return Stats{}, eris.Wrap(err, "geo: create shapefile")
	}
	defer w.Close()

	if err := w.SetFields([]shp.Field{
		shp.StringField(FieldID, idSize),
		shp.StringField(FieldName, nameSize),
	}); err != nil {
		return Stats{}, eris.Wrap(err, "geo: set shapefile fields")
	}

	for _, p := range pts {
		row := int(w.Write(&shp.Point{X: p.Lon, Y: p.Lat}))
		if err := w.WriteAttribute(row, 0, truncate(string(p.ID), idSize)); err != nil {
			return Stats{}, eris.Wrapf(err, "geo: write id of point %s", p.ID)
		}
		if err := w.WriteAttribute(row, 1, truncate(p.Name, nameSize)); err != nil {
			return Stats{}, eris.Wrapf(err, "geo: write name of point %s", p.ID)
		}
	}
	return Stats{Written: len(pts), Unlocated: skipped}, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
