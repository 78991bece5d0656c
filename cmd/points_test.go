package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/thotem-cli/internal/geo"
	"github.com/sells-group/thotem-cli/internal/model"
)

type recordingUploader struct {
	url  string
	body string
}

func (u *recordingUploader) Upload(_ context.Context, url string, r io.Reader) error {
	b, err := io.ReadAll(r)
	u.url, u.body = url, string(b)
	return err
}

func stubUploader(t *testing.T) *recordingUploader {
	t.Helper()
	up := &recordingUploader{}
	orig := newUploader
	newUploader = func(time.Duration) uploader { return up }
	t.Cleanup(func() { newUploader = orig })
	return up
}

var testPoints = []model.Point{
	{ID: "1", Name: "Borne", Lon: -4.48, Lat: 48.39, Located: true},
	{ID: "2"},
}

func TestWritePoints_GeoJSONFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "points.geojson")
	stats, err := writePoints(context.Background(), "geojson", out, testPoints)
	require.NoError(t, err)
	assert.Equal(t, geo.Stats{Written: 1, Unlocated: 1}, stats)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"FeatureCollection"`)
}

func TestWritePoints_GeoJSONUpload(t *testing.T) {
	up := stubUploader(t)

	_, err := writePoints(context.Background(), "GeoJSON", "ftp://maps.example.fr/irve.geojson", testPoints)
	require.NoError(t, err)
	assert.Equal(t, "ftp://maps.example.fr/irve.geojson", up.url)
	assert.Contains(t, up.body, `"Borne"`)
}

func TestWritePoints_Shapefile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "points.shp")
	stats, err := writePoints(context.Background(), "shp", out, testPoints)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)

	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		_, err := os.Stat(filepath.Join(filepath.Dir(out), "points"+ext))
		assert.NoError(t, err, ext)
	}
}

func TestWritePoints_Rejects(t *testing.T) {
	_, err := writePoints(context.Background(), "shp", "ftp://maps.example.fr/p.shp", testPoints)
	assert.ErrorContains(t, err, "locally")

	_, err = writePoints(context.Background(), "kml", "out.kml", testPoints)
	assert.ErrorContains(t, err, "unknown points format")
}
