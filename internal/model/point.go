package model

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Point is a charging point as published in the feed.
type Point struct {
	ID   PointID `json:"id"`
	Name string  `json:"name,omitempty"`
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
	// Located is false when the placemark carried no usable coordinates.
	Located bool `json:"located"`
}

// ParseCoordinates reads a KML coordinate tuple "lon,lat[,alt]".
func ParseCoordinates(s string) (lon, lat float64, err error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) < 2 {
		return 0, 0, eris.Errorf("model: coordinates %q: want lon,lat", s)
	}
	if lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		return 0, 0, eris.Wrapf(err, "model: coordinates %q: longitude", s)
	}
	if lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
		return 0, 0, eris.Wrapf(err, "model: coordinates %q: latitude", s)
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, eris.Errorf("model: coordinates %q out of range", s)
	}
	return lon, lat, nil
}
