// Package discovery lists the charging points published in the Qualifelec
// IRVE KML feed.
package discovery

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/fetcher"
	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/resilience"
)

// PlacemarkPrefix is stripped from each placemark id to obtain the point id.
const PlacemarkPrefix = "placemark"

// placemark is the subset of a KML Placemark the feed needs.
type placemark struct {
	ID          string `xml:"id,attr"`
	Name        string `xml:"name"`
	Coordinates string `xml:"Point>coordinates"`
}

// Discoverer downloads the feed and extracts point ids.
type Discoverer struct {
	fetcher fetcher.Fetcher
	feedURL string
	limit   int
}

// New creates a Discoverer. A positive limit stops reading the feed after
// that many placemarks, for development runs against a reduced set.
func New(f fetcher.Fetcher, feedURL string, limit int) *Discoverer {
	return &Discoverer{fetcher: f, feedURL: feedURL, limit: limit}
}

// Discover downloads the feed once and returns the point ids in document
// order. Ids are neither deduplicated nor reordered. Every failure,
// including an unparseable document, is a resilience.KindTransport error.
func (d *Discoverer) Discover(ctx context.Context) ([]model.PointID, error) {
	points, err := d.DiscoverPoints(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]model.PointID, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	return ids, nil
}

// DiscoverPoints is Discover with the placemark name and position kept.
// A placemark with missing or malformed coordinates is still returned,
// with Located false.
func (d *Discoverer) DiscoverPoints(ctx context.Context) ([]model.Point, error) {
	const op = "discover"
	log := zap.L().With(zap.String("component", "discovery"), zap.String("feed_url", d.feedURL))

	body, err := d.fetcher.Download(ctx, d.feedURL)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer body.Close() //nolint:errcheck

	pmCh, errCh := fetcher.StreamElements[placemark](ctx, body, fetcher.ElementOptions{Name: "Placemark", Limit: d.limit})

	var points []model.Point
	var skipped, unlocated int
	for pm := range pmCh {
		id := strings.TrimPrefix(strings.TrimSpace(pm.ID), PlacemarkPrefix)
		if id == "" {
			skipped++
			continue
		}
		p := model.Point{ID: model.PointID(id), Name: strings.TrimSpace(pm.Name)}
		if lon, lat, err := model.ParseCoordinates(pm.Coordinates); err == nil {
			p.Lon, p.Lat, p.Located = lon, lat, true
		} else {
			unlocated++
		}
		points = append(points, p)
	}
	if err := <-errCh; err != nil {
		return nil, resilience.E(resilience.KindTransport, op, eris.Wrap(err, "parse feed"))
	}

	if skipped > 0 {
		log.Warn("placemarks without id skipped", zap.Int("skipped", skipped))
	}
	if unlocated > 0 {
		log.Debug("placemarks without coordinates", zap.Int("count", unlocated))
	}
	log.Info("points discovered", zap.Int("points", len(points)), zap.Int("limit", d.limit))
	return points, nil
}
