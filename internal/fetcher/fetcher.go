// Package fetcher downloads remote documents and stream-decodes the XML, CSV
// and JSON formats the feed and exports use.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body. Failures are
	// classified as resilience.KindTransport.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}
