package fetcher

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/thotem-cli/internal/resilience"
)

// Router dispatches downloads on the URL scheme.
type Router struct {
	routes map[string]Fetcher
}

// NewRouter serves http and https through web and ftp through ftp. Either
// may be nil to leave its schemes unsupported.
func NewRouter(web, ftp Fetcher) *Router {
	r := &Router{routes: make(map[string]Fetcher)}
	if web != nil {
		r.routes["http"] = web
		r.routes["https"] = web
	}
	if ftp != nil {
		r.routes["ftp"] = ftp
	}
	return r
}

// Download implements Fetcher.
func (r *Router) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, resilience.E(resilience.KindTransport, "fetch: parse url", err)
	}
	f, ok := r.routes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, resilience.E(resilience.KindTransport, "fetch",
			eris.Errorf("no fetcher for scheme %q", u.Scheme))
	}
	return f.Download(ctx, rawURL)
}
