package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/resilience"
)

// FTPOptions configures FTPFetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher reads and writes files on FTP servers. Credentials come from the
// URL user info; without them the session logs in anonymously.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates an FTPFetcher. The timeout defaults to 30s.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

type ftpTarget struct {
	addr     string
	path     string
	user     string
	password string
}

func parseFTPTarget(raw string) (ftpTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "ftp: parse url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("ftp: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return ftpTarget{}, eris.Errorf("ftp: %s has no host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		return ftpTarget{}, eris.Errorf("ftp: %s has no file path", raw)
	}

	t := ftpTarget{addr: u.Host, path: u.Path, user: "anonymous", password: "anonymous@"}
	if u.Port() == "" {
		t.addr = net.JoinHostPort(u.Hostname(), "21")
	}
	if u.User != nil && u.User.Username() != "" {
		t.user = u.User.Username()
		t.password, _ = u.User.Password()
	}
	return t, nil
}

func (f *FTPFetcher) connect(ctx context.Context, t ftpTarget) (*ftp.ServerConn, error) {
	zap.L().Debug("ftp: connecting", zap.String("addr", t.addr), zap.String("path", t.path))

	conn, err := ftp.Dial(t.addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, resilience.E(resilience.KindTransport, "ftp: dial "+t.addr, err)
	}
	if err := conn.Login(t.user, t.password); err != nil {
		_ = conn.Quit()
		return nil, resilience.E(resilience.KindTransport, "ftp: login", err)
	}
	return conn, nil
}

// ftpBody closes the transfer and then the session.
type ftpBody struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Close() error {
	err := b.Response.Close()
	if qerr := b.conn.Quit(); err == nil && qerr != nil {
		err = qerr
	}
	if err != nil {
		return eris.Wrap(err, "ftp: close transfer")
	}
	return nil
}

// Download retrieves the file at ftpURL. Closing the body ends the session.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	t, err := parseFTPTarget(ftpURL)
	if err != nil {
		return nil, resilience.E(resilience.KindTransport, "ftp: download", err)
	}
	conn, err := f.connect(ctx, t)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(t.path)
	if err != nil {
		_ = conn.Quit()
		return nil, resilience.E(resilience.KindTransport, "ftp: retrieve "+t.path, err)
	}
	return &ftpBody{Response: resp, conn: conn}, nil
}

// Upload stores r at ftpURL, replacing any existing file.
func (f *FTPFetcher) Upload(ctx context.Context, ftpURL string, r io.Reader) error {
	t, err := parseFTPTarget(ftpURL)
	if err != nil {
		return err
	}
	conn, err := f.connect(ctx, t)
	if err != nil {
		return err
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Stor(t.path, r); err != nil {
		return resilience.E(resilience.KindTransport, "ftp: store "+t.path, err)
	}
	zap.L().Info("ftp: uploaded", zap.String("addr", t.addr), zap.String("path", t.path))
	return nil
}
