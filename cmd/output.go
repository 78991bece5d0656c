package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/thotem-cli/internal/fetcher"
)

// uploader stores a document at a remote URL.
type uploader interface {
	Upload(ctx context.Context, url string, r io.Reader) error
}

// newUploader is swapped in tests.
var newUploader = func(timeout time.Duration) uploader {
	return fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout})
}

func isRemote(dest string) bool {
	return strings.HasPrefix(strings.ToLower(dest), "ftp://")
}

// writeOutput runs write against a local file, or buffers it and uploads the
// result when dest is an ftp:// URL.
func writeOutput(ctx context.Context, dest string, write func(w io.Writer) error) error {
	if isRemote(dest) {
		var buf bytes.Buffer
		if err := write(&buf); err != nil {
			return err
		}
		var timeout time.Duration
		if cfg != nil {
			timeout = cfg.Fetch.Timeout()
		}
		return newUploader(timeout).Upload(ctx, dest, &buf)
	}

	f, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "create output")
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "flush output")
	}
	return eris.Wrap(f.Close(), "close output")
}
