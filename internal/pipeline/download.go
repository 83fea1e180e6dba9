package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"atlas/internal/fileutil"
	"atlas/internal/services"
)

// HTTPDownloader fetches enclosures over HTTP.
type HTTPDownloader struct {
	client    *http.Client
	userAgent string
}

// NewHTTPDownloader returns a downloader sending userAgent on every request.
func NewHTTPDownloader(client *http.Client, userAgent string) *HTTPDownloader {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPDownloader{client: client, userAgent: strings.TrimSpace(userAgent)}
}

// Download streams rawURL to dest and returns the byte count. 429 and 5xx
// responses and network errors are transient; any other 4xx is permanent.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrInvalidInput, stageDownload, "request", rawURL, err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, services.Classify(ctx.Err())
		}
		return 0, services.Wrap(services.ErrTransient, stageDownload, "request", rawURL, err)
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return 0, services.Wrap(services.ErrTransient, stageDownload, "request", fmt.Sprintf("%s returned %d", rawURL, code), nil)
	case code >= http.StatusBadRequest:
		return 0, services.Wrap(services.ErrPermanent, stageDownload, "request", fmt.Sprintf("%s returned %d", rawURL, code), nil)
	}

	var written int64
	err = fileutil.WriteStreamAtomic(dest, 0o644, func(w io.Writer) error {
		n, copyErr := io.Copy(w, resp.Body)
		written = n
		return copyErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, services.Classify(ctx.Err())
		}
		return 0, services.Wrap(services.ErrTransient, stageDownload, "write", dest, err)
	}
	if written == 0 {
		return 0, services.Wrap(services.ErrPermanent, stageDownload, "write", "empty response body", nil)
	}
	return written, nil
}
