package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"atlas/internal/config"
	"atlas/internal/services"
)

const (
	defaultFeedTimeout = 30 * time.Second
	maxFeedBytes       = 32 << 20
)

// Fetcher performs bounded GET requests with a fixed User-Agent.
type Fetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

// NewFetcher builds a fetcher. A non-positive timeout falls back to 30s.
func NewFetcher(client *http.Client, userAgent string, timeout time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	return &Fetcher{client: client, userAgent: strings.TrimSpace(userAgent), timeout: timeout}
}

// NewFetcherFromConfig uses the feed timeout and download User-Agent.
func NewFetcherFromConfig(cfg *config.Config) *Fetcher {
	return NewFetcher(&http.Client{}, cfg.Download.UserAgent, config.StageTimeout(cfg.Timeouts.Feed))
}

// Get returns the body of rawURL. 429, 5xx and network failures are
// transient; other 4xx responses are permanent.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "ingest", "fetch", rawURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.Classify(ctx.Err()), "ingest", "fetch", rawURL, err)
		}
		return nil, services.Wrap(services.ErrTransient, "ingest", "fetch", rawURL, err)
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return nil, services.Wrap(services.ErrTransient, "ingest", "fetch", fmt.Sprintf("%s returned %d", rawURL, code), nil)
	case code >= http.StatusBadRequest:
		return nil, services.Wrap(services.ErrPermanent, "ingest", "fetch", fmt.Sprintf("%s returned %d", rawURL, code), nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ingest", "read body", rawURL, err)
	}
	return body, nil
}
