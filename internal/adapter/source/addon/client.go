// Package addon fetches Stremio add-on resources (manifest, catalog pages,
// metadata documents) with HTTP conditional revalidation.
package addon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mmcdole/kinosync/internal/adapter/source/remote"
	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/metrics"
)

const (
	defaultTimeout = 20 * time.Second
	userAgent      = "kinosync/1.0"
	clientName     = "addon"
)

var _ domain.ResourceRepository = (*Client)(nil)

// Client implements domain.ResourceRepository for one add-on base URL
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*remote.Response]
	logger     *slog.Logger
}

// NewClient creates a new add-on client. baseURL may include or omit the
// trailing /manifest.json.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/manifest.json")
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    remote.NewBreaker("addon-api", logger),
		logger:     logger,
	}
}

// Fetch retrieves a resource path. Stored validators are sent as
// preconditions; a 304 returns NotModified with no body.
func (c *Client) Fetch(ctx context.Context, path string, cond domain.ConditionalMeta) (*domain.FetchResult, error) {
	op := "GET " + path
	reqURL := c.baseURL + path

	resp, err := c.breaker.Execute(func() (*remote.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if cond.ETag != "" {
			req.Header.Set("If-None-Match", cond.ETag)
		}
		if cond.LastModified != "" {
			req.Header.Set("If-Modified-Since", cond.LastModified)
		}

		c.logger.Debug("addon request", "url", reqURL, "conditional", !cond.Empty())
		start := time.Now()
		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordRemoteRequest(clientName, 0, time.Since(start))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Error("addon request failed", "error", err)
			return nil, remote.Offline(op, err)
		}
		defer httpResp.Body.Close()
		metrics.RecordRemoteRequest(clientName, httpResp.StatusCode, time.Since(start))

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, remote.Offline(op, err)
		}
		if err := remote.Classify(op, httpResp.StatusCode, httpResp.Header); err != nil {
			c.logger.Warn("addon request error", "status", httpResp.StatusCode, "path", path)
			return nil, err
		}
		return &remote.Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
	})
	if err != nil {
		return nil, remote.BreakerError(op, err)
	}

	meta := domain.ConditionalMeta{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if resp.Status == http.StatusNotModified {
		return &domain.FetchResult{NotModified: true, Meta: meta}, nil
	}
	return &domain.FetchResult{Body: resp.Body, Meta: meta}, nil
}
