package trakt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mmcdole/kinosync/internal/adapter/source/remote"
	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/metrics"
)

const (
	defaultTimeout = 15 * time.Second
	apiVersion     = "2"
	userAgent      = "kinosync/1.0"
	pageLimit      = 100
	clientName     = "trakt"
)

// TokenRefresher returns a new access token after the current one was
// rejected.
type TokenRefresher func(ctx context.Context) (string, error)

// Client implements domain.TraktRepository and domain.TraktWriter.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*remote.Response]
	refresh    TokenRefresher
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit bounds outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithRefresher sets the hook used once when the access token is rejected.
func WithRefresher(fn TokenRefresher) Option {
	return func(c *Client) { c.refresh = fn }
}

// NewClient creates a new Trakt API client
func NewClient(baseURL, clientID, token string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   clientID,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = remote.NewBreaker("trakt-api", logger)
	return c
}

// SetToken updates the access token
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// call performs a request, refreshing the token and retrying once when it
// was rejected. Only the single failed call is retried.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any) (*remote.Response, error) {
	resp, err := c.do(ctx, method, path, query, body)
	if domain.KindOf(err) != domain.KindAuthExpired || c.refresh == nil {
		return resp, err
	}

	c.logger.Info("trakt token rejected, refreshing", "path", path)
	token, rerr := c.refresh(ctx)
	if rerr != nil {
		c.logger.Error("trakt token refresh failed", "error", rerr)
		return nil, err
	}
	if token == "" || token == c.currentToken() {
		return nil, err
	}
	c.SetToken(token)
	return c.do(ctx, method, path, query, body)
}

// do performs one rate-limited request through the circuit breaker.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*remote.Response, error) {
	op := method + " " + path
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	resp, err := c.breaker.Execute(func() (*remote.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("trakt-api-version", apiVersion)
		req.Header.Set("trakt-api-key", c.clientID)
		if token := c.currentToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		c.logger.Debug("trakt request", "method", method, "url", reqURL)
		start := time.Now()
		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordRemoteRequest(clientName, 0, time.Since(start))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Error("trakt request failed", "error", err)
			return nil, remote.Offline(op, err)
		}
		defer httpResp.Body.Close()
		metrics.RecordRemoteRequest(clientName, httpResp.StatusCode, time.Since(start))

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, remote.Offline(op, err)
		}
		if err := remote.Classify(op, httpResp.StatusCode, httpResp.Header); err != nil {
			c.logger.Warn("trakt request error", "status", httpResp.StatusCode, "path", path)
			return nil, err
		}
		return &remote.Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
	})
	if err != nil {
		return nil, remote.BreakerError(op, err)
	}
	return resp, nil
}

// getJSON performs a GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.call(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// postJSON performs a POST and decodes the body into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	resp, err := c.call(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// fetchAll walks every page of a list endpoint. Endpoints that do not
// paginate return a single page without pagination headers.
func fetchAll[T any](ctx context.Context, c *Client, path string, query url.Values, progress domain.ProgressFunc) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("limit", strconv.Itoa(pageLimit))

	var all []T
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))
		resp, err := c.call(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return nil, err
		}

		var items []T
		if err := json.Unmarshal(resp.Body, &items); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		all = append(all, items...)

		pages, _ := strconv.Atoi(resp.Header.Get("X-Pagination-Page-Count"))
		total, _ := strconv.Atoi(resp.Header.Get("X-Pagination-Item-Count"))
		if progress != nil {
			progress(len(all), max(total, len(all)))
		}
		if page >= pages || len(items) == 0 {
			return all, nil
		}
	}
}
