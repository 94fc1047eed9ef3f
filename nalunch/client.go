// Package nalunch implements the NaLunch vendor API client used to check
// balances and settle meal and vending purchases.
package nalunch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/m3rciful/nalunchbot/core/logger"
	"github.com/m3rciful/nalunchbot/core/metrics"
)

// DefaultBaseURL is the production NaLunch API host.
const DefaultBaseURL = "https://api.nalunch.me"

// defaultRefreshInterval is the token staleness window after which the
// access token is refreshed before an authenticated call.
const defaultRefreshInterval = 5 * time.Minute

// The vendor rejects requests that do not look like its mobile app, so every
// call carries the app's header set verbatim.
var appHeaders = map[string]string{
	"Accept":          "application/json, text/plain, */*",
	"Expires":         "0",
	"Accept-Encoding": "gzip, deflate, br",
	"Accept-Language": "en-GB,en;q=0.9",
	"Cache-Control":   "no-cache, no-store, must-revalidate",
	"User-Agent":      "NaLaunch/174 CFNetwork/1410.0.3 Darwin/22.6.0",
	"Connection":      "close",
}

// StatusError reports a non-success vendor response with the body preserved
// verbatim so it can be shown to the user unchanged.
type StatusError struct {
	Op   string
	Code int
	Body string
}

// Error formats the failure the way the vendor app reports it.
func (e *StatusError) Error() string {
	return fmt.Sprintf("Unable to %s: code = %d, text = %s", e.Op, e.Code, e.Body)
}

// Client issues raw NaLunch API requests. It is shared by all accounts.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	refreshInterval time.Duration
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRefreshInterval overrides the token staleness window.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.refreshInterval = d
		}
	}
}

// NewClient builds a vendor API client for the given base URL.
// An empty baseURL selects the production host.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		refreshInterval: defaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs a single vendor call and decodes the JSON response into out.
// token is placed into the Authorization header; an empty token sends the
// header empty, matching the login/refresh requests of the vendor app.
func (c *Client) do(ctx context.Context, op, method, url string, token string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("nalunch: encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("nalunch: build %s request: %w", op, err)
	}
	for k, v := range appHeaders {
		req.Header.Set(k, v)
	}
	if token == "" {
		req.Header.Set("Authorization", "")
	} else {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.VendorCall(op, false, time.Since(start))
		logger.Error(ctx, "nalunch", "nalunch.call",
			slog.String("op", op),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("nalunch: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("nalunch: read %s response: %w", op, err)
	}
	metrics.VendorCall(op, resp.StatusCode == http.StatusOK, time.Since(start))

	logger.Debug(ctx, "nalunch", "nalunch.call",
		slog.String("op", op),
		slog.Int("http_code", resp.StatusCode),
		slog.Duration("duration", logger.Took(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: op, Code: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("nalunch: decode %s response: %w", op, err)
	}
	return nil
}

// readBody consumes the response body, undoing compression the server applied
// because the app headers advertise gzip/deflate support explicitly.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		r = fl
	}
	return io.ReadAll(r)
}
