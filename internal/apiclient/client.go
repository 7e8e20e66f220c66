package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxBodySize caps how much of a response body is read
const maxBodySize = 8 << 20

// Fetcher is the GET-and-decode capability the data sources depend on
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	FetchInto(ctx context.Context, rawURL string, dest interface{}) error
}

type Options struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second, <= 0 disables limiting
	RateBurst int
	UserAgent string
}

// Client issues single GET requests with a bounded timeout. It never
// retries; failures come back as *types.FetchError.
type Client struct {
	http        *http.Client
	rateLimiter *rate.Limiter
	userAgent   string
	logger      *logrus.Logger
}

func New(opts Options, logger *logrus.Logger) (*Client, error) {
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("api client timeout must be > 0, got %s", opts.Timeout)
	}
	c := &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		logger:    logger,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.rateLimiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

// JoinURL appends path segments to base, keeping any path the base carries
func JoinURL(base string, segments ...string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q: scheme and host required", base)
	}
	parts := []string{strings.TrimRight(u.Path, "/")}
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		parts = append(parts, url.PathEscape(s))
	}
	u.Path = strings.Join(parts, "/")
	u.RawPath = ""
	return u.String(), nil
}

// WithQuery returns rawURL with the given query parameters set
func WithQuery(rawURL string, params url.Values) string {
	if len(params) == 0 {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func isHTML(resp *http.Response, body []byte) bool {
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/html") {
		return true
	}
	b := strings.TrimSpace(strings.ToLower(string(body)))
	return strings.HasPrefix(b, "<!doctype html") || strings.HasPrefix(b, "<html")
}

// Fetch performs one GET and returns the raw JSON body
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, &types.FetchError{Kind: types.KindTransport, URL: rawURL, Message: "rate limit wait: " + err.Error(), Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &types.FetchError{Kind: types.KindTransport, URL: rawURL, Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &types.FetchError{Kind: types.KindTransport, URL: rawURL, Message: transportMessage(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &types.FetchError{Kind: types.KindTransport, URL: rawURL, Message: "read body: " + transportMessage(err), Err: err}
	}

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"url":      rawURL,
			"status":   resp.StatusCode,
			"duration": time.Since(start),
			"bytes":    len(body),
		}).Debug("Upstream request completed")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &types.FetchError{Kind: types.KindHTTPStatus, URL: rawURL, StatusCode: resp.StatusCode, Message: resp.Status}
	}
	if isHTML(resp, body) {
		return nil, &types.FetchError{Kind: types.KindDecode, URL: rawURL, Message: "unexpected html response"}
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !sonic.Valid(body) {
		return nil, &types.FetchError{Kind: types.KindDecode, URL: rawURL, Message: "malformed json body"}
	}
	return body, nil
}

// FetchInto performs one GET and decodes the JSON body into dest
func (c *Client) FetchInto(ctx context.Context, rawURL string, dest interface{}) error {
	body, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(body, dest); err != nil {
		return &types.FetchError{Kind: types.KindDecode, URL: rawURL, Message: err.Error(), Err: err}
	}
	return nil
}

func transportMessage(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return "request timed out"
		}
		return ue.Err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return err.Error()
}
