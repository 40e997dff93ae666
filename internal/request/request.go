// Package request provides the shared retrying, rate-limited HTTP client
// used by the Debrid Gateway.
package request

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jbrannan/flowgate/internal/logger"
	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
)

// JoinURL joins a base URL with path components, preserving any query
// string on the final component.
func JoinURL(base string, paths ...string) (string, error) {
	if len(paths) == 0 {
		return base, nil
	}
	last := paths[len(paths)-1]
	parts := strings.SplitN(last, "?", 2)
	paths[len(paths)-1] = parts[0]

	joined, err := url.JoinPath(base, paths...)
	if err != nil {
		return "", err
	}
	if len(parts) > 1 {
		return joined + "?" + parts[1], nil
	}
	return joined, nil
}

var (
	once     sync.Once
	instance *Client
)

// ClientOption configures a Client via the functional-options pattern.
type ClientOption func(*Client)

// Client is an http.Client wrapper with retries, jittered backoff, an
// optional rate limiter and default headers.
type Client struct {
	client          *http.Client
	rateLimiter     ratelimit.Limiter
	headers         map[string]string
	headersMu       sync.RWMutex
	maxRetries      int
	timeout         time.Duration
	skipTLSVerify   bool
	retryableStatus map[int]struct{}
	logger          zerolog.Logger
	proxy           string
}

func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithRedirectPolicy(policy func(req *http.Request, via []*http.Request) error) ClientOption {
	return func(c *Client) { c.client.CheckRedirect = policy }
}

func WithRateLimiter(rl ratelimit.Limiter) ClientOption {
	return func(c *Client) { c.rateLimiter = rl }
}

func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		c.headersMu.Lock()
		c.headers = headers
		c.headersMu.Unlock()
	}
}

func (c *Client) SetHeader(key, value string) {
	c.headersMu.Lock()
	c.headers[key] = value
	c.headersMu.Unlock()
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithTransport(t *http.Transport) ClientOption {
	return func(c *Client) { c.client.Transport = t }
}

// WithRetryableStatus replaces the set of status codes that trigger a retry.
func WithRetryableStatus(codes ...int) ClientOption {
	return func(c *Client) {
		c.retryableStatus = make(map[int]struct{}, len(codes))
		for _, code := range codes {
			c.retryableStatus[code] = struct{}{}
		}
	}
}

// WithProxy sets a plain HTTP(S) proxy URL for the transport.
func WithProxy(proxyURL string) ClientOption {
	return func(c *Client) { c.proxy = proxyURL }
}

func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	if c.rateLimiter != nil {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		default:
			c.rateLimiter.Take()
		}
	}
	return c.client.Do(req)
}

// Do performs the request, retrying on retryable network errors and status
// codes with exponential backoff (base 500ms, doubling), each wait extended
// by a random jitter of up to a quarter of the backoff.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	var err error

	if req.Body != nil {
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		req.Body.Close()
	}

	backoff := 500 * time.Millisecond
	var resp *http.Response

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		c.headersMu.RLock()
		for key, value := range c.headers {
			req.Header.Set(key, value)
		}
		c.headersMu.RUnlock()

		resp, err = c.doRequest(req)
		if err != nil {
			if isRetryableError(err) && attempt < c.maxRetries {
				if sleepErr := c.sleepBackoff(req.Context(), backoff); sleepErr != nil {
					return nil, sleepErr
				}
				backoff *= 2
				continue
			}
			return nil, err
		}

		if _, retryable := c.retryableStatus[resp.StatusCode]; !retryable || attempt == c.maxRetries {
			return resp, nil
		}
		resp.Body.Close()

		if sleepErr := c.sleepBackoff(req.Context(), backoff); sleepErr != nil {
			return nil, sleepErr
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("max retries exceeded")
}

func (c *Client) sleepBackoff(ctx context.Context, backoff time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(backoff/4) + 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff + jitter):
		return nil
	}
}

// MakeRequest performs the request and returns the response body, treating
// any non-2xx status as an error.
func (c *Client) MakeRequest(req *http.Request) ([]byte, error) {
	res, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", res.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating GET request: %w", err)
	}
	return c.Do(req)
}

// New creates a Client with sane defaults, then applies options.
func New(options ...ClientOption) *Client {
	c := &Client{
		maxRetries:    3,
		skipTLSVerify: false,
		retryableStatus: map[int]struct{}{
			http.StatusRequestTimeout:      {},
			http.StatusTooManyRequests:     {},
			http.StatusInternalServerError: {},
			http.StatusBadGateway:          {},
			http.StatusServiceUnavailable:  {},
			http.StatusGatewayTimeout:      {},
		},
		logger:  logger.New("request"),
		timeout: 60 * time.Second,
		headers: make(map[string]string),
	}

	c.client = &http.Client{Timeout: c.timeout}

	for _, option := range options {
		option(c)
	}

	if c.client.Transport == nil {
		transport := &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: c.skipTLSVerify,
			},
			DisableKeepAlives: false,
		}
		if c.proxy != "" {
			if proxyURL, err := url.Parse(c.proxy); err == nil {
				transport.Proxy = http.ProxyURL(proxyURL)
			} else {
				c.logger.Error().Err(err).Msg("failed to parse proxy URL")
			}
		} else {
			transport.Proxy = http.ProxyFromEnvironment
		}
		c.client.Transport = transport
	}

	return c
}

// ParseRateLimit parses strings like "8/second" or "4/sec" into a token
// bucket limiter with 10% slack.
func ParseRateLimit(rateStr string) ratelimit.Limiter {
	if rateStr == "" {
		return nil
	}
	parts := strings.SplitN(rateStr, "/", 2)
	if len(parts) != 2 {
		return nil
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return nil
	}
	slack := count / 10

	unit := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(parts[1])), "s")
	switch unit {
	case "minute", "min":
		return ratelimit.New(count, ratelimit.Per(time.Minute), ratelimit.WithSlack(slack))
	case "second", "sec":
		return ratelimit.New(count, ratelimit.Per(time.Second), ratelimit.WithSlack(slack))
	case "hour", "hr":
		return ratelimit.New(count, ratelimit.Per(time.Hour), ratelimit.WithSlack(slack))
	default:
		return nil
	}
}

// JSONResponse writes data as a JSON response body with the given status.
func JSONResponse(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// Default returns the process-wide client used where no specific tuning is
// required.
func Default() *Client {
	once.Do(func() {
		instance = New()
	})
	return instance
}

func isRetryableError(err error) bool {
	s := err.Error()
	switch {
	case strings.Contains(s, "connection reset by peer"),
		strings.Contains(s, "read: connection reset"),
		strings.Contains(s, "connection refused"),
		strings.Contains(s, "network is unreachable"),
		strings.Contains(s, "connection timed out"),
		strings.Contains(s, "no such host"),
		strings.Contains(s, "i/o timeout"),
		strings.Contains(s, "unexpected EOF"),
		strings.Contains(s, "TLS handshake timeout"):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
