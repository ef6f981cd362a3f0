package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Client defines the HTTP client interface
type Client interface {
	Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error)
	Head(ctx context.Context, url string, opts ...RequestOption) (*Response, error)
	PostJSON(ctx context.Context, url string, body interface{}, opts ...RequestOption) (*Response, error)
	Download(ctx context.Context, url, localPath string, opts ...RequestOption) (int64, error)
	Close() error
}

// HTTPClient implements the Client interface
type HTTPClient struct {
	client *http.Client
	config Config
	logger *zap.Logger
}

// Config holds HTTP client configuration
type Config struct {
	Timeout             time.Duration
	RetryAttempts       int
	RetryDelay          time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	UserAgent           string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	TotalTime  time.Duration
	Method     string
	URL        string
	Retries    int
}

// OK reports whether the response has a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns a *StatusError for non-2xx responses
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &StatusError{
		Method:     r.Method,
		URL:        r.URL,
		StatusCode: r.StatusCode,
		Body:       truncate(string(r.Body), 512),
	}
}

// DecodeJSON unmarshals the body into v
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", r.Method, r.URL, err)
	}
	return nil
}

// StatusError is returned for responses outside the 2xx range
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// RequestOption allows customization of individual requests
type RequestOption func(*requestConfig)

type requestConfig struct {
	headers       map[string]string
	timeout       time.Duration
	retryAttempts *int
}

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(cfg *requestConfig) {
		if cfg.headers == nil {
			cfg.headers = make(map[string]string)
		}
		cfg.headers[key] = value
	}
}

// WithBearerToken sets the Authorization header
func WithBearerToken(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithTimeout sets a custom timeout for the request
func WithTimeout(timeout time.Duration) RequestOption {
	return func(cfg *requestConfig) {
		cfg.timeout = timeout
	}
}

// WithRetryAttempts overrides the configured retry count for one request.
// Non-idempotent calls such as job submission pass 0.
func WithRetryAttempts(n int) RequestOption {
	return func(cfg *requestConfig) {
		cfg.retryAttempts = &n
	}
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(config Config, logger *zap.Logger) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if config.RetryAttempts < 0 {
		config.RetryAttempts = 0
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 100
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = 10
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "scenecraft/1.0"
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
	}

	logger.Info("HTTP client initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Int("retry_attempts", config.RetryAttempts),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config: config,
		logger: logger,
	}
}

// Get performs a GET request with retries
func (c *HTTPClient) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.doRequest(ctx, http.MethodGet, url, nil, opts...)
}

// Head performs a HEAD request with retries
func (c *HTTPClient) Head(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.doRequest(ctx, http.MethodHead, url, nil, opts...)
}

// PostJSON marshals body and POSTs it with a JSON content type
func (c *HTTPClient) PostJSON(ctx context.Context, url string, body interface{}, opts ...RequestOption) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	opts = append([]RequestOption{WithHeader("Content-Type", "application/json")}, opts...)
	return c.doRequest(ctx, http.MethodPost, url, payload, opts...)
}

// Download streams url into localPath and returns the number of bytes written.
// Non-2xx responses return a *StatusError.
func (c *HTTPClient) Download(ctx context.Context, url, localPath string, opts ...RequestOption) (int64, error) {
	reqConfig := c.applyOptions(opts)

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create download directory: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.attempts(reqConfig); attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt); err != nil {
				return 0, err
			}
		}

		resp, err := c.send(ctx, http.MethodGet, url, nil, reqConfig)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			statusErr := &StatusError{Method: http.MethodGet, URL: url, StatusCode: resp.StatusCode, Body: string(body)}
			lastErr = statusErr
			if statusErr.Temporary() {
				continue
			}
			return 0, statusErr
		}

		written, err := writeFile(localPath, resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to write download: %w", err)
			continue
		}

		c.logger.Debug("Download completed",
			zap.String("url", url),
			zap.String("path", localPath),
			zap.Int64("bytes", written),
			zap.Int("attempt", attempt))

		return written, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all retry attempts exhausted")
	}
	return 0, lastErr
}

// doRequest performs the actual HTTP request with retry logic. Network errors
// and 5xx responses are retried; the last response is returned either way.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, opts ...RequestOption) (*Response, error) {
	reqConfig := c.applyOptions(opts)
	maxAttempts := c.attempts(reqConfig)

	response := &Response{
		Method: method,
		URL:    url,
	}

	var lastErr error
	startTime := time.Now()

	for attempt := 0; attempt <= maxAttempts; attempt++ {
		if attempt > 0 {
			response.Retries = attempt
			if err := c.wait(ctx, attempt); err != nil {
				return nil, err
			}

			c.logger.Debug("Retrying request",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("attempt", attempt))
		}

		resp, err := c.send(ctx, method, url, body, reqConfig)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		var respBody []byte
		if resp.Body != nil {
			respBody, err = io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				lastErr = fmt.Errorf("failed to read response body: %w", err)
				continue
			}
		}

		response.StatusCode = resp.StatusCode
		response.Status = resp.Status
		response.Headers = resp.Header
		response.Body = respBody

		c.logger.Debug("Request completed",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("elapsed", time.Since(startTime)),
			zap.Int("attempt", attempt))

		if resp.StatusCode >= 500 && attempt < maxAttempts {
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			continue
		}

		response.TotalTime = time.Since(startTime)
		return response, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all retry attempts exhausted")
	}

	response.TotalTime = time.Since(startTime)
	return response, lastErr
}

func (c *HTTPClient) applyOptions(opts []RequestOption) *requestConfig {
	reqConfig := &requestConfig{}
	for _, opt := range opts {
		opt(reqConfig)
	}
	return reqConfig
}

func (c *HTTPClient) attempts(reqConfig *requestConfig) int {
	if reqConfig.retryAttempts != nil {
		return *reqConfig.retryAttempts
	}
	return c.config.RetryAttempts
}

func (c *HTTPClient) wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
		return nil
	}
}

func (c *HTTPClient) send(ctx context.Context, method, url string, body []byte, reqConfig *requestConfig) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	for key, value := range reqConfig.headers {
		req.Header.Set(key, value)
	}

	client := c.client
	if reqConfig.timeout > 0 {
		client = &http.Client{
			Transport: c.client.Transport,
			Timeout:   reqConfig.timeout,
		}
	}

	return client.Do(req)
}

// Close closes the HTTP client and its underlying transport
func (c *HTTPClient) Close() error {
	c.logger.Debug("Closing HTTP client")

	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}

	return nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(file, r)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return written, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
