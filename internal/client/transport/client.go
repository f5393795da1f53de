// Package transport pushes finish records to the result server and reads the
// leaderboard back.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/pkg/logger"
)

// ClientIDHeader carries the pushing client's identity.
const ClientIDHeader = "X-Client-ID"

// maxErrorBody bounds how much of a rejection body is kept for the error text.
const maxErrorBody = 4 << 10

// PushResponse is the server's answer to a bulk push.
type PushResponse struct {
	Success  bool `json:"success"`
	Inserted int  `json:"inserted"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each request. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.client.HTTPClient.Timeout = d
		}
	}
}

// WithRetryMax sets how many times one request is retried on transport errors and 5xx.
func WithRetryMax(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.client.RetryMax = n
		}
	}
}

// WithRetryWait sets the backoff bounds between retries.
func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.client.RetryWaitMin = minWait
		c.client.RetryWaitMax = maxWait
	}
}

// WithClientID sets the identity sent with every push.
func WithClientID(id string) Option {
	return func(c *Client) {
		c.clientID = id
	}
}

// WithLogger sets the logger for the client and its retry loop.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l == nil {
			return
		}
		c.log = l
		c.client.Logger = retryableHTTPLogger{inner: l}
		c.client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
			c.log.Debug(resp.Request.Context(), "response received",
				logger.String("url", resp.Request.URL.String()),
				logger.Int("status", resp.StatusCode))
		}
	}
}

// Client talks to the result server.
type Client struct {
	baseURL  *url.URL
	client   *retryablehttp.Client
	clientID string
	log      logger.Logger
}

// New returns a Client for the server at baseURL. By default a request is
// tried once with no timeout; the caller owns retry across requests.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing address: %w", ErrInvalidURL, err)
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, baseURL)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Backoff = retryablehttp.LinearJitterBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Timeout = 0
	rc.Logger = nil

	c := &Client{
		baseURL: u,
		client:  rc,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// PushResults sends records as one bulk POST /results.
// Any non-2xx answer is returned as ErrRejected.
func (c *Client) PushResults(ctx context.Context, records []model.FinishRecord) (PushResponse, error) {
	var out PushResponse
	if records == nil {
		records = []model.FinishRecord{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return out, fmt.Errorf("marshaling results: %w", err)
	}
	if err := c.do(ctx, http.MethodPost, "/results", body, &out); err != nil {
		return out, err
	}
	if !out.Success {
		return out, fmt.Errorf("%w: server reported failure", ErrRejected)
	}
	return out, nil
}

// Leaderboard returns the server's results ordered by finish time.
func (c *Client) Leaderboard(ctx context.Context) ([]model.FinishRecord, error) {
	var out []model.FinishRecord
	if err := c.do(ctx, http.MethodGet, "/results", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks the server health endpoint once, without retries.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.JoinPath("/healthz").String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	res, err := c.client.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: health status %s", ErrRejected, res.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody []byte, resBody any) error {
	var body any
	if reqBody != nil {
		body = reqBody
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		req.Header.Set(ClientIDHeader, c.clientID)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		var eb errorBody
		msg := string(bytes.TrimSpace(data))
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		c.log.Debug(ctx, "request rejected",
			logger.String("path", path),
			logger.String("status", res.Status),
			logger.String("body", msg))
		return fmt.Errorf("%w: %s %s: status %s: %s", ErrRejected, method, path, res.Status, msg)
	}

	if resBody != nil {
		if err := json.NewDecoder(res.Body).Decode(resBody); err != nil {
			return fmt.Errorf("decoding response body: %w", err)
		}
	}
	return nil
}

// retryableHTTPLogger adapts logger.Logger to retryablehttp.LeveledLogger.
type retryableHTTPLogger struct {
	inner logger.Logger
}

func (r retryableHTTPLogger) Error(msg string, keysAndValues ...any) {
	r.inner.Error(context.Background(), msg, kvFields(keysAndValues)...)
}

func (r retryableHTTPLogger) Info(msg string, keysAndValues ...any) {
	r.inner.Info(context.Background(), msg, kvFields(keysAndValues)...)
}

func (r retryableHTTPLogger) Warn(msg string, keysAndValues ...any) {
	r.inner.Warn(context.Background(), msg, kvFields(keysAndValues)...)
}

// Debug is routed to the debug level; retryablehttp logs every attempt here.
func (r retryableHTTPLogger) Debug(msg string, keysAndValues ...any) {
	r.inner.Debug(context.Background(), msg, kvFields(keysAndValues)...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			fields = append(fields, logger.Any(key, nil))
			break
		}
		fields = append(fields, logger.Any(key, kv[i+1]))
	}
	return fields
}
