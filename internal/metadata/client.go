package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// Client talks to the metadata service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	attempts   uint
	delay      time.Duration
}

// NewClient creates a Client from cfg.
func NewClient(cfg config.MetadataConfig, logger *logging.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout.Duration()},
		logger:     logger,
		attempts:   uint(cfg.RetryAttempts) + 1,
		delay:      200 * time.Millisecond,
	}
}

// DataSource fetches GET /data_sources/{id}.
func (c *Client) DataSource(ctx context.Context, id int64) (*DataSource, error) {
	var ds DataSource
	if err := c.get(ctx, fmt.Sprintf("/data_sources/%d", id), &ds); err != nil {
		return nil, fmt.Errorf("data source %d: %w", id, err)
	}
	return &ds, nil
}

// Session fetches GET /sessions/{id}.
func (c *Client) Session(ctx context.Context, id int64) (*Session, error) {
	var s Session
	if err := c.get(ctx, fmt.Sprintf("/sessions/%d", id), &s); err != nil {
		return nil, fmt.Errorf("session %d: %w", id, err)
	}
	return &s, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("metadata service returned %d: %s", e.code, e.body)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return retry.Do(
		func() error {
			err := c.doGet(ctx, path, out)
			var se *statusError
			if errors.As(err, &se) && !retryableStatus(se.code) {
				return retry.Unrecoverable(err)
			}
			if errors.Is(err, ErrNotFound) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(2*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug(ctx, "retrying metadata request",
				zap.String("path", path),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
}

func (c *Client) doGet(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
