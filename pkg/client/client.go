// Package client provides the HTTP client for the remote delta service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/timkendrick/shunt/pkg/protocol"
	"github.com/timkendrick/shunt/pkg/retry"
)

// ErrRemote is returned for any failure talking to the delta service.
var ErrRemote = errors.New("delta service error")

// StatusError carries the HTTP status of a failed delta call.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("delta service returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("delta service returned %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrRemote }

// Client calls the remote delta endpoint with retry and a per-prefix call budget.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	budget      *Budget
	log         *zap.Logger

	mu     sync.RWMutex
	online bool
	token  string
}

// Config holds client configuration.
type Config struct {
	BaseURL        string
	Token          string
	Timeout        time.Duration
	RetryConfig    retry.Config
	CallsPerMinute int // per path prefix, 0 = unlimited
	Clock          clockwork.Clock
	Logger         *zap.Logger
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true, // gzip is decoded explicitly
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		budget:      NewBudget(cfg.CallsPerMinute, cfg.Clock),
		log:         cfg.Logger.Named("delta-client"),
		online:      true,
		token:       cfg.Token,
	}
}

// SetToken replaces the bearer token used for requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// IsOnline reports whether the last call reached the delta service.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			c.log.Info("delta service is back online")
		} else {
			c.log.Warn("delta service is unreachable")
		}
	}
	c.online = online
}

// PruneBudget forgets call budgets for prefixes idle longer than maxAge.
func (c *Client) PruneBudget(maxAge time.Duration) {
	c.budget.Cleanup(maxAge)
}

// Ping checks if the delta service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return &StatusError{StatusCode: resp.StatusCode}
	}

	c.setOnline(true)
	return nil
}

// Delta fetches one page of changes under req.PathPrefix after req.Cursor.
// When the prefix's call budget is spent it waits for a token, failing with
// ErrBudgetExhausted if none would arrive before ctx's deadline.
func (c *Client) Delta(ctx context.Context, req protocol.DeltaRequest) (*protocol.DeltaResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	// every attempt, retries included, spends a token from the prefix's budget
	return retry.DoWithResult(ctx, c.retryConfig, func() (*protocol.DeltaResponse, error) {
		if err := c.budget.Wait(ctx, req.PathPrefix); err != nil {
			return nil, err
		}
		return c.deltaOnce(ctx, body)
	})
}

func (c *Client) deltaOnce(ctx context.Context, body []byte) (*protocol.DeltaResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/delta", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip")
	c.applyAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.setOnline(false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Retryable(fmt.Errorf("%w: %v", ErrRemote, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}
	c.setOnline(true)

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrRemote, err)
		}
		defer gr.Close()
		reader = gr
	}

	var page protocol.DeltaResponse
	if err := json.NewDecoder(reader).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decode page: %v", ErrRemote, err)
	}
	return &page, nil
}

func (c *Client) statusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	var errResp protocol.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp); err == nil {
		se.Message = errResp.Error
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.log.Warn("delta service throttled request", zap.String("retry_after", resp.Header.Get("Retry-After")))
		return retry.RetryAfter(se, parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		c.setOnline(false)
		return retry.Retryable(se)
	default:
		return se
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
