package idor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// DefaultMaxBodyBytes caps how much of a replayed response body is kept.
const DefaultMaxBodyBytes = 1 << 20

// DispatcherConfig configures the HTTP replay dispatcher.
type DispatcherConfig struct {
	Timeout              time.Duration    `mapstructure:"timeout"`
	BlockPrivateNetworks bool             `mapstructure:"block_private_networks"`
	FollowRedirects      bool             `mapstructure:"follow_redirects"`
	UserAgent            string           `mapstructure:"user_agent"`
	MaxBodyBytes         int64            `mapstructure:"max_body_bytes"`
	Tracing              bool             `mapstructure:"tracing"`
	RateLimit            ratelimit.Config `mapstructure:"rate_limit"`
}

// DefaultDispatcherConfig returns replay defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Timeout:      30 * time.Second,
		UserAgent:    "authzfuzz/1.0",
		MaxBodyBytes: DefaultMaxBodyBytes,
		Tracing:      true,
		RateLimit:    ratelimit.DefaultConfig(),
	}
}

// HTTPDispatcher replays requests over HTTP, paced per host.
type HTTPDispatcher struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	config  DispatcherConfig
	logger  Logger
}

// NewHTTPDispatcher creates the default dispatcher.
func NewHTTPDispatcher(cfg DispatcherConfig, logger Logger) *HTTPDispatcher {
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	client := httpclient.NewReplayClient(httpclient.ReplayClientConfig{
		Timeout:              cfg.Timeout,
		BlockPrivateNetworks: cfg.BlockPrivateNetworks,
		FollowRedirects:      cfg.FollowRedirects,
		MaxRedirects:         5,
		Tracing:              cfg.Tracing,
	})

	return &HTTPDispatcher{
		client:  client,
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		config:  cfg,
		logger:  logger,
	}
}

// Do sends req and captures the response. Transport failures and timeouts come
// back as synthetic 500 responses; an error is returned only when ctx is done.
func (d *HTTPDispatcher) Do(ctx context.Context, req *types.Request) (*types.Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return types.SyntheticFailure(fmt.Errorf("invalid request URL: %w", err)), nil
	}

	if err := d.limiter.WaitForHost(ctx, u.Host); err != nil {
		return nil, err
	}

	var body io.Reader
	if b := req.Body.Bytes(); b != nil {
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return types.SyntheticFailure(fmt.Errorf("failed to build request: %w", err)), nil
	}
	httpReq.Header = req.Headers.Clone()
	if httpReq.Header == nil {
		httpReq.Header = http.Header{}
	}
	if httpReq.Header.Get("User-Agent") == "" && d.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", d.config.UserAgent)
	}
	httpReq.Header.Del("Content-Length")

	start := time.Now()
	resp, err := httpclient.DoWithContext(ctx, d.client, httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warnw("Replay transport failure",
			"method", req.Method,
			"url", req.URL,
			"error", err,
		)
		synthetic := types.SyntheticFailure(err)
		synthetic.Duration = time.Since(start)
		return synthetic, nil
	}
	defer httpclient.CloseBody(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.config.MaxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		synthetic := types.SyntheticFailure(fmt.Errorf("failed to read response body: %w", err))
		synthetic.Duration = time.Since(start)
		return synthetic, nil
	}

	out := &types.Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       types.BodyFromBytes(data),
		Duration:   time.Since(start),
	}

	if hl, ok := d.logger.(httpLogger); ok {
		hl.LogHTTPRequest(ctx, req.Method, req.URL, out.StatusCode, out.Duration, "correlation_id", req.ID)
	} else {
		d.logger.Debugw("Replayed request",
			"method", req.Method,
			"url", req.URL,
			"status", out.StatusCode,
			"duration_ms", out.Duration.Milliseconds(),
		)
	}
	return out, nil
}

// httpLogger is implemented by loggers that record replays on the active span.
type httpLogger interface {
	LogHTTPRequest(ctx context.Context, method, url string, statusCode int, duration time.Duration, fields ...interface{})
}

// Close releases idle replay connections.
func (d *HTTPDispatcher) Close() {
	d.client.CloseIdleConnections()
}

var _ Dispatcher = (*HTTPDispatcher)(nil)
