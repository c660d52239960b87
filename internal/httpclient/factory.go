// Package httpclient builds the HTTP clients used to replay recorded traffic.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ReplayClientConfig configures a replay client.
type ReplayClientConfig struct {
	Timeout time.Duration
	// BlockPrivateNetworks refuses connections to loopback, link-local and
	// RFC 1918 addresses. Off by default: replay targets are often staging hosts.
	BlockPrivateNetworks bool
	FollowRedirects      bool
	MaxRedirects         int
	// Tracing wraps the transport with otelhttp so every replay gets a client span.
	Tracing bool
}

// DefaultConfig returns the replay defaults. Redirects are not followed so the
// recorded status is the one the target actually returned for the variant.
func DefaultConfig() ReplayClientConfig {
	return ReplayClientConfig{
		Timeout:         30 * time.Second,
		FollowRedirects: false,
		MaxRedirects:    5,
		Tracing:         true,
	}
}

// NewReplayClient creates an HTTP client for replaying corpus requests.
func NewReplayClient(config ReplayClientConfig) *http.Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var dialer net.Dialer
			if !config.BlockPrivateNetworks {
				return dialer.DialContext(ctx, network, addr)
			}
			// Dial the address that was checked so a second lookup cannot rebind it.
			checked, err := resolvePublicAddress(ctx, addr)
			if err != nil {
				return nil, fmt.Errorf("private network blocked: %w", err)
			}
			return dialer.DialContext(ctx, network, checked)
		},

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var rt http.RoundTripper = transport
	if config.Tracing {
		rt = otelhttp.NewTransport(transport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "replay " + r.Method
			}),
		)
	}

	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: rt,
	}

	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if config.MaxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", config.MaxRedirects)
			}
			if config.BlockPrivateNetworks {
				if err := validateURL(req.URL.String()); err != nil {
					return fmt.Errorf("private network blocked on redirect: %w", err)
				}
			}
			return nil
		}
	}

	return client
}

// lookupIPAddr is replaced in tests.
var lookupIPAddr = net.DefaultResolver.LookupIPAddr

// resolvePublicAddress resolves a host:port address once and returns the
// first resolved IP joined with the port. Any private address in the answer
// is an error.
func resolvePublicAddress(ctx context.Context, addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, ""
	}

	ips, err := lookupIPAddr(ctx, host)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}

	for _, ip := range ips {
		if isPrivateIP(ip.IP) {
			return "", fmt.Errorf("blocked private IP: %s (%s)", ip.IP, host)
		}
	}

	if port == "" {
		return ips[0].IP.String(), nil
	}
	return net.JoinHostPort(ips[0].IP.String(), port), nil
}

// validateURL applies resolvePublicAddress to the host of an absolute URL.
func validateURL(urlStr string) error {
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", urlStr, err)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("URL %q has no host", urlStr)
	}
	_, err = resolvePublicAddress(context.Background(), u.Hostname())
	return err
}

// isPrivateIP checks if an IP address is private, loopback, or link-local
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// DoWithContext performs an HTTP request bound to ctx.
func DoWithContext(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, err
	}

	return resp, nil
}

// CloseBody drains and closes a response body so the connection can be reused.
//
// Usage:
//
//	defer httpclient.CloseBody(resp)
func CloseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	if err := resp.Body.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close HTTP response body: %v\n", err)
	}
}
