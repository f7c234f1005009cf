package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/arbiter/internal/config"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

// maxRedirects bounds redirect chains when redirects are followed.
const maxRedirects = 10

// ErrInvalidProxyAddress is returned when the SOCKS5 proxy address is not host:port.
var ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

// Client is the HTTP and TCP egress shared by every phase.
//
// All requests pass through a rate limiter derived from the scan mode and
// carry the configured User-Agent. When a SOCKS5 proxy is configured, HTTP
// requests and raw TCP dials are routed through it.
type Client struct {
	follow    *http.Client
	noFollow  *http.Client
	dialer    proxy.ContextDialer
	userAgent string
	maxBody   int64
}

// options holds the settings New applies.
type options struct {
	proxyAddress string
	userAgent    string
	rps          float64
	perHost      int
	maxConns     int
	timeout      time.Duration
	maxBody      int64
}

// Option configures a Client.
type Option func(*options)

// WithProxy routes traffic through the SOCKS5 proxy at addr ("host:port").
func WithProxy(addr string) Option {
	return func(o *options) {
		o.proxyAddress = addr
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithRateLimit caps requests per second. Zero means unlimited.
func WithRateLimit(rps float64) Option {
	return func(o *options) {
		o.rps = rps
	}
}

// WithConnectionLimits caps open connections per host and in aggregate.
func WithConnectionLimits(perHost, total int) Option {
	return func(o *options) {
		o.perHost = perHost
		o.maxConns = total
	}
}

// WithTimeout bounds each request, including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithMaxBodySize limits how many body bytes Fetch reads.
func WithMaxBodySize(n int64) Option {
	return func(o *options) {
		o.maxBody = n
	}
}

// FromConfig returns the options matching a scan configuration.
// proxyAddr overrides cfg.ProxyAddress when non-empty, which is how the
// embedded Tor daemon's SOCKS port is plugged in.
func FromConfig(cfg *config.Config, proxyAddr string) []Option {
	if proxyAddr == "" {
		proxyAddr = cfg.ProxyAddress
	}
	ua := cfg.UserAgent
	if cfg.Settings != nil && cfg.Settings.UserAgent != "" {
		ua = cfg.Settings.UserAgent
	}
	return []Option{
		WithProxy(proxyAddr),
		WithUserAgent(ua),
		WithRateLimit(cfg.Profile.RequestsPerSecond),
		WithConnectionLimits(cfg.Profile.PerHostConnections, cfg.Profile.CrawlConcurrency),
		WithTimeout(cfg.Profile.TaskTimeout),
		WithMaxBodySize(cfg.MaxBodySize),
	}
}

// New creates a Client.
func New(opts ...Option) (*Client, error) {
	o := &options{
		userAgent: config.DefaultUserAgent,
		timeout:   10 * time.Second,
		maxBody:   config.DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(o)
	}

	var dialer proxy.ContextDialer = &net.Dialer{Timeout: o.timeout}
	if o.proxyAddress != "" {
		if !isValidProxyAddress(o.proxyAddress) {
			return nil, ErrInvalidProxyAddress
		}
		d, err := proxy.SOCKS5("tcp", o.proxyAddress, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %T does not support contexts", d)
		}
		dialer = cd
	}

	base := &http.Transport{
		DialContext: dialer.DialContext,
		// Recon targets routinely serve self-signed, expired or mismatched
		// certificates; those hosts are still in scope.
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // scanning arbitrary hosts
		},
		MaxConnsPerHost:     o.perHost,
		MaxIdleConns:        o.maxConns,
		MaxIdleConnsPerHost: max(o.perHost, 1),
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: o.timeout,
	}

	var limiter *rate.Limiter
	if o.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.rps), 1)
	}
	rt := &limitingTransport{base: base, limiter: limiter, userAgent: o.userAgent}

	follow := &http.Client{
		Transport: rt,
		Timeout:   o.timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	noFollow := &http.Client{
		Transport: rt,
		Timeout:   o.timeout,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Client{
		follow:    follow,
		noFollow:  noFollow,
		dialer:    dialer,
		userAgent: o.userAgent,
		maxBody:   o.maxBody,
	}, nil
}

// HTTP returns the underlying redirect-following client.
func (c *Client) HTTP() *http.Client {
	return c.follow
}

// DialContext opens a TCP connection, through the proxy when one is configured.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return c.dialer.DialContext(ctx, network, address)
}

// Request describes one HTTP request made with Fetch.
type Request struct {
	// Method defaults to GET.
	Method string
	URL    string
	Header http.Header
	// NoRedirect returns 3xx responses instead of following them.
	NoRedirect bool
}

// Response is a fully read HTTP response.
type Response struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get fetches url and follows redirects.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Fetch(ctx, Request{URL: url})
}

// Fetch sends r and reads at most the configured body size.
func (c *Client) Fetch(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := c.follow
	if r.NoRedirect {
		client = c.noFollow
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// limitingTransport applies the rate limit and User-Agent to every request,
// redirects included.
type limitingTransport struct {
	base      http.RoundTripper
	limiter   *rate.Limiter
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *limitingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// isValidProxyAddress checks for "host:port" with a port in 1..65535.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" || port == "" {
		return false
	}
	n := 0
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
		if n > 65535 {
			return false
		}
	}
	return n >= 1 && !strings.Contains(host, "/")
}
