// Package registry is a small client for the FlakeHub API: release listings
// and version metadata, with retries, a circuit breaker and a response cache.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
)

// DefaultAPIAddr is the public FlakeHub API.
const DefaultAPIAddr = "https://api.flakehub.com"

var (
	ErrNotFound     = errors.New("not found on the registry")
	ErrRateLimited  = errors.New("rate limited by the registry")
	ErrUpstreamDown = errors.New("registry unavailable")
)

// Release is one published release of a project.
type Release struct {
	Version           string `json:"version"`
	SimplifiedVersion string `json:"simplified_version"`
	Revision          string `json:"revision"`
}

// VersionMetadata describes the release a constraint resolves to and where
// it was published from.
type VersionMetadata struct {
	Version                   string  `json:"version"`
	Revision                  string  `json:"revision"`
	SourceGithubOwnerRepoPair string  `json:"source_github_owner_repo_pair"`
	SourceSubdirectory        *string `json:"source_subdirectory"`
}

// Client talks to one registry API address.
type Client struct {
	apiAddr    *url.URL
	client     *http.Client
	logger     *log.Logger
	userAgent  string
	token      string
	maxRetries int
	baseDelay  time.Duration
	cacheSize  int

	cache   *lru.Cache[string, []byte]
	breaker *circuit.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithLogger sets the logger requests and retries are reported to.
func WithLogger(l *log.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.client.Timeout = d
	}
}

func WithMaxRetries(n int) Option {
	return func(cl *Client) {
		cl.maxRetries = n
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(cl *Client) {
		cl.baseDelay = d
	}
}

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(cl *Client) {
		cl.token = token
	}
}

// WithCacheSize bounds the number of cached responses.
func WithCacheSize(n int) Option {
	return func(cl *Client) {
		cl.cacheSize = n
	}
}

func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

var (
	resolver     = &dnscache.Resolver{}
	resolverOnce sync.Once
)

func refreshResolver() {
	resolverOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				resolver.Refresh(true)
			}
		}()
	})
}

func newHTTPClient() *http.Client {
	refreshResolver()
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
				}
				return nil, fmt.Errorf("failed to dial any address of %s", host)
			},
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

// New creates a client for the API at apiAddr.
func New(apiAddr string, opts ...Option) (*Client, error) {
	u, err := url.Parse(apiAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid registry address %q: %w", apiAddr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid registry address %q: scheme must be http or https", apiAddr)
	}

	c := &Client{
		apiAddr:    u,
		client:     newHTTPClient(),
		logger:     log.New(io.Discard),
		userAgent:  "fh",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		cacheSize:  256,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cache, err = lru.New[string, []byte](c.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating response cache: %w", err)
	}

	// Trips after 5 consecutive failures; a success in between resets the count
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()
	c.breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ConsecutiveTripFunc(5),
	})

	return c, nil
}

// Releases lists the published releases of org/project.
func (c *Client) Releases(ctx context.Context, org, project string) ([]Release, error) {
	var releases []Release
	if err := c.get(ctx, &releases, "f", org, project, "releases"); err != nil {
		return nil, fmt.Errorf("listing releases of %s/%s: %w", org, project, err)
	}
	return releases, nil
}

// Version resolves constraint against the releases of org/project.
func (c *Client) Version(ctx context.Context, org, project, constraint string) (*VersionMetadata, error) {
	var meta VersionMetadata
	if err := c.get(ctx, &meta, "version", org, project, constraint); err != nil {
		return nil, fmt.Errorf("resolving %s/%s/%s: %w", org, project, constraint, err)
	}
	return &meta, nil
}

// Tripped reports whether the circuit breaker is currently open.
func (c *Client) Tripped() bool {
	return c.breaker.Tripped()
}

func (c *Client) endpoint(segments ...string) string {
	return c.apiAddr.JoinPath(segments...).String()
}

func (c *Client) get(ctx context.Context, v any, segments ...string) error {
	endpoint := c.endpoint(segments...)
	if body, ok := c.cache.Get(endpoint); ok {
		c.logger.Debug("registry cache hit", "url", endpoint)
		return decode(body, v)
	}

	if !c.breaker.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", c.apiAddr.Host, ErrUpstreamDown)
	}

	var body []byte
	notFound := false
	err := c.breaker.Call(func() error {
		var fetchErr error
		body, fetchErr = c.fetch(ctx, endpoint)
		// A missing project is an answer, not a failure of the registry.
		if errors.Is(fetchErr, ErrNotFound) {
			notFound = true
			return nil
		}
		return fetchErr
	}, 0)
	if notFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := decode(body, v); err != nil {
		return err
	}
	c.cache.Add(endpoint, body)
	return nil
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding registry response: %w", err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = c.baseDelay
	delays.MaxInterval = 10 * c.baseDelay
	delays.Multiplier = 2.0
	delays.Reset()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := delays.NextBackOff()
			if delay == backoff.Stop {
				break
			}
			c.logger.Debug("retrying registry request", "url", endpoint, "attempt", attempt, "delay", delay, "err", lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.doFetch(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) {
			continue
		}
		return nil, err
	}

	return nil, lastErr
}

func (c *Client) doFetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("registry request", "url", endpoint)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, ErrUpstreamDown
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}
