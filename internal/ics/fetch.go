package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "momcal/internal/log"
)

const (
	// DefaultFetchTimeout bounds every single attempt in the fallback chain.
	DefaultFetchTimeout = 10 * time.Second

	maxFeedBytes = 16 << 20
)

// ErrFetchFailed is returned when every proxy and the direct request failed.
var ErrFetchFailed = errors.New("ics fetch failed")

// Retriever fetches raw calendar text, trying each configured CORS-proxy
// template in order before one direct request.
type Retriever struct {
	client    *http.Client
	proxies   []string
	timeout   time.Duration
	userAgent string
}

// RetrieverOption customizes a Retriever.
type RetrieverOption func(*Retriever)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) RetrieverOption {
	return func(r *Retriever) { r.client = c }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) RetrieverOption {
	return func(r *Retriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header on every attempt.
func WithUserAgent(ua string) RetrieverOption {
	return func(r *Retriever) { r.userAgent = ua }
}

// NewRetriever creates a Retriever for the given proxy templates.
func NewRetriever(proxies []string, opts ...RetrieverOption) *Retriever {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	r := &Retriever{
		client:  &http.Client{Transport: transport},
		proxies: append([]string(nil), proxies...),
		timeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch returns the feed body for target. Proxies are tried in order and the
// first success wins; failures are discarded. If all proxies fail (or none
// are configured) a single direct request is made.
func (r *Retriever) Fetch(ctx context.Context, target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("%w: feed URL is empty", ErrFetchFailed)
	}

	for i, proxy := range r.proxies {
		proxied := ProxiedURL(proxy, target)
		body, err := r.fetchOnce(ctx, proxied)
		if err == nil {
			appLog.Info("ics fetch success", "via", "proxy", "proxy_index", i, "url", redactURL(target), "bytes", len(body))
			return body, nil
		}
		appLog.Warn("ics proxy attempt failed", "proxy_index", i, "proxy", redactURL(proxy), "err", err)
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrFetchFailed, ctx.Err())
		}
	}

	body, err := r.fetchOnce(ctx, target)
	if err != nil {
		appLog.Error("ics direct fetch failed", err, "url", redactURL(target))
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	appLog.Info("ics fetch success", "via", "direct", "url", redactURL(target), "bytes", len(body))
	return body, nil
}

func (r *Retriever) fetchOnce(parent context.Context, u string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.New(resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ProxiedURL wraps target in a proxy template. Templates that end in a
// scheme separator are raw origin prefixes and get target appended as-is;
// all others get target query-escaped.
func ProxiedURL(proxy, target string) string {
	if strings.HasSuffix(proxy, "http://") || strings.HasSuffix(proxy, "https://") {
		return proxy + target
	}
	return proxy + url.QueryEscape(target)
}

// redactURL hides paths and query strings of calendar URLs in logs; public
// calendar ids are effectively credentials.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	i += 3

	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}
