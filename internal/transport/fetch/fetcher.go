// Package fetch downloads remote pages for URL ingestion behind an SSRF guard.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/extract"
)

const (
	// DefaultTimeout bounds one fetch including redirects.
	DefaultTimeout = 10 * time.Second
	// DefaultUserAgent identifies the fetcher to remote servers.
	DefaultUserAgent = "Mozilla/5.0 (compatible; ragdex-fetcher/1.0)"
	// DefaultMaxBytes caps the response body.
	DefaultMaxBytes = 10 << 20
	// DefaultRate is the sustained fetch rate per second.
	DefaultRate = 2.0
	// DefaultBurst is the limiter bucket size.
	DefaultBurst = 4

	maxRedirects = 5
)

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Config holds fetcher settings. Zero values take the defaults.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
	Rate      float64
	Burst     int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.Rate <= 0 {
		c.Rate = DefaultRate
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
}

// Fetcher validates and downloads URLs. The address policy is checked before the request
// and again on every dial, so a DNS answer that changes between the two is still caught.
type Fetcher struct {
	cfg      Config
	client   *http.Client
	limiter  *rate.Limiter
	resolver Resolver
	blocked  func(net.IP) bool
	logger   *zap.Logger
}

// New creates a fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Fetcher{
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		resolver: net.DefaultResolver,
		blocked:  IsBlockedIP,
		logger:   logger,
	}

	dialer := &net.Dialer{
		Timeout: cfg.Timeout,
		Control: f.controlDial,
	}
	f.client = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: cfg.Timeout,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects: %w", maxRedirects, domain.ErrFetchFailed)
			}
			if _, err := f.Check(req.Context(), req.URL.String()); err != nil {
				return err
			}
			return nil
		},
	}
	return f
}

// WithResolver replaces the DNS resolver.
func (f *Fetcher) WithResolver(r Resolver) *Fetcher {
	if r != nil {
		f.resolver = r
	}
	return f
}

// Normalize trims the URL, prepends https:// when no scheme is given and
// rejects anything that is not http(s) with a host.
func Normalize(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty url: %w", domain.ErrInvalidInput)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w: %w", domain.ErrUnsafeURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("scheme %q not allowed: %w", u.Scheme, domain.ErrUnsafeURL)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url has no host: %w", domain.ErrUnsafeURL)
	}
	if u.User != nil {
		return nil, fmt.Errorf("credentials in url: %w", domain.ErrUnsafeURL)
	}
	return u, nil
}

// Check normalizes rawURL and verifies every address it resolves to is public.
// Returns the normalized URL.
func (f *Fetcher) Check(ctx context.Context, rawURL string) (string, error) {
	u, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}

	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if f.blocked(ip) {
			return "", fmt.Errorf("%s is a restricted address: %w", host, domain.ErrUnsafeURL)
		}
		return u.String(), nil
	}

	addrs, err := f.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("resolve %s: %w", host, ctxErr)
		}
		return "", fmt.Errorf("resolve %s: %w: %w", host, domain.ErrUnsafeURL, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("%s has no addresses: %w", host, domain.ErrUnsafeURL)
	}
	for _, a := range addrs {
		if f.blocked(a.IP) {
			f.logger.Warn("Blocked fetch to restricted address",
				zap.String("host", host),
				zap.String("ip", a.IP.String()),
			)
			return "", fmt.Errorf("%s resolves to restricted address %s: %w", host, a.IP, domain.ErrUnsafeURL)
		}
	}
	return u.String(), nil
}

// FetchText downloads rawURL and returns its visible text.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	target, err := f.Check(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build request: %w: %w", domain.ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, domain.ErrUnsafeURL) {
			return "", fmt.Errorf("fetch %s: %w", target, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("fetch %s: %w", target, ctxErr)
		}
		return "", fmt.Errorf("fetch %s: %w: %w", target, domain.ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("fetch %s: status %d: %w", target, resp.StatusCode, domain.ErrFetchFailed)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w: %w", domain.ErrFetchFailed, err)
	}

	f.logger.Debug("Fetched url",
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", time.Since(start)),
	)

	if isPlainText(resp.Header.Get("Content-Type")) {
		return strings.ToValidUTF8(string(body), "�"), nil
	}
	text, err := extract.HTMLText(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w: %w", target, domain.ErrFetchFailed, err)
	}
	return text, nil
}

func isPlainText(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/plain"
}

// controlDial runs after DNS resolution, on the address actually being dialed.
func (f *Fetcher) controlDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, domain.ErrUnsafeURL)
	}
	ip := net.ParseIP(host)
	if ip == nil || f.blocked(ip) {
		return fmt.Errorf("dial %s: restricted address: %w", address, domain.ErrUnsafeURL)
	}
	return nil
}

var reservedNets = mustCIDRs(
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
	"64:ff9b::/96",
	"2001:db8::/32",
)

// IsBlockedIP reports whether ip is loopback, private, link-local, multicast, unspecified or reserved.
func IsBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return true
	}
	for _, n := range reservedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
