package webpage

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultUserAgent   = "semsync-webpage/1.0"
	defaultMaxBody     = 10 << 20 // 10 MiB
	maxRedirects       = 5
	dialTimeout        = 10 * time.Second
	tlsHandshakeWindow = 10 * time.Second
)

// fetchResult is one fetched page. A NotModified result carries headers
// but no body.
type fetchResult struct {
	Body         []byte
	ContentType  string
	ETag         string
	LastModified time.Time
	NotModified  bool
}

// fetcher retrieves pages with SSRF checks, a size cap and conditional
// fetch support.
type fetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64

	// insecure disables the HTTPS/private-IP policy for tests against
	// local servers.
	insecure bool
}

func newFetcher(timeout time.Duration, userAgent string, maxBody int64) *fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	f := &fetcher{userAgent: userAgent, maxBody: maxBody}

	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	// Resolve and re-validate addresses at dial time so DNS rebinding
	// cannot smuggle a private target past the URL check.
	safeDial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if f.insecure {
			return dialer.DialContext(ctx, network, addr)
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}
		for _, ipAddr := range ips {
			if isPrivateIP(ipAddr.IP) {
				return nil, fmt.Errorf("connection to private IP %s is not allowed", ipAddr.IP)
			}
		}
		for _, ipAddr := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ipAddr.IP.String(), port))
			if err == nil {
				return conn, nil
			}
		}
		return nil, fmt.Errorf("failed to connect to any resolved IP")
	}

	f.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           safeDial,
			TLSHandshakeTimeout:   tlsHandshakeWindow,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			if f.insecure {
				return nil
			}
			if err := validateURL(req.URL.String()); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		},
	}
	return f
}

// fetch retrieves urlStr. A non-empty etag makes the fetch conditional;
// an unchanged page comes back with NotModified set and no body.
func (f *fetcher) fetch(ctx context.Context, urlStr, etag string) (*fetchResult, error) {
	if !f.insecure {
		if err := validateURL(urlStr); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", urlStr, err)
	}
	defer resp.Body.Close()

	result := &fetchResult{
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			result.LastModified = t
		}
	}

	if resp.StatusCode == http.StatusNotModified {
		result.NotModified = true
		return result, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", urlStr, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("content too large (exceeds %d bytes)", f.maxBody)
	}

	result.Body = body
	return result, nil
}
