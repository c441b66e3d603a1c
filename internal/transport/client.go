// Package transport issues the bounded HTTP requests used to probe streams.
//
// Nothing in this package returns a transport failure as a Go error from
// the probe calls: timeouts, DNS and TLS failures, resets and non-200
// statuses are all reported inside the result so callers can treat them
// as a failed sample.
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
)

// ErrStatus is wrapped by results whose HTTP status was not usable.
var ErrStatus = errors.New("unexpected http status")

// InvalidLatency marks a GetResult whose first byte never arrived.
const InvalidLatency time.Duration = -1

// copyBufferSize is the read chunk used when draining sampled bodies.
const copyBufferSize = 32 * 1024

// Config holds transport configuration.
type Config struct {
	UserAgent string
	Headers   http.Header

	// InsecureTLS disables certificate verification. Many IPTV origins
	// serve self-signed certificates.
	InsecureTLS bool

	// MaxIdleConnsPerHost bounds keep-alive connections per origin.
	MaxIdleConnsPerHost int
}

// Client wraps the two http.Clients used for probing.
type Client struct {
	// direct never follows redirects; the manifest resolver counts hops itself.
	direct *http.Client
	// follow is used for sampling, where redirects are already resolved
	// and any further hop is part of the download.
	follow    *http.Client
	userAgent string
	headers   http.Header
}

// GetResult reports one bounded GET.
type GetResult struct {
	URL       string
	Status    int
	Bytes     int64
	FirstByte time.Duration // InvalidLatency if no response headers arrived
	Elapsed   time.Duration
	Err       error
}

// OK reports whether the response was a 200 that delivered any bytes.
func (r GetResult) OK() bool {
	return r.Status == http.StatusOK && r.Bytes > 0
}

// HeadResult reports an existence check.
type HeadResult struct {
	URL    string
	Method string // method that produced the response ("HEAD" or "GET")
	Status int
	Header http.Header
	Err    error
}

// Redirect returns the Location of a 3xx response.
func (r HeadResult) Redirect() (string, bool) {
	if r.Err != nil || r.Status < 300 || r.Status > 399 || r.Header == nil {
		return "", false
	}
	loc := r.Header.Get("Location")
	return loc, loc != ""
}

// ContentType returns the media type without parameters, lowercased.
func (r HeadResult) ContentType() string {
	if r.Header == nil {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Reachable reports whether the check got a non-error response.
func (r HeadResult) Reachable() bool {
	return r.Err == nil && r.Status > 0 && r.Status < 400
}

// Page is a fetched text body.
type Page struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// New creates a Client.
func New(cfg Config) *Client {
	idle := cfg.MaxIdleConnsPerHost
	if idle <= 0 {
		idle = 4
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   idle,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if cfg.InsecureTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}

	return &Client{
		direct: &http.Client{
			Transport: tr,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		follow:    &http.Client{Transport: tr},
		userAgent: cfg.UserAgent,
		headers:   cfg.Headers,
	}
}

// ProbeGet downloads at most maxBytes (0 = until EOF or deadline) of url.
// A deadline that expires mid-body ends the sample without discarding
// the bytes already received.
func (c *Client) ProbeGet(ctx context.Context, url string, headers http.Header, maxBytes int64, timeout time.Duration) GetResult {
	res := GetResult{URL: url, FirstByte: InvalidLatency}

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := c.newRequest(ctx, http.MethodGet, url, headers)
	if err != nil {
		res.Err = err
		return res
	}

	resp, err := c.follow.Do(req)
	if err != nil {
		res.Elapsed = time.Since(start)
		res.Err = fmt.Errorf("get %s: %w", url, err)
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		res.Elapsed = time.Since(start)
		res.Err = fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
		return res
	}
	res.FirstByte = time.Since(start)

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes)
	}
	n, err := io.CopyBuffer(io.Discard, body, make([]byte, copyBufferSize))
	res.Bytes = n
	res.Elapsed = time.Since(start)
	if err != nil && ctx.Err() == nil && !isDeadline(err) {
		res.Err = fmt.Errorf("read %s: %w", url, err)
	}
	return res
}

// ProbeHead checks url with HEAD, falling back to a GET whose body is
// not read when the server rejects or fails the HEAD.
func (c *Client) ProbeHead(ctx context.Context, url string, headers http.Header, timeout time.Duration) HeadResult {
	head := c.check(ctx, http.MethodHead, url, headers, timeout)
	if head.Reachable() {
		return head
	}

	get := c.check(ctx, http.MethodGet, url, headers, timeout)
	if get.Err != nil && head.Err == nil {
		// Keep the HEAD status when the GET failed outright.
		return head
	}
	return get
}

func (c *Client) check(ctx context.Context, method, url string, headers http.Header, timeout time.Duration) HeadResult {
	res := HeadResult{URL: url, Method: method}

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, url, headers)
	if err != nil {
		res.Err = err
		return res
	}
	resp, err := c.direct.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("%s %s: %w", strings.ToLower(method), url, err)
		return res
	}
	resp.Body.Close()

	res.Status = resp.StatusCode
	res.Header = resp.Header
	return res
}

// FetchText GETs url without following redirects and returns up to limit
// bytes of the body. Transport failures are returned as errors; callers
// inspect Page.Status themselves.
func (c *Client) FetchText(ctx context.Context, url string, headers http.Header, limit int64, timeout time.Duration) (*Page, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, url, headers)
	if err != nil {
		return nil, err
	}
	resp, err := c.direct.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	page := &Page{URL: url, Status: resp.StatusCode, Header: resp.Header}
	if resp.StatusCode != http.StatusOK {
		return page, nil
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit)
	}
	page.Body, err = io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return page, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, headers http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func isDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ParseHeaders converts "Name: value" strings into an http.Header.
func ParseHeaders(lines []string) (http.Header, error) {
	h := make(http.Header)
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: want \"Name: value\"", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}
