// Package client executes watcher HTTP requests.  It owns transport tuning,
// redirect capping, per-request proxy rotation, and optional browser
// impersonation; cookie persistence stays with the store and the executor.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/GabriWar/vigilant/config"
	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/proxy"
)

// Request is one outbound watcher request, fully resolved: variable
// placeholders are already substituted and cookies already loaded.
type Request struct {
	URL         string
	Method      string
	Headers     []model.HeaderPair
	Body        []byte
	Cookies     []model.Cookie
	Impersonate bool
}

// Response is the observed result of a Request.  Cookies holds every cookie
// the server set, with expiry normalized to UTC (nil for session cookies).
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Cookies    []model.Cookie
	Duration   time.Duration
}

// Client is a shared HTTP executor, safe for concurrent use.  It keeps two
// underlying clients: a tuned net/http transport for plain requests and a
// Chrome-fingerprint HTTP/2 transport for watchers that impersonate a
// browser.
type Client struct {
	cfg         *config.Config
	plain       *http.Client
	impersonate *http.Client
}

// New builds a Client from the engine configuration.  proxies may be nil;
// when it holds at least one address, every plain request picks the next
// proxy in the rotation.
func New(cfg *config.Config, proxies *proxy.ProxyManager) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.HTTPConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		// Pool sizing keeps a burst of concurrent watcher runs from
		// exhausting file descriptors on a single misbehaving target.
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,

		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.HTTPReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if proxies != nil {
		transport.Proxy = func(*http.Request) (*url.URL, error) {
			next := proxies.GetNextProxy()
			if next == "" {
				return nil, nil
			}
			u, err := url.Parse(next)
			if err != nil {
				return nil, fmt.Errorf("client: parse proxy %q: %w", next, err)
			}
			return u, nil
		}
	}

	redirectCap := checkRedirect(cfg.HTTPMaxRedirects)
	return &Client{
		cfg: cfg,
		plain: &http.Client{
			Transport:     transport,
			Timeout:       cfg.HTTPTimeout,
			CheckRedirect: redirectCap,
		},
		impersonate: &http.Client{
			Transport:     NewImpersonatingTransport(ImpersonateConfig{}),
			Timeout:       cfg.HTTPTimeout,
			CheckRedirect: redirectCap,
		},
	}
}

// errTooManyRedirects is surfaced through the url.Error chain so callers can
// match it with errors.Is against model.ErrNetwork.
var errTooManyRedirects = fmt.Errorf("too many redirects: %w", model.ErrNetwork)

func checkRedirect(max int) func(*http.Request, []*http.Request) error {
	if max <= 0 {
		max = 10
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errTooManyRedirects
		}
		return nil
	}
}

// Execute performs the request and reads the full response body.  The
// returned error wraps model.ErrTimeout for deadline and read timeouts and
// model.ErrNetwork for everything else transport-level; HTTP error statuses
// are not errors here, classification is the executor's concern.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request for %q: %v: %w", req.URL, err, model.ErrValidation)
	}

	c.applyHeaders(httpReq, req)

	hc := c.plain
	if req.Impersonate {
		hc = c.impersonate
	}

	start := time.Now()
	httpResp, err := hc.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(req.URL, err)
	}
	defer httpResp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifyTransportError(req.URL, err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       respBody,
		Cookies:    collectCookies(httpResp.Cookies()),
		Duration:   time.Since(start),
	}, nil
}

// applyHeaders writes the watcher's header template onto the request in
// template order with original casing, then fills in defaults and the
// Cookie header.
func (c *Client) applyHeaders(httpReq *http.Request, req *Request) {
	h := &OrderedHeader{}
	for _, pair := range req.Headers {
		h.Add(pair.Name, pair.Value)
	}
	if h.Get("User-Agent") == "" {
		h.Add("User-Agent", c.cfg.UserAgent)
	}
	h.ApplyToRequest(httpReq)

	for _, ck := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
}

func classifyTransportError(rawURL string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("client: %s: %v: %w", rawURL, err, model.ErrTimeout)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("client: %s: %w", rawURL, model.ErrCancelled)
	case errors.Is(err, model.ErrNetwork):
		// Redirect-cap errors already carry the right kind.
		return fmt.Errorf("client: %s: %w", rawURL, err)
	default:
		return fmt.Errorf("client: %s: %v: %w", rawURL, err, model.ErrNetwork)
	}
}

// collectCookies converts Set-Cookie values into the storage shape.  A zero
// Expires means a session cookie and is stored as nil; everything else is
// normalized to UTC.
func collectCookies(cookies []*http.Cookie) []model.Cookie {
	if len(cookies) == 0 {
		return nil
	}
	out := make([]model.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		mc := model.Cookie{
			Name:   ck.Name,
			Value:  ck.Value,
			Domain: ck.Domain,
			Path:   ck.Path,
		}
		if !ck.Expires.IsZero() {
			exp := ck.Expires.UTC()
			mc.Expires = &exp
		} else if ck.MaxAge > 0 {
			exp := time.Now().Add(time.Duration(ck.MaxAge) * time.Second).UTC()
			mc.Expires = &exp
		}
		out = append(out, mc)
	}
	return out
}
