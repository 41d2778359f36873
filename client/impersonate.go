package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	utls "github.com/refraction-networking/utls"
)

// Chrome 120 HTTP/2 SETTINGS values as captured from a real Windows Chrome
// 120 client.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc7540#section-6.5
const (
	chromeH2HeaderTableSize   uint32 = 65536
	chromeH2MaxHeaderListSize uint32 = 262144
)

// ImpersonateConfig groups the tunables for NewImpersonatingTransport.
type ImpersonateConfig struct {
	// HelloID is the uTLS ClientHello fingerprint.  Defaults to
	// utls.HelloChrome_120 when zero.
	HelloID utls.ClientHelloID

	// IdleConnTimeout is the maximum time an idle HTTP/2 connection is kept
	// alive.  Defaults to 90 s.
	IdleConnTimeout time.Duration
}

// NewImpersonatingTransport returns an http.RoundTripper used for watchers
// with browser impersonation enabled.  Within the limits of
// golang.org/x/net/http2 it mimics a Windows Chrome 120 client: the TLS
// handshake uses the uTLS Chrome ClientHelloSpec and the HTTP/2 SETTINGS
// frame carries Chrome's header-table and header-list sizes.  Chrome default
// headers are layered under the watcher's own template headers, which always
// win.
func NewImpersonatingTransport(cfg ImpersonateConfig) http.RoundTripper {
	if cfg.HelloID == (utls.ClientHelloID{}) {
		cfg.HelloID = utls.HelloChrome_120
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	dialFn := UTLSDialer(cfg.HelloID)
	h2t := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
			return dialFn(ctx, network, addr, tlsCfg)
		},
		MaxDecoderHeaderTableSize: chromeH2HeaderTableSize,
		MaxEncoderHeaderTableSize: chromeH2HeaderTableSize,
		MaxHeaderListSize:         chromeH2MaxHeaderListSize,
		DisableCompression:        false,
		IdleConnTimeout:           cfg.IdleConnTimeout,
	}
	return &impersonatingRoundTripper{h2: h2t}
}

// impersonatingRoundTripper layers Chrome default headers under the request's
// own headers before handing it to the http2 transport.
type impersonatingRoundTripper struct {
	h2 *http2.Transport
}

func (t *impersonatingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())

	defaults := chromeOrderedHeaders()
	callerHeaders := r.Header

	// Chrome defaults form the base layer; caller headers are re-applied on
	// top so the watcher template wins.
	defaults.ApplyToRequest(r)
	for key, vals := range callerHeaders {
		r.Header[key] = append(r.Header[key], vals...)
	}

	return t.h2.RoundTrip(r)
}

// chromeOrderedHeaders returns the standard Chrome 120 request headers in the
// exact order and casing a real Windows Chrome 120 client sends.
func chromeOrderedHeaders() *OrderedHeader {
	h := &OrderedHeader{}
	h.Add("sec-ch-ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	h.Add("sec-ch-ua-mobile", "?0")
	h.Add("sec-ch-ua-platform", `"Windows"`)
	h.Add("Upgrade-Insecure-Requests", "1")
	h.Add("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	h.Add("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Add("sec-fetch-site", "none")
	h.Add("sec-fetch-mode", "navigate")
	h.Add("sec-fetch-user", "?1")
	h.Add("sec-fetch-dest", "document")
	h.Add("accept-encoding", "gzip, deflate, br")
	h.Add("accept-language", "en-US,en;q=0.9")
	return h
}
