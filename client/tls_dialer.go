package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

// UTLSDialer returns a DialTLSContext-compatible function that performs the
// TLS handshake with uTLS, parroting the browser fingerprint described by
// helloID.  Watchers with browser impersonation enabled route through this
// dialer so their TLS fingerprint matches the headers they send.
//
// The returned dialer is safe for concurrent use.  tlsCfg may be nil; when
// provided, its ServerName overrides the SNI derived from addr.
func UTLSDialer(helloID utls.ClientHelloID) func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	return func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("utls dialer: parse addr %q: %w", addr, err)
		}
		sni := host
		if tlsCfg != nil && tlsCfg.ServerName != "" {
			sni = tlsCfg.ServerName
		}

		var d net.Dialer
		rawConn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("utls dialer: dial %s: %w", addr, err)
		}

		// Only the fields uTLS still respects are forwarded; cipher suites
		// and curve preferences come from the ClientHelloSpec.
		uCfg := &utls.Config{
			ServerName:         sni,
			InsecureSkipVerify: tlsCfg != nil && tlsCfg.InsecureSkipVerify, // #nosec G402 – caller-controlled
		}
		uConn := utls.UClient(rawConn, uCfg, helloID)

		spec := clientHelloSpec(helloID)
		if err := uConn.ApplyPreset(&spec); err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("utls dialer: apply preset for %s: %w", helloID.Str(), err)
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = uConn.Close()
			return nil, fmt.Errorf("utls dialer: TLS handshake with %s: %w", addr, err)
		}
		return uConn, nil
	}
}

// clientHelloSpec returns the parrot spec for recognised Chrome IDs, which
// already encodes GREASE placeholders, the cipher-suite list, and extension
// ordering.  Other IDs fall back to letting uTLS fill the spec itself.
func clientHelloSpec(helloID utls.ClientHelloID) utls.ClientHelloSpec {
	switch helloID {
	case utls.HelloChrome_120,
		utls.HelloChrome_120_PQ,
		utls.HelloChrome_131,
		utls.HelloChrome_Auto:
		spec, err := utls.UTLSIdToSpec(helloID)
		if err == nil {
			return spec
		}
	}
	return utls.ClientHelloSpec{}
}
