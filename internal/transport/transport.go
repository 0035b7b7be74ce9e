// Package transport builds the HTTP clients sessions use to talk to the store.
//
// Storefront CDNs rate-limit clients whose TLS handshake does not look like a
// browser, so HTTPS requests go through uTLS with a Chrome ClientHello. Each
// shopper session gets its own cookie jar: the store identifies the cart by
// its session cookie.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"
)

// UserAgent is sent on every store request so the Chrome handshake and the
// header agree.
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Options configures NewClient.
type Options struct {
	Timeout time.Duration
	// Fingerprint enables the Chrome TLS transport. When false the default
	// transport is used, which is what tests against httptest servers want.
	Fingerprint bool
	// Jar holds the session cookies. NewClient creates one when nil.
	Jar http.CookieJar
}

// NewClient returns an HTTP client for one shopper session.
func NewClient(opts Options) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	jar := opts.Jar
	if jar == nil {
		var err error
		if jar, err = NewJar(); err != nil {
			return nil, err
		}
	}

	var rt http.RoundTripper = http.DefaultTransport
	if opts.Fingerprint {
		rt = NewChromeTransport(timeout)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{next: rt},
		Jar:       jar,
	}, nil
}

// NewJar creates a cookie jar that scopes cookies by registrable domain.
func NewJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return jar, nil
}

type userAgentTransport struct {
	next http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return t.next.RoundTrip(req)
}

// NewChromeTransport creates an http.RoundTripper that presents Chrome's TLS
// fingerprint. HTTP/2 is tried first and HTTP/1.1 used when the server does
// not negotiate it. Plain-HTTP requests skip the TLS layer entirely.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}

	h2 := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
	}
	h1 := &http.Transport{
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &chromeTransport{h2: h2, h1: h1}
}

type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	// Bodies are form-encoded strings; rewind for the HTTP/1.1 retry.
	if req.Body != nil && req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}
