// Package woocommerce drives a WooCommerce storefront through the AJAX
// endpoints its own front-end uses (?wc-ajax=...), the way a browser session
// would: form-encoded POSTs, session cookies, HTML fragments in the replies.
package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"storefront-bridge/internal/adapter"
	"storefront-bridge/internal/model"
)

// EndpointPlaceholder is replaced by the endpoint name in AJAX URL templates.
const EndpointPlaceholder = "%%endpoint%%"

// DefaultAjaxURL is the wc-ajax template every store since 2.4 serves.
const DefaultAjaxURL = "/?wc-ajax=" + EndpointPlaceholder

// maxBodyBytes caps response bodies. Full pages can be large; fragment
// payloads are far smaller.
const maxBodyBytes = 8 << 20

const service = "WooCommerce"

// DefaultRequestTimeout bounds a shared background refresh, which no single
// caller's context owns.
const DefaultRequestTimeout = 30 * time.Second

// readOnlyEndpoints leave the cart untouched. Any other endpoint advances the
// mutation generation.
var readOnlyEndpoints = map[string]bool{
	EndpointRefreshFragments: true,
	EndpointGetVariation:     true,
	EndpointNonces:           true,
}

// Config holds client configuration.
type Config struct {
	StoreURL       string
	// AjaxURL is the endpoint template. Relative templates resolve against
	// StoreURL. Empty means DefaultAjaxURL.
	AjaxURL        string
	HTTPClient     *http.Client
	Logger         *slog.Logger
	// RequestTimeout bounds shared background refreshes. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Client implements adapter.Storefront for one shopper session. The session
// identity lives in the HTTP client's cookie jar.
type Client struct {
	httpClient *http.Client
	storeURL   *url.URL
	logger     *slog.Logger

	mu           sync.RWMutex
	ajaxTemplate string
	nonces       Nonces
	cartNonce    string

	// refresh dedups background refreshes. Flights are keyed by generation,
	// which every mutating request advances before and after it runs.
	refresh        singleflight.Group
	generation     atomic.Uint64
	requestTimeout time.Duration
}

var _ adapter.Storefront = (*Client)(nil)

// New creates a WooCommerce client.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	u, err := url.Parse(strings.TrimSuffix(cfg.StoreURL, "/"))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid store URL %q", cfg.StoreURL)
	}
	if cfg.HTTPClient == nil {
		return nil, fmt.Errorf("HTTP client is required")
	}
	tmpl := cfg.AjaxURL
	if tmpl == "" {
		tmpl = DefaultAjaxURL
	}
	if !strings.Contains(tmpl, EndpointPlaceholder) {
		return nil, fmt.Errorf("AJAX URL %q lacks %s", tmpl, EndpointPlaceholder)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		httpClient:     cfg.HTTPClient,
		storeURL:       u,
		logger:         logger,
		ajaxTemplate:   tmpl,
		requestTimeout: timeout,
	}, nil
}

// ConfigurePage adopts the parameters a fetched page advertises: its AJAX
// URL template, the add-to-cart nonce used by remove_from_cart and any coupon
// nonces already rendered.
func (c *Client) ConfigurePage(p *PageInfo) {
	if p == nil {
		return
	}
	c.SetNonces(p.Nonces)
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.AjaxURL != "" && strings.Contains(p.AjaxURL, EndpointPlaceholder) {
		c.ajaxTemplate = p.AjaxURL
	}
	if p.CartNonce != "" {
		c.cartNonce = p.CartNonce
	}
}

// EndpointURL returns the absolute URL of an AJAX endpoint.
func (c *Client) EndpointURL(endpoint string) string {
	c.mu.RLock()
	tmpl := c.ajaxTemplate
	c.mu.RUnlock()

	raw := strings.ReplaceAll(tmpl, EndpointPlaceholder, url.QueryEscape(endpoint))
	ref, err := url.Parse(raw)
	if err != nil {
		return c.storeURL.String() + raw
	}
	return c.storeURL.ResolveReference(ref).String()
}

// StoreURL returns the configured store base URL.
func (c *Client) StoreURL() string { return c.storeURL.String() }

// response is a fully read store reply.
type response struct {
	status      int
	contentType string
	body        []byte
}

func (r *response) isJSON() bool {
	mt, _, _ := mime.ParseMediaType(r.contentType)
	if mt == "application/json" || strings.HasSuffix(mt, "+json") {
		return true
	}
	// wc-ajax replies are sometimes served as text/html by caching plugins.
	trimmed := bytes.TrimSpace(r.body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// post sends a form-encoded request to an AJAX endpoint.
func (c *Client) post(ctx context.Context, endpoint string, form url.Values) (*response, error) {
	var body io.Reader = http.NoBody
	if len(form) > 0 {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.EndpointURL(endpoint), body)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", c.storeURL.Scheme+"://"+c.storeURL.Host)

	if !readOnlyEndpoints[endpoint] {
		c.generation.Add(1)
		defer c.generation.Add(1)
	}
	return c.do(req, endpoint)
}

func (c *Client) do(req *http.Request, endpoint string) (*response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("store request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError(service+" "+endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, model.NewNetworkError(service+" "+endpoint, err)
	}

	c.logger.Debug("store response",
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(data)),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, model.NewRateLimitError(service)
	}
	return &response{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        data,
	}, nil
}

// FetchPage loads a page on the store host with the session's cookies.
func (c *Client) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	u, err := c.resolvePageURL(pageURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.do(req, "page")
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return nil, model.NewNotFoundError("page")
	case resp.status >= 400:
		return nil, model.NewNetworkError(service+" page",
			fmt.Errorf("status %d", resp.status))
	}
	return resp.body, nil
}

// resolvePageURL accepts absolute URLs on the store host and store-relative
// paths.
func (c *Client) resolvePageURL(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return c.storeURL.String() + "/", nil
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", model.NewValidationError("page_url", err.Error())
	}
	u := c.storeURL.ResolveReference(ref)
	if !strings.EqualFold(u.Host, c.storeURL.Host) {
		return "", model.NewValidationError("page_url", fmt.Sprintf("host %q is not the store host", u.Host))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", model.NewValidationError("page_url", "unsupported scheme")
	}
	return u.String(), nil
}

// decodeCart interprets a fragment-bearing reply.
func (c *Client) decodeCart(resp *response, endpoint string) (*model.CartResponse, error) {
	if !resp.isJSON() {
		return nil, c.htmlFailure(resp, endpoint)
	}

	var out model.CartResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, model.NewMalformedResponseError(service+" "+endpoint, err)
	}
	if out.Error {
		if out.ProductURL != "" {
			return nil, &model.RedirectError{URL: out.ProductURL}
		}
		return nil, model.NewBusinessError(NoticeText(out.Message))
	}
	if resp.status >= 400 {
		return nil, model.NewNetworkError(service+" "+endpoint, fmt.Errorf("status %d", resp.status))
	}
	return &out, nil
}

// htmlFailure turns a non-JSON reply where JSON was expected into an error.
func (c *Client) htmlFailure(resp *response, endpoint string) error {
	if msg := ErrorNotice(resp.body); msg != "" {
		return model.NewBusinessError(msg)
	}
	if resp.status >= 400 {
		return model.NewNetworkError(service+" "+endpoint, fmt.Errorf("status %d", resp.status))
	}
	// wc-ajax answers unknown endpoints and expired sessions with "-1" or "0".
	return model.NewMalformedResponseError(service+" "+endpoint,
		fmt.Errorf("unexpected %q body", snippet(resp.body)))
}

func snippet(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > 64 {
		return string(b[:64]) + "…"
	}
	return string(b)
}
