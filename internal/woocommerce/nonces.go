package woocommerce

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"storefront-bridge/internal/fragment"
	"storefront-bridge/internal/model"
)

// Nonces are the coupon nonces the theme renders into the cart sidebar.
type Nonces struct {
	ApplyCoupon  string
	RemoveCoupon string
}

func (n Nonces) complete() bool {
	return n.ApplyCoupon != "" && n.RemoveCoupon != ""
}

var (
	applyNonceInput  = fragment.MustCompile("#apply_coupon_nonce")
	removeNonceInput = fragment.MustCompile("#remove_coupon_nonce")
)

// LoadNonces fetches the nonce markup unless both nonces are cached.
func (c *Client) LoadNonces(ctx context.Context) error {
	_, err := c.ensureNonces(ctx)
	return err
}

// CachedNonces returns the nonces known so far.
func (c *Client) CachedNonces() Nonces {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nonces
}

// SetNonces seeds the cache, typically from nonce inputs already present in
// a fetched page.
func (c *Client) SetNonces(n Nonces) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n.ApplyCoupon != "" {
		c.nonces.ApplyCoupon = n.ApplyCoupon
	}
	if n.RemoveCoupon != "" {
		c.nonces.RemoveCoupon = n.RemoveCoupon
	}
}

// ensureNonces returns cached nonces, loading them once when missing. A store
// that renders no nonces still gets the requests, with an empty security
// field, and decides itself.
func (c *Client) ensureNonces(ctx context.Context) (Nonces, error) {
	if n := c.CachedNonces(); n.complete() {
		return n, nil
	}

	resp, err := c.post(ctx, EndpointNonces, nil)
	if err != nil {
		return Nonces{}, err
	}
	if !resp.isJSON() {
		c.logger.Warn("nonce response is not JSON", slog.Int("status", resp.status))
		return c.CachedNonces(), nil
	}

	var payload struct {
		FDS string `json:"fds"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return Nonces{}, model.NewMalformedResponseError(service+" "+EndpointNonces, err)
	}
	c.SetNonces(ParseNonces(payload.FDS))

	n := c.CachedNonces()
	if !n.complete() {
		c.logger.Warn("coupon nonces missing from store markup")
	}
	return n, nil
}

// ParseNonces extracts the coupon nonce inputs from markup.
func ParseNonces(markup string) Nonces {
	if markup == "" {
		return Nonces{}
	}
	body := &xhtml.Node{Type: xhtml.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := xhtml.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return Nonces{}
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return NoncesFromTree(body)
}

// NoncesFromTree reads nonce inputs from a parsed document.
func NoncesFromTree(root *xhtml.Node) Nonces {
	var out Nonces
	if n := applyNonceInput.MatchFirst(root); n != nil {
		out.ApplyCoupon = fragment.Attr(n, "value")
	}
	if n := removeNonceInput.MatchFirst(root); n != nil {
		out.RemoveCoupon = fragment.Attr(n, "value")
	}
	return out
}
