package woocommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"storefront-bridge/internal/adapter"
	"storefront-bridge/internal/model"
)

// Endpoint names of the AJAX contract.
const (
	EndpointRefreshFragments = "get_refreshed_fragments"
	EndpointAddToCart        = "add_to_cart"
	EndpointRemoveFromCart   = "remove_from_cart"
	EndpointGetVariation     = "get_variation"
	EndpointApplyCoupon      = "apply_coupon"
	EndpointRemoveCoupon     = "remove_coupon"
	EndpointQuantity         = "nasa_quantity_mini_cart"
	EndpointNote             = "nasa_mini_cart_note"
	EndpointNonces           = "nasa_ext_cart_ajax_nonce"
)

// MissingOptionsMessage is returned when a variable product is added without
// a variation.
const MissingOptionsMessage = "Please select some product options before adding this product to your cart."

// Success phrases the store prints when it answers with an HTML notice.
var (
	applyCouponIndicators  = []string{"Coupon code applied successfully", "Coupon applied successfully"}
	removeCouponIndicators = []string{"Coupon has been removed", "Coupon removed successfully"}
	noteIndicators         = []string{"Note saved", "Order notes saved"}
)

// RefreshFragments fetches the current fragments with a request of its own,
// so the reply reflects every mutation sent before the call.
func (c *Client) RefreshFragments(ctx context.Context) (*model.CartResponse, error) {
	return c.fetchFragments(ctx)
}

// BackgroundRefresh fetches the current fragments for an unsolicited refresh.
// Overlapping calls share one request unless a mutation was sent since it
// started. The shared request is detached from the callers' contexts and
// bounded by the request timeout; each caller stops waiting when its own ctx
// is done.
func (c *Client) BackgroundRefresh(ctx context.Context) (*model.CartResponse, error) {
	key := EndpointRefreshFragments + "#" + strconv.FormatUint(c.generation.Load(), 10)
	ch := c.refresh.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout)
		defer cancel()
		return c.fetchFragments(sctx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for fragment refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("fragment refresh shared with in-flight request")
		}
		return res.Val.(*model.CartResponse), nil
	}
}

func (c *Client) fetchFragments(ctx context.Context) (*model.CartResponse, error) {
	resp, err := c.post(ctx, EndpointRefreshFragments, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeCart(resp, EndpointRefreshFragments)
}

// AddToCart adds a product, or a variation of a variable product.
func (c *Client) AddToCart(ctx context.Context, req *adapter.AddToCartRequest) (*model.CartResponse, error) {
	if req == nil || req.ProductID <= 0 {
		return nil, model.NewValidationError("product_id", "must be positive")
	}
	if req.Variable && req.VariationID <= 0 {
		return nil, model.NewBusinessError(MissingOptionsMessage)
	}
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}

	form := url.Values{}
	form.Set("product_id", strconv.Itoa(req.ProductID))
	form.Set("quantity", strconv.Itoa(qty))
	if req.VariationID > 0 {
		form.Set("variation_id", strconv.Itoa(req.VariationID))
	}
	for name, value := range req.Attributes {
		if value != "" {
			form.Set(model.WireAttribute(name), value)
		}
	}

	resp, err := c.post(ctx, EndpointAddToCart, form)
	if err != nil {
		return nil, err
	}
	return c.decodeCart(resp, EndpointAddToCart)
}

// RemoveFromCart removes one cart line.
func (c *Client) RemoveFromCart(ctx context.Context, itemKey string) (*model.CartResponse, error) {
	if strings.TrimSpace(itemKey) == "" {
		return nil, model.NewValidationError("cart_item_key", "must not be empty")
	}
	form := url.Values{}
	form.Set("cart_item_key", itemKey)
	c.mu.RLock()
	if c.cartNonce != "" {
		form.Set("security", c.cartNonce)
	}
	c.mu.RUnlock()

	resp, err := c.post(ctx, EndpointRemoveFromCart, form)
	if err != nil {
		return nil, err
	}
	return c.decodeCart(resp, EndpointRemoveFromCart)
}

// UpdateQuantity sets a cart line's quantity through the theme's mini-cart
// endpoint.
func (c *Client) UpdateQuantity(ctx context.Context, itemKey string, quantity int) (*model.CartResponse, error) {
	if strings.TrimSpace(itemKey) == "" {
		return nil, model.NewValidationError("hash", "must not be empty")
	}
	if quantity < 0 {
		return nil, model.NewValidationError("quantity", "must not be negative")
	}
	form := url.Values{}
	form.Set("hash", itemKey)
	form.Set("quantity", strconv.Itoa(quantity))
	form.Set("no-mess", "1")

	resp, err := c.post(ctx, EndpointQuantity, form)
	if err != nil {
		return nil, err
	}
	out, err := c.decodeCart(resp, EndpointQuantity)
	if err != nil {
		return nil, err
	}
	if out.URLRedirect != "" {
		return out, &model.RedirectError{URL: out.URLRedirect}
	}
	return out, nil
}

// ApplyCoupon applies a coupon code and returns the store's confirmation.
func (c *Client) ApplyCoupon(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", model.NewValidationError("coupon_code", "must not be empty")
	}
	nonces, err := c.ensureNonces(ctx)
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("security", nonces.ApplyCoupon)
	form.Set("coupon_code", code)

	resp, err := c.post(ctx, EndpointApplyCoupon, form)
	if err != nil {
		return "", err
	}
	return c.decodeNotice(resp, EndpointApplyCoupon, applyCouponIndicators)
}

// RemoveCoupon removes an applied coupon.
func (c *Client) RemoveCoupon(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", model.NewValidationError("coupon", "must not be empty")
	}
	nonces, err := c.ensureNonces(ctx)
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("security", nonces.RemoveCoupon)
	form.Set("coupon", code)

	resp, err := c.post(ctx, EndpointRemoveCoupon, form)
	if err != nil {
		return "", err
	}
	return c.decodeNotice(resp, EndpointRemoveCoupon, removeCouponIndicators)
}

// SaveNote stores the order note.
func (c *Client) SaveNote(ctx context.Context, note string) (*model.CartResponse, error) {
	form := url.Values{}
	form.Set("order_comments", strings.TrimSpace(note))

	resp, err := c.post(ctx, EndpointNote, form)
	if err != nil {
		return nil, err
	}
	if !resp.isJSON() {
		msg, err := c.decodeNotice(resp, EndpointNote, noteIndicators)
		if err != nil {
			return nil, err
		}
		return &model.CartResponse{Message: msg}, nil
	}
	return c.decodeCart(resp, EndpointNote)
}

// ajaxResult is the generic JSON reply of the theme's endpoints.
type ajaxResult struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   bool            `json:"error"`
}

// decodeNotice interprets replies of endpoints that answer with a notice
// rather than fragments. JSON replies succeed unless success is false or
// error is set. HTML replies succeed when a success phrase is present.
func (c *Client) decodeNotice(resp *response, endpoint string, indicators []string) (string, error) {
	if resp.isJSON() {
		var r ajaxResult
		if err := json.Unmarshal(resp.body, &r); err != nil {
			return "", model.NewMalformedResponseError(service+" "+endpoint, err)
		}
		msg := r.Message
		if msg == "" && len(r.Data) > 0 {
			var s string
			if json.Unmarshal(r.Data, &s) == nil {
				msg = s
			}
		}
		if r.Error || (r.Success != nil && !*r.Success) {
			return "", model.NewBusinessError(NoticeText(msg))
		}
		return NoticeText(msg), nil
	}

	body := string(resp.body)
	if resp.status < 400 {
		for _, ind := range indicators {
			if strings.Contains(body, ind) {
				if msg := SuccessNotice(resp.body); msg != "" {
					return msg, nil
				}
				return ind, nil
			}
		}
	}
	if msg := ErrorNotice(resp.body); msg != "" {
		return "", model.NewBusinessError(msg)
	}
	if resp.status >= 400 {
		return "", c.htmlFailure(resp, endpoint)
	}
	if msg := SuccessNotice(resp.body); msg != "" {
		return msg, nil
	}
	return "Operation completed", nil
}
