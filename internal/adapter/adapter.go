// Package adapter defines the interface the bridge uses to drive a storefront's
// AJAX endpoints. The WooCommerce client is the production implementation.
package adapter

import (
	"context"

	"storefront-bridge/internal/model"
)

// Storefront abstracts the cart-mutating and lookup endpoints of one shopper's
// store session. Implementations carry the session cookies.
//
// Mutating methods return the store's fragment payload. Store-reported
// failures surface as model.ErrBusiness, transport failures as
// model.ErrNetworkFailure and undecodable bodies as model.ErrMalformedResponse.
// A *model.RedirectError means the shopper must be sent to its URL.
type Storefront interface {
	// FetchPage loads a storefront page and returns its markup.
	// Only URLs on the configured store host are accepted.
	FetchPage(ctx context.Context, pageURL string) ([]byte, error)

	// RefreshFragments calls get_refreshed_fragments with a request of its
	// own. Callers refreshing after a mutation use it.
	RefreshFragments(ctx context.Context) (*model.CartResponse, error)

	// BackgroundRefresh calls get_refreshed_fragments for an unsolicited
	// refresh. It may share a request with overlapping background refreshes
	// started since the last mutation.
	BackgroundRefresh(ctx context.Context) (*model.CartResponse, error)

	// AddToCart calls add_to_cart.
	AddToCart(ctx context.Context, req *AddToCartRequest) (*model.CartResponse, error)

	// RemoveFromCart calls remove_from_cart for one cart_item_key.
	RemoveFromCart(ctx context.Context, itemKey string) (*model.CartResponse, error)

	// UpdateQuantity sets the quantity of one cart line.
	UpdateQuantity(ctx context.Context, itemKey string, quantity int) (*model.CartResponse, error)

	// ApplyCoupon and RemoveCoupon return the store's confirmation text.
	ApplyCoupon(ctx context.Context, code string) (string, error)
	RemoveCoupon(ctx context.Context, code string) (string, error)

	// SaveNote stores the order note shown in the mini cart.
	SaveNote(ctx context.Context, note string) (*model.CartResponse, error)

	// LoadNonces fetches the coupon nonces if they are not cached yet.
	LoadNonces(ctx context.Context) error

	// GetVariation resolves a complete selection remotely. A nil record with
	// nil error means no variation matches.
	GetVariation(ctx context.Context, productID int, sel model.Selection) (*model.VariationRecord, error)
}

// AddToCartRequest contains the add_to_cart form fields.
type AddToCartRequest struct {
	ProductID   int               `json:"product_id"`
	Quantity    int               `json:"quantity"`
	VariationID int               `json:"variation_id,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	// Variable marks a variable product, which requires VariationID.
	Variable bool `json:"variable,omitempty"`
}
