package adapter

import (
	"context"

	"storefront-bridge/internal/model"
)

// Mock implements Storefront for testing.
// Each method can be configured via function fields.
type Mock struct {
	FetchPageFunc         func(ctx context.Context, pageURL string) ([]byte, error)
	RefreshFragmentsFunc  func(ctx context.Context) (*model.CartResponse, error)
	// BackgroundRefreshFunc falls back to RefreshFragments when nil.
	BackgroundRefreshFunc func(ctx context.Context) (*model.CartResponse, error)
	AddToCartFunc         func(ctx context.Context, req *AddToCartRequest) (*model.CartResponse, error)
	RemoveFromCartFunc    func(ctx context.Context, itemKey string) (*model.CartResponse, error)
	UpdateQuantityFunc    func(ctx context.Context, itemKey string, quantity int) (*model.CartResponse, error)
	ApplyCouponFunc       func(ctx context.Context, code string) (string, error)
	RemoveCouponFunc      func(ctx context.Context, code string) (string, error)
	SaveNoteFunc          func(ctx context.Context, note string) (*model.CartResponse, error)
	LoadNoncesFunc        func(ctx context.Context) error
	GetVariationFunc      func(ctx context.Context, productID int, sel model.Selection) (*model.VariationRecord, error)
}

var _ Storefront = (*Mock)(nil)

// FetchPage calls the configured FetchPageFunc or returns an empty page.
func (m *Mock) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	if m.FetchPageFunc != nil {
		return m.FetchPageFunc(ctx, pageURL)
	}
	return []byte("<html><body></body></html>"), nil
}

// RefreshFragments calls the configured RefreshFragmentsFunc or returns no fragments.
func (m *Mock) RefreshFragments(ctx context.Context) (*model.CartResponse, error) {
	if m.RefreshFragmentsFunc != nil {
		return m.RefreshFragmentsFunc(ctx)
	}
	return &model.CartResponse{}, nil
}

// BackgroundRefresh calls the configured BackgroundRefreshFunc, or
// RefreshFragments when none is set.
func (m *Mock) BackgroundRefresh(ctx context.Context) (*model.CartResponse, error) {
	if m.BackgroundRefreshFunc != nil {
		return m.BackgroundRefreshFunc(ctx)
	}
	return m.RefreshFragments(ctx)
}

// AddToCart calls the configured AddToCartFunc or returns an error.
func (m *Mock) AddToCart(ctx context.Context, req *AddToCartRequest) (*model.CartResponse, error) {
	if m.AddToCartFunc != nil {
		return m.AddToCartFunc(ctx, req)
	}
	return nil, model.NewInternalError(nil)
}

// RemoveFromCart calls the configured RemoveFromCartFunc or returns an error.
func (m *Mock) RemoveFromCart(ctx context.Context, itemKey string) (*model.CartResponse, error) {
	if m.RemoveFromCartFunc != nil {
		return m.RemoveFromCartFunc(ctx, itemKey)
	}
	return nil, model.NewNotFoundError("cart item")
}

// UpdateQuantity calls the configured UpdateQuantityFunc or returns an error.
func (m *Mock) UpdateQuantity(ctx context.Context, itemKey string, quantity int) (*model.CartResponse, error) {
	if m.UpdateQuantityFunc != nil {
		return m.UpdateQuantityFunc(ctx, itemKey, quantity)
	}
	return nil, model.NewNotFoundError("cart item")
}

// ApplyCoupon calls the configured ApplyCouponFunc or returns an error.
func (m *Mock) ApplyCoupon(ctx context.Context, code string) (string, error) {
	if m.ApplyCouponFunc != nil {
		return m.ApplyCouponFunc(ctx, code)
	}
	return "", model.NewBusinessError("")
}

// RemoveCoupon calls the configured RemoveCouponFunc or returns an error.
func (m *Mock) RemoveCoupon(ctx context.Context, code string) (string, error) {
	if m.RemoveCouponFunc != nil {
		return m.RemoveCouponFunc(ctx, code)
	}
	return "", model.NewBusinessError("")
}

// SaveNote calls the configured SaveNoteFunc or returns no fragments.
func (m *Mock) SaveNote(ctx context.Context, note string) (*model.CartResponse, error) {
	if m.SaveNoteFunc != nil {
		return m.SaveNoteFunc(ctx, note)
	}
	return &model.CartResponse{}, nil
}

// LoadNonces calls the configured LoadNoncesFunc or succeeds.
func (m *Mock) LoadNonces(ctx context.Context) error {
	if m.LoadNoncesFunc != nil {
		return m.LoadNoncesFunc(ctx)
	}
	return nil
}

// GetVariation calls the configured GetVariationFunc or reports no match.
func (m *Mock) GetVariation(ctx context.Context, productID int, sel model.Selection) (*model.VariationRecord, error) {
	if m.GetVariationFunc != nil {
		return m.GetVariationFunc(ctx, productID, sel)
	}
	return nil, nil
}
