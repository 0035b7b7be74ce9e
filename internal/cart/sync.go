package cart

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/net/html"

	"storefront-bridge/internal/adapter"
	"storefront-bridge/internal/reconcile"
	"storefront-bridge/internal/woocommerce"
)

// SyncCoupons brings the applied coupon set to desired: removals first, then
// additions, then one refresh. It stops at the first failure and returns the
// diff it was working through. A failure after some calls went through still
// refreshes so the document matches what the store now holds.
func (m *Manager) SyncCoupons(ctx context.Context, applied, desired []string) (*reconcile.CouponDiff, *Result, error) {
	diff := reconcile.DiffCoupons(applied, desired)
	if diff.IsEmpty() {
		return diff, &Result{}, nil
	}

	release := m.gate.Begin()
	defer release()
	m.gate.Touch()

	progressed := false
	fail := func(err error) (*reconcile.CouponDiff, *Result, error) {
		m.failed(err)
		if !progressed {
			return diff, nil, err
		}
		res, rerr := m.refresh(ctx)
		if rerr != nil {
			m.logger.Warn("refresh after partial coupon sync failed", slog.String("error", rerr.Error()))
		}
		return diff, res, err
	}

	for _, code := range diff.ToRemove {
		if _, err := m.store.RemoveCoupon(ctx, code); err != nil {
			return fail(fmt.Errorf("removing coupon %q: %w", code, err))
		}
		progressed = true
	}
	for _, code := range diff.ToApply {
		if _, err := m.store.ApplyCoupon(ctx, code); err != nil {
			return fail(fmt.Errorf("applying coupon %q: %w", code, err))
		}
		progressed = true
	}

	res, err := m.refresh(ctx)
	if err != nil {
		return diff, nil, err
	}
	return diff, res, nil
}

// CartItems returns the lines shown in the document's mini cart.
func (m *Manager) CartItems() []reconcile.CurrentItem {
	var items []reconcile.CurrentItem
	m.rec.Document().View(func(root *html.Node) error {
		items = woocommerce.ParseCartItems(root)
		return nil
	})
	return items
}

// SyncItems brings the cart lines to desired, reading the current lines from
// the mini cart. Mutations run remove, update, add.
func (m *Manager) SyncItems(ctx context.Context, desired []reconcile.DesiredItem) (*reconcile.LineItemDiff, error) {
	diff := reconcile.DiffLineItems(m.CartItems(), desired)
	if diff.IsEmpty() {
		return diff, nil
	}
	m.logger.Debug("syncing cart lines",
		slog.Int("remove", len(diff.ToRemove)),
		slog.Int("update", len(diff.ToUpdate)),
		slog.Int("add", len(diff.ToAdd)),
	)

	release := m.gate.Begin()
	defer release()

	for _, it := range diff.ToRemove {
		if _, err := m.RemoveItem(ctx, it.ItemKey); err != nil {
			return diff, fmt.Errorf("removing line %s: %w", it.ItemKey, err)
		}
	}
	for _, it := range diff.ToUpdate {
		if _, err := m.UpdateQuantity(ctx, it.ItemKey, it.NewQuantity); err != nil {
			return diff, fmt.Errorf("updating line %s: %w", it.ItemKey, err)
		}
	}
	for _, it := range diff.ToAdd {
		req := &adapter.AddToCartRequest{
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			VariationID: it.VariationID,
			Attributes:  it.Attributes,
			Variable:    it.VariationID != 0,
		}
		if _, err := m.AddToCart(ctx, req); err != nil {
			return diff, fmt.Errorf("adding product %d: %w", it.ProductID, err)
		}
	}
	return diff, nil
}
