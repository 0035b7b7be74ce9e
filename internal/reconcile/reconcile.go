// Package reconcile computes the delta between the cart the store reports and
// the cart a caller wants, so a sync issues only the mutations it needs.
package reconcile

import (
	"sort"
	"strconv"
	"strings"

	"storefront-bridge/internal/model"
)

// LineItemDiff describes the mutations needed to reconcile cart lines.
// Apply in order Remove → Update → Add so an update never targets a removed
// line.
type LineItemDiff struct {
	ToAdd    []ItemToAdd    `json:"to_add"`
	ToRemove []ItemToRemove `json:"to_remove"`
	ToUpdate []ItemToUpdate `json:"to_update"`
}

// IsEmpty returns true if no line changes are needed.
func (d *LineItemDiff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// ItemToAdd is a line to add with add_to_cart.
type ItemToAdd struct {
	ProductID   int               `json:"product_id"`
	VariationID int               `json:"variation_id,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Quantity    int               `json:"quantity"`
}

// ItemToRemove is a line to drop with remove_from_cart.
type ItemToRemove struct {
	ProductID int    `json:"product_id"`
	ItemKey   string `json:"item_key"` // cart_item_key
}

// ItemToUpdate is a line whose quantity changes.
type ItemToUpdate struct {
	ProductID   int    `json:"product_id"`
	ItemKey     string `json:"item_key"`
	OldQuantity int    `json:"old_quantity"`
	NewQuantity int    `json:"new_quantity"`
}

// CurrentItem is a line as read from the mini-cart markup.
type CurrentItem struct {
	ItemKey     string `json:"item_key"`
	ProductID   int    `json:"product_id"`
	VariationID int    `json:"variation_id,omitempty"`
	Quantity    int    `json:"quantity"`
}

// DesiredItem is a line the caller wants in the cart.
type DesiredItem struct {
	ProductID   int               `json:"product_id"`
	VariationID int               `json:"variation_id,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Quantity    int               `json:"quantity"`
}

// DiffLineItems matches lines by product and variation. A desired quantity of
// zero or less removes the line. Output follows the order of the inputs.
func DiffLineItems(current []CurrentItem, desired []DesiredItem) *LineItemDiff {
	diff := &LineItemDiff{}

	currentByKey := make(map[string]CurrentItem, len(current))
	for _, item := range current {
		currentByKey[itemKey(item.ProductID, item.VariationID)] = item
	}

	wanted := make(map[string]bool, len(desired))
	for _, item := range desired {
		key := itemKey(item.ProductID, item.VariationID)
		if item.Quantity <= 0 {
			continue
		}
		wanted[key] = true
		cur, exists := currentByKey[key]
		switch {
		case !exists:
			diff.ToAdd = append(diff.ToAdd, ItemToAdd{
				ProductID:   item.ProductID,
				VariationID: item.VariationID,
				Attributes:  item.Attributes,
				Quantity:    item.Quantity,
			})
		case cur.Quantity != item.Quantity:
			diff.ToUpdate = append(diff.ToUpdate, ItemToUpdate{
				ProductID:   item.ProductID,
				ItemKey:     cur.ItemKey,
				OldQuantity: cur.Quantity,
				NewQuantity: item.Quantity,
			})
		}
	}

	for _, item := range current {
		if !wanted[itemKey(item.ProductID, item.VariationID)] {
			diff.ToRemove = append(diff.ToRemove, ItemToRemove{
				ProductID: item.ProductID,
				ItemKey:   item.ItemKey,
			})
		}
	}

	return diff
}

func itemKey(productID, variationID int) string {
	if variationID == 0 {
		return strconv.Itoa(productID)
	}
	return strconv.Itoa(productID) + ":" + strconv.Itoa(variationID)
}

// CouponDiff describes the coupon codes to apply and remove.
type CouponDiff struct {
	ToApply  []string `json:"to_apply"`
	ToRemove []string `json:"to_remove"`
}

// IsEmpty returns true if no coupon changes are needed.
func (d *CouponDiff) IsEmpty() bool {
	return len(d.ToApply) == 0 && len(d.ToRemove) == 0
}

// NormalizeCoupon formats a code the way the store stores it: trimmed and
// lower-cased.
func NormalizeCoupon(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// DiffCoupons is a set difference over normalized codes. Results are sorted.
func DiffCoupons(current, desired []string) *CouponDiff {
	diff := &CouponDiff{}
	currentSet := codeSet(current)
	desiredSet := codeSet(desired)

	for code := range desiredSet {
		if !currentSet[code] {
			diff.ToApply = append(diff.ToApply, code)
		}
	}
	for code := range currentSet {
		if !desiredSet[code] {
			diff.ToRemove = append(diff.ToRemove, code)
		}
	}
	sort.Strings(diff.ToApply)
	sort.Strings(diff.ToRemove)
	return diff
}

func codeSet(codes []string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		if c = NormalizeCoupon(c); c != "" {
			set[c] = true
		}
	}
	return set
}

// DiffFragments returns the keys of next whose markup differs from prev,
// sorted. Keys only in prev are not reported: fragments are never removed.
func DiffFragments(prev, next model.FragmentMap) []string {
	var changed []string
	for _, key := range next.Keys() {
		if old, ok := prev[key]; !ok || old != next[key] {
			changed = append(changed, key)
		}
	}
	return changed
}
