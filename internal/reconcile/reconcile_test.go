package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"storefront-bridge/internal/model"
)

func TestDiffLineItems_EmptyToItems(t *testing.T) {
	desired := []DesiredItem{
		{ProductID: 10, Quantity: 2},
		{ProductID: 20, VariationID: 21, Quantity: 1},
	}

	diff := DiffLineItems(nil, desired)

	if len(diff.ToAdd) != 2 {
		t.Errorf("ToAdd = %d, want 2", len(diff.ToAdd))
	}
	if len(diff.ToRemove) != 0 || len(diff.ToUpdate) != 0 {
		t.Errorf("unexpected mutations: %+v", diff)
	}
}

func TestDiffLineItems_ItemsToEmpty(t *testing.T) {
	current := []CurrentItem{
		{ItemKey: "k1", ProductID: 10, Quantity: 2},
		{ItemKey: "k2", ProductID: 20, Quantity: 1},
	}

	diff := DiffLineItems(current, nil)

	want := []ItemToRemove{{ProductID: 10, ItemKey: "k1"}, {ProductID: 20, ItemKey: "k2"}}
	if d := cmp.Diff(want, diff.ToRemove); d != "" {
		t.Errorf("ToRemove mismatch (-want +got):\n%s", d)
	}
}

func TestDiffLineItems_QuantityUpdate(t *testing.T) {
	current := []CurrentItem{{ItemKey: "k1", ProductID: 10, Quantity: 2}}
	desired := []DesiredItem{{ProductID: 10, Quantity: 5}}

	diff := DiffLineItems(current, desired)

	want := []ItemToUpdate{{ProductID: 10, ItemKey: "k1", OldQuantity: 2, NewQuantity: 5}}
	if d := cmp.Diff(want, diff.ToUpdate); d != "" {
		t.Errorf("ToUpdate mismatch (-want +got):\n%s", d)
	}
	if len(diff.ToAdd) != 0 || len(diff.ToRemove) != 0 {
		t.Errorf("unexpected mutations: %+v", diff)
	}
}

func TestDiffLineItems_NoChange(t *testing.T) {
	current := []CurrentItem{{ItemKey: "k1", ProductID: 10, VariationID: 11, Quantity: 1}}
	desired := []DesiredItem{{ProductID: 10, VariationID: 11, Quantity: 1}}

	if diff := DiffLineItems(current, desired); !diff.IsEmpty() {
		t.Errorf("diff = %+v, want empty", diff)
	}
}

func TestDiffLineItems_VariationsAreDistinctLines(t *testing.T) {
	current := []CurrentItem{{ItemKey: "red", ProductID: 10, VariationID: 11, Quantity: 1}}
	desired := []DesiredItem{{ProductID: 10, VariationID: 12, Attributes: map[string]string{"color": "blue"}, Quantity: 1}}

	diff := DiffLineItems(current, desired)

	if len(diff.ToAdd) != 1 || diff.ToAdd[0].VariationID != 12 || diff.ToAdd[0].Attributes["color"] != "blue" {
		t.Errorf("ToAdd = %+v", diff.ToAdd)
	}
	if len(diff.ToRemove) != 1 || diff.ToRemove[0].ItemKey != "red" {
		t.Errorf("ToRemove = %+v", diff.ToRemove)
	}
}

func TestDiffLineItems_ZeroQuantityRemoves(t *testing.T) {
	current := []CurrentItem{{ItemKey: "k1", ProductID: 10, Quantity: 3}}
	desired := []DesiredItem{{ProductID: 10, Quantity: 0}, {ProductID: 30, Quantity: -1}}

	diff := DiffLineItems(current, desired)

	if len(diff.ToRemove) != 1 || len(diff.ToAdd) != 0 || len(diff.ToUpdate) != 0 {
		t.Errorf("diff = %+v, want single removal", diff)
	}
}

func TestDiffCoupons(t *testing.T) {
	tests := []struct {
		name             string
		current, desired []string
		apply, remove    []string
	}{
		{"empty to codes", nil, []string{"SAVE10", "ship"}, []string{"save10", "ship"}, nil},
		{"codes to empty", []string{"save10"}, nil, nil, []string{"save10"}},
		{"replace", []string{"old"}, []string{"new"}, []string{"new"}, []string{"old"}},
		{"no change ignoring case", []string{"save10"}, []string{" Save10 "}, nil, nil},
		{"partial overlap", []string{"a", "b"}, []string{"b", "c"}, []string{"c"}, []string{"a"}},
		{"blank codes ignored", []string{""}, []string{"  "}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := DiffCoupons(tt.current, tt.desired)
			if d := cmp.Diff(tt.apply, diff.ToApply); d != "" {
				t.Errorf("ToApply mismatch (-want +got):\n%s", d)
			}
			if d := cmp.Diff(tt.remove, diff.ToRemove); d != "" {
				t.Errorf("ToRemove mismatch (-want +got):\n%s", d)
			}
			if diff.IsEmpty() != (len(tt.apply) == 0 && len(tt.remove) == 0) {
				t.Errorf("IsEmpty = %v", diff.IsEmpty())
			}
		})
	}
}

func TestDiffFragments(t *testing.T) {
	prev := model.FragmentMap{
		"a.cart-contents":                  `<a class="cart-contents">1</a>`,
		"div.widget_shopping_cart_content": `<div>same</div>`,
		".gone":                            `<p></p>`,
	}
	next := model.FragmentMap{
		"a.cart-contents":                  `<a class="cart-contents">2</a>`,
		"div.widget_shopping_cart_content": `<div>same</div>`,
		".new":                             `<p>new</p>`,
	}

	if d := cmp.Diff([]string{".new", "a.cart-contents"}, DiffFragments(prev, next)); d != "" {
		t.Errorf("DiffFragments mismatch (-want +got):\n%s", d)
	}

	if got := DiffFragments(next, next); got != nil {
		t.Errorf("DiffFragments of identical maps = %v, want nil", got)
	}
	if d := cmp.Diff([]string{".new", "a.cart-contents", "div.widget_shopping_cart_content"}, DiffFragments(nil, next)); d != "" {
		t.Errorf("DiffFragments from nil mismatch (-want +got):\n%s", d)
	}
}

func TestLineItemDiff_IsEmpty(t *testing.T) {
	if !(&LineItemDiff{}).IsEmpty() {
		t.Error("zero diff should be empty")
	}
	if (&LineItemDiff{ToAdd: []ItemToAdd{{ProductID: 1, Quantity: 1}}}).IsEmpty() {
		t.Error("diff with add should not be empty")
	}
}
