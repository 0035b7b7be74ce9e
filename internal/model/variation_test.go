package model

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCanonicalAttribute(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"pa_color", "pa_color"},
		{"attribute_pa_color", "pa_color"},
		{"  attribute_size ", "size"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CanonicalAttribute(tt.in); got != tt.want {
			t.Errorf("CanonicalAttribute(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := WireAttribute("attribute_pa_size"); got != "attribute_pa_size" {
		t.Errorf("WireAttribute = %q, want attribute_pa_size", got)
	}
}

func TestVariationRecord_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantID VariationID
	}{
		{"numeric id", `{"variation_id": 42, "attributes": {}}`, 42},
		{"string id", `{"variation_id": "43", "attributes": {}}`, 43},
		{"fallback id field", `{"id": 44, "attributes": {}}`, 44},
		{"empty string id", `{"variation_id": "", "attributes": {}}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v VariationRecord
			if err := json.Unmarshal([]byte(tt.input), &v); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if v.ID != tt.wantID {
				t.Errorf("ID = %d, want %d", v.ID, tt.wantID)
			}
		})
	}
}

func TestVariationRecord_UnmarshalCanonicalizesAttributes(t *testing.T) {
	input := `{
		"variation_id": 7,
		"attributes": {"attribute_pa_color": "red", "attribute_pa_size": ""},
		"is_purchasable": true,
		"is_in_stock": true,
		"variation_is_visible": true,
		"price_html": "<span class=\"price\">$10</span>"
	}`
	var v VariationRecord
	if err := json.Unmarshal([]byte(input), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := map[string]string{"pa_color": "red", "pa_size": ""}
	if diff := cmp.Diff(want, v.Attributes); diff != "" {
		t.Errorf("Attributes mismatch (-want +got):\n%s", diff)
	}
	if !v.Purchasable() {
		t.Error("Purchasable() = false, want true")
	}
}

func TestVariationRecord_UnmarshalRejectsNonNumericID(t *testing.T) {
	var v VariationRecord
	if err := json.Unmarshal([]byte(`{"variation_id": "abc"}`), &v); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestVariationRecord_Purchasable(t *testing.T) {
	v := VariationRecord{IsPurchasable: true, IsInStock: false, IsVisible: true}
	if v.Purchasable() {
		t.Error("out of stock variation should not be purchasable")
	}
}

func TestVariationRecord_Matches(t *testing.T) {
	sel, err := NewSelection(
		AttributeValue{Name: "color", Value: "red"},
		AttributeValue{Name: "size", Value: "M"},
	)
	if err != nil {
		t.Fatalf("NewSelection: %v", err)
	}

	tests := []struct {
		name  string
		attrs map[string]string
		want  bool
	}{
		{"exact", map[string]string{"color": "red", "size": "M"}, true},
		{"wildcard size", map[string]string{"color": "red", "size": ""}, true},
		{"all wildcard", map[string]string{"color": "", "size": ""}, true},
		{"mismatch", map[string]string{"color": "blue", "size": "M"}, false},
		{"unknown attribute", map[string]string{"color": "red", "fit": "slim"}, false},
		{"subset", map[string]string{"color": "red"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := VariationRecord{Attributes: tt.attrs}
			if got := v.Matches(sel); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
