package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AttributePrefix is prepended to attribute names on the wire
// (form fields, get_variation parameters, inline variation JSON keys).
const AttributePrefix = "attribute_"

// CanonicalAttribute returns the bare attribute name used as the key everywhere
// inside the bridge. "attribute_pa_color" and "pa_color" both yield "pa_color".
func CanonicalAttribute(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), AttributePrefix)
}

// WireAttribute returns the form-field name for a canonical attribute.
func WireAttribute(name string) string {
	return AttributePrefix + CanonicalAttribute(name)
}

// VariationID identifies a variation. The store emits it either as a JSON
// number or as a numeric string depending on the code path.
type VariationID int

// UnmarshalJSON accepts 42, "42" and "" (zero).
func (id *VariationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("variation id %q is not numeric", s)
		}
		*id = VariationID(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = VariationID(n)
	return nil
}

// String renders the ID the way form fields expect it.
func (id VariationID) String() string {
	return strconv.Itoa(int(id))
}

// VariationRecord is one concrete product variant as published by the store.
// Attributes maps canonical attribute names to a value, or to "" which matches
// any value of that attribute. Records are immutable once loaded.
type VariationRecord struct {
	ID               VariationID       `json:"variation_id"`
	Attributes       map[string]string `json:"attributes"`
	IsPurchasable    bool              `json:"is_purchasable"`
	IsInStock        bool              `json:"is_in_stock"`
	IsVisible        bool              `json:"variation_is_visible"`
	PriceHTML        string            `json:"price_html,omitempty"`
	AvailabilityHTML string            `json:"availability_html,omitempty"`
	AddToCartText    string            `json:"add_to_cart_text,omitempty"`
}

// UnmarshalJSON decodes a store variation and canonicalizes attribute keys.
// Falls back to "id" when "variation_id" is absent.
func (v *VariationRecord) UnmarshalJSON(data []byte) error {
	type raw VariationRecord
	var aux struct {
		raw
		AltID VariationID `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*v = VariationRecord(aux.raw)
	if v.ID == 0 {
		v.ID = aux.AltID
	}
	v.Attributes = canonicalAttributes(v.Attributes)
	return nil
}

// Purchasable reports whether the shopper may add this variation to the cart.
func (v *VariationRecord) Purchasable() bool {
	return v.IsPurchasable && v.IsInStock && v.IsVisible
}

// Matches reports whether every attribute of the record is the wildcard or
// equals the selection's value. A record attribute the selection leaves unset
// (or does not know) never matches.
func (v *VariationRecord) Matches(sel Selection) bool {
	for name, want := range v.Attributes {
		got := sel.Value(name)
		if got == "" {
			return false
		}
		if want != "" && want != got {
			return false
		}
	}
	return true
}

func canonicalAttributes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, val := range in {
		out[CanonicalAttribute(k)] = val
	}
	return out
}
