package variation

import "storefront-bridge/internal/model"

// ValueSet is the set of option values still compatible with a selection.
// Any means every value is compatible; Values is then empty.
type ValueSet struct {
	Any    bool     `json:"any"`
	Values []string `json:"values,omitempty"`
}

// Universal is the set that disables nothing.
func Universal() ValueSet { return ValueSet{Any: true} }

// Contains reports whether v is compatible.
func (s ValueSet) Contains(v string) bool {
	if s.Any {
		return true
	}
	for _, have := range s.Values {
		if have == v {
			return true
		}
	}
	return false
}

// AvailableValues returns the values of attr carried by variations that stay
// consistent with every other chosen attribute in sel. A wildcard or missing
// attr in a consistent variation, or remote mode, yields the universal set. Values keep
// declaration order.
func (r *Resolver) AvailableValues(attr string, sel model.Selection) ValueSet {
	if r.Remote() {
		return Universal()
	}
	attr = model.CanonicalAttribute(attr)

	var out ValueSet
	seen := make(map[string]bool)
	for i := range r.variations {
		v := &r.variations[i]
		if !consistent(v, attr, sel) {
			continue
		}
		// A record that omits attr matches any value of it.
		val, ok := v.Attributes[attr]
		if !ok || val == "" {
			return Universal()
		}
		if !seen[val] {
			seen[val] = true
			out.Values = append(out.Values, val)
		}
	}
	return out
}

// AvailableAll returns AvailableValues for every attribute of the product.
func (r *Resolver) AvailableAll(sel model.Selection) map[string]ValueSet {
	out := make(map[string]ValueSet, len(r.attributes))
	for _, a := range r.attributes {
		out[a] = r.AvailableValues(a, sel)
	}
	return out
}

// consistent reports whether v can still match once attr is chosen: each of
// its other attributes must be known to the selection and either a wildcard,
// unset in sel, or equal to the chosen value.
func consistent(v *model.VariationRecord, attr string, sel model.Selection) bool {
	for name, want := range v.Attributes {
		if name == attr {
			continue
		}
		if !sel.Has(name) {
			return false
		}
		got := sel.Value(name)
		if want != "" && got != "" && want != got {
			return false
		}
	}
	return true
}
