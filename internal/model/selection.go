package model

import (
	"fmt"
	"strings"
)

// AttributeValue is one entry of a Selection.
type AttributeValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Selection is the shopper's in-progress choice of one value per attribute.
// Attribute order is the declaration order of the selector controls.
// The zero value is an empty selection with no known attributes.
type Selection struct {
	names  []string
	values map[string]string
}

// NewSelection builds a selection over the given attributes. Names are
// canonicalized; empty or duplicate names are rejected.
func NewSelection(attrs ...AttributeValue) (Selection, error) {
	s := Selection{
		names:  make([]string, 0, len(attrs)),
		values: make(map[string]string, len(attrs)),
	}
	for _, a := range attrs {
		name := CanonicalAttribute(a.Name)
		if name == "" {
			return Selection{}, NewValidationError("attribute", "name must not be empty")
		}
		if _, dup := s.values[name]; dup {
			return Selection{}, NewValidationError("attribute", fmt.Sprintf("duplicate attribute %q", name))
		}
		s.names = append(s.names, name)
		s.values[name] = strings.TrimSpace(a.Value)
	}
	return s, nil
}

// SelectionFor builds a selection whose attribute order follows names and whose
// values come from chosen. Keys in chosen that are not in names are rejected.
func SelectionFor(names []string, chosen map[string]string) (Selection, error) {
	canonical := make(map[string]string, len(chosen))
	for k, v := range chosen {
		canonical[CanonicalAttribute(k)] = v
	}
	attrs := make([]AttributeValue, 0, len(names))
	known := make(map[string]bool, len(names))
	for _, n := range names {
		c := CanonicalAttribute(n)
		known[c] = true
		attrs = append(attrs, AttributeValue{Name: c, Value: canonical[c]})
	}
	for k := range canonical {
		if !known[k] {
			return Selection{}, NewValidationError("attribute", fmt.Sprintf("unknown attribute %q", k))
		}
	}
	return NewSelection(attrs...)
}

// Names returns the attribute names in declaration order.
func (s Selection) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Has reports whether name is a known attribute.
func (s Selection) Has(name string) bool {
	_, ok := s.values[CanonicalAttribute(name)]
	return ok
}

// Value returns the chosen value for name, or "" when unset or unknown.
func (s Selection) Value(name string) string {
	return s.values[CanonicalAttribute(name)]
}

// With returns a copy with name set to value. Unknown names are rejected.
func (s Selection) With(name, value string) (Selection, error) {
	name = CanonicalAttribute(name)
	if !s.Has(name) {
		return Selection{}, NewValidationError("attribute", fmt.Sprintf("unknown attribute %q", name))
	}
	out := Selection{names: s.Names(), values: make(map[string]string, len(s.values))}
	for k, v := range s.values {
		out.values[k] = v
	}
	out.values[name] = strings.TrimSpace(value)
	return out, nil
}

// Len returns the number of known attributes.
func (s Selection) Len() int { return len(s.names) }

// Chosen returns how many attributes have a non-empty value.
func (s Selection) Chosen() int {
	n := 0
	for _, name := range s.names {
		if s.values[name] != "" {
			n++
		}
	}
	return n
}

// Complete reports whether every known attribute has a value.
// A selection with no attributes is never complete.
func (s Selection) Complete() bool {
	return len(s.names) > 0 && s.Chosen() == len(s.names)
}

// Wire returns the selection as form fields (attribute_ prefixed), skipping
// unset values.
func (s Selection) Wire() map[string]string {
	out := make(map[string]string, len(s.names))
	for _, name := range s.names {
		if v := s.values[name]; v != "" {
			out[WireAttribute(name)] = v
		}
	}
	return out
}

// Map returns canonical name → value for every known attribute.
func (s Selection) Map() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
