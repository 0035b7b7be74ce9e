package model

import "sort"

// FragmentMap maps a selector locating one page region to the server-rendered
// markup that replaces it. A nil map is a valid empty map.
type FragmentMap map[string]string

// Keys returns the selectors in lexical order so application is reproducible.
func (f FragmentMap) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CartResponse is the common shape of cart-mutating endpoint responses.
type CartResponse struct {
	Fragments  FragmentMap `json:"fragments,omitempty"`
	CartHash   string      `json:"cart_hash,omitempty"`
	Error      bool        `json:"error,omitempty"`
	ProductURL string      `json:"product_url,omitempty"`
	Redirect   string      `json:"redirect,omitempty"`
	Message    string      `json:"message,omitempty"`

	// URLRedirect is set by the quantity endpoint when the page must reload.
	URLRedirect string `json:"url_redirect,omitempty"`
}
