package woocommerce

import (
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/mod/semver"

	"storefront-bridge/internal/fragment"
	"storefront-bridge/internal/model"
	"storefront-bridge/internal/reconcile"
)

// LegacyAjaxURL is the admin-ajax template of stores older than 2.4.
const LegacyAjaxURL = "/wp-admin/admin-ajax.php?action=woocommerce_" + EndpointPlaceholder

// wcAjaxSince is the first version serving ?wc-ajax= endpoints.
const wcAjaxSince = "v2.4.0"

// PageInfo is what the bridge learns from a storefront page.
type PageInfo struct {
	Version      string        `json:"version,omitempty"` // semver, e.g. v8.2.1
	AjaxURL      string        `json:"ajax_url,omitempty"`
	CartNonce    string        `json:"-"`
	CartHashKey  string        `json:"cart_hash_key,omitempty"`
	FragmentName string        `json:"fragment_name,omitempty"`
	Nonces       Nonces        `json:"-"`
	Products     []ProductForm `json:"products"`
}

// ProductForm is one add-to-cart form on the page.
type ProductForm struct {
	ProductID  int                     `json:"product_id"`
	Variable   bool                    `json:"variable"`
	Remote     bool                    `json:"remote,omitempty"` // variations fetched with get_variation
	Attributes []AttributeControl      `json:"attributes,omitempty"`
	Variations []model.VariationRecord `json:"variations,omitempty"`
}

// AttributeNames returns the canonical attribute names in control order.
func (p ProductForm) AttributeNames() []string {
	out := make([]string, len(p.Attributes))
	for i, a := range p.Attributes {
		out[i] = a.Name
	}
	return out
}

// AttributeControl is one attribute selector.
type AttributeControl struct {
	Name     string   `json:"name"`
	Options  []string `json:"options"`
	Selected string   `json:"selected,omitempty"`
}

var (
	generatorMeta  = fragment.MustCompile(`meta[name=generator]`)
	scripts        = fragment.MustCompile("script")
	productForms   = fragment.MustCompile("form.cart, form.variations_form")
	attrSelects    = fragment.MustCompile("select[data-attribute_name], select[name^=attribute_]")
	optionTags     = fragment.MustCompile("option")
	addToCartField = fragment.MustCompile(`[name=add-to-cart], input[name=product_id]`)
	miniCartItems  = fragment.MustCompile(".mini_cart_item, .woocommerce-mini-cart-item")
	itemKeyLink    = fragment.MustCompile("[data-cart_item_key]")
	qtyInput       = fragment.MustCompile("input.qty")
	qtyText        = fragment.MustCompile(".quantity")

	// var wc_cart_fragments_params = {...};
	paramsVar  = regexp.MustCompile(`var\s+(wc_cart_fragments_params|wc_add_to_cart_params|wc_add_to_cart_variation_params|nasa_ajax_params)\s*=\s*(\{.*?\});`)
	wooVersion = regexp.MustCompile(`(?i)^WooCommerce\s+(\d+(?:\.\d+){0,2})`)
	leadingInt = regexp.MustCompile(`^\s*(\d+)`)
)

// scriptParams is the union of the localized script objects the page carries.
type scriptParams struct {
	WCAjaxURL    string `json:"wc_ajax_url"`
	CartHashKey  string `json:"cart_hash_key"`
	FragmentName string `json:"fragment_name"`
	Nonce        string `json:"nonce"`
}

// ParsePage extracts page parameters and product forms from a parsed page.
func ParsePage(root *xhtml.Node) *PageInfo {
	info := &PageInfo{Products: ExtractProductForms(root)}

	if m := generatorMeta.MatchAll(root); len(m) > 0 {
		for _, n := range m {
			if v := versionOf(fragment.Attr(n, "content")); v != "" {
				info.Version = v
				break
			}
		}
	}

	for _, s := range scripts.MatchAll(root) {
		text := fragment.TextContent(s)
		for _, match := range paramsVar.FindAllStringSubmatch(text, -1) {
			var p scriptParams
			if err := json.Unmarshal([]byte(match[2]), &p); err != nil {
				continue
			}
			// The fragments script is authoritative for the cart keys.
			if match[1] == "wc_cart_fragments_params" || info.AjaxURL == "" {
				if p.WCAjaxURL != "" {
					info.AjaxURL = p.WCAjaxURL
				}
			}
			if p.CartHashKey != "" {
				info.CartHashKey = p.CartHashKey
			}
			if p.FragmentName != "" {
				info.FragmentName = p.FragmentName
			}
			if p.Nonce != "" && info.CartNonce == "" {
				info.CartNonce = p.Nonce
			}
		}
	}

	if info.AjaxURL == "" && info.Version != "" {
		info.AjaxURL = AjaxTemplateFor(info.Version)
	}
	info.Nonces = NoncesFromTree(root)
	return info
}

// AjaxTemplateFor picks the endpoint template for a store version.
func AjaxTemplateFor(version string) string {
	if semver.IsValid(version) && semver.Compare(version, wcAjaxSince) < 0 {
		return LegacyAjaxURL
	}
	return DefaultAjaxURL
}

// versionOf parses "WooCommerce 8.2.1" into "v8.2.1".
func versionOf(generator string) string {
	m := wooVersion.FindStringSubmatch(strings.TrimSpace(generator))
	if m == nil {
		return ""
	}
	v := semver.Canonical("v" + m[1])
	if v == "" {
		return ""
	}
	return v
}

// ExtractProductForms finds the add-to-cart forms on a page.
func ExtractProductForms(root *xhtml.Node) []ProductForm {
	var out []ProductForm
	seen := make(map[int]bool)
	for _, f := range productForms.MatchAll(root) {
		form, ok := parseForm(f)
		if !ok || seen[form.ProductID] {
			continue
		}
		seen[form.ProductID] = true
		out = append(out, form)
	}
	return out
}

func parseForm(f *xhtml.Node) (ProductForm, bool) {
	var form ProductForm
	id := fragment.Attr(f, "data-product_id")
	if id == "" {
		if n := addToCartField.MatchFirst(f); n != nil {
			id = fragment.Attr(n, "value")
		}
	}
	pid, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil || pid <= 0 {
		return form, false
	}
	form.ProductID = pid

	index := make(map[string]int)
	for _, sel := range attrSelects.MatchAll(f) {
		name := fragment.Attr(sel, "data-attribute_name")
		if name == "" {
			name = fragment.Attr(sel, "name")
		}
		name = model.CanonicalAttribute(name)
		if name == "" {
			continue
		}
		// Duplicate selects for one attribute fold into a single control.
		i, dup := index[name]
		if !dup {
			i = len(form.Attributes)
			index[name] = i
			form.Attributes = append(form.Attributes, AttributeControl{Name: name})
		}
		ctl := &form.Attributes[i]
		for _, opt := range optionTags.MatchAll(sel) {
			v := fragment.Attr(opt, "value")
			if v == "" {
				continue
			}
			if !slices.Contains(ctl.Options, v) {
				ctl.Options = append(ctl.Options, v)
			}
			if _, selected := lookup(opt, "selected"); selected && ctl.Selected == "" {
				ctl.Selected = v
			}
		}
	}

	raw, hasVariations := lookup(f, "data-product_variations")
	form.Variable = hasVariations || len(form.Attributes) > 0
	switch strings.TrimSpace(raw) {
	case "", "false":
		form.Remote = form.Variable
	default:
		var vs []model.VariationRecord
		if err := json.Unmarshal([]byte(raw), &vs); err != nil || len(vs) == 0 {
			form.Remote = form.Variable
		} else {
			form.Variations = vs
		}
	}
	return form, true
}

func lookup(n *xhtml.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// ParseCartItems reads the lines of the mini cart.
func ParseCartItems(root *xhtml.Node) []reconcile.CurrentItem {
	var out []reconcile.CurrentItem
	for _, li := range miniCartItems.MatchAll(root) {
		link := itemKeyLink.MatchFirst(li)
		if link == nil {
			continue
		}
		item := reconcile.CurrentItem{
			ItemKey:     fragment.Attr(link, "data-cart_item_key"),
			ProductID:   atoi(fragment.Attr(link, "data-product_id")),
			VariationID: atoi(fragment.Attr(link, "data-variation_id")),
			Quantity:    1,
		}
		if in := qtyInput.MatchFirst(li); in != nil {
			if q := atoi(fragment.Attr(in, "value")); q > 0 {
				item.Quantity = q
			}
		} else if q := qtyText.MatchFirst(li); q != nil {
			if m := leadingInt.FindStringSubmatch(fragment.TextContent(q)); m != nil {
				item.Quantity = atoi(m[1])
			}
		}
		out = append(out, item)
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
