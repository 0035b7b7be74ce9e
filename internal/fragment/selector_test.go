package fragment

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const selectorPage = `<html><body>
<div id="cart-sidebar" class="nasa-cart-sidebar open">
  <ul class="cart_list">
    <li class="mini_cart_item" data-key="a1"><a href="/cart?remove=a1" class="remove">x</a></li>
    <li class="mini_cart_item" data-key="b2"><span><a href="/p/hat.png" class="thumb">hat</a></span></li>
  </ul>
  <span class="nasa-cart-count">2</span>
</div>
<form class="variations_form cart" data-product_id="42">
  <select name="attribute_pa_color" data-attribute_name="attribute_pa_color"></select>
</form>
<span class="cart-number">2</span>
</body></html>`

func parseTestPage(t *testing.T, markup string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return root
}

func TestSelector_MatchAll(t *testing.T) {
	root := parseTestPage(t, selectorPage)

	tests := []struct {
		sel  string
		want int
	}{
		{"li", 2},
		{"#cart-sidebar", 1},
		{".mini_cart_item", 2},
		{"li.mini_cart_item[data-key=a1]", 1},
		{"li[data-key='b2']", 1},
		{"[data-attribute_name]", 1},
		{`select[name^="attribute_"]`, 1},
		{`a[href$=".png"]`, 1},
		{`a[href*=remove]`, 1},
		{"div[class~=open]", 1},
		{"div[class~=ope]", 0},
		{"#cart-sidebar a", 2},
		{"#cart-sidebar > a", 0},
		{"li > a", 1},
		{"ul > li > span > a", 1},
		{".nasa-cart-count, .cart-number", 2},
		{"form.variations_form.cart", 1},
		{"form.variations_form.checkout", 0},
		{"DIV#cart-sidebar", 1},
	}

	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			s, err := Compile(tt.sel)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if got := len(s.MatchAll(root)); got != tt.want {
				t.Errorf("matches = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSelector_DocumentOrder(t *testing.T) {
	root := parseTestPage(t, selectorPage)
	s := MustCompile(".cart-number, .nasa-cart-count")

	got := s.MatchAll(root)
	if len(got) != 2 {
		t.Fatalf("matches = %d, want 2", len(got))
	}
	if !strings.Contains(attr(got[0], "class"), "nasa-cart-count") {
		t.Errorf("first match class = %q, want nasa-cart-count first in document order", attr(got[0], "class"))
	}
}

func TestSelector_MatchFirst(t *testing.T) {
	root := parseTestPage(t, selectorPage)

	n := MustCompile(".mini_cart_item").MatchFirst(root)
	if n == nil {
		t.Fatal("MatchFirst returned nil")
	}
	if got := attr(n, "data-key"); got != "a1" {
		t.Errorf("data-key = %q, want a1", got)
	}
	if MustCompile(".absent").MatchFirst(root) != nil {
		t.Error("MatchFirst should return nil when nothing matches")
	}
}

func TestCompile_Errors(t *testing.T) {
	for _, sel := range []string{
		"",
		"   ",
		"div:hover",
		"a >",
		"> a",
		"a > > b",
		"div[data-x",
		"[=x]",
		".",
		"#",
		"a,,b",
	} {
		t.Run(sel, func(t *testing.T) {
			if _, err := Compile(sel); err == nil {
				t.Errorf("Compile(%q) succeeded, want error", sel)
			}
		})
	}
}

func TestSelector_String(t *testing.T) {
	if got := MustCompile("a.cart-contents").String(); got != "a.cart-contents" {
		t.Errorf("String() = %q", got)
	}
}
