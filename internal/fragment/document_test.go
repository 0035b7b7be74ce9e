package fragment

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func TestDocument_OuterHTMLAndCount(t *testing.T) {
	doc, err := ParseDocumentString(`<div><p class="x">one</p><p class="x">two</p></div>`)
	if err != nil {
		t.Fatalf("ParseDocumentString: %v", err)
	}

	got, err := doc.OuterHTML("p.x")
	if err != nil {
		t.Fatalf("OuterHTML: %v", err)
	}
	want := []string{`<p class="x">one</p>`, `<p class="x">two</p>`}
	if len(got) != len(want) {
		t.Fatalf("OuterHTML = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OuterHTML[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	n, err := doc.Count("p")
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v; want 2", n, err)
	}
	if _, err := doc.Count("p:first"); err == nil {
		t.Error("Count with invalid selector should fail")
	}
}

func TestReplaceNode_TableContext(t *testing.T) {
	doc, _ := ParseDocumentString(`<table><tbody><tr class="cart_item"><td>old</td></tr><tr class="total"><td>9</td></tr></tbody></table>`)

	err := doc.Update(func(root *html.Node) error {
		target := MustCompile("tr.cart_item").MatchFirst(root)
		return replaceNode(root, target, `<tr class="cart_item"><td>new</td></tr>`)
	})
	if err != nil {
		t.Fatalf("replaceNode: %v", err)
	}

	rows, _ := doc.OuterHTML("tbody > tr")
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2: %v", len(rows), rows)
	}
	if rows[0] != `<tr class="cart_item"><td>new</td></tr>` {
		t.Errorf("row[0] = %q", rows[0])
	}
}

func TestReplaceNode_MultipleTopLevelNodes(t *testing.T) {
	doc, _ := ParseDocumentString(`<div id="wrap"><span class="notice">old</span></div>`)

	doc.Update(func(root *html.Node) error {
		target := MustCompile(".notice").MatchFirst(root)
		return replaceNode(root, target, `<b>a</b>text<i>b</i>`)
	})

	got, _ := doc.OuterHTML("#wrap")
	if want := `<div id="wrap"><b>a</b>text<i>b</i></div>`; got[0] != want {
		t.Errorf("got %q, want %q", got[0], want)
	}
}

func TestReplaceNode_EmptyMarkupRemoves(t *testing.T) {
	doc, _ := ParseDocumentString(`<div id="wrap"><span class="gone">x</span><em>kept</em></div>`)

	doc.Update(func(root *html.Node) error {
		return replaceNode(root, MustCompile(".gone").MatchFirst(root), "")
	})

	got, _ := doc.OuterHTML("#wrap")
	if want := `<div id="wrap"><em>kept</em></div>`; got[0] != want {
		t.Errorf("got %q, want %q", got[0], want)
	}
}

func TestReplaceNode_Detached(t *testing.T) {
	doc, _ := ParseDocumentString(`<div class="outer"><div class="inner">x</div></div>`)

	doc.Update(func(root *html.Node) error {
		inner := MustCompile(".inner").MatchFirst(root)
		outer := MustCompile(".outer").MatchFirst(root)
		if err := replaceNode(root, outer, `<p>replaced</p>`); err != nil {
			t.Fatalf("replace outer: %v", err)
		}
		if err := replaceNode(root, inner, `<p>again</p>`); err != errDetached {
			t.Errorf("replace detached inner err = %v, want errDetached", err)
		}
		return nil
	})
}

func TestTextHelpers(t *testing.T) {
	doc, _ := ParseDocumentString(`<span class="nasa-cart-count"> <b>2</b> items </span>`)

	doc.Update(func(root *html.Node) error {
		n := MustCompile(".nasa-cart-count").MatchFirst(root)
		if got := TextContent(n); got != "2 items" {
			t.Errorf("TextContent = %q, want %q", got, "2 items")
		}
		SetTextContent(n, "5")
		if got := TextContent(n); got != "5" {
			t.Errorf("after SetTextContent = %q", got)
		}

		ToggleClass(n, true, "nasa-product-empty", "hidden-tag")
		ToggleClass(n, true, "hidden-tag")
		if got := Attr(n, "class"); got != "nasa-cart-count nasa-product-empty hidden-tag" {
			t.Errorf("class after add = %q", got)
		}
		ToggleClass(n, false, "nasa-product-empty", "hidden-tag")
		if got := Attr(n, "class"); got != "nasa-cart-count" {
			t.Errorf("class after remove = %q", got)
		}
		return nil
	})
}

func TestDocument_Render(t *testing.T) {
	doc, _ := ParseDocumentString(`<p>hi</p>`)
	out, err := doc.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "<body><p>hi</p></body>") {
		t.Errorf("Render = %q", out)
	}
}
