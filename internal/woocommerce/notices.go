package woocommerce

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"

	"storefront-bridge/internal/fragment"
)

var (
	strict = bluemonday.StrictPolicy()

	errorNotice   = fragment.MustCompile(".woocommerce-error")
	successNotice = fragment.MustCompile(".woocommerce-message, .woocommerce-info")
	noticeItem    = fragment.MustCompile("li")
)

// NoticeText reduces store notice markup to plain text.
func NoticeText(markup string) string {
	text := html.UnescapeString(strict.Sanitize(markup))
	return strings.Join(strings.Fields(text), " ")
}

// ErrorNotice returns the text of the first .woocommerce-error notice in body,
// or "" when there is none. List notices are joined item by item.
func ErrorNotice(body []byte) string {
	return noticeText(body, errorNotice)
}

// SuccessNotice returns the text of the first success or info notice.
func SuccessNotice(body []byte) string {
	return noticeText(body, successNotice)
}

func noticeText(body []byte, sel *fragment.Selector) string {
	if !bytes.Contains(body, []byte("woocommerce-")) {
		return ""
	}
	root, err := xhtml.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	n := sel.MatchFirst(root)
	if n == nil {
		return ""
	}

	var parts []string
	if items := noticeItem.MatchAll(n); len(items) > 0 {
		for _, li := range items {
			if t := NoticeText(innerHTML(li)); t != "" {
				parts = append(parts, t)
			}
		}
	} else if t := NoticeText(innerHTML(n)); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, " ")
}

func innerHTML(n *xhtml.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		xhtml.Render(&buf, c)
	}
	return buf.String()
}
