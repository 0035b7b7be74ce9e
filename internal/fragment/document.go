// Package fragment keeps a parsed storefront page in sync with the HTML
// fragments the store returns after cart mutations, and decides when an
// unsolicited refresh may touch that page.
package fragment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// errDetached is returned when a matched element was removed from the tree
// by an earlier replacement in the same application.
var errDetached = errors.New("element no longer attached to document")

// Document is the live page a session reconciles fragments into.
// All access goes through View/Update, which serialize on an internal lock.
type Document struct {
	mu   sync.Mutex
	root *html.Node
}

// ParseDocument parses a full HTML page.
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseDocumentString is ParseDocument for in-memory markup.
func ParseDocumentString(markup string) (*Document, error) {
	return ParseDocument(strings.NewReader(markup))
}

// View runs fn with read access to the tree. fn must not retain nodes.
func (d *Document) View(fn func(root *html.Node) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.root)
}

// Update runs fn with write access to the tree.
func (d *Document) Update(fn func(root *html.Node) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.root)
}

// Render serializes the whole document.
func (d *Document) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", fmt.Errorf("render HTML: %w", err)
	}
	return buf.String(), nil
}

// OuterHTML returns the markup of every element matching sel.
func (d *Document) OuterHTML(sel string) ([]string, error) {
	s, err := Compile(sel)
	if err != nil {
		return nil, err
	}
	var out []string
	err = d.View(func(root *html.Node) error {
		for _, n := range s.MatchAll(root) {
			markup, err := renderNode(n)
			if err != nil {
				return err
			}
			out = append(out, markup)
		}
		return nil
	})
	return out, err
}

// Count returns how many elements match sel.
func (d *Document) Count(sel string) (int, error) {
	s, err := Compile(sel)
	if err != nil {
		return 0, err
	}
	n := 0
	d.View(func(root *html.Node) error {
		n = len(s.MatchAll(root))
		return nil
	})
	return n, nil
}

// replaceNode swaps target for the nodes parsed from markup, outerHTML style.
// Empty markup removes target.
func replaceNode(root, target *html.Node, markup string) error {
	if !attached(root, target) {
		return errDetached
	}
	parent := target.Parent
	nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext(parent))
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.InsertBefore(n, target)
	}
	parent.RemoveChild(target)
	return nil
}

// fragmentContext picks the element the fragment is parsed inside, so table
// rows and list items keep their structure.
func fragmentContext(parent *html.Node) *html.Node {
	if parent != nil && parent.Type == html.ElementNode {
		return parent
	}
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}

func attached(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return n != root
		}
	}
	return false
}

func renderNode(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// TextContent returns the concatenated text under n.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// SetTextContent replaces the children of n with a single text node.
func SetTextContent(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) string {
	return attr(n, key)
}

// ToggleClass adds or removes each class on n.
func ToggleClass(n *html.Node, on bool, classes ...string) {
	have := strings.Fields(attr(n, "class"))
	for _, c := range classes {
		idx := -1
		for i, h := range have {
			if h == c {
				idx = i
				break
			}
		}
		switch {
		case on && idx < 0:
			have = append(have, c)
		case !on && idx >= 0:
			have = append(have[:idx], have[idx+1:]...)
		}
	}
	setAttr(n, "class", strings.Join(have, " "))
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
