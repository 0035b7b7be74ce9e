package fragment

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Selector is a compiled CSS selector covering the subset the store uses for
// fragment keys and theme markup:
//
//   - type, universal:      div, *
//   - id, class:            #cart-sidebar, .cart-count, a.cart-contents
//   - attribute:            [data-attribute_name], [name=qty], [name^="attribute_"],
//     [class~=x], [href*=cart], [src$=".png"]
//   - combinators:          descendant (space), child (>)
//   - selector lists:       .nasa-cart-count, .cart-number
type Selector struct {
	raw    string
	groups []complexSelector
}

type combinator byte

const (
	descendant combinator = ' '
	child      combinator = '>'
)

type complexSelector struct {
	parts       []compound
	combinators []combinator // combinators[i] joins parts[i] and parts[i+1]
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatcher
}

type attrMatcher struct {
	key string
	op  string // "" exists, "=", "^=", "$=", "*=", "~="
	val string
}

// Compile parses a selector. The error names the offending position.
func Compile(sel string) (*Selector, error) {
	s := &Selector{raw: sel}
	for _, group := range splitGroups(sel) {
		cs, err := parseComplex(group)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", sel, err)
		}
		s.groups = append(s.groups, cs)
	}
	if len(s.groups) == 0 {
		return nil, fmt.Errorf("selector %q: empty", sel)
	}
	return s, nil
}

// MustCompile is Compile for selectors known at build time.
func MustCompile(sel string) *Selector {
	s, err := Compile(sel)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the source text.
func (s *Selector) String() string { return s.raw }

// Match reports whether n matches any selector in the list.
func (s *Selector) Match(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, g := range s.groups {
		if g.matchAt(n, len(g.parts)-1) {
			return true
		}
	}
	return false
}

// MatchAll returns every element under root (root included) that matches,
// in document order.
func (s *Selector) MatchAll(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if s.Match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// MatchFirst returns the first matching element under root, or nil.
func (s *Selector) MatchFirst(root *html.Node) *html.Node {
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if s.Match(n) {
			found = n
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if root != nil {
		walk(root)
	}
	return found
}

func (cs complexSelector) matchAt(n *html.Node, k int) bool {
	if !cs.parts[k].matches(n) {
		return false
	}
	if k == 0 {
		return true
	}
	if cs.combinators[k-1] == child {
		p := n.Parent
		return p != nil && p.Type == html.ElementNode && cs.matchAt(p, k-1)
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && cs.matchAt(p, k-1) {
			return true
		}
	}
	return false
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && c.tag != n.Data {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range c.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		if !a.matches(n) {
			return false
		}
	}
	return true
}

func (a attrMatcher) matches(n *html.Node) bool {
	val, ok := lookupAttr(n, a.key)
	if !ok {
		return false
	}
	switch a.op {
	case "":
		return true
	case "=":
		return val == a.val
	case "^=":
		return a.val != "" && strings.HasPrefix(val, a.val)
	case "$=":
		return a.val != "" && strings.HasSuffix(val, a.val)
	case "*=":
		return a.val != "" && strings.Contains(val, a.val)
	case "~=":
		return contains(strings.Fields(val), a.val)
	}
	return false
}

// splitGroups splits a selector list on commas outside brackets and quotes.
func splitGroups(sel string) []string {
	var groups []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(sel); i++ {
		ch := sel[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '[':
			depth++
		case ch == ']':
			depth--
		case ch == ',' && depth == 0:
			groups = append(groups, sel[start:i])
			start = i + 1
		}
	}
	groups = append(groups, sel[start:])
	return groups
}

func parseComplex(s string) (complexSelector, error) {
	var cs complexSelector
	var pending combinator
	i := 0
	for {
		ws := false
		for i < len(s) && isSpace(s[i]) {
			i++
			ws = true
		}
		if i >= len(s) {
			break
		}
		if s[i] == '>' {
			if len(cs.parts) == 0 || pending == child {
				return cs, fmt.Errorf("unexpected '>' at offset %d", i)
			}
			pending = child
			i++
			continue
		}
		if len(cs.parts) > 0 {
			if pending == 0 {
				if !ws {
					return cs, fmt.Errorf("unexpected %q at offset %d", s[i], i)
				}
				pending = descendant
			}
			cs.combinators = append(cs.combinators, pending)
		}
		c, n, err := parseCompound(s[i:])
		if err != nil {
			return cs, fmt.Errorf("at offset %d: %w", i, err)
		}
		cs.parts = append(cs.parts, c)
		i += n
		pending = 0
	}
	if len(cs.parts) == 0 {
		return cs, fmt.Errorf("empty selector")
	}
	if pending != 0 {
		return cs, fmt.Errorf("dangling combinator")
	}
	return cs, nil
}

func parseCompound(s string) (compound, int, error) {
	var c compound
	i := 0
	if i < len(s) && s[i] == '*' {
		c.tag = "*"
		i++
	} else if name, n := readIdent(s); n > 0 {
		c.tag = strings.ToLower(name)
		i += n
	}
	for i < len(s) {
		switch s[i] {
		case '#':
			name, n := readIdent(s[i+1:])
			if n == 0 {
				return c, i, fmt.Errorf("empty id")
			}
			c.id = name
			i += n + 1
		case '.':
			name, n := readIdent(s[i+1:])
			if n == 0 {
				return c, i, fmt.Errorf("empty class")
			}
			c.classes = append(c.classes, name)
			i += n + 1
		case '[':
			end := closingBracket(s[i:])
			if end < 0 {
				return c, i, fmt.Errorf("unclosed attribute selector")
			}
			a, err := parseAttr(s[i+1 : i+end])
			if err != nil {
				return c, i, err
			}
			c.attrs = append(c.attrs, a)
			i += end + 1
		default:
			if i == 0 {
				return c, 0, fmt.Errorf("unexpected %q", s[i])
			}
			return c, i, nil
		}
	}
	if i == 0 {
		return c, 0, fmt.Errorf("empty compound selector")
	}
	return c, i, nil
}

func parseAttr(body string) (attrMatcher, error) {
	for _, op := range []string{"^=", "$=", "*=", "~=", "="} {
		if idx := strings.Index(body, op); idx >= 0 {
			key := strings.TrimSpace(body[:idx])
			if key == "" {
				return attrMatcher{}, fmt.Errorf("attribute selector without name")
			}
			val := strings.TrimSpace(body[idx+len(op):])
			if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
				val = val[1 : len(val)-1]
			}
			return attrMatcher{key: strings.ToLower(key), op: op, val: val}, nil
		}
	}
	key := strings.TrimSpace(body)
	if key == "" {
		return attrMatcher{}, fmt.Errorf("attribute selector without name")
	}
	return attrMatcher{key: strings.ToLower(key)}, nil
}

// closingBracket returns the index of the ']' closing the '[' at s[0],
// ignoring brackets inside quotes.
func closingBracket(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == ']':
			return i
		}
	}
	return -1
}

func readIdent(s string) (string, int) {
	n := 0
	for n < len(s) && isIdentChar(s[n]) {
		n++
	}
	return s[:n], n
}

func isIdentChar(ch byte) bool {
	return ch == '-' || ch == '_' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') ||
		ch >= 0x80
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
