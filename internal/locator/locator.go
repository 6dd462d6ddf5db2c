package locator

import (
	"fmt"
	"strings"
)

// Kind identifies how a selector string is resolved against a page.
type Kind string

const (
	KindCSS   Kind = "css"
	KindXPath Kind = "xpath"
	KindID    Kind = "id"
	KindAuto  Kind = "auto" // free-text search for the expected text
)

// Locator is a parsed element selector.
type Locator struct {
	Kind  Kind
	Value string // selector value with any prefix marker removed
	Raw   string
}

// Parse infers the locator kind from the selector prefix:
// "//" or "(//" is XPath, "#" is an element ID, "auto" or empty falls back
// to a text search, anything else is a CSS selector.
func Parse(selector string) (Locator, error) {
	s := strings.TrimSpace(selector)

	switch {
	case s == "" || strings.EqualFold(s, "auto"):
		return Locator{Kind: KindAuto, Raw: s}, nil
	case strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//"):
		return Locator{Kind: KindXPath, Value: s, Raw: s}, nil
	case strings.HasPrefix(s, "#"):
		id := s[1:]
		if id == "" {
			return Locator{}, fmt.Errorf("empty element ID in selector %q", selector)
		}
		return Locator{Kind: KindID, Value: id, Raw: s}, nil
	default:
		return Locator{Kind: KindCSS, Value: s, Raw: s}, nil
	}
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(selector string) Locator {
	loc, err := Parse(selector)
	if err != nil {
		panic(err)
	}
	return loc
}

// IsAuto reports whether the element is found by text search.
func (l Locator) IsAuto() bool {
	return l.Kind == KindAuto
}

// String returns the selector as configured.
func (l Locator) String() string {
	if l.Kind == KindAuto {
		return "auto"
	}
	return l.Raw
}

// TextSearch builds an XPath expression that matches the first element
// whose own text contains text.
func TextSearch(text string) string {
	return fmt.Sprintf("//*[contains(text(), %s)]", QuoteXPath(text))
}

// QuoteXPath returns text as an XPath 1.0 string literal. XPath has no
// escape sequences, so strings holding both quote kinds are built with concat().
func QuoteXPath(text string) string {
	if !strings.Contains(text, "'") {
		return "'" + text + "'"
	}
	if !strings.Contains(text, `"`) {
		return `"` + text + `"`
	}

	parts := strings.Split(text, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
