package page

import (
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"
)

// Kind is the lookup strategy of a Locator.
type Kind string

const (
	KindCSS   Kind = "css"
	KindXPath Kind = "xpath"
	KindID    Kind = "id"
	KindName  Kind = "name"
)

// Locator identifies an element on a page.
type Locator struct {
	Kind  Kind
	Value string
}

// ParseLocator reads a "kind:value" string. Values without a known prefix
// are treated as CSS selectors.
func ParseLocator(s string) Locator {
	s = strings.TrimSpace(s)
	for _, k := range []Kind{KindCSS, KindXPath, KindID, KindName} {
		prefix := string(k) + ":"
		if strings.HasPrefix(s, prefix) {
			return Locator{Kind: k, Value: strings.TrimSpace(s[len(prefix):])}
		}
	}
	return Locator{Kind: KindCSS, Value: s}
}

func (l Locator) String() string {
	return string(l.Kind) + ":" + l.Value
}

// Query returns the selector and query option chromedp resolves l with.
// CSS selector lists match their first element in document order.
func (l Locator) Query() (string, chromedp.QueryOption) {
	switch l.Kind {
	case KindXPath:
		return l.Value, chromedp.BySearch
	case KindID:
		return l.Value, chromedp.ByID
	case KindName:
		return "[name=" + strconv.Quote(l.Value) + "]", chromedp.ByQuery
	default:
		return l.Value, chromedp.ByQuery
	}
}
