package action

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"shopagent/internal/core"
	"shopagent/internal/locator"
	"shopagent/internal/page"
)

const (
	defaultSnapshotLimit = 10
	fallbackRowSelector  = "tr[data-product-id], .product-item"
	fallbackTable        = "css:table"
)

// Product is one row of the product list.
type Product struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id,omitempty"`
	Name      string `json:"name"`
	SKU       string `json:"sku,omitempty"`
	Price     string `json:"price,omitempty"`
	Stock     string `json:"stock,omitempty"`
}

// snapshot reads product rows from the product list, optionally after a
// keyword search.
type snapshot struct {
	name   string
	tables *locator.Tables
	timing Timing
}

func (a *snapshot) Name() string { return a.name }

func (a *snapshot) Run(ctx context.Context, actx Context, pg Page, payload core.Payload) (Outcome, error) {
	site := a.tables.Site(actx.Site)
	keyword := strings.TrimSpace(stringField(payload, "keyword", ""))
	limit := intField(payload, "limit", defaultSnapshotLimit)
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}

	entry, err := site.Get("product_list", "entry_url")
	if err != nil {
		return Fail(a.Name(), KindConfig, "%v", err), nil
	}
	if actx.DryRun {
		return Succeed(a.Name(), map[string]any{
			"dry_run": true,
			"keyword": keyword,
			"limit":   limit,
			"url":     entry,
		}), nil
	}

	if err := pg.Navigate(ctx, entry, a.timing.NavigateWait); err != nil {
		return Fail(a.Name(), KindNavigation, "open product list %s: %v", entry, err), nil
	}
	if keyword != "" {
		if err := searchProducts(ctx, pg, site, a.timing, keyword); err != nil {
			return Fail(a.Name(), KindSearch, "search %q: %v", keyword, err), nil
		}
	}

	table, ok := site.Lookup("product_list", "product_table")
	if !ok {
		table = fallbackTable
	}
	html, err := pg.ReadHTML(ctx, table, a.timing.ElementTimeout)
	if err != nil {
		return Fail(a.Name(), KindNoProducts, "product table not found: %v", err), nil
	}
	products, err := extractProducts(html, site, limit)
	if err != nil {
		return Fail(a.Name(), KindExtraction, "parse product table: %v", err), nil
	}
	if len(products) == 0 {
		return Fail(a.Name(), KindNoProducts, "no products found"), nil
	}
	return Succeed(a.Name(), map[string]any{
		"keyword":  keyword,
		"count":    len(products),
		"products": products,
	}), nil
}

// extractProducts parses up to limit rows; rows without a name are skipped.
func extractProducts(html string, site locator.Site, limit int) ([]Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	rowSel := cssOf(site, "product_row", fallbackRowSelector)
	nameSel := []string{cssOf(site, "product_name", ".product-name, .product-title"), "td:nth-child(2)"}
	skuSel := []string{cssOf(site, "product_sku", ".product-sku"), ".sku"}
	priceSel := []string{cssOf(site, "product_price", ".product-price"), ".price"}
	stockSel := []string{cssOf(site, "product_stock", ".product-stock"), ".stock"}

	products := []Product{}
	doc.Find(rowSel).EachWithBreak(func(i int, row *goquery.Selection) bool {
		if i >= limit {
			return false
		}
		p := Product{
			Index: i,
			Name:  firstText(row, nameSel...),
			SKU:   firstText(row, skuSel...),
			Price: firstText(row, priceSel...),
			Stock: firstText(row, stockSel...),
		}
		p.ProductID, _ = row.Attr("data-product-id")
		if p.Name != "" {
			products = append(products, p)
		}
		return true
	})
	return products, nil
}

// cssOf returns the CSS selector configured under product_list.key, or def
// when the entry is missing or not a CSS locator.
func cssOf(site locator.Site, key, def string) string {
	v, ok := site.Lookup("product_list", key)
	if !ok {
		return def
	}
	l := page.ParseLocator(v)
	if l.Kind != page.KindCSS || l.Value == "" {
		return def
	}
	return l.Value
}

func firstText(row *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if s := row.Find(sel).First(); s.Length() > 0 {
			if text := strings.TrimSpace(s.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}
