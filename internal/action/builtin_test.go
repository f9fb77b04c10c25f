package action

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopagent/internal/action/actiontest"
	"shopagent/internal/core"
	"shopagent/internal/locator"
)

const (
	productTableLoc = "css:.product-table, table"
	searchInputLoc  = "css:input[placeholder*='Cari'], input[placeholder*='Search']"
	searchButtonLoc = "css:button[type='submit'], .search-btn"
	editBtnLoc      = "xpath://button[contains(., 'Ubah') or contains(., 'Edit')]"
	titleInputLoc   = "css:input[name='name'], input[placeholder*='Nama produk'], textarea[name='name']"
	saveBtnLoc      = "xpath://button[contains(., 'Simpan') or contains(., 'Save') or @type='submit']"
	successToastLoc = "xpath://*[contains(@class, 'toast-success') or contains(@class, 'ant-message-success') or (@role='alert' and contains(., 'Berhasil'))]"
	errorToastLoc   = "xpath://*[contains(@class, 'toast-error') or contains(@class, 'ant-message-error') or (@role='alert' and contains(., 'Gagal'))]"
	productNameLoc  = "css:.product-name, .product-title"
)

const productTableHTML = `<table class="product-table"><tbody>
<tr class="product-row" data-product-id="101"><td><input type="checkbox"></td><td><span class="product-name">Lampu LED 10W</span></td><td class="product-sku">LED-10</td><td class="product-price">Rp 25.000</td><td class="product-stock">120</td></tr>
<tr class="product-row" data-product-id="102"><td><input type="checkbox"></td><td><span class="product-name">Kabel USB-C</span></td><td class="product-sku">USB-C-1M</td><td class="product-price">Rp 15.000</td><td class="product-stock">80</td></tr>
<tr class="product-row" data-product-id="103"><td><input type="checkbox"></td><td>Casing HP</td><td class="sku">CASE-01</td><td class="price">Rp 9.900</td><td class="stock">0</td></tr>
<tr class="product-row" data-product-id="104"><td><input type="checkbox"></td><td><span class="product-name">Power Bank</span></td></tr>
</tbody></table>`

func newBuiltin(t *testing.T, name string) Action {
	t.Helper()
	a, err := Builtins(locator.Default(), Timing{}).New(name)
	require.NoError(t, err)
	return a
}

func run(t *testing.T, name string, actx Context, pg *actiontest.Page, payload core.Payload) Outcome {
	t.Helper()
	out, err := newBuiltin(t, name).Run(context.Background(), actx, pg, payload)
	require.NoError(t, err)
	return out
}

func TestBuiltinsRegistersAllActions(t *testing.T) {
	r := Builtins(locator.Default(), DefaultTiming())
	assert.Equal(t, []string{"fetch_ads_summary", "fetch_product_snapshot", "fetch_snapshot", "update_title"}, r.Names())
}

func TestDryRunIssuesNoMutations(t *testing.T) {
	payloads := map[string]core.Payload{
		ActionAdsSummary:      {"date_range": "7days"},
		ActionSnapshot:        {"keyword": "lampu", "limit": 3},
		ActionProductSnapshot: {"keyword": "lampu"},
		ActionUpdateTitle:     {"product_id": "101", "new_title": "Lampu LED 12W"},
	}
	for _, name := range Builtins(locator.Default(), Timing{}).Names() {
		t.Run(name, func(t *testing.T) {
			payload, ok := payloads[name]
			require.True(t, ok, "no dry-run payload for %s", name)
			pg := &actiontest.Page{}
			actx := testCtx
			actx.DryRun = true

			out := run(t, name, actx, pg, payload)

			assert.True(t, out.OK)
			assert.Equal(t, true, out.Data["dry_run"])
			assert.Zero(t, pg.Mutations())
		})
	}
}

func TestSnapshotReturnsRows(t *testing.T) {
	pg := &actiontest.Page{HTML: map[string]string{productTableLoc: productTableHTML}}

	out := run(t, ActionSnapshot, testCtx, pg, core.Payload{"keyword": "", "limit": float64(3)})

	require.True(t, out.OK, out.ErrorMessage)
	assert.Equal(t, 3, out.Data["count"])
	products, ok := out.Data["products"].([]Product)
	require.True(t, ok)
	require.Len(t, products, 3)
	assert.Equal(t, Product{Index: 0, ProductID: "101", Name: "Lampu LED 10W", SKU: "LED-10", Price: "Rp 25.000", Stock: "120"}, products[0])
	assert.Equal(t, "Casing HP", products[2].Name)
	assert.Equal(t, "CASE-01", products[2].SKU)
	assert.Equal(t, "0", products[2].Stock)
	assert.Zero(t, pg.Mutations())
}

func TestSnapshotSearchesKeyword(t *testing.T) {
	pg := &actiontest.Page{HTML: map[string]string{productTableLoc: productTableHTML}}

	out := run(t, ActionProductSnapshot, testCtx, pg, core.Payload{"keyword": "lampu"})

	require.True(t, out.OK)
	assert.Equal(t, ActionProductSnapshot, out.ActionName)
	assert.Equal(t, 4, out.Data["count"])
	calls := pg.Calls()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, actiontest.Call{Method: "SendText", Locator: searchInputLoc, Text: "lampu"}, calls[1])
	assert.Equal(t, actiontest.Call{Method: "WaitAndClick", Locator: searchButtonLoc}, calls[2])
}

func TestSnapshotFailures(t *testing.T) {
	t.Run("no rows", func(t *testing.T) {
		pg := &actiontest.Page{HTML: map[string]string{productTableLoc: `<table class="product-table"></table>`}}
		out := run(t, ActionSnapshot, testCtx, pg, nil)
		assert.Equal(t, KindNoProducts, out.ErrorKind)
	})
	t.Run("no table", func(t *testing.T) {
		out := run(t, ActionSnapshot, testCtx, &actiontest.Page{}, nil)
		assert.Equal(t, KindNoProducts, out.ErrorKind)
	})
	t.Run("navigation", func(t *testing.T) {
		pg := &actiontest.Page{Errors: map[string]error{"Navigate": errors.New("net::ERR_TIMED_OUT")}}
		out := run(t, ActionSnapshot, testCtx, pg, nil)
		assert.Equal(t, KindNavigation, out.ErrorKind)
		assert.Contains(t, out.ErrorMessage, "ERR_TIMED_OUT")
	})
	t.Run("search", func(t *testing.T) {
		pg := &actiontest.Page{Missing: map[string]bool{searchInputLoc: true}}
		out := run(t, ActionSnapshot, testCtx, pg, core.Payload{"keyword": "lampu"})
		assert.Equal(t, KindSearch, out.ErrorKind)
	})
	t.Run("unconfigured site", func(t *testing.T) {
		actx := testCtx
		actx.Site = "my"
		pg := &actiontest.Page{}
		out := run(t, ActionSnapshot, actx, pg, nil)
		assert.Equal(t, KindConfig, out.ErrorKind)
		assert.Empty(t, pg.Calls())
	})
}

func TestUpdateTitleMissingFieldMakesNoCalls(t *testing.T) {
	pg := &actiontest.Page{}

	out := run(t, ActionUpdateTitle, testCtx, pg, core.Payload{"product_id": "101"})

	assert.False(t, out.OK)
	assert.Equal(t, KindValidation, out.ErrorKind)
	assert.Contains(t, out.ErrorMessage, "new_title")
	assert.Empty(t, pg.Calls())
}

func TestUpdateTitleSavesAndConfirms(t *testing.T) {
	pg := &actiontest.Page{
		Texts:   map[string]string{productNameLoc: "Lampu LED 10W"},
		Present: map[string]bool{successToastLoc: true},
	}

	out := run(t, ActionUpdateTitle, testCtx, pg, core.Payload{"product_id": float64(101), "new_title": "Lampu LED 12W"})

	require.True(t, out.OK, out.ErrorMessage)
	assert.Equal(t, "101", out.Data["product_id"])
	assert.Equal(t, "Lampu LED 10W", out.Data["before_title"])
	assert.Equal(t, "Lampu LED 12W", out.Data["after_title"])
	assert.Equal(t, true, out.Data["confirmed"])

	var typed []string
	for _, c := range pg.Calls() {
		if c.Method == "SendText" {
			typed = append(typed, c.Locator+"="+c.Text)
		}
	}
	assert.Equal(t, []string{searchInputLoc + "=101", titleInputLoc + "=Lampu LED 12W"}, typed)
}

func TestUpdateTitleFailureKinds(t *testing.T) {
	payload := core.Payload{"product_id": "101", "new_title": "Baru", "product_name": "Lampu"}
	cases := []struct {
		name string
		page *actiontest.Page
		want ErrorKind
	}{
		{"navigation", &actiontest.Page{Errors: map[string]error{"Navigate": errors.New("down")}}, KindNavigation},
		{"search", &actiontest.Page{Missing: map[string]bool{searchInputLoc: true}}, KindSearch},
		{"edit button", &actiontest.Page{Missing: map[string]bool{editBtnLoc: true}}, KindProductMissing},
		{"title field", &actiontest.Page{Missing: map[string]bool{titleInputLoc: true}}, KindUpdate},
		{"save button", &actiontest.Page{Missing: map[string]bool{saveBtnLoc: true}}, KindSave},
		{"error toast", &actiontest.Page{
			Present: map[string]bool{errorToastLoc: true},
			Texts:   map[string]string{errorToastLoc: "Gagal menyimpan"},
		}, KindSave},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := run(t, ActionUpdateTitle, testCtx, tc.page, payload)
			assert.False(t, out.OK)
			assert.Equal(t, tc.want, out.ErrorKind, out.ErrorMessage)
		})
	}
}

func TestUpdateTitleWithoutToastIsUnconfirmedSuccess(t *testing.T) {
	out := run(t, ActionUpdateTitle, testCtx, &actiontest.Page{}, core.Payload{"product_id": "101", "new_title": "Baru"})
	require.True(t, out.OK)
	assert.Equal(t, false, out.Data["confirmed"])
}

func TestAdsSummaryParsesMetrics(t *testing.T) {
	pg := &actiontest.Page{Texts: map[string]string{
		"css:[data-testid='total-spend'], .spend-value":       "Rp 1.234.567",
		"css:[data-testid='impressions'], .impressions-value": "12,5K",
		"css:[data-testid='clicks'], .clicks-value":           "1,234",
		"css:[data-testid='roas'], .roas-value":               "3.5",
	}}

	out := run(t, ActionAdsSummary, testCtx, pg, core.Payload{"date_range": "30days"})

	require.True(t, out.OK, out.ErrorMessage)
	assert.Equal(t, "30days", out.Data["date_range"])
	metrics := out.Data["metrics"].(map[string]any)
	assert.Equal(t, int64(1234567), metrics["spend"])
	assert.Equal(t, 12500.0, metrics["impressions"])
	assert.Equal(t, int64(1234), metrics["clicks"])
	assert.Equal(t, 3.5, metrics["roas"])
	assert.NotContains(t, metrics, "orders")

	clicks := []string{}
	for _, c := range pg.Calls() {
		if c.Method == "WaitAndClick" {
			clicks = append(clicks, c.Locator)
		}
	}
	assert.Equal(t, []string{
		"css:.date-range-picker, [data-testid='date-picker']",
		"xpath://button[contains(., '30 hari') or contains(., '30 days')]",
	}, clicks)
}

func TestAdsSummaryFailures(t *testing.T) {
	out := run(t, ActionAdsSummary, testCtx, &actiontest.Page{}, nil)
	assert.Equal(t, KindExtraction, out.ErrorKind)

	out = run(t, ActionAdsSummary, testCtx, &actiontest.Page{}, core.Payload{"date_range": "yesterday"})
	assert.Equal(t, KindValidation, out.ErrorKind)

	actx := testCtx
	actx.Site = "sg"
	out = run(t, ActionAdsSummary, actx, &actiontest.Page{}, nil)
	assert.Equal(t, KindConfig, out.ErrorKind)
}
