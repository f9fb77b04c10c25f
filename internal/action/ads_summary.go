package action

import (
	"context"

	"shopagent/internal/core"
	"shopagent/internal/locator"
)

var adsMetrics = []struct {
	name string
	key  string
}{
	{"spend", "total_spend"},
	{"impressions", "total_impressions"},
	{"clicks", "total_clicks"},
	{"orders", "total_orders"},
	{"roas", "roas"},
}

var dateRangeKeys = map[string]string{
	"today":  "date_today",
	"7days":  "date_7days",
	"30days": "date_30days",
}

// adsSummary reads the headline metrics of the ads dashboard.
type adsSummary struct {
	tables *locator.Tables
	timing Timing
}

func (a *adsSummary) Name() string { return ActionAdsSummary }

func (a *adsSummary) Run(ctx context.Context, actx Context, page Page, payload core.Payload) (Outcome, error) {
	site := a.tables.Site(actx.Site)
	dateRange := stringField(payload, "date_range", "today")
	if _, ok := dateRangeKeys[dateRange]; !ok {
		return Fail(a.Name(), KindValidation, "date_range must be one of today, 7days, 30days; got %q", dateRange), nil
	}

	entry, err := site.Get("ads_center", "entry_url")
	if err != nil {
		return Fail(a.Name(), KindConfig, "%v", err), nil
	}
	if actx.DryRun {
		return Succeed(a.Name(), map[string]any{
			"dry_run":    true,
			"date_range": dateRange,
			"url":        entry,
		}), nil
	}

	if err := page.Navigate(ctx, entry, a.timing.NavigateWait); err != nil {
		return Fail(a.Name(), KindNavigation, "open ads dashboard %s: %v", entry, err), nil
	}
	a.selectDateRange(ctx, page, site, dateRange)
	if err := pause(ctx, a.timing.Settle); err != nil {
		return Outcome{}, err
	}

	metrics := make(map[string]any)
	for _, m := range adsMetrics {
		loc, ok := site.Lookup("ads_center", m.key)
		if !ok {
			continue
		}
		text, err := page.ReadText(ctx, loc, a.timing.ShortTimeout)
		if err != nil || text == "" {
			continue
		}
		metrics[m.name] = ParseNumber(text)
	}
	if len(metrics) == 0 {
		return Fail(a.Name(), KindExtraction, "no ads metric could be read; the dashboard layout may have changed"), nil
	}
	return Succeed(a.Name(), map[string]any{
		"date_range": dateRange,
		"metrics":    metrics,
	}), nil
}

// selectDateRange is best effort; the dashboard defaults to today.
func (a *adsSummary) selectDateRange(ctx context.Context, page Page, site locator.Site, dateRange string) {
	picker, ok := site.Lookup("ads_center", "date_picker")
	if !ok {
		return
	}
	if err := page.WaitAndClick(ctx, picker, a.timing.ShortTimeout); err != nil {
		return
	}
	option, ok := site.Lookup("ads_center", dateRangeKeys[dateRange])
	if !ok {
		return
	}
	if err := page.WaitAndClick(ctx, option, a.timing.ShortTimeout); err == nil {
		_ = pause(ctx, a.timing.Settle)
	}
}
