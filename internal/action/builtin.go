package action

import (
	"context"
	"fmt"
	"time"

	"shopagent/internal/locator"
)

// Timing holds the waits used by the built-in actions.
type Timing struct {
	// NavigateWait bounds the wait for a page load after navigation.
	NavigateWait time.Duration
	// ElementTimeout bounds waits for primary elements.
	ElementTimeout time.Duration
	// ShortTimeout bounds waits for optional elements.
	ShortTimeout time.Duration
	// Settle is slept after steps that trigger asynchronous page updates.
	Settle time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		NavigateWait:   5 * time.Second,
		ElementTimeout: 10 * time.Second,
		ShortTimeout:   5 * time.Second,
		Settle:         3 * time.Second,
	}
}

const (
	ActionAdsSummary      = "fetch_ads_summary"
	ActionSnapshot        = "fetch_snapshot"
	ActionProductSnapshot = "fetch_product_snapshot"
	ActionUpdateTitle     = "update_title"
)

// Builtins returns a registry with the seller-center actions.
func Builtins(tables *locator.Tables, timing Timing) *Registry {
	r := NewRegistry()
	r.Register(ActionAdsSummary, func() Action {
		return &adsSummary{tables: tables, timing: timing}
	})
	r.Register(ActionSnapshot, func() Action {
		return &snapshot{name: ActionSnapshot, tables: tables, timing: timing}
	})
	r.Register(ActionProductSnapshot, func() Action {
		return &snapshot{name: ActionProductSnapshot, tables: tables, timing: timing}
	})
	r.Register(ActionUpdateTitle, func() Action {
		return &updateTitle{tables: tables, timing: timing}
	})
	return r
}

// searchProducts types keyword into the product search box and submits it,
// by the search button when one is configured and by Enter otherwise.
func searchProducts(ctx context.Context, page Page, site locator.Site, timing Timing, keyword string) error {
	input, err := site.Get("product_list", "search_input")
	if err != nil {
		return err
	}
	if err := page.SendText(ctx, input, keyword, true, timing.ElementTimeout); err != nil {
		return fmt.Errorf("type search keyword: %w", err)
	}
	submitted := false
	if btn, ok := site.Lookup("product_list", "search_button"); ok {
		submitted = page.WaitAndClick(ctx, btn, timing.ShortTimeout) == nil
	}
	if !submitted {
		if err := page.PressEnter(ctx, input, timing.ShortTimeout); err != nil {
			return fmt.Errorf("submit search: %w", err)
		}
	}
	return pause(ctx, timing.Settle)
}
