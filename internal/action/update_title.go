package action

import (
	"context"

	"shopagent/internal/core"
	"shopagent/internal/locator"
)

const scrollToBottomJS = "window.scrollTo(0, document.body.scrollHeight); true"

// updateTitle renames a product through the product edit form.
type updateTitle struct {
	tables *locator.Tables
	timing Timing
}

func (a *updateTitle) Name() string { return ActionUpdateTitle }

func (a *updateTitle) Run(ctx context.Context, actx Context, page Page, payload core.Payload) (Outcome, error) {
	if key := missingField(payload, "product_id", "new_title"); key != "" {
		return Fail(a.Name(), KindValidation, "missing required field: %s", key), nil
	}
	productID := stringField(payload, "product_id", "")
	newTitle := stringField(payload, "new_title", "")
	productName := stringField(payload, "product_name", productID)

	if actx.DryRun {
		return Succeed(a.Name(), map[string]any{
			"product_id": productID,
			"new_title":  newTitle,
			"dry_run":    true,
			"message":    "dry run, no change made",
		}), nil
	}

	site := a.tables.Site(actx.Site)
	entry, err := site.Get("product_list", "entry_url")
	if err != nil {
		return Fail(a.Name(), KindConfig, "%v", err), nil
	}
	editBtn, err := site.Get("product_list", "edit_btn")
	if err != nil {
		return Fail(a.Name(), KindConfig, "%v", err), nil
	}
	titleInput, err := site.Get("product_edit", "title_input")
	if err != nil {
		return Fail(a.Name(), KindConfig, "%v", err), nil
	}
	saveBtn, err := site.Get("product_edit", "save_btn")
	if err != nil {
		return Fail(a.Name(), KindConfig, "%v", err), nil
	}

	if err := page.Navigate(ctx, entry, a.timing.NavigateWait); err != nil {
		return Fail(a.Name(), KindNavigation, "open product list %s: %v", entry, err), nil
	}
	if err := searchProducts(ctx, page, site, a.timing, productName); err != nil {
		return Fail(a.Name(), KindSearch, "search product %q: %v", productName, err), nil
	}

	oldTitle := ""
	if loc, ok := site.Lookup("product_list", "product_name"); ok {
		oldTitle, _ = page.ReadText(ctx, loc, a.timing.ShortTimeout)
	}
	if err := page.WaitAndClick(ctx, editBtn, a.timing.ElementTimeout); err != nil {
		return Fail(a.Name(), KindProductMissing, "product %s not found or not editable: %v", productID, err), nil
	}
	if err := pause(ctx, a.timing.Settle); err != nil {
		return Outcome{}, err
	}

	if err := page.ScrollIntoView(ctx, titleInput, a.timing.ElementTimeout); err != nil {
		return Fail(a.Name(), KindUpdate, "title field not found: %v", err), nil
	}
	if err := page.SendText(ctx, titleInput, newTitle, true, a.timing.ElementTimeout); err != nil {
		return Fail(a.Name(), KindUpdate, "could not set title: %v", err), nil
	}

	confirmed, msg := a.save(ctx, page, site, saveBtn)
	if msg != "" {
		return Fail(a.Name(), KindSave, "%s", msg), nil
	}
	return Succeed(a.Name(), map[string]any{
		"product_id":   productID,
		"before_title": oldTitle,
		"after_title":  newTitle,
		"confirmed":    confirmed,
	}), nil
}

// save clicks the save button and inspects the toast. It returns a failure
// message, or whether a success toast confirmed the save.
func (a *updateTitle) save(ctx context.Context, page Page, site locator.Site, saveBtn string) (confirmed bool, failure string) {
	_, _ = page.RunScript(ctx, scrollToBottomJS)
	if err := page.WaitAndClick(ctx, saveBtn, a.timing.ElementTimeout); err != nil {
		return false, "could not click save: " + err.Error()
	}
	if err := pause(ctx, a.timing.Settle); err != nil {
		return false, "interrupted waiting for save: " + err.Error()
	}
	if loc, ok := site.Lookup("product_edit", "success_toast"); ok {
		if found, _ := page.Exists(ctx, loc); found {
			return true, ""
		}
	}
	if loc, ok := site.Lookup("product_edit", "error_toast"); ok {
		if found, _ := page.Exists(ctx, loc); found {
			text, _ := page.ReadText(ctx, loc, a.timing.ShortTimeout)
			return false, "save rejected: " + text
		}
	}
	// No toast either way; the form was submitted.
	return false, ""
}
