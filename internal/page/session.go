// Package page drives one provisioned browser through chromedp. It exposes
// element-level capabilities and carries no task logic.
package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned when an element does not appear before the timeout.
	ErrNotFound = errors.New("element not found")
	// ErrNotConnected is returned by calls made before Connect or after Close.
	ErrNotConnected = errors.New("page session not connected")
)

const (
	defaultMinWait     = 250 * time.Millisecond
	defaultCallTimeout = 30 * time.Second
)

// Options tunes a Session.
type Options struct {
	// EvidenceDir receives screenshots.
	EvidenceDir string
	// ActionDelay is the minimum spacing between mutating calls.
	ActionDelay time.Duration
	// MinWait is the shortest element lookup; smaller timeouts are raised to it.
	MinWait     time.Duration
	CallTimeout time.Duration
	// Now stamps screenshot file names.
	Now func() time.Time
}

// Session is a chromedp attachment to one page target of a running browser.
type Session struct {
	endpoint string
	opts     Options
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu      sync.Mutex
	tab     context.Context
	cancel  context.CancelFunc
	browser string
}

// New creates an unconnected session for a DevTools endpoint (host:port).
func New(endpoint string, opts Options, logger *slog.Logger) *Session {
	if opts.MinWait <= 0 {
		opts.MinWait = defaultMinWait
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	if opts.ActionDelay > 0 {
		limit = rate.Every(opts.ActionDelay)
	}
	return &Session{
		endpoint: endpoint,
		opts:     opts,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Endpoint returns the DevTools host:port this session is bound to.
func (s *Session) Endpoint() string { return s.endpoint }

// Browser returns the product string reported by the browser after Connect.
func (s *Session) Browser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser
}

// Connect attaches to the first page target of the browser and checks that
// script evaluation works. The attachment outlives ctx; Close releases it.
func (s *Session) Connect(ctx context.Context) error {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), "ws://"+s.endpoint)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithErrorf(s.debugf))

	var (
		tab       context.Context
		cancelTab context.CancelFunc
		product   string
	)
	cancel := func() {
		if cancelTab != nil {
			cancelTab()
		}
		cancelBrowser()
		cancelAlloc()
	}

	done := make(chan error, 1)
	go func() {
		targets, err := chromedp.Targets(browserCtx)
		if err != nil {
			done <- fmt.Errorf("list devtools targets: %w", err)
			return
		}
		var id target.ID
		for _, t := range targets {
			if t.Type == "page" {
				id = t.TargetID
				break
			}
		}
		if id == "" {
			done <- fmt.Errorf("no page target at %s", s.endpoint)
			return
		}
		tab, cancelTab = chromedp.NewContext(browserCtx, chromedp.WithTargetID(id))
		var two int
		err = chromedp.Run(tab,
			chromedp.ActionFunc(func(ctx context.Context) error {
				var err error
				_, product, _, _, _, err = browser.GetVersion().Do(ctx)
				return err
			}),
			chromedp.Evaluate("1+1", &two),
		)
		if err == nil && two != 2 {
			err = fmt.Errorf("evaluated 1+1 as %d", two)
		}
		if err != nil {
			err = fmt.Errorf("connectivity check failed: %w", err)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			cancel()
			return err
		}
	case <-ctx.Done():
		go func() {
			<-done
			cancel()
		}()
		return ctx.Err()
	}

	s.mu.Lock()
	prev := s.cancel
	s.tab, s.cancel, s.browser = tab, cancel, product
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
	s.logger.Info("page session connected", "endpoint", s.endpoint, "browser", product)
	return nil
}

func (s *Session) debugf(format string, args ...any) {
	s.logger.Debug("devtools", "detail", fmt.Sprintf(format, args...))
}

// Close detaches from the browser. The browser process keeps running.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.tab, s.cancel = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// run executes actions on the attached tab. timeout bounds this call only;
// when it expires the call is abandoned and the attachment stays usable.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.Lock()
	tab := s.tab
	s.mu.Unlock()
	if tab == nil {
		return ErrNotConnected
	}
	if timeout <= 0 {
		timeout = s.opts.CallTimeout
	}
	runCtx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// query runs element actions for loc and reports a lookup timeout as ErrNotFound.
func (s *Session) query(ctx context.Context, loc string, timeout time.Duration, build func(sel string, opt chromedp.QueryOption) []chromedp.Action) error {
	l := ParseLocator(loc)
	sel, opt := l.Query()
	if timeout < s.opts.MinWait {
		timeout = s.opts.MinWait
	}
	err := s.run(ctx, timeout, build(sel, opt)...)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, l)
	}
	return err
}

func (s *Session) pace(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// Navigate loads url and waits up to wait for the page to load. A load that
// is still running when wait passes is not an error.
func (s *Session) Navigate(ctx context.Context, url string, wait time.Duration) error {
	err := s.run(ctx, wait, chromedp.Navigate(url))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		s.logger.Warn("page load still running", "url", url, "wait", wait)
		return nil
	default:
		return fmt.Errorf("navigate %s: %w", url, err)
	}
}

// WaitAndClick waits for the element to become visible, then clicks it.
func (s *Session) WaitAndClick(ctx context.Context, loc string, timeout time.Duration) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	return s.query(ctx, loc, timeout, func(sel string, opt chromedp.QueryOption) []chromedp.Action {
		return []chromedp.Action{
			chromedp.WaitVisible(sel, opt),
			chromedp.Click(sel, opt),
		}
	})
}

// SendText focuses the element, optionally clears it, and types text.
func (s *Session) SendText(ctx context.Context, loc, text string, clearFirst bool, timeout time.Duration) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	return s.query(ctx, loc, timeout, func(sel string, opt chromedp.QueryOption) []chromedp.Action {
		actions := []chromedp.Action{chromedp.WaitVisible(sel, opt)}
		if clearFirst {
			actions = append(actions, chromedp.SetValue(sel, "", opt))
		}
		return append(actions, chromedp.SendKeys(sel, text, opt))
	})
}

// PressEnter sends an Enter key press to the element.
func (s *Session) PressEnter(ctx context.Context, loc string, timeout time.Duration) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	return s.query(ctx, loc, timeout, func(sel string, opt chromedp.QueryOption) []chromedp.Action {
		return []chromedp.Action{chromedp.SendKeys(sel, kb.Enter, opt)}
	})
}

// ReadText returns the element's visible text.
func (s *Session) ReadText(ctx context.Context, loc string, timeout time.Duration) (string, error) {
	var text string
	err := s.query(ctx, loc, timeout, func(sel string, opt chromedp.QueryOption) []chromedp.Action {
		return []chromedp.Action{chromedp.Text(sel, &text, opt)}
	})
	return strings.TrimSpace(text), err
}

// ReadAttribute returns an attribute of the element, or "" when it is unset.
func (s *Session) ReadAttribute(ctx context.Context, loc, name string, timeout time.Duration) (string, error) {
	var (
		value string
		ok    bool
	)
	err := s.query(ctx, loc, timeout, func(sel string, opt chromedp.QueryOption) []chromedp.Action {
		return []chromedp.Action{chromedp.AttributeValue(sel, name, &value, &ok, opt)}
	})
	return strings.TrimSpace(value), err
}

// ReadHTML returns the element's outer HTML.
func (s *Session) ReadHTML(ctx context.Context, loc string, timeout time.Duration) (string, error) {
	var html string
	err := s.query(ctx, loc, timeout, func(sel string, opt chromedp.QueryOption) []chromedp.Action {
		return []chromedp.Action{chromedp.OuterHTML(sel, &html, opt)}
	})
	return html, err
}

// Exists reports whether the element is present right now.
func (s *Session) Exists(ctx context.Context, loc string) (bool, error) {
	sel, opt := ParseLocator(loc).Query()
	var nodes []*cdp.Node
	if err := s.run(ctx, 0, chromedp.Nodes(sel, &nodes, opt, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// ScrollIntoView scrolls the element into the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, loc string, timeout time.Duration) error {
	return s.query(ctx, loc, timeout, func(sel string, opt chromedp.QueryOption) []chromedp.Action {
		return []chromedp.Action{chromedp.ScrollIntoView(sel, opt)}
	})
}

// RunScript evaluates src in the page, awaiting a returned promise, and
// returns its JSON value. An undefined result is nil.
func (s *Session) RunScript(ctx context.Context, src string) (any, error) {
	var obj *runtime.RemoteObject
	err := s.run(ctx, 0, chromedp.Evaluate(src, &obj, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	if obj == nil || obj.Type == runtime.TypeUndefined || len(obj.Value) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal([]byte(obj.Value), &out); err != nil {
		return nil, fmt.Errorf("decode script result: %w", err)
	}
	return out, nil
}

// CurrentURL returns the page's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var href string
	if err := s.run(ctx, 0, chromedp.Location(&href)); err != nil {
		return "", err
	}
	return href, nil
}

// Screenshot captures the viewport as <label>_<YYYYMMDD_HHMMSS>.png in the
// evidence directory and returns the file path.
func (s *Session) Screenshot(ctx context.Context, label string) (string, error) {
	var png []byte
	if err := s.run(ctx, 0, chromedp.CaptureScreenshot(&png)); err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	return s.writeEvidence(label, png)
}

func (s *Session) writeEvidence(label string, png []byte) (string, error) {
	dir := s.opts.EvidenceDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create evidence dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.png", label, s.opts.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
