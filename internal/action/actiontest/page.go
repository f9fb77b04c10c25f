// Package actiontest provides a scripted in-memory page for action,
// pool and worker tests.
package actiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned for locators the page has no content for.
var ErrNotFound = errors.New("fake element not found")

// Call is one recorded capability call.
type Call struct {
	Method  string
	Locator string
	Text    string
}

// mutating lists the calls that change page state.
var mutating = map[string]bool{
	"WaitAndClick": true,
	"SendText":     true,
	"PressEnter":   true,
}

// Page is a scripted page. Zero value is usable: every element exists and
// every read returns "".
type Page struct {
	Endpoint string

	// Texts, Attrs and HTML answer reads by locator.
	Texts map[string]string
	Attrs map[string]string
	HTML  map[string]string
	// Present answers Exists by locator; unknown locators are absent.
	Present map[string]bool
	// Missing makes every call naming these locators fail with ErrNotFound.
	Missing map[string]bool
	// Errors fails methods by name.
	Errors map[string]error
	// Panic makes the named method panic.
	Panic string

	ScreenshotErr error
	ConnectErr    error

	mu         sync.Mutex
	calls      []Call
	shots      int
	connected  bool
	closed     bool
	connectCnt int
}

func (p *Page) record(method, loc, text string) error {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Method: method, Locator: loc, Text: text})
	p.mu.Unlock()
	if p.Panic == method {
		panic(fmt.Sprintf("fake %s panic", method))
	}
	if err := p.Errors[method]; err != nil {
		return err
	}
	if loc != "" && p.Missing[loc] {
		return fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	return nil
}

// Calls returns the recorded calls, excluding screenshots.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, 0, len(p.calls))
	for _, c := range p.calls {
		if c.Method != "Screenshot" {
			out = append(out, c)
		}
	}
	return out
}

// Mutations counts clicks, typing and key presses.
func (p *Page) Mutations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if mutating[c.Method] {
			n++
		}
	}
	return n
}

// Screenshots counts screenshot attempts.
func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shots
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Connects counts Connect calls.
func (p *Page) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCnt
}

func (p *Page) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectCnt++
	if p.ConnectErr != nil {
		return p.ConnectErr
	}
	p.connected = true
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.connected = false
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string, wait time.Duration) error {
	return p.record("Navigate", "", url)
}

func (p *Page) WaitAndClick(ctx context.Context, loc string, timeout time.Duration) error {
	return p.record("WaitAndClick", loc, "")
}

func (p *Page) SendText(ctx context.Context, loc, text string, clearFirst bool, timeout time.Duration) error {
	return p.record("SendText", loc, text)
}

func (p *Page) PressEnter(ctx context.Context, loc string, timeout time.Duration) error {
	return p.record("PressEnter", loc, "")
}

func (p *Page) ReadText(ctx context.Context, loc string, timeout time.Duration) (string, error) {
	if err := p.record("ReadText", loc, ""); err != nil {
		return "", err
	}
	return p.Texts[loc], nil
}

func (p *Page) ReadAttribute(ctx context.Context, loc, name string, timeout time.Duration) (string, error) {
	if err := p.record("ReadAttribute", loc, name); err != nil {
		return "", err
	}
	return p.Attrs[loc+"@"+name], nil
}

func (p *Page) ReadHTML(ctx context.Context, loc string, timeout time.Duration) (string, error) {
	if err := p.record("ReadHTML", loc, ""); err != nil {
		return "", err
	}
	html, ok := p.HTML[loc]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	return html, nil
}

func (p *Page) Exists(ctx context.Context, loc string) (bool, error) {
	if err := p.record("Exists", loc, ""); err != nil {
		return false, err
	}
	return p.Present[loc], nil
}

func (p *Page) ScrollIntoView(ctx context.Context, loc string, timeout time.Duration) error {
	return p.record("ScrollIntoView", loc, "")
}

func (p *Page) RunScript(ctx context.Context, src string) (any, error) {
	if err := p.record("RunScript", "", src); err != nil {
		return nil, err
	}
	return true, nil
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	if err := p.record("CurrentURL", "", ""); err != nil {
		return "", err
	}
	return "about:blank", nil
}

func (p *Page) Screenshot(ctx context.Context, label string) (string, error) {
	p.mu.Lock()
	p.shots++
	p.calls = append(p.calls, Call{Method: "Screenshot", Text: label})
	p.mu.Unlock()
	if p.Panic == "Screenshot" {
		panic("fake screenshot panic")
	}
	if p.ScreenshotErr != nil {
		return "", p.ScreenshotErr
	}
	return "/evidence/" + label + ".png", nil
}
