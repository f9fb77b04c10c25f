// Package action defines the unit of work run against a tenant's page, the
// executor that wraps every action with evidence capture, and the built-in
// seller-center actions.
package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"shopagent/internal/core"
)

// ErrUnknownAction is returned by Registry.New for unregistered names.
var ErrUnknownAction = errors.New("unknown action")

// Page is the capability set actions drive. Locators use the
// "css:", "xpath:", "id:" and "name:" prefixes.
type Page interface {
	Navigate(ctx context.Context, url string, wait time.Duration) error
	WaitAndClick(ctx context.Context, loc string, timeout time.Duration) error
	SendText(ctx context.Context, loc, text string, clearFirst bool, timeout time.Duration) error
	PressEnter(ctx context.Context, loc string, timeout time.Duration) error
	ReadText(ctx context.Context, loc string, timeout time.Duration) (string, error)
	ReadAttribute(ctx context.Context, loc, name string, timeout time.Duration) (string, error)
	ReadHTML(ctx context.Context, loc string, timeout time.Duration) (string, error)
	Exists(ctx context.Context, loc string) (bool, error)
	ScrollIntoView(ctx context.Context, loc string, timeout time.Duration) error
	RunScript(ctx context.Context, src string) (any, error)
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, label string) (string, error)
}

// Context identifies the task an action runs for.
type Context struct {
	TaskID   string
	RunID    string
	TenantID string
	Site     string
	DryRun   bool
}

// Action is one business operation. Run reports handled failures as a failed
// Outcome; a returned error is treated as unexpected.
type Action interface {
	Name() string
	Run(ctx context.Context, actx Context, page Page, payload core.Payload) (Outcome, error)
}

// Factory builds a fresh Action.
type Factory func() Action

// Registry maps action names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds the action registered under name.
func (r *Registry) New(name string) (Action, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownAction, name, strings.Join(r.Names(), ", "))
	}
	return f(), nil
}

// Names lists registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}
