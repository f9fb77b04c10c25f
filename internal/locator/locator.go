// Package locator holds the per-site selector tables actions use to find
// elements on the seller pages.
package locator

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSite is used when a task names no site or an unknown one.
const DefaultSite = "id"

// ErrMissing is returned when a site table has no entry for a key.
var ErrMissing = errors.New("locator not configured")

//go:embed default.yaml
var defaultYAML []byte

type fileFormat struct {
	Sites map[string]map[string]any `yaml:"sites"`
}

// Tables maps site codes to flattened locator tables.
type Tables struct {
	sites map[string]map[string]string
}

// Default returns the built-in tables.
func Default() *Tables {
	t, err := parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded locator table: %v", err))
	}
	return t
}

// Load reads a YAML locator file and layers it over the built-in tables.
// An empty path returns the built-in tables.
func Load(path string) (*Tables, error) {
	base := Default()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locators file: %w", err)
	}
	overlay, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse locators file %s: %w", path, err)
	}
	for code, entries := range overlay.sites {
		dst, ok := base.sites[code]
		if !ok {
			dst = make(map[string]string, len(entries))
			base.sites[code] = dst
		}
		for k, v := range entries {
			dst[k] = v
		}
	}
	return base, nil
}

func parse(data []byte) (*Tables, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	t := &Tables{sites: make(map[string]map[string]string, len(f.Sites))}
	for code, tree := range f.Sites {
		flat := make(map[string]string)
		if err := flatten("", tree, flat); err != nil {
			return nil, fmt.Errorf("site %s: %w", code, err)
		}
		t.sites[strings.ToLower(code)] = flat
	}
	return t, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) error {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case map[string]any:
			if err := flatten(key, val, out); err != nil {
				return err
			}
		case nil:
		default:
			return fmt.Errorf("key %s: unsupported value %T", key, v)
		}
	}
	return nil
}

// Sites returns the configured site codes in sorted order.
func (t *Tables) Sites() []string {
	codes := make([]string, 0, len(t.sites))
	for code := range t.sites {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Site returns the table for code, falling back to DefaultSite when the code
// is unknown.
func (t *Tables) Site(code string) Site {
	code = strings.ToLower(strings.TrimSpace(code))
	if entries, ok := t.sites[code]; ok {
		return Site{code: code, entries: entries}
	}
	return Site{code: DefaultSite, entries: t.sites[DefaultSite]}
}

// Site is one site's locator table.
type Site struct {
	code    string
	entries map[string]string
}

// Code returns the resolved site code.
func (s Site) Code() string { return s.code }

// Lookup returns the value stored under the dotted path formed by keys.
func (s Site) Lookup(keys ...string) (string, bool) {
	v, ok := s.entries[strings.Join(keys, ".")]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Get is Lookup that reports a missing entry as ErrMissing.
func (s Site) Get(keys ...string) (string, error) {
	v, ok := s.Lookup(keys...)
	if !ok {
		return "", fmt.Errorf("%w: %s (site %s)", ErrMissing, strings.Join(keys, "."), s.code)
	}
	return v, nil
}

// SiteCode derives a site code from a locale such as "id-ID".
func SiteCode(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return DefaultSite
	}
	if i := strings.IndexAny(locale, "-_"); i >= 0 {
		locale = locale[:i]
	}
	if locale == "" {
		return DefaultSite
	}
	return strings.ToLower(locale)
}
