package schedule

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"shopagent/internal/core"
)

// Entry is one recurring enqueue template.
type Entry struct {
	Name     string       `yaml:"name"`
	Cron     string       `yaml:"cron"`
	Tenant   string       `yaml:"tenant"`
	Action   string       `yaml:"action"`
	Payload  core.Payload `yaml:"payload"`
	Priority int          `yaml:"priority"`
	DryRun   bool         `yaml:"dry_run"`
}

// NewTask renders the entry as a task to enqueue.
func (e Entry) NewTask() core.NewTask {
	payload := make(core.Payload, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = v
	}
	return core.NewTask{
		TenantID: e.Tenant,
		Action:   e.Action,
		Payload:  payload,
		Priority: e.Priority,
		DryRun:   e.DryRun,
	}
}

type file struct {
	Schedules []Entry `yaml:"schedules"`
}

// LoadFile reads schedule entries from a YAML file of the form
//
//	schedules:
//	  - name: morning-snapshot
//	    cron: "0 8 * * *"
//	    tenant: shop_a
//	    action: fetch_snapshot
//	    payload: {limit: 20}
func LoadFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedules file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse schedules file %s: %w", path, err)
	}
	return f.Schedules, nil
}

// Validate checks every entry. known reports whether an action name is
// registered; nil skips that check.
func Validate(entries []Entry, known func(string) bool) error {
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return fmt.Errorf("schedule #%d: name is required", i+1)
		}
		if seen[name] {
			return fmt.Errorf("schedule %s: duplicate name", name)
		}
		seen[name] = true
		if _, err := ParseCron(e.Cron); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		if strings.TrimSpace(e.Tenant) == "" {
			return fmt.Errorf("schedule %s: tenant is required", name)
		}
		if strings.TrimSpace(e.Action) == "" {
			return fmt.Errorf("schedule %s: action is required", name)
		}
		if known != nil && !known(e.Action) {
			return fmt.Errorf("schedule %s: unknown action %q", name, e.Action)
		}
	}
	return nil
}
