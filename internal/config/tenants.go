package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type tenantsFile struct {
	Tenants map[string]string `yaml:"tenants"`
}

// LoadTenants reads a tenant id to provisioning id map:
//
//	tenants:
//	  shop_a: "15234"
//	  shop_b: "15235"
func LoadTenants(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	var f tenantsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse tenants file %s: %w", path, err)
	}
	out := make(map[string]string, len(f.Tenants))
	for tenant, id := range f.Tenants {
		tenant, id = strings.TrimSpace(tenant), strings.TrimSpace(id)
		if tenant == "" || id == "" {
			return nil, fmt.Errorf("tenants file %s: empty tenant or provisioning id", path)
		}
		out[tenant] = id
	}
	return out, nil
}
