// Package pricing loads the plan catalog shown by the health endpoint.
package pricing

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hrygo/mirrord/store"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Plan is one purchasable subscription tier.
type Plan struct {
	Tier     store.SubscriptionTier `yaml:"tier" json:"-"`
	Price    string                 `yaml:"price" json:"price"`
	Features []string               `yaml:"features" json:"features"`
}

// Catalog is the ordered list of plans.
type Catalog struct {
	Plans []Plan `yaml:"plans"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse pricing catalog: %w", err)
	}
	if len(c.Plans) == 0 {
		return nil, fmt.Errorf("pricing catalog has no plans")
	}
	seen := map[store.SubscriptionTier]bool{}
	for _, p := range c.Plans {
		if !p.Tier.Valid() || p.Tier == store.TierFree {
			return nil, fmt.Errorf("pricing catalog: %q is not a paid tier", p.Tier)
		}
		if seen[p.Tier] {
			return nil, fmt.Errorf("pricing catalog: duplicate tier %q", p.Tier)
		}
		if p.Price == "" {
			return nil, fmt.Errorf("pricing catalog: tier %q has no price", p.Tier)
		}
		seen[p.Tier] = true
	}
	return &c, nil
}

// ByTier returns the plans keyed by tier name.
func (c *Catalog) ByTier() map[string]Plan {
	out := make(map[string]Plan, len(c.Plans))
	for _, p := range c.Plans {
		out[string(p.Tier)] = p
	}
	return out
}

// Plan returns the plan for tier.
func (c *Catalog) Plan(tier store.SubscriptionTier) (Plan, bool) {
	for _, p := range c.Plans {
		if p.Tier == tier {
			return p, true
		}
	}
	return Plan{}, false
}
