// Package rules provides the business-rule layer of the fraud decision
// engine: a data-driven catalog of rule descriptors and an evaluator that
// aggregates their signed risk contributions.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Deps carries the external reads a rule may perform. Only the two
// customer-history lookups touch shared state; everything else a rule sees
// is the transaction itself.
type Deps struct {
	History domain.CustomerHistory
}

// RuleFunc is a pure predicate plus signed contribution. It reports whether
// the rule triggered and, if so, a risk contribution in [-1,1]. Positive
// contributions increase risk; negative ones are trust discounts. An error
// means the rule could not be evaluated and is treated as not triggered.
type RuleFunc func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error)

// Rule is one entry of the catalog: a named, prioritized descriptor around a
// RuleFunc. Priority orders the reporting of triggered rules only; it never
// short-circuits or overrides evaluation.
type Rule struct {
	Name     string
	Priority int
	Reason   string
	Eval     RuleFunc
}

// Catalog is the ordered set of rules. It is populated at process start and
// frozen on first use; registration after the first evaluation is rejected
// so evaluations across goroutines never observe a mutating rule table.
type Catalog struct {
	mu     sync.Mutex
	rules  []Rule
	names  map[string]struct{}
	frozen bool
}

// NewCatalog creates a catalog seeded with the given rules.
func NewCatalog(rules ...Rule) (*Catalog, error) {
	c := &Catalog{names: make(map[string]struct{}, len(rules))}
	for _, r := range rules {
		if err := c.Register(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a rule. Names are unique; registration order is preserved
// and breaks priority ties in reporting.
func (c *Catalog) Register(r Rule) error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Eval == nil {
		return fmt.Errorf("rule %s: eval func is required", r.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return fmt.Errorf("rule %s: catalog is frozen after first use", r.Name)
	}
	if _, exists := c.names[r.Name]; exists {
		return fmt.Errorf("rule %s: already registered", r.Name)
	}

	c.names[r.Name] = struct{}{}
	c.rules = append(c.rules, r)
	return nil
}

// Rules returns the catalog in registration order and freezes it.
func (c *Catalog) Rules() []Rule {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
	return c.rules
}

// Len returns the number of registered rules.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rules)
}
