package vat

import (
	"sync"

	"github.com/go-faster/errors"
)

// Resolver computes the expected rate and treatment of an order by running
// the rule chain against the rate table: reverse charge first, then
// jurisdiction overrides, then the destination standard rate.
//
// Resolve is safe for concurrent use and has no side effects.
type Resolver struct {
	table *RateTable

	mu        sync.RWMutex
	overrides []Rule
}

// NewResolver creates a resolver over the given table.
func NewResolver(table *RateTable, overrides ...Rule) *Resolver {
	return &Resolver{table: table, overrides: overrides}
}

// Table returns the underlying rate table.
func (r *Resolver) Table() *RateTable {
	return r.table
}

// SetOverrides replaces the jurisdiction overrides.
func (r *Resolver) SetOverrides(overrides []Rule) {
	r.mu.Lock()
	r.overrides = overrides
	r.mu.Unlock()
}

func (r *Resolver) rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]Rule, 0, len(r.overrides)+2)
	rules = append(rules, ReverseChargeRule{})
	rules = append(rules, r.overrides...)
	rules = append(rules, StandardRateRule{})
	return rules
}

// Resolve returns the expected rate and treatment for q. A destination the
// table does not know, or one with no rate in force at q.At, fails with
// ErrUnsupportedJurisdiction.
func (r *Resolver) Resolve(q Query) (Resolution, error) {
	if !r.table.Supports(q.Destination) {
		return Resolution{}, errors.Wrapf(ErrUnsupportedJurisdiction, "country %q", q.Destination)
	}
	for _, rule := range r.rules() {
		if res, ok := rule.Apply(q, r.table); ok {
			return res, nil
		}
	}
	return Resolution{}, errors.Wrapf(ErrUnsupportedJurisdiction, "no rate for %q at %s", q.Destination, q.At.Format("2006-01-02"))
}
