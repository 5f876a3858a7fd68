// Package provider loads rule-sets from the control store and caches
// them in-process.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxgate/fluxgate/rules"
)

// ErrRuleSetNotFound is returned when the control store holds no rule-set
// with the requested id.
var ErrRuleSetNotFound = errors.New("rule-set not found")

// RuleSetProvider resolves rule-sets by id.
type RuleSetProvider interface {
	// FindByID returns the rule-set or ErrRuleSetNotFound.
	FindByID(ctx context.Context, ruleSetID string) (*rules.RuleSet, error)
}

// Static serves a fixed in-memory collection of rule-sets. Useful for
// embedded deployments that configure rules in code and for tests.
type Static struct {
	ruleSets map[string]*rules.RuleSet
}

func NewStatic(ruleSets ...*rules.RuleSet) *Static {
	s := &Static{ruleSets: make(map[string]*rules.RuleSet, len(ruleSets))}
	for _, rs := range ruleSets {
		s.ruleSets[rs.ID] = rs
	}
	return s
}

func (s *Static) FindByID(ctx context.Context, ruleSetID string) (*rules.RuleSet, error) {
	rs, ok := s.ruleSets[ruleSetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleSetNotFound, ruleSetID)
	}
	return rs, nil
}
