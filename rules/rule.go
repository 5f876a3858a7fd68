package rules

import "time"

// Scope is the dimension along which buckets are partitioned.
type Scope string

const (
	ScopeGlobal    Scope = "GLOBAL"
	ScopePerIP     Scope = "PER_IP"
	ScopePerUser   Scope = "PER_USER"
	ScopePerAPIKey Scope = "PER_API_KEY"
	ScopeCustom    Scope = "CUSTOM"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopePerIP, ScopePerUser, ScopePerAPIKey, ScopeCustom:
		return true
	}
	return false
}

// OnLimitExceedPolicy selects the filter behavior when a rule rejects.
type OnLimitExceedPolicy string

const (
	RejectRequest OnLimitExceedPolicy = "REJECT_REQUEST"
	WaitForRefill OnLimitExceedPolicy = "WAIT_FOR_REFILL"
)

func (p OnLimitExceedPolicy) Valid() bool {
	return p == RejectRequest || p == WaitForRefill
}

// Rule is a named set of bands plus a scope. Construct via RuleBuilder;
// a Rule that came out of Build is valid and should be treated as
// immutable.
type Rule struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Enabled       bool                `json:"enabled"`
	Scope         Scope               `json:"scope"`
	KeyStrategyID string              `json:"keyStrategyId,omitempty"`
	OnLimitExceed OnLimitExceedPolicy `json:"onLimitExceedPolicy"`
	Bands         []Band              `json:"bands"`
	RuleSetID     string              `json:"ruleSetId,omitempty"`
	Attributes    map[string]string   `json:"attributes,omitempty"`
}

// Equal reports rule identity within a rule-set, which is by id.
func (r Rule) Equal(other Rule) bool {
	return r.ID == other.ID
}

// Attribute returns the named attribute, or "" when absent.
func (r Rule) Attribute(key string) string {
	return r.Attributes[key]
}

// Validate re-checks the builder invariants; useful for rules that were
// deserialized rather than built.
func (r Rule) Validate() error {
	if r.ID == "" {
		return NewEmptyIDError("rule")
	}
	if err := validateID("rule", r.ID); err != nil {
		return err
	}
	if !r.Scope.Valid() {
		return NewInvalidScopeError(r.Scope)
	}
	if !r.OnLimitExceed.Valid() {
		return NewInvalidPolicyError(r.OnLimitExceed)
	}
	if r.Scope == ScopeCustom && r.KeyStrategyID == "" {
		return ErrMissingKeyStrategy
	}
	if len(r.Bands) == 0 {
		return NewNoBandsError(r.ID)
	}
	for _, band := range r.Bands {
		if err := band.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RuleBuilder assembles a Rule, enforcing invariants at Build time.
type RuleBuilder struct {
	rule Rule
}

// NewRule starts a builder for a rule with the given id. Name defaults to
// the id and the rule is enabled unless disabled explicitly.
func NewRule(id string) *RuleBuilder {
	return &RuleBuilder{rule: Rule{
		ID:            id,
		Enabled:       true,
		Scope:         ScopeGlobal,
		OnLimitExceed: RejectRequest,
	}}
}

func (b *RuleBuilder) Name(name string) *RuleBuilder {
	b.rule.Name = name
	return b
}

func (b *RuleBuilder) Enabled(enabled bool) *RuleBuilder {
	b.rule.Enabled = enabled
	return b
}

func (b *RuleBuilder) Scope(scope Scope) *RuleBuilder {
	b.rule.Scope = scope
	return b
}

func (b *RuleBuilder) KeyStrategy(id string) *RuleBuilder {
	b.rule.KeyStrategyID = id
	return b
}

func (b *RuleBuilder) OnLimitExceed(policy OnLimitExceedPolicy) *RuleBuilder {
	b.rule.OnLimitExceed = policy
	return b
}

// Band appends a rate band. Order is preserved.
func (b *RuleBuilder) Band(window time.Duration, capacity int64) *RuleBuilder {
	b.rule.Bands = append(b.rule.Bands, Band{Window: window, Capacity: capacity})
	return b
}

// LabeledBand appends a rate band with an explicit bucket label.
func (b *RuleBuilder) LabeledBand(window time.Duration, capacity int64, label string) *RuleBuilder {
	b.rule.Bands = append(b.rule.Bands, Band{Window: window, Capacity: capacity, Label: label})
	return b
}

func (b *RuleBuilder) Attribute(key, value string) *RuleBuilder {
	if b.rule.Attributes == nil {
		b.rule.Attributes = make(map[string]string)
	}
	b.rule.Attributes[key] = value
	return b
}

// Build validates and returns the rule.
func (b *RuleBuilder) Build() (Rule, error) {
	rule := b.rule
	if rule.Name == "" {
		rule.Name = rule.ID
	}
	// copy bands and attributes so later builder reuse cannot alias
	rule.Bands = append([]Band(nil), rule.Bands...)
	if b.rule.Attributes != nil {
		attrs := make(map[string]string, len(b.rule.Attributes))
		for k, v := range b.rule.Attributes {
			attrs[k] = v
		}
		rule.Attributes = attrs
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// MustBuild is Build for statically known-good rules; it panics on error.
func (b *RuleBuilder) MustBuild() Rule {
	rule, err := b.Build()
	if err != nil {
		panic(err)
	}
	return rule
}
