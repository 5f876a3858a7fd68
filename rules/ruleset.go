package rules

import "encoding/json"

// RuleSet is the unit of lookup: a collection of rules identified by id.
// Rules keep the order they were supplied in; the limiter consumes from
// the first enabled rule that matches a request.
type RuleSet struct {
	ID    string `json:"id"`
	Rules []Rule `json:"rules"`
}

// NewRuleSet validates the id and every rule, stamps each rule with the
// rule-set id, and returns the assembled set.
func NewRuleSet(id string, ruleList ...Rule) (*RuleSet, error) {
	if id == "" {
		return nil, NewEmptyIDError("rule-set")
	}
	if err := validateID("rule-set", id); err != nil {
		return nil, err
	}
	rs := &RuleSet{ID: id, Rules: make([]Rule, 0, len(ruleList))}
	for _, rule := range ruleList {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rule.RuleSetID = id
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

// FindRule returns the rule with the given id, or nil.
func (rs *RuleSet) FindRule(id string) *Rule {
	for i := range rs.Rules {
		if rs.Rules[i].ID == id {
			return &rs.Rules[i]
		}
	}
	return nil
}

// Validate re-checks every rule; used after deserialization.
func (rs *RuleSet) Validate() error {
	if rs.ID == "" {
		return NewEmptyIDError("rule-set")
	}
	if err := validateID("rule-set", rs.ID); err != nil {
		return err
	}
	for _, rule := range rs.Rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MarshalRuleSet serializes a rule-set for transport or persistence.
func MarshalRuleSet(rs *RuleSet) ([]byte, error) {
	return json.Marshal(rs)
}

// UnmarshalRuleSet parses and validates a serialized rule-set.
func UnmarshalRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}
