package capabilities

import (
	"fmt"
	"strings"

	"github.com/sgajbi/advisor-experience-api/internal/config"
)

// FeatureRef names one feature flag of one source.
type FeatureRef struct {
	Source string
	Key    string
}

// ParseFeatureRef parses "<source>:<feature key>".
func ParseFeatureRef(s string) (FeatureRef, error) {
	source, key, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || source == "" || key == "" {
		return FeatureRef{}, fmt.Errorf("feature reference %q must be <source>:<key>", s)
	}
	return FeatureRef{Source: source, Key: key}, nil
}

func (f FeatureRef) String() string {
	return f.Source + ":" + f.Key
}

// NavigationRule derives one navigation flag: every Require feature must be
// enabled and, when AnyOf is not empty, at least one AnyOf feature. A rule
// with neither is always on.
type NavigationRule struct {
	Flag    string
	Require []FeatureRef
	AnyOf   []FeatureRef
}

// Evaluate applies the rule using enabled to look features up.
func (r NavigationRule) Evaluate(enabled func(FeatureRef) bool) bool {
	for _, ref := range r.Require {
		if !enabled(ref) {
			return false
		}
	}
	if len(r.AnyOf) == 0 {
		return true
	}
	for _, ref := range r.AnyOf {
		if enabled(ref) {
			return true
		}
	}
	return false
}

// WorkflowRule maps a workflow flag to a source's workflow key.
type WorkflowRule struct {
	Flag        string
	Source      string
	WorkflowKey string
}

// Rules is the full derivation table.
type Rules struct {
	Navigation []NavigationRule
	Workflows  []WorkflowRule
}

// DefaultRules returns the built-in table.
func DefaultRules() Rules {
	defaults := config.DefaultServicesConfig()
	rules, err := RulesFromConfig(defaults.Navigation, defaults.Workflows)
	if err != nil {
		panic(fmt.Sprintf("capabilities: built-in rules are invalid: %v", err))
	}
	return rules
}

// RulesFromConfig converts registry rule settings.
func RulesFromConfig(navigation []config.NavigationRuleSettings, workflows []config.WorkflowRuleSettings) (Rules, error) {
	rules := Rules{
		Navigation: make([]NavigationRule, 0, len(navigation)),
		Workflows:  make([]WorkflowRule, 0, len(workflows)),
	}
	for _, n := range navigation {
		rule := NavigationRule{Flag: n.Flag}
		for _, raw := range n.Require {
			ref, err := ParseFeatureRef(raw)
			if err != nil {
				return Rules{}, fmt.Errorf("navigation %s: %w", n.Flag, err)
			}
			rule.Require = append(rule.Require, ref)
		}
		for _, raw := range n.AnyOf {
			ref, err := ParseFeatureRef(raw)
			if err != nil {
				return Rules{}, fmt.Errorf("navigation %s: %w", n.Flag, err)
			}
			rule.AnyOf = append(rule.AnyOf, ref)
		}
		rules.Navigation = append(rules.Navigation, rule)
	}
	for _, w := range workflows {
		rules.Workflows = append(rules.Workflows, WorkflowRule(w))
	}
	return rules, nil
}
