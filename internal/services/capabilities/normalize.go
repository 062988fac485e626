package capabilities

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sgajbi/advisor-experience-api/internal/fanout"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

// PolicyLookup is the outcome of the effective policy call.
type PolicyLookup struct {
	Payload httputil.Payload
	Failed  bool
}

// Input is everything the normalizer looks at.
type Input struct {
	// Known lists every declared source in order, including disabled ones.
	Known   []string
	Sources map[string]httputil.Payload
	Errors  []fanout.SourceError
	// Policy is nil when no policy lookup was made.
	Policy *PolicyLookup
}

// Normalize derives the normalized view. Malformed payloads are treated as
// empty; it never fails.
func Normalize(in Input, rules Rules) Normalized {
	enabled := func(ref FeatureRef) bool {
		return FeatureEnabled(in.Sources, ref.Source, ref.Key)
	}

	navigation := make(map[string]bool, len(rules.Navigation))
	for _, rule := range rules.Navigation {
		navigation[rule.Flag] = rule.Evaluate(enabled)
	}

	workflows := make(map[string]bool, len(rules.Workflows))
	for _, rule := range rules.Workflows {
		workflows[rule.Flag] = WorkflowEnabled(in.Sources, rule.Source, rule.WorkflowKey)
	}

	modesBySource, modesUnion := inputModes(in.orderedSources(), in.Sources)

	return Normalized{
		Navigation:             navigation,
		WorkflowFlags:          workflows,
		InputModesBySource:     modesBySource,
		InputModesUnion:        modesUnion,
		PolicyVersionsBySource: policyVersions(in.Known, in.Sources),
		ModuleHealth:           moduleHealth(in.Known, in.Sources, in.Errors),
		PASPolicyDiagnostics:   policyDiagnostics(in.Policy),
	}
}

// orderedSources returns the successful source names, known ones first in
// declared order and any others after them.
func (in Input) orderedSources() []string {
	names := make([]string, 0, len(in.Sources))
	seen := make(map[string]bool, len(in.Sources))
	for _, name := range in.Known {
		if _, ok := in.Sources[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	for name := range in.Sources {
		if !seen[name] {
			names = append(names, name)
		}
	}
	return names
}

// FeatureEnabled finds the entry of source's "features" list whose "key"
// equals key and reports whether its "enabled" field is true. A missing
// source, a non-list "features" or a missing entry yields false.
func FeatureEnabled(sources map[string]httputil.Payload, source, key string) bool {
	return flagEnabled(sources, source, "features", "key", key)
}

// WorkflowEnabled is FeatureEnabled over "workflows" keyed by "workflow_key".
func WorkflowEnabled(sources map[string]httputil.Payload, source, key string) bool {
	return flagEnabled(sources, source, "workflows", "workflow_key", key)
}

func flagEnabled(sources map[string]httputil.Payload, source, listField, keyField, key string) bool {
	payload, ok := sources[source]
	if !ok {
		return false
	}
	list := payload.Get(listField)
	if !list.IsArray() {
		return false
	}
	found, enabled := false, false
	list.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		if stringify(item.Get(keyField)) != key {
			return true
		}
		found = true
		enabled = item.Get("enabled").Type == gjson.True
		return false
	})
	return found && enabled
}

func inputModes(order []string, sources map[string]httputil.Payload) (map[string][]string, []string) {
	bySource := make(map[string][]string, len(order))
	union := make([]string, 0)
	seen := make(map[string]bool)
	for _, name := range order {
		modes := stringList(sources[name].Get("supportedInputModes"))
		bySource[name] = modes
		for _, mode := range modes {
			if !seen[mode] {
				seen[mode] = true
				union = append(union, mode)
			}
		}
	}
	return bySource, union
}

func policyVersions(known []string, sources map[string]httputil.Payload) map[string]string {
	versions := make(map[string]string, len(known))
	for _, name := range known {
		versions[name] = unknownValue
		payload, ok := sources[name]
		if !ok {
			continue
		}
		if v := payload.Get("policyVersion"); v.Exists() && v.Type != gjson.Null {
			versions[name] = stringify(v)
		}
	}
	return versions
}

func moduleHealth(known []string, sources map[string]httputil.Payload, errs []fanout.SourceError) map[string]ModuleHealth {
	failed := make(map[string]bool, len(errs))
	for _, e := range errs {
		failed[e.Service] = true
	}
	health := make(map[string]ModuleHealth, len(known))
	for _, name := range known {
		switch {
		case hasSource(sources, name):
			health[name] = HealthAvailable
		case failed[name]:
			health[name] = HealthUnavailable
		default:
			health[name] = HealthUnknown
		}
	}
	return health
}

func hasSource(sources map[string]httputil.Payload, name string) bool {
	_, ok := sources[name]
	return ok
}

func unavailableDiagnostics() PolicyDiagnostics {
	return PolicyDiagnostics{
		PolicyProvenance: PolicyProvenance{
			PolicyVersion: unknownValue,
			PolicySource:  unknownValue,
			MatchedRuleID: unknownValue,
		},
		AllowedSections: []string{},
		Warnings:        []string{},
	}
}

// policyDiagnostics summarises the policy lookup. A payload carrying neither
// a policyProvenance object nor an allowedSections list counts as malformed.
func policyDiagnostics(lookup *PolicyLookup) PolicyDiagnostics {
	d := unavailableDiagnostics()
	if lookup == nil {
		return d
	}
	if lookup.Failed {
		d.Warnings = append(d.Warnings, WarningPolicyEndpointUnavailable)
		return d
	}

	provenance := lookup.Payload.Get("policyProvenance")
	sections := lookup.Payload.Get("allowedSections")
	if !provenance.IsObject() && !sections.IsArray() {
		return d
	}

	d.Available = true
	d.AllowedSections = stringList(sections)
	d.Warnings = stringList(lookup.Payload.Get("warnings"))
	if provenance.IsObject() {
		d.PolicyProvenance.PolicyVersion = stringOr(provenance.Get("policyVersion"), unknownValue)
		d.PolicyProvenance.PolicySource = stringOr(provenance.Get("policySource"), unknownValue)
		d.PolicyProvenance.MatchedRuleID = stringOr(provenance.Get("matchedRuleId"), unknownValue)
		d.PolicyProvenance.StrictMode = provenance.Get("strictMode").Type == gjson.True
	}
	return d
}

// stringify renders a JSON value as text: strings as-is, anything else as
// its compact JSON form.
func stringify(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return strings.TrimSpace(r.Raw)
}

func stringOr(r gjson.Result, fallback string) string {
	if !r.Exists() || r.Type == gjson.Null {
		return fallback
	}
	return stringify(r)
}

// stringList coerces a JSON list to strings; anything else yields an empty list.
func stringList(r gjson.Result) []string {
	out := make([]string, 0)
	if !r.IsArray() {
		return out
	}
	r.ForEach(func(_, item gjson.Result) bool {
		out = append(out, stringify(item))
		return true
	})
	return out
}
