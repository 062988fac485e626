package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UpstreamSettings is one upstream registry entry.
type UpstreamSettings struct {
	BaseURL     string        `yaml:"base_url"`
	Enabled     bool          `yaml:"enabled"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  *int          `yaml:"max_retries"`
	Description string        `yaml:"description"`
}

// NavigationRuleSettings derives one navigation flag. Features are written
// as "<source>:<feature key>". The flag is on when every Require feature is
// enabled and, if AnyOf is non-empty, at least one AnyOf feature is.
type NavigationRuleSettings struct {
	Flag    string   `yaml:"flag"`
	Require []string `yaml:"require"`
	AnyOf   []string `yaml:"any_of"`
}

// WorkflowRuleSettings maps a workflow flag to one source's workflow key.
type WorkflowRuleSettings struct {
	Flag        string `yaml:"flag"`
	Source      string `yaml:"source"`
	WorkflowKey string `yaml:"workflow_key"`
}

// ServicesConfig is the upstream registry file.
type ServicesConfig struct {
	Upstreams map[string]*UpstreamSettings `yaml:"upstreams"`
	// CapabilitySources lists, in order, the upstreams queried for
	// capabilities. Disabled upstreams stay listed and report as unknown.
	CapabilitySources []string `yaml:"capability_sources"`
	// PolicySource is the upstream serving the effective policy lookup; empty disables it.
	PolicySource string                   `yaml:"policy_source"`
	Navigation   []NavigationRuleSettings `yaml:"navigation"`
	Workflows    []WorkflowRuleSettings   `yaml:"workflows"`
	// WriteCapabilities maps "METHOD /path" to the capability a caller must
	// hold when write authorization is enforced.
	WriteCapabilities map[string]string `yaml:"write_capabilities"`
}

// LoadServicesConfigFromPath loads the registry from a specific path. Missing
// sections are filled from the defaults.
func LoadServicesConfigFromPath(path string) (*ServicesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}

	defaults := DefaultServicesConfig()
	if cfg.Upstreams == nil {
		cfg.Upstreams = defaults.Upstreams
	}
	if cfg.CapabilitySources == nil {
		cfg.CapabilitySources = defaults.CapabilitySources
	}
	if cfg.Navigation == nil {
		cfg.Navigation = defaults.Navigation
	}
	if cfg.Workflows == nil {
		cfg.Workflows = defaults.Workflows
	}
	if cfg.WriteCapabilities == nil {
		cfg.WriteCapabilities = defaults.WriteCapabilities
	}

	for name := range cfg.Upstreams {
		if cfg.Upstreams[name] == nil {
			return nil, fmt.Errorf("upstream %s: empty settings", name)
		}
	}
	return &cfg, nil
}

// LoadServicesConfigOrDefault loads the registry from path, or returns the
// defaults when the file does not exist.
func LoadServicesConfigOrDefault(path string) (*ServicesConfig, error) {
	cfg, err := LoadServicesConfigFromPath(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultServicesConfig(), nil
	}
	return cfg, err
}

// DefaultServicesConfig returns the built-in registry.
func DefaultServicesConfig() *ServicesConfig {
	return &ServicesConfig{
		Upstreams: map[string]*UpstreamSettings{
			UpstreamPAS: {
				BaseURL:     "http://localhost:8201",
				Enabled:     true,
				Description: "Portfolio data platform",
			},
			UpstreamPA: {
				BaseURL:     "http://localhost:8002",
				Enabled:     true,
				Description: "Performance analytics",
			},
			UpstreamDPM: {
				BaseURL:     "http://localhost:8000",
				Enabled:     true,
				Description: "Decisioning and portfolio management",
			},
			UpstreamManage: {
				BaseURL:     "http://localhost:8140",
				Enabled:     true,
				Description: "Portfolio management service for runs and proposals",
			},
			UpstreamRAS: {
				BaseURL:     "http://localhost:8300",
				Enabled:     true,
				Description: "Reporting aggregation",
			},
		},
		CapabilitySources: []string{UpstreamPAS, UpstreamPA, UpstreamDPM, UpstreamRAS},
		PolicySource:      UpstreamPAS,
		Navigation: []NavigationRuleSettings{
			{Flag: "command_center"},
			{Flag: "portfolio_intake", AnyOf: []string{"pas:pas.ingestion.bulk_upload", "pas:pas.integration.core_snapshot"}},
			{Flag: "analytics_studio", AnyOf: []string{
				"pa:pa.analytics.twr",
				"pa:pa.analytics.mwr",
				"pa:pa.analytics.contribution",
				"pa:pa.analytics.attribution",
			}},
			{Flag: "advisory_pipeline", Require: []string{"dpm:dpm.proposals.lifecycle"}},
			{Flag: "scenario_builder", Require: []string{"dpm:dpm.proposals.lifecycle"}},
			{
				Flag:    "decision_console",
				Require: []string{"pas:pas.integration.core_snapshot"},
				AnyOf:   []string{"dpm:dpm.proposals.lifecycle", "dpm:dpm.support.run_apis"},
			},
			{Flag: "reporting_hub", AnyOf: []string{"ras:ras.reporting.portfolio_summary", "ras:ras.reporting.portfolio_review"}},
		},
		Workflows: []WorkflowRuleSettings{
			{Flag: "proposal_lifecycle", Source: UpstreamDPM, WorkflowKey: "proposal_lifecycle"},
			{Flag: "proposal_approval_flow", Source: UpstreamDPM, WorkflowKey: "proposal_approval_flow"},
			{Flag: "portfolio_bulk_onboarding", Source: UpstreamPAS, WorkflowKey: "portfolio_bulk_onboarding"},
			{Flag: "performance_snapshot", Source: UpstreamPA, WorkflowKey: "performance_snapshot"},
			{Flag: "portfolio_reporting", Source: UpstreamRAS, WorkflowKey: "portfolio_reporting"},
		},
		WriteCapabilities: map[string]string{
			"POST /api/v1/proposals/simulate": "proposals.simulate",
			"POST /api/v1/proposals":          "proposals.create",
		},
	}
}

func (s *ServicesConfig) validateRules() error {
	known := make(map[string]bool, len(s.CapabilitySources))
	for _, name := range s.CapabilitySources {
		if known[name] {
			return fmt.Errorf("config: capability source %s listed twice", name)
		}
		known[name] = true
	}
	for _, rule := range s.Navigation {
		if rule.Flag == "" {
			return fmt.Errorf("config: navigation rule without flag")
		}
		for _, ref := range append(append([]string{}, rule.Require...), rule.AnyOf...) {
			source, key, ok := strings.Cut(ref, ":")
			if !ok || source == "" || key == "" {
				return fmt.Errorf("config: navigation rule %s: feature %q must be <source>:<key>", rule.Flag, ref)
			}
		}
	}
	for _, rule := range s.Workflows {
		if rule.Flag == "" || rule.Source == "" || rule.WorkflowKey == "" {
			return fmt.Errorf("config: workflow rule %q is incomplete", rule.Flag)
		}
	}
	return nil
}
