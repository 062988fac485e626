package capabilities

import (
	"github.com/sgajbi/advisor-experience-api/internal/fanout"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

// ModuleHealth is the availability of one known capability source.
type ModuleHealth string

const (
	HealthAvailable   ModuleHealth = "available"
	HealthUnavailable ModuleHealth = "unavailable"
	HealthUnknown     ModuleHealth = "unknown"
)

const (
	// PolicySourceName is the batch name of the effective policy lookup.
	PolicySourceName = "pas_policy"

	// WarningPolicyEndpointUnavailable is appended to the policy diagnostics
	// when the policy lookup itself failed.
	WarningPolicyEndpointUnavailable = "PAS_POLICY_ENDPOINT_UNAVAILABLE"

	unknownValue = "unknown"
)

// PolicyProvenance identifies the policy rule that produced the effective policy.
type PolicyProvenance struct {
	PolicyVersion string `json:"policyVersion"`
	PolicySource  string `json:"policySource"`
	MatchedRuleID string `json:"matchedRuleId"`
	StrictMode    bool   `json:"strictMode"`
}

// PolicyDiagnostics summarises the effective policy lookup.
type PolicyDiagnostics struct {
	Available        bool             `json:"available"`
	PolicyProvenance PolicyProvenance `json:"policyProvenance"`
	AllowedSections  []string         `json:"allowedSections"`
	Warnings         []string         `json:"warnings"`
}

// Normalized is the derived view over the successful sources.
type Normalized struct {
	Navigation             map[string]bool         `json:"navigation"`
	WorkflowFlags          map[string]bool         `json:"workflowFlags"`
	InputModesBySource     map[string][]string     `json:"inputModesBySource"`
	InputModesUnion        []string                `json:"inputModesUnion"`
	PolicyVersionsBySource map[string]string       `json:"policyVersionsBySource"`
	ModuleHealth           map[string]ModuleHealth `json:"moduleHealth"`
	PASPolicyDiagnostics   PolicyDiagnostics       `json:"pasPolicyDiagnostics"`
}

// Data is the body of a capabilities response.
type Data struct {
	ConsumerSystem  string                      `json:"consumerSystem"`
	TenantID        string                      `json:"tenantId"`
	ContractVersion string                      `json:"contractVersion"`
	CorrelationID   string                      `json:"correlationId"`
	Sources         map[string]httputil.Payload `json:"sources"`
	PartialFailure  bool                        `json:"partialFailure"`
	Errors          []fanout.SourceError        `json:"errors"`
	Normalized      Normalized                  `json:"normalized"`
}

// Response is the capabilities envelope.
type Response struct {
	Data Data `json:"data"`
}
