package domain

import "time"

// Criticality is the business criticality tier of an infrastructure system.
type Criticality string

// Criticality tiers.
const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
)

// IsValid checks if the criticality is known.
func (c Criticality) IsValid() bool {
	switch c {
	case CriticalityCritical, CriticalityHigh, CriticalityMedium, CriticalityLow:
		return true
	}
	return false
}

// ValidationMethod is a named check run against a system.
type ValidationMethod string

// Validation methods.
const (
	MethodPing      ValidationMethod = "ping"
	MethodDNS       ValidationMethod = "dns"
	MethodADLookup  ValidationMethod = "ad_lookup"
	MethodSPN       ValidationMethod = "spn"
	MethodPortScan  ValidationMethod = "port_scan"
	MethodCertCheck ValidationMethod = "cert_check"
)

// IsValid checks if the method is known.
func (m ValidationMethod) IsValid() bool {
	_, ok := methodCategories[m]
	return ok
}

// DefaultMethods returns the method set assigned to a system of the given criticality.
func DefaultMethods(c Criticality) []ValidationMethod {
	switch c {
	case CriticalityCritical:
		return []ValidationMethod{MethodPing, MethodDNS, MethodADLookup, MethodSPN, MethodPortScan, MethodCertCheck}
	case CriticalityHigh:
		return []ValidationMethod{MethodPing, MethodDNS, MethodADLookup, MethodPortScan}
	default:
		return []ValidationMethod{MethodPing, MethodDNS}
	}
}

// DiscrepancyCategory classifies a mismatch between documented and observed state.
type DiscrepancyCategory string

// Discrepancy categories, one per validation method.
const (
	CategoryIPMismatch     DiscrepancyCategory = "ip_mismatch"
	CategoryDNSMismatch    DiscrepancyCategory = "dns_mismatch"
	CategoryMissingSPN     DiscrepancyCategory = "missing_spn"
	CategoryNotInAD        DiscrepancyCategory = "not_in_ad"
	CategoryMissingService DiscrepancyCategory = "missing_service"
	CategoryCertExpired    DiscrepancyCategory = "cert_expired"
)

var methodCategories = map[ValidationMethod]DiscrepancyCategory{
	MethodPing:      CategoryIPMismatch,
	MethodDNS:       CategoryDNSMismatch,
	MethodSPN:       CategoryMissingSPN,
	MethodADLookup:  CategoryNotInAD,
	MethodPortScan:  CategoryMissingService,
	MethodCertCheck: CategoryCertExpired,
}

// Category returns the discrepancy category produced when the method fails.
func (m ValidationMethod) Category() DiscrepancyCategory {
	return methodCategories[m]
}

// DiscrepancySeverity ranks discrepancies.
type DiscrepancySeverity string

// Discrepancy severities.
const (
	DiscrepancySeverityWarning  DiscrepancySeverity = "warning"
	DiscrepancySeverityCritical DiscrepancySeverity = "critical"
)

// Rank orders severities; higher is more severe.
func (s DiscrepancySeverity) Rank() int {
	switch s {
	case DiscrepancySeverityCritical:
		return 2
	case DiscrepancySeverityWarning:
		return 1
	}
	return 0
}

// Severity returns the discrepancy severity produced when the method fails.
// Identity-authority checks are critical.
func (m ValidationMethod) Severity() DiscrepancySeverity {
	if m == MethodADLookup || m == MethodCertCheck {
		return DiscrepancySeverityCritical
	}
	return DiscrepancySeverityWarning
}

// ResultStatus is the outcome of one method run.
type ResultStatus string

// Result statuses.
const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusFailed  ResultStatus = "failed"
	ResultStatusPending ResultStatus = "pending"
	// ResultStatusInconclusive marks a probe that errored or timed out.
	ResultStatusInconclusive ResultStatus = "inconclusive"
)

// OverallStatus is the aggregated status of a system.
type OverallStatus string

// Overall statuses.
const (
	OverallStatusPending      OverallStatus = "pending"
	OverallStatusVerified     OverallStatus = "verified"
	OverallStatusFailed       OverallStatus = "failed"
	OverallStatusInconclusive OverallStatus = "inconclusive"
	OverallStatusUnknown      OverallStatus = "unknown"
)

// IsTerminal reports whether a run ended in a definite verdict.
func (s OverallStatus) IsTerminal() bool {
	return s == OverallStatusVerified || s == OverallStatusFailed || s == OverallStatusInconclusive
}

// ExtractedSystem is an infrastructure entity extracted from incident documentation.
type ExtractedSystem struct {
	ID          string      `json:"id" yaml:"id"`
	Hostname    string      `json:"hostname" yaml:"hostname"`
	IPAddress   string      `json:"ip_address,omitempty" yaml:"ip_address"`
	Role        string      `json:"role,omitempty" yaml:"role"`
	Criticality Criticality `json:"criticality" yaml:"criticality"`
}

// ValidationResult is the immutable outcome of running one method against one system.
type ValidationResult struct {
	Method    ValidationMethod `json:"method"`
	Status    ResultStatus     `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Message   string           `json:"message"`
	Details   map[string]any   `json:"details,omitempty"`
}

// SystemValidation holds the validation record of one infrastructure system.
type SystemValidation struct {
	SystemID      string             `json:"system_id"`
	Hostname      string             `json:"hostname"`
	DocumentedIP  string             `json:"documented_ip"`
	Role          string             `json:"role"`
	Criticality   Criticality        `json:"criticality"`
	Methods       []ValidationMethod `json:"methods"`
	Results       []ValidationResult `json:"results"`
	OverallStatus OverallStatus      `json:"overall_status"`
	LastChecked   *time.Time         `json:"last_checked,omitempty"`
}

// Clone returns a deep copy of the record. Result details maps are shared; results are immutable.
func (v *SystemValidation) Clone() SystemValidation {
	c := *v
	c.Methods = append([]ValidationMethod(nil), v.Methods...)
	c.Results = append(make([]ValidationResult, 0, len(v.Results)), v.Results...)
	if v.LastChecked != nil {
		t := *v.LastChecked
		c.LastChecked = &t
	}
	return c
}

// LatestResult returns the most recent result recorded for the method.
func (v *SystemValidation) LatestResult(m ValidationMethod) (ValidationResult, bool) {
	for i := len(v.Results) - 1; i >= 0; i-- {
		if v.Results[i].Method == m {
			return v.Results[i], true
		}
	}
	return ValidationResult{}, false
}

// Discrepancy is a mismatch between documented and observed infrastructure state.
type Discrepancy struct {
	ID            string              `json:"id"`
	SystemID      string              `json:"system_id"`
	Hostname      string              `json:"hostname"`
	Method        ValidationMethod    `json:"method"`
	Category      DiscrepancyCategory `json:"category"`
	Severity      DiscrepancySeverity `json:"severity"`
	Description   string              `json:"description"`
	DocumentedVal string              `json:"documented_value"`
	ActualVal     string              `json:"actual_value"`
	DetectedAt    time.Time           `json:"detected_at"`
}
