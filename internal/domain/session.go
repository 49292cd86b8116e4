package domain

import "time"

// ScenarioTag classifies a session by the incident scenario it was seeded from.
type ScenarioTag string

// Scenario tags.
const (
	ScenarioRansomware              ScenarioTag = "ransomware"
	ScenarioDataExfiltration        ScenarioTag = "data_exfiltration"
	ScenarioBusinessEmailCompromise ScenarioTag = "business_email_compromise"
	ScenarioInsiderThreat           ScenarioTag = "insider_threat"
	ScenarioCustom                  ScenarioTag = "custom"
)

// IsValid checks if the scenario tag is known.
func (t ScenarioTag) IsValid() bool {
	switch t {
	case ScenarioRansomware, ScenarioDataExfiltration,
		ScenarioBusinessEmailCompromise, ScenarioInsiderThreat,
		ScenarioCustom:
		return true
	}
	return false
}

// Session is one forensic-triage investigation and everything collected during it.
type Session struct {
	ID          string       `json:"id"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Scenario    ScenarioTag  `json:"scenario"`
	CurrentStep WorkflowStep `json:"current_step"`
	Completed   bool         `json:"completed"`

	Organization        *OrganizationContext   `json:"organization,omitempty"`
	IncidentDescription *IncidentDescription   `json:"incident_description,omitempty"`
	Connectors          []ConnectorConfig      `json:"connectors"`
	Triage              *TriageState           `json:"triage,omitempty"`
	Timeline            []TimelineEvent        `json:"timeline"`
	Findings            []Finding              `json:"findings"`
	Decisions           []VerificationDecision `json:"decisions"`
}

// StepIndex returns the position of the session's current step.
func (s *Session) StepIndex() int {
	return s.CurrentStep.OrDashboard().Index()
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Organization != nil {
		org := *s.Organization
		org.Contacts = append([]string(nil), s.Organization.Contacts...)
		c.Organization = &org
	}
	if s.IncidentDescription != nil {
		c.IncidentDescription = s.IncidentDescription.clone()
	}
	if s.Triage != nil {
		c.Triage = s.Triage.clone()
	}
	c.Connectors = append(make([]ConnectorConfig, 0, len(s.Connectors)), s.Connectors...)
	c.Timeline = make([]TimelineEvent, 0, len(s.Timeline))
	for _, e := range s.Timeline {
		e.SystemIDs = append([]string(nil), e.SystemIDs...)
		c.Timeline = append(c.Timeline, e)
	}
	c.Findings = make([]Finding, 0, len(s.Findings))
	for _, f := range s.Findings {
		f.Evidence = append([]string(nil), f.Evidence...)
		f.SystemIDs = append([]string(nil), f.SystemIDs...)
		c.Findings = append(c.Findings, f)
	}
	c.Decisions = append(make([]VerificationDecision, 0, len(s.Decisions)), s.Decisions...)
	return &c
}

// OrganizationContext describes the organization under investigation.
type OrganizationContext struct {
	Name     string   `json:"name"`
	Industry string   `json:"industry,omitempty"`
	Size     string   `json:"size,omitempty"`
	Contacts []string `json:"contacts,omitempty"`
}

// IncidentDescription is the analyst's description of the incident.
type IncidentDescription struct {
	Summary          string            `json:"summary" yaml:"summary"`
	IncidentType     string            `json:"incident_type,omitempty" yaml:"incident_type"`
	DetectedAt       *time.Time        `json:"detected_at,omitempty" yaml:"detected_at"`
	ReportedBy       string            `json:"reported_by,omitempty" yaml:"reported_by"`
	Indicators       []string          `json:"indicators,omitempty" yaml:"indicators"`
	ExtractedSystems []ExtractedSystem `json:"extracted_systems,omitempty" yaml:"extracted_systems"`
}

func (d *IncidentDescription) clone() *IncidentDescription {
	c := *d
	if d.DetectedAt != nil {
		t := *d.DetectedAt
		c.DetectedAt = &t
	}
	c.Indicators = append([]string(nil), d.Indicators...)
	c.ExtractedSystems = append([]ExtractedSystem(nil), d.ExtractedSystems...)
	return &c
}

// ConnectorStatus represents the state of a data-source connector.
type ConnectorStatus string

// Connector statuses.
const (
	ConnectorStatusNotConfigured ConnectorStatus = "not_configured"
	ConnectorStatusConfigured    ConnectorStatus = "configured"
	ConnectorStatusConnected     ConnectorStatus = "connected"
	ConnectorStatusError         ConnectorStatus = "error"
)

// ConnectorConfig describes a data source the triage collects from.
type ConnectorConfig struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Type     string          `json:"type" yaml:"type"`
	Endpoint string          `json:"endpoint,omitempty" yaml:"endpoint"`
	Enabled  bool            `json:"enabled" yaml:"enabled"`
	Status   ConnectorStatus `json:"status" yaml:"status"`
}

// TriageStatus represents the progress of the triage step.
type TriageStatus string

// Triage statuses.
const (
	TriageStatusIdle      TriageStatus = "idle"
	TriageStatusRunning   TriageStatus = "running"
	TriageStatusCompleted TriageStatus = "completed"
	TriageStatusFailed    TriageStatus = "failed"
)

// TriagePhase is one named phase of the triage analysis.
type TriagePhase struct {
	Name        string       `json:"name"`
	Status      TriageStatus `json:"status"`
	Progress    int          `json:"progress"`
	Summary     string       `json:"summary,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// TriageState tracks the triage analysis of a session.
type TriageState struct {
	Status      TriageStatus  `json:"status"`
	Phases      []TriagePhase `json:"phases"`
	Progress    int           `json:"progress"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

func (t *TriageState) clone() *TriageState {
	c := *t
	c.Phases = append([]TriagePhase(nil), t.Phases...)
	return &c
}

// TimelineEvent is one event on the reconstructed incident timeline.
type TimelineEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	Severity    string    `json:"severity,omitempty"`
	Technique   string    `json:"technique,omitempty"`
	SystemIDs   []string  `json:"system_ids,omitempty"`
}

// Finding is a conclusion drawn during triage.
type Finding struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Severity    string    `json:"severity"`
	Confidence  float64   `json:"confidence"`
	Evidence    []string  `json:"evidence,omitempty"`
	SystemIDs   []string  `json:"system_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Decision is the analyst's verdict on a finding.
type Decision string

// Verification decisions.
const (
	DecisionConfirmed     Decision = "confirmed"
	DecisionRejected      Decision = "rejected"
	DecisionNeedsReview   Decision = "needs_review"
	DecisionFalsePositive Decision = "false_positive"
)

// IsValid checks if the decision is known.
func (d Decision) IsValid() bool {
	switch d {
	case DecisionConfirmed, DecisionRejected, DecisionNeedsReview, DecisionFalsePositive:
		return true
	}
	return false
}

// VerificationDecision records the analyst's decision for a finding.
type VerificationDecision struct {
	FindingID string    `json:"finding_id"`
	Decision  Decision  `json:"decision"`
	Analyst   string    `json:"analyst,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}
