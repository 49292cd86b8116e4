package domain

// WorkflowStep represents one stage of the investigation process.
type WorkflowStep string

// Workflow steps in their fixed order.
const (
	StepDashboard                WorkflowStep = "dashboard"
	StepOrganizationContext      WorkflowStep = "organization_context"
	StepIncidentDescription      WorkflowStep = "incident_description"
	StepConnectorConfig          WorkflowStep = "connector_config"
	StepInfrastructureValidation WorkflowStep = "infrastructure_validation"
	StepTriage                   WorkflowStep = "triage"
	StepTimeline                 WorkflowStep = "timeline"
	StepVerification             WorkflowStep = "verification"
	StepReport                   WorkflowStep = "report"
)

var workflowSteps = []WorkflowStep{
	StepDashboard,
	StepOrganizationContext,
	StepIncidentDescription,
	StepConnectorConfig,
	StepInfrastructureValidation,
	StepTriage,
	StepTimeline,
	StepVerification,
	StepReport,
}

var stepIndex = func() map[WorkflowStep]int {
	m := make(map[WorkflowStep]int, len(workflowSteps))
	for i, s := range workflowSteps {
		m[s] = i
	}
	return m
}()

// WorkflowSteps returns the ordered step sequence.
func WorkflowSteps() []WorkflowStep {
	steps := make([]WorkflowStep, len(workflowSteps))
	copy(steps, workflowSteps)
	return steps
}

// FirstStep returns the first step of the sequence.
func FirstStep() WorkflowStep { return workflowSteps[0] }

// LastStep returns the last step of the sequence.
func LastStep() WorkflowStep { return workflowSteps[len(workflowSteps)-1] }

// StepAt returns the step at position i. ok is false when i is out of range.
func StepAt(i int) (step WorkflowStep, ok bool) {
	if i < 0 || i >= len(workflowSteps) {
		return "", false
	}
	return workflowSteps[i], true
}

// IsValid checks if the step is part of the sequence.
func (s WorkflowStep) IsValid() bool {
	_, ok := stepIndex[s]
	return ok
}

// Index returns the position of the step in the sequence, or -1 for an unknown step.
func (s WorkflowStep) Index() int {
	if i, ok := stepIndex[s]; ok {
		return i
	}
	return -1
}

// Next returns the step after s. At the last step (or for an unknown step) s is returned unchanged.
func (s WorkflowStep) Next() WorkflowStep {
	i := s.Index()
	if i < 0 || i == len(workflowSteps)-1 {
		return s
	}
	return workflowSteps[i+1]
}

// Previous returns the step before s. At the first step (or for an unknown step) s is returned unchanged.
func (s WorkflowStep) Previous() WorkflowStep {
	i := s.Index()
	if i <= 0 {
		return s
	}
	return workflowSteps[i-1]
}

// OrDashboard clamps an unknown step to the dashboard.
func (s WorkflowStep) OrDashboard() WorkflowStep {
	if s.IsValid() {
		return s
	}
	return StepDashboard
}
