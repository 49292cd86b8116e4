package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowStep_Next(t *testing.T) {
	steps := WorkflowSteps()
	require.Len(t, steps, 9)

	for i, s := range steps[:len(steps)-1] {
		t.Run(string(s), func(t *testing.T) {
			assert.Equal(t, steps[i+1], s.Next())
		})
	}

	assert.Equal(t, StepReport, StepReport.Next(), "last step is a no-op")
}

func TestWorkflowStep_Previous(t *testing.T) {
	steps := WorkflowSteps()

	for i, s := range steps[1:] {
		t.Run(string(s), func(t *testing.T) {
			assert.Equal(t, steps[i], s.Previous())
		})
	}

	assert.Equal(t, StepDashboard, StepDashboard.Previous(), "first step is a no-op")
}

func TestWorkflowStep_Index(t *testing.T) {
	for i, s := range WorkflowSteps() {
		assert.Equal(t, i, s.Index())
		got, ok := StepAt(i)
		require.True(t, ok)
		assert.Equal(t, s, got)
	}

	assert.Equal(t, -1, WorkflowStep("bogus").Index())

	_, ok := StepAt(-1)
	assert.False(t, ok)
	_, ok = StepAt(9)
	assert.False(t, ok)
}

func TestWorkflowStep_OrDashboard(t *testing.T) {
	assert.Equal(t, StepTriage, StepTriage.OrDashboard())
	assert.Equal(t, StepDashboard, WorkflowStep("").OrDashboard())
	assert.Equal(t, StepDashboard, WorkflowStep("legacy_step").OrDashboard())
}

func TestWorkflowStep_UnknownNavigation(t *testing.T) {
	unknown := WorkflowStep("unknown")
	assert.Equal(t, unknown, unknown.Next())
	assert.Equal(t, unknown, unknown.Previous())
}

func TestWorkflowSteps_ReturnsCopy(t *testing.T) {
	steps := WorkflowSteps()
	steps[0] = StepReport
	assert.Equal(t, StepDashboard, FirstStep())
	assert.Equal(t, StepReport, LastStep())
}

func TestSession_Clone(t *testing.T) {
	s := &Session{
		ID:          "s1",
		CurrentStep: StepTriage,
		Timeline:    []TimelineEvent{{ID: "e1", SystemIDs: []string{"sys-1"}}},
		Findings:    []Finding{{ID: "f1", Evidence: []string{"a"}}},
		IncidentDescription: &IncidentDescription{
			Summary:    "encrypted shares",
			Indicators: []string{"ioc"},
		},
	}

	c := s.Clone()
	c.Timeline[0].SystemIDs[0] = "changed"
	c.Findings[0].Evidence[0] = "changed"
	c.IncidentDescription.Indicators[0] = "changed"

	assert.Equal(t, "sys-1", s.Timeline[0].SystemIDs[0])
	assert.Equal(t, "a", s.Findings[0].Evidence[0])
	assert.Equal(t, "ioc", s.IncidentDescription.Indicators[0])
	assert.Equal(t, StepTriage.Index(), c.StepIndex())
}
