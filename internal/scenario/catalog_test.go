package scenario

import (
	"testing"
	"testing/fstest"

	"github.com/bissquit/triage-garden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedFixtures(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []domain.ScenarioTag{
		domain.ScenarioBusinessEmailCompromise,
		domain.ScenarioDataExfiltration,
		domain.ScenarioInsiderThreat,
		domain.ScenarioRansomware,
	}, c.Tags())

	seed, ok := c.Seed(domain.ScenarioRansomware)
	require.True(t, ok)
	assert.NotEmpty(t, seed.IncidentDescription.Summary)
	assert.NotEmpty(t, seed.Connectors)
	require.Len(t, seed.Systems(), 4)
	assert.Equal(t, domain.CriticalityCritical, seed.Systems()[0].Criticality)
}

func TestCatalog_SeedReturnsCopy(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	seed, ok := c.Seed(domain.ScenarioRansomware)
	require.True(t, ok)
	seed.IncidentDescription.ExtractedSystems[0].Hostname = "changed"
	seed.Connectors[0].Name = "changed"

	again, _ := c.Seed(domain.ScenarioRansomware)
	assert.Equal(t, "DC01.northwind.local", again.IncidentDescription.ExtractedSystems[0].Hostname)
	assert.NotEqual(t, "changed", again.Connectors[0].Name)
}

func TestCatalog_CustomHasNoSeed(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	_, ok := c.Seed(domain.ScenarioCustom)
	assert.False(t, ok)

	var nilCatalog *Catalog
	_, ok = nilCatalog.Seed(domain.ScenarioRansomware)
	assert.False(t, ok)
}

func TestLoadFS_InvalidFixtures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown tag", "tag: phishing\n"},
		{"custom tag", "tag: custom\n"},
		{"bad criticality", "tag: ransomware\nincident_description:\n  extracted_systems:\n    - id: a\n      criticality: extreme\n"},
		{"missing id", "tag: ransomware\nincident_description:\n  extracted_systems:\n    - hostname: h\n      criticality: low\n"},
		{"duplicate id", "tag: ransomware\nincident_description:\n  extracted_systems:\n    - id: a\n      criticality: low\n    - id: a\n      criticality: low\n"},
		{"malformed yaml", "tag: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := fstest.MapFS{"fx/a.yaml": {Data: []byte(tt.content)}}
			_, err := LoadFS(fsys, "fx")
			assert.Error(t, err)
		})
	}
}

func TestLoadFS_DuplicateScenario(t *testing.T) {
	fsys := fstest.MapFS{
		"fx/a.yaml": {Data: []byte("tag: ransomware\n")},
		"fx/b.yaml": {Data: []byte("tag: ransomware\n")},
		"fx/c.txt":  {Data: []byte("ignored")},
	}
	_, err := LoadFS(fsys, "fx")
	assert.ErrorContains(t, err, "duplicate scenario")
}
