// Package scenario provides the read-only seed bundles used to pre-populate new sessions.
package scenario

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/bissquit/triage-garden/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures/*.yaml
var fixturesFS embed.FS

// Seed is the pre-populated content of one scenario.
type Seed struct {
	Tag                 domain.ScenarioTag          `yaml:"tag"`
	Title               string                      `yaml:"title"`
	Organization        *domain.OrganizationContext `yaml:"organization"`
	IncidentDescription domain.IncidentDescription  `yaml:"incident_description"`
	Connectors          []domain.ConnectorConfig    `yaml:"connectors"`
}

// Systems returns the system inventory of the seed.
func (s Seed) Systems() []domain.ExtractedSystem {
	return append([]domain.ExtractedSystem(nil), s.IncidentDescription.ExtractedSystems...)
}

// Catalog holds seeds keyed by scenario tag.
type Catalog struct {
	seeds map[domain.ScenarioTag]Seed
}

// Load parses the embedded fixtures.
func Load() (*Catalog, error) {
	return LoadFS(fixturesFS, "fixtures")
}

// LoadFS parses every *.yaml file in dir of fsys.
func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read fixtures dir: %w", err)
	}

	c := &Catalog{seeds: make(map[domain.ScenarioTag]Seed)}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}

		raw, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read fixture %s: %w", e.Name(), err)
		}

		var seed Seed
		if err := yaml.Unmarshal(raw, &seed); err != nil {
			return nil, fmt.Errorf("parse fixture %s: %w", e.Name(), err)
		}
		if err := validateSeed(seed); err != nil {
			return nil, fmt.Errorf("fixture %s: %w", e.Name(), err)
		}
		if _, dup := c.seeds[seed.Tag]; dup {
			return nil, fmt.Errorf("fixture %s: duplicate scenario %q", e.Name(), seed.Tag)
		}
		c.seeds[seed.Tag] = seed
	}

	return c, nil
}

func validateSeed(seed Seed) error {
	if !seed.Tag.IsValid() || seed.Tag == domain.ScenarioCustom {
		return fmt.Errorf("invalid scenario tag %q", seed.Tag)
	}
	seen := make(map[string]bool)
	for _, sys := range seed.IncidentDescription.ExtractedSystems {
		if sys.ID == "" {
			return fmt.Errorf("system %q has no id", sys.Hostname)
		}
		if seen[sys.ID] {
			return fmt.Errorf("duplicate system id %q", sys.ID)
		}
		seen[sys.ID] = true
		if !sys.Criticality.IsValid() {
			return fmt.Errorf("system %q: invalid criticality %q", sys.ID, sys.Criticality)
		}
	}
	return nil
}

// Seed returns the seed for the tag. Custom sessions have no seed.
func (c *Catalog) Seed(tag domain.ScenarioTag) (Seed, bool) {
	if c == nil {
		return Seed{}, false
	}
	seed, ok := c.seeds[tag]
	if !ok {
		return Seed{}, false
	}
	seed.IncidentDescription.Indicators = append([]string(nil), seed.IncidentDescription.Indicators...)
	seed.IncidentDescription.ExtractedSystems = seed.Systems()
	seed.Connectors = append([]domain.ConnectorConfig(nil), seed.Connectors...)
	if seed.Organization != nil {
		org := *seed.Organization
		org.Contacts = append([]string(nil), seed.Organization.Contacts...)
		seed.Organization = &org
	}
	return seed, true
}

// Tags lists the scenarios that have a seed, sorted.
func (c *Catalog) Tags() []domain.ScenarioTag {
	tags := make([]domain.ScenarioTag, 0, len(c.seeds))
	for t := range c.seeds {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
