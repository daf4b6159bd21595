// Package pipeline implements the lead-scrape pipeline: job orchestration,
// step processing, validation, deduplication, and conversion of passed leads
// into permanent place entities.
package pipeline

import (
	_ "embed"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/platewise/leadscout/internal/model"
)

// StageKind selects the processing strategy for a stage. It is a closed
// enum dispatched through the processor's handler table, never matched as a
// free-form string.
type StageKind string

const (
	// KindDiscovery crawls listing pages from the job's seed URL and fans
	// discovered businesses into new leads.
	KindDiscovery StageKind = "discovery"

	// KindEnrichment extracts additional fields for each existing lead.
	KindEnrichment StageKind = "enrichment"
)

func (k StageKind) valid() bool {
	return k == KindDiscovery || k == KindEnrichment
}

// CheckSpec names a field-level predicate from the validation check
// registry.
type CheckSpec struct {
	Field string `yaml:"field"`
	Check string `yaml:"check"`
}

// StageSpec is one stage of a platform's pipeline template.
type StageSpec struct {
	Number      int            `yaml:"number"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Type        model.StepType `yaml:"type"`
	Kind        StageKind      `yaml:"kind"`
	Schema      string         `yaml:"schema"`
	Required    []string       `yaml:"required"`
	Checks      []CheckSpec    `yaml:"checks"`
}

// PlatformSpec is the full stage template for one listing platform.
type PlatformSpec struct {
	SeedURL string      `yaml:"seed_url"`
	Stages  []StageSpec `yaml:"stages"`
}

type stageFile struct {
	Platforms map[string]PlatformSpec `yaml:"platforms"`
}

//go:embed stages.yaml
var stagesYAML []byte

var platformSpecs = mustLoadStages(stagesYAML)

func mustLoadStages(data []byte) map[string]PlatformSpec {
	specs, err := loadStages(data)
	if err != nil {
		panic(err)
	}
	return specs
}

func loadStages(data []byte) (map[string]PlatformSpec, error) {
	var f stageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "stages: parse templates")
	}
	if len(f.Platforms) == 0 {
		return nil, eris.New("stages: no platforms defined")
	}

	for name, spec := range f.Platforms {
		if spec.SeedURL == "" {
			return nil, eris.Errorf("stages: platform %s: missing seed_url", name)
		}
		if len(spec.Stages) == 0 {
			return nil, eris.Errorf("stages: platform %s: no stages", name)
		}
		for i, st := range spec.Stages {
			if st.Number != i+1 {
				return nil, eris.Errorf("stages: platform %s: stage numbers must be contiguous from 1", name)
			}
			if !st.Kind.valid() {
				return nil, eris.Errorf("stages: platform %s stage %d: unknown kind %q", name, st.Number, st.Kind)
			}
			if st.Type != model.StepTypeAutomatic && st.Type != model.StepTypeActionRequired {
				return nil, eris.Errorf("stages: platform %s stage %d: unknown type %q", name, st.Number, st.Type)
			}
			for _, c := range st.Checks {
				if _, ok := checkRegistry[c.Check]; !ok {
					return nil, eris.Errorf("stages: platform %s stage %d: unknown check %q", name, st.Number, c.Check)
				}
			}
		}
		// Step 1 is always an automatic discovery stage.
		if spec.Stages[0].Kind != KindDiscovery || spec.Stages[0].Type != model.StepTypeAutomatic {
			return nil, eris.Errorf("stages: platform %s: stage 1 must be automatic discovery", name)
		}
	}
	return f.Platforms, nil
}

// Platforms lists the supported platform identifiers, sorted.
func Platforms() []string {
	names := make([]string, 0, len(platformSpecs))
	for name := range platformSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PlatformTemplate returns the stage template for a platform.
func PlatformTemplate(platform string) (*PlatformSpec, error) {
	spec, ok := platformSpecs[platform]
	if !ok {
		return nil, model.NewValidationError("platform",
			fmt.Sprintf("unknown platform %q (supported: %s)", platform, strings.Join(Platforms(), ", ")))
	}
	return &spec, nil
}

// Stage returns the template for the given 1-based stage number.
func (p *PlatformSpec) Stage(number int) (*StageSpec, error) {
	if number < 1 || number > len(p.Stages) {
		return nil, eris.Errorf("stages: stage %d out of range (1-%d)", number, len(p.Stages))
	}
	return &p.Stages[number-1], nil
}

// RenderSeedURL substitutes the job's locality and category into the
// platform's seed URL template.
func (p *PlatformSpec) RenderSeedURL(locality, category string) string {
	r := strings.NewReplacer(
		"{locality}", url.QueryEscape(strings.ToLower(locality)),
		"{category}", url.QueryEscape(strings.ToLower(category)),
	)
	return r.Replace(p.SeedURL)
}
