package enrich

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/apexbio/trials-cli/internal/model"
)

// StageSpec names a stage and its fetcher chain, in fallback order.
// Requires names an earlier stage whose done status gates this one.
type StageSpec struct {
	Name     string   `yaml:"name"`
	Requires string   `yaml:"requires,omitempty"`
	Fetchers []string `yaml:"fetchers"`
}

// StagesConfig is the stage wiring loaded from stages.yaml.
type StagesConfig struct {
	Stages []StageSpec `yaml:"stages"`
}

// DefaultStagesConfig returns the built-in stage wiring used when no
// stages file is present.
func DefaultStagesConfig() StagesConfig {
	return StagesConfig{
		Stages: []StageSpec{
			{Name: model.StageTargets, Fetchers: []string{"chembl", "uniprot_fallback"}},
			{Name: model.StagePPI, Requires: model.StageTargets, Fetchers: []string{"stringdb"}},
			{Name: model.StageFailureDetails, Fetchers: []string{"failure_details"}},
			{Name: model.StageLLMClassify, Requires: model.StageFailureDetails, Fetchers: []string{"llm_classify"}},
		},
	}
}

// LoadStagesFile reads and validates a stages file. A missing file
// falls back to the default wiring; a malformed one is a startup error.
func LoadStagesFile(path string) (StagesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultStagesConfig(), nil
		}
		return StagesConfig{}, eris.Wrapf(err, "enrich: read stages file %s", path)
	}

	var cfg StagesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return StagesConfig{}, eris.Wrapf(err, "enrich: parse stages file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return StagesConfig{}, err
	}
	return cfg, nil
}

// Validate rejects malformed stage definitions before any record is
// touched.
func (c StagesConfig) Validate() error {
	if len(c.Stages) == 0 {
		return eris.New("enrich: stages file defines no stages")
	}
	seen := make(map[string]bool, len(c.Stages))
	for _, spec := range c.Stages {
		if spec.Name == "" {
			return eris.New("enrich: stage with empty name")
		}
		if seen[spec.Name] {
			return eris.Errorf("enrich: duplicate stage %q", spec.Name)
		}
		if spec.Requires != "" && !seen[spec.Requires] {
			return eris.Errorf("enrich: stage %q requires %q, which is not declared before it", spec.Name, spec.Requires)
		}
		seen[spec.Name] = true
		if len(spec.Fetchers) == 0 {
			return eris.Errorf("enrich: stage %q has no fetchers", spec.Name)
		}
	}
	return nil
}

// Uses reports whether any stage references the named fetcher.
func (c StagesConfig) Uses(fetcher string) bool {
	for _, spec := range c.Stages {
		for _, name := range spec.Fetchers {
			if name == fetcher {
				return true
			}
		}
	}
	return false
}

// Build resolves fetcher names against the registry and returns
// executable stages. Unknown fetcher names are configuration errors.
func (c StagesConfig) Build(registry map[string]Fetcher) ([]Stage, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	stages := make([]Stage, 0, len(c.Stages))
	for _, spec := range c.Stages {
		stage := Stage{Name: spec.Name, Requires: spec.Requires}
		for _, name := range spec.Fetchers {
			fetcher, ok := registry[name]
			if !ok {
				return nil, eris.Errorf("enrich: stage %q references unknown fetcher %q", spec.Name, name)
			}
			stage.Fetchers = append(stage.Fetchers, fetcher)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}
