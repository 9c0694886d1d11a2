package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/keywords"
)

// KeywordSpec is one keyword entry in keywords.yaml. Opportunity entries
// use Bonus, risk entries use Penalty/CostEstimate/Severity.
type KeywordSpec struct {
	Patterns     []string `yaml:"patterns"`
	Bonus        int      `yaml:"bonus"`
	Penalty      int      `yaml:"penalty"`
	CostEstimate int      `yaml:"cost_estimate"`
	Severity     string   `yaml:"severity"`
	Description  string   `yaml:"description"`
}

// ExclusionSpec lists patterns that disqualify a listing outright.
type ExclusionSpec struct {
	Patterns []string `yaml:"patterns"`
}

// KeywordsConfig is the content of keywords.yaml.
type KeywordsConfig struct {
	Opportunite map[string]KeywordSpec `yaml:"opportunite"`
	Risque      map[string]KeywordSpec `yaml:"risque"`
	Exclusions  ExclusionSpec          `yaml:"exclusions"`
}

// LoadKeywordsConfig reads keywords.yaml. A missing file is not an error:
// the matcher falls back to its built-in keyword sets.
func LoadKeywordsConfig(path string) (*KeywordsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &KeywordsConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read keywords config: %w", err)
	}

	var cfg KeywordsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse keywords YAML: %w", err)
	}
	return &cfg, nil
}

// Definitions converts the YAML entries into matcher definitions, sorted by
// id so matcher construction stays deterministic.
func (c *KeywordsConfig) Definitions() []keywords.Definition {
	defs := make([]keywords.Definition, 0, len(c.Opportunite)+len(c.Risque))

	for _, id := range sortedKeys(c.Opportunite) {
		spec := c.Opportunite[id]
		bonus := spec.Bonus
		if bonus == 0 {
			bonus = 5
		}
		defs = append(defs, keywords.Definition{
			ID:          id,
			Category:    keywords.CategoryOpportunite,
			Patterns:    spec.Patterns,
			Bonus:       bonus,
			Description: spec.Description,
		})
	}

	for _, id := range sortedKeys(c.Risque) {
		spec := c.Risque[id]
		penalty := spec.Penalty
		if penalty == 0 {
			penalty = -10
		}
		defs = append(defs, keywords.Definition{
			ID:           id,
			Category:     keywords.CategoryRisque,
			Patterns:     spec.Patterns,
			Penalty:      penalty,
			CostEstimate: spec.CostEstimate,
			Severity:     domain.ParseSeverity(spec.Severity),
			Description:  spec.Description,
		})
	}

	return defs
}

// ExclusionPatterns returns the configured exclusion patterns.
func (c *KeywordsConfig) ExclusionPatterns() []string {
	return c.Exclusions.Patterns
}

// NewMatcher builds the keyword matcher from this config.
func (c *KeywordsConfig) NewMatcher() *keywords.Matcher {
	return keywords.NewMatcher(c.Definitions(), c.ExclusionPatterns())
}

func sortedKeys(m map[string]KeywordSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
