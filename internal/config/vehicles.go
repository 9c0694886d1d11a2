package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ScoringWeights holds the maximum points per score component. Zero-valued
// fields take the shipped defaults so a partial YAML block stays usable.
type ScoringWeights struct {
	Prix      int `yaml:"prix"`
	Km        int `yaml:"km"`
	Keywords  int `yaml:"keywords"`
	Freshness int `yaml:"freshness"`
	Bonus     int `yaml:"bonus"`
	Margin    int `yaml:"margin"`
}

// DefaultScoringWeights returns the production weight split.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Prix:      35,
		Km:        25,
		Keywords:  15,
		Freshness: 10,
		Bonus:     10,
		Margin:    5,
	}
}

// WithDefaults fills zero fields from the defaults.
func (w ScoringWeights) WithDefaults() ScoringWeights {
	def := DefaultScoringWeights()
	if w.Prix == 0 {
		w.Prix = def.Prix
	}
	if w.Km == 0 {
		w.Km = def.Km
	}
	if w.Keywords == 0 {
		w.Keywords = def.Keywords
	}
	if w.Freshness == 0 {
		w.Freshness = def.Freshness
	}
	if w.Bonus == 0 {
		w.Bonus = def.Bonus
	}
	if w.Margin == 0 {
		w.Margin = def.Margin
	}
	return w
}

// DepartmentTiers lists the prioritised French departments. Tier1 is close
// enough for a same-day viewing, tier3 is the outer ring.
type DepartmentTiers struct {
	Tier1 []string `yaml:"tier1"`
	Tier2 []string `yaml:"tier2"`
	Tier3 []string `yaml:"tier3"`
}

// VehicleCriteria bounds the interesting price/km/year window for one
// target vehicle.
type VehicleCriteria struct {
	PrixMin    int `yaml:"prix_min"`
	PrixMax    int `yaml:"prix_max"`
	KmMin      int `yaml:"km_min"`
	KmMax      int `yaml:"km_max"`
	KmIdealMin int `yaml:"km_ideal_min"`
	KmIdealMax int `yaml:"km_ideal_max"`
	AnneeMin   int `yaml:"annee_min"`
	AnneeMax   int `yaml:"annee_max"`
}

// ResaleEstimate carries the expected resale window used for the margin
// computation, plus an optional market median when one is maintained.
type ResaleEstimate struct {
	PrixReventeMin   int `yaml:"prix_revente_min"`
	PrixReventeMax   int `yaml:"prix_revente_max"`
	PrixMarcheMedian int `yaml:"prix_marche_median"`
}

// TargetVehicle describes one vehicle hunted by the pipeline.
type TargetVehicle struct {
	ID                   string          `yaml:"id"`
	Marque               string          `yaml:"marque"`
	ModelePatterns       []string        `yaml:"modele_patterns"`
	Carburant            string          `yaml:"carburant"`
	Motorisations        []string        `yaml:"motorisations"`
	MotorisationsExclues []string        `yaml:"motorisations_exclues"`
	Exclusions           []string        `yaml:"exclusions"`
	Priorite             int             `yaml:"priorite"`
	Criteres             VehicleCriteria `yaml:"criteres"`
	Estimation           ResaleEstimate  `yaml:"estimation"`
	Bonus                map[string]int  `yaml:"bonus"`
}

// VehiclesConfig is the content of vehicles.yaml.
type VehiclesConfig struct {
	ScoringWeights ScoringWeights  `yaml:"scoring_weights"`
	Vehicles       []TargetVehicle `yaml:"vehicles"`
	Departements   DepartmentTiers `yaml:"departements_prioritaires"`
}

// LoadVehiclesConfig reads and validates vehicles.yaml.
func LoadVehiclesConfig(path string) (*VehiclesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vehicles config: %w", err)
	}

	var cfg VehiclesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse vehicles YAML: %w", err)
	}

	cfg.ScoringWeights = cfg.ScoringWeights.WithDefaults()
	cfg.sortByPriority()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// sortByPriority orders vehicles by ascending priorite so that target
// identification stays deterministic (first match wins). Entries without a
// priority keep their file order after the prioritised ones.
func (c *VehiclesConfig) sortByPriority() {
	sort.SliceStable(c.Vehicles, func(i, j int) bool {
		pi, pj := c.Vehicles[i].Priorite, c.Vehicles[j].Priorite
		if pi == 0 {
			pi = 1 << 30
		}
		if pj == 0 {
			pj = 1 << 30
		}
		return pi < pj
	})
}

// Validate rejects entries that would silently never match anything.
func (c *VehiclesConfig) Validate() error {
	seen := make(map[string]bool, len(c.Vehicles))
	for i, v := range c.Vehicles {
		if v.ID == "" {
			return fmt.Errorf("vehicle #%d: id is required", i)
		}
		if seen[v.ID] {
			return fmt.Errorf("vehicle %q: duplicate id", v.ID)
		}
		seen[v.ID] = true
		if v.Marque == "" {
			return fmt.Errorf("vehicle %q: marque is required", v.ID)
		}
		if len(v.ModelePatterns) == 0 {
			return fmt.Errorf("vehicle %q: at least one modele_pattern is required", v.ID)
		}
		if v.Criteres.PrixMax > 0 && v.Criteres.PrixMin > v.Criteres.PrixMax {
			return fmt.Errorf("vehicle %q: prix_min exceeds prix_max", v.ID)
		}
		if v.Criteres.KmMax > 0 && v.Criteres.KmMin > v.Criteres.KmMax {
			return fmt.Errorf("vehicle %q: km_min exceeds km_max", v.ID)
		}
	}
	return nil
}

// VehicleByID returns the target vehicle with the given id.
func (c *VehiclesConfig) VehicleByID(id string) (TargetVehicle, bool) {
	for _, v := range c.Vehicles {
		if v.ID == id {
			return v, true
		}
	}
	return TargetVehicle{}, false
}
