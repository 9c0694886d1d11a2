// Package config loads the YAML hunting configuration (vehicles, keywords,
// searches) and the environment-driven process settings.
package config

import (
	"path/filepath"
)

// Config aggregates everything the pipeline needs at startup. The searches
// file is also re-read by the runner between cycles; the rest is loaded
// once.
type Config struct {
	Dir      string
	Vehicles *VehiclesConfig
	Keywords *KeywordsConfig
	Searches *SearchesConfig
	Settings Settings
}

// DefaultDir is where the YAML files live relative to the working
// directory.
const DefaultDir = "config"

// VehiclesPath returns the vehicles.yaml path under dir.
func VehiclesPath(dir string) string { return filepath.Join(dir, "vehicles.yaml") }

// KeywordsPath returns the keywords.yaml path under dir.
func KeywordsPath(dir string) string { return filepath.Join(dir, "keywords.yaml") }

// SearchesPath returns the searches.yaml path under dir.
func SearchesPath(dir string) string { return filepath.Join(dir, "searches.yaml") }

// Load reads every config file under dir plus the environment settings.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = DefaultDir
	}

	vehicles, err := LoadVehiclesConfig(VehiclesPath(dir))
	if err != nil {
		return nil, err
	}
	kw, err := LoadKeywordsConfig(KeywordsPath(dir))
	if err != nil {
		return nil, err
	}
	searches, err := LoadSearchesConfig(SearchesPath(dir))
	if err != nil {
		return nil, err
	}

	return &Config{
		Dir:      dir,
		Vehicles: vehicles,
		Keywords: kw,
		Searches: searches,
		Settings: LoadSettings(),
	}, nil
}
