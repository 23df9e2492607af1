package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"optionflow/models"
)

// InstrumentUniverse is the set of instruments the engine tracks, loaded from
// a separate YAML file so the universe can roll daily without touching the
// scoring configuration.
type InstrumentUniverse struct {
	Instruments []models.Instrument `yaml:"instruments"`
}

// LoadInstruments reads the instrument universe file and rejects duplicate or
// malformed entries.
func LoadInstruments(path string) (*InstrumentUniverse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instruments file: %w", err)
	}

	var u InstrumentUniverse
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to parse instruments YAML: %w", err)
	}

	seen := make(map[string]struct{}, len(u.Instruments))
	for _, inst := range u.Instruments {
		if inst.Key == "" {
			return nil, fmt.Errorf("instrument with empty key")
		}
		if _, dup := seen[inst.Key]; dup {
			return nil, fmt.Errorf("duplicate instrument key %q", inst.Key)
		}
		seen[inst.Key] = struct{}{}

		switch inst.Class {
		case models.ClassEquity, models.ClassIndex:
		case models.ClassOption:
			if inst.OptionType != models.OptionCall && inst.OptionType != models.OptionPut {
				return nil, fmt.Errorf("instrument %q: option requires option_type CE or PE", inst.Key)
			}
			if inst.Strike <= 0 {
				return nil, fmt.Errorf("instrument %q: option requires a positive strike", inst.Key)
			}
		default:
			return nil, fmt.Errorf("instrument %q: unknown class %q", inst.Key, inst.Class)
		}
	}

	return &u, nil
}

// Lookup returns the instrument for key, or false when the key is outside the
// configured universe.
func (u *InstrumentUniverse) Lookup(key string) (models.Instrument, bool) {
	for _, inst := range u.Instruments {
		if inst.Key == key {
			return inst, true
		}
	}
	return models.Instrument{}, false
}
