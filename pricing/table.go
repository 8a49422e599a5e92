package pricing

import "github.com/YallaPapi/i2v-sub001/pipeline"

// Price defines how one model is billed.
type Price struct {
	// PerUnitCents is the base price per generated artifact.
	PerUnitCents int64 `yaml:"per_unit_cents" mapstructure:"per_unit_cents"`
	// PerSecondCents is added per second of requested duration (video models).
	PerSecondCents int64 `yaml:"per_second_cents" mapstructure:"per_second_cents"`
	// Resolution maps a resolution knob to a price multiplier. When the map
	// is present, a step's resolution must have an entry.
	Resolution map[string]float64 `yaml:"resolution" mapstructure:"resolution"`
	// Quality maps a quality knob to a price multiplier.
	Quality map[string]float64 `yaml:"quality" mapstructure:"quality"`
}

// Table holds prices keyed by step type and model identifier.
type Table map[pipeline.StepType]map[string]Price

// Config is the externally loaded form of a Table (string keys so it maps
// cleanly from YAML config).
type Config map[string]map[string]Price

// Table converts the loaded config into a Table.
func (c Config) Table() Table {
	t := make(Table, len(c))
	for stepType, models := range c {
		t[pipeline.StepType(stepType)] = models
	}
	return t
}

// DefaultTable returns the built-in pricing used when no table is configured.
func DefaultTable() Table {
	return Table{
		pipeline.StepTypePromptEnhance: {
			"gpt-4o-mini": {PerUnitCents: 1},
		},
		pipeline.StepTypeI2I: {
			"flux-dev":   {PerUnitCents: 3},
			"sdxl-turbo": {PerUnitCents: 1},
			"flux-pro": {
				PerUnitCents: 6,
				Resolution:   map[string]float64{"1024": 1.0, "2048": 2.0},
			},
		},
		pipeline.StepTypeI2V: {
			"kling-standard": {PerUnitCents: 35},
			"kling-pro": {
				PerUnitCents:   20,
				PerSecondCents: 8,
				Resolution:     map[string]float64{"720p": 1.0, "1080p": 1.5},
			},
		},
	}
}
