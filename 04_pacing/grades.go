package pacing

import "pet-adoption-pipeline/types"

// grades maps each tone stage to its color treatment: cool and muted for
// the sad end of an arc, warm and saturated for the joyful end.
var grades = map[types.Stage]types.Grade{
	types.StageSad: {
		Name: "cool-desaturated", Saturation: 0.65, Brightness: -0.04, Contrast: 0.95, Gamma: 0.95, Warmth: -0.12,
	},
	types.StageShy: {
		Name: "soft-muted", Saturation: 0.85, Brightness: 0.0, Contrast: 0.92, Gamma: 1.02, Warmth: -0.04,
	},
	types.StageNeutral: {
		Name: "natural", Saturation: 1.0, Brightness: 0.0, Contrast: 1.0, Gamma: 1.0, Warmth: 0,
	},
	types.StageHopeful: {
		Name: "soft-warm", Saturation: 1.08, Brightness: 0.02, Contrast: 1.02, Gamma: 1.03, Warmth: 0.06,
	},
	types.StagePlayful: {
		Name: "bright-vivid", Saturation: 1.25, Brightness: 0.04, Contrast: 1.06, Gamma: 1.0, Warmth: 0.05,
	},
	types.StageJoyful: {
		Name: "warm-saturated", Saturation: 1.3, Brightness: 0.05, Contrast: 1.08, Gamma: 1.0, Warmth: 0.12,
	},
}

// GradeFor returns the static grade for a stage; unknown stages get the
// neutral grade.
func GradeFor(stage types.Stage) types.Grade {
	if g, ok := grades[stage]; ok {
		return g
	}
	return grades[types.StageNeutral]
}
