package storyline

import "pet-adoption-pipeline/types"

// defaultCaptions holds the caption templates per stage. The i-th beat of a
// given stage uses template i mod len.
var defaultCaptions = map[types.Stage][]string{
	types.StageSad: {
		"{{.Name}} has spent {{.StayDays}} days at the shelter, waiting for someone to notice.",
		"Day after day, {{.Name}} watches families walk past the kennel.",
	},
	types.StageShy: {
		"{{.Name}} is a little shy at first, a {{.Temperament}} {{.Species}} who needs a patient friend.",
		"It takes {{.Name}} a moment to trust, but that trust lasts forever.",
	},
	types.StageNeutral: {
		"Meet {{.Name}}, a {{.Temperament}} {{.Species}}.",
	},
	types.StageHopeful: {
		"{{.Name}} is {{.Temperament}}, and still believes the right person is out there.",
		"Give {{.Name}} one chance and you will see how much love is waiting.",
	},
	types.StagePlayful: {
		"{{.Name}} is all zoomies and wagging tail, ready for the next game.",
	},
	types.StageJoyful: {
		"Adopt {{.Name}} today and give this {{.Species}} the home they deserve.",
		"Come meet {{.Name}}. Your new best friend is ready.",
	},
}

// defaultWeights biases duration toward the upbeat end of the arc
var defaultWeights = map[types.Stage]float64{
	types.StageSad:     1.0,
	types.StageShy:     1.0,
	types.StageNeutral: 1.0,
	types.StagePlayful: 1.2,
	types.StageHopeful: 1.3,
	types.StageJoyful:  1.5,
}

// defaultValues fill template fields the metadata leaves empty.
// StayDays and Story have no default.
var defaultValues = map[string]string{
	"Name":        "this pet",
	"Species":     "dog",
	"Age":         "unknown age",
	"Temperament": "gentle and loving",
}
