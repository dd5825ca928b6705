package storyline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/types"
)

func newBuilder(t *testing.T, cfg *config.Config) *Builder {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	b, err := New(cfg)
	require.NoError(t, err)
	return b
}

func arcOf(stages ...types.Stage) types.EmotionalArc {
	return types.EmotionalArc{Name: "test", Stages: stages}
}

func TestBuildOneBeatPerStage(t *testing.T) {
	b := newBuilder(t, nil)
	meta := types.PetMetadata{Name: "Biscuit", Species: "Dog", StayDays: 400, Tags: []string{"senior", "gentle"}}

	arcs := []types.EmotionalArc{
		arcOf(types.StageSad, types.StageHopeful, types.StageJoyful),
		arcOf(types.StageSad, types.StageHopeful, types.StageHopeful, types.StageJoyful),
		arcOf(types.StageShy, types.StageHopeful, types.StageJoyful),
		arcOf(types.StagePlayful, types.StageHopeful, types.StageJoyful),
		arcOf(types.StageNeutral, types.StageHopeful),
	}

	for _, arc := range arcs {
		t.Run(arc.String(), func(t *testing.T) {
			sl, err := b.Build(meta, arc)
			require.NoError(t, err)
			require.Len(t, sl.Beats, len(arc.Stages))
			for i, beat := range sl.Beats {
				assert.Equal(t, i, beat.Index)
				assert.Equal(t, arc.Stages[i], beat.Stage)
				assert.NotEmpty(t, beat.Caption)
				assert.Greater(t, beat.Weight, 0.0)
			}
		})
	}
}

func TestBuildCaptionsSubstituteMetadata(t *testing.T) {
	b := newBuilder(t, nil)
	meta := types.PetMetadata{Name: "Biscuit", Species: "Dog", StayDays: 400, Tags: []string{"senior", "gentle"}}

	sl, err := b.Build(meta, arcOf(types.StageSad, types.StageHopeful, types.StageJoyful))
	require.NoError(t, err)

	assert.Equal(t, "Biscuit has spent 400 days at the shelter, waiting for someone to notice.", sl.Beats[0].Caption)
	assert.Equal(t, "Biscuit is senior and gentle, and still believes the right person is out there.", sl.Beats[1].Caption)
	assert.Equal(t, "Adopt Biscuit today and give this dog the home they deserve.", sl.Beats[2].Caption)
}

func TestBuildRepeatedStageRotatesTemplates(t *testing.T) {
	b := newBuilder(t, nil)
	meta := types.PetMetadata{Name: "Pip", StayDays: 30}

	sl, err := b.Build(meta, arcOf(types.StageSad, types.StageHopeful, types.StageHopeful, types.StageJoyful))
	require.NoError(t, err)
	assert.NotEqual(t, sl.Beats[1].Caption, sl.Beats[2].Caption)
}

func TestBuildWeightsFavorUpbeatEnding(t *testing.T) {
	b := newBuilder(t, nil)
	meta := types.PetMetadata{Name: "Biscuit", StayDays: 400}

	sl, err := b.Build(meta, arcOf(types.StageSad, types.StageHopeful, types.StageJoyful))
	require.NoError(t, err)

	assert.Equal(t, 1.0, sl.Beats[0].Weight)
	assert.Equal(t, 1.3, sl.Beats[1].Weight)
	assert.Equal(t, 1.75, sl.Beats[2].Weight)
	assert.Greater(t, sl.Beats[1].Weight, sl.Beats[0].Weight)
}

func TestBuildDefaultsFillMissingFields(t *testing.T) {
	b := newBuilder(t, nil)

	sl, err := b.Build(types.PetMetadata{Name: "Miso"}, arcOf(types.StageNeutral, types.StageHopeful))
	require.NoError(t, err)
	assert.Equal(t, "Meet Miso, a gentle and loving dog.", sl.Beats[0].Caption)
}

func TestBuildMissingFieldWithoutDefault(t *testing.T) {
	b := newBuilder(t, nil)

	_, err := b.Build(types.PetMetadata{Name: "Rex"}, arcOf(types.StageSad))
	var ime *types.InsufficientMetadataError
	require.True(t, errors.As(err, &ime))
	assert.Equal(t, "StayDays", ime.Field)
	assert.Equal(t, types.StageSad, ime.Stage)
}

func TestBuildUnnamedPet(t *testing.T) {
	b := newBuilder(t, nil)

	meta := types.PetMetadata{StayDays: 400, Tags: []string{"senior", "gentle"}}
	sl, err := b.Build(meta, arcOf(types.StageSad, types.StageHopeful, types.StageJoyful))
	require.NoError(t, err)
	require.Len(t, sl.Beats, 3)
	assert.Equal(t, "this pet has spent 400 days at the shelter, waiting for someone to notice.", sl.Beats[0].Caption)
	for _, beat := range sl.Beats {
		assert.NotContains(t, beat.Caption, "<no value>")
	}
	assert.Equal(t, "this pet", b.Default("Name"))
	assert.Empty(t, b.Default("StayDays"))
}

func TestBuildConfigOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Storyline.Captions = map[string][]string{"joyful": {"{{.Name}} found home."}}
	cfg.Storyline.Weights = map[string]float64{"JOYFUL": 3}
	cfg.Storyline.EndingBonus = 0
	cfg.Storyline.DefaultValue = map[string]string{"Name": "this pet"}
	b := newBuilder(t, cfg)

	sl, err := b.Build(types.PetMetadata{}, arcOf(types.StageJoyful))
	require.NoError(t, err)
	assert.Equal(t, "this pet found home.", sl.Beats[0].Caption)
	assert.Equal(t, 3.0, sl.Beats[0].Weight)
}

func TestNewRejectsBadOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Storyline.Weights = map[string]float64{"HOPEFUL": 0}
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Storyline.Captions = map[string][]string{"ecstatic": {"x"}}
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Storyline.Captions = map[string][]string{"SAD": {"{{.Name"}}
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestBuildEmptyArcFailsValidation(t *testing.T) {
	b := newBuilder(t, nil)
	_, err := b.Build(types.PetMetadata{Name: "x"}, arcOf())
	assert.Error(t, err)
}

func TestTemperament(t *testing.T) {
	assert.Equal(t, "", temperament(nil))
	assert.Equal(t, "shy", temperament([]string{" Shy "}))
	assert.Equal(t, "shy, sweet and curious", temperament([]string{"shy", "sweet", "curious"}))
}
