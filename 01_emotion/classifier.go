package emotion

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/types"
)

// FallbackArcName is returned when no rule matches
const FallbackArcName = "neutral-hopeful"

// Rule is one entry of the arc catalog. Every criterion that is set must
// hold; a rule with no criteria matches everything.
type Rule struct {
	Name        string
	Stages      []types.Stage
	MinStayDays int
	MaxStayDays int
	AnyTags     []string
	AnyKeywords []string
	HealthFlags bool
}

// Matches reports whether the metadata satisfies every criterion of the rule
func (r Rule) Matches(meta types.PetMetadata) bool {
	if r.MinStayDays > 0 && meta.StayDays < r.MinStayDays {
		return false
	}
	if r.MaxStayDays > 0 && meta.StayDays > r.MaxStayDays {
		return false
	}
	if r.HealthFlags && len(meta.HealthFlags) == 0 {
		return false
	}
	if len(r.AnyTags) > 0 && !anyTag(meta.Tags, r.AnyTags) {
		return false
	}
	if len(r.AnyKeywords) > 0 && !anyKeyword(meta.IntakeStory, r.AnyKeywords) {
		return false
	}
	return true
}

func (r Rule) arc() types.EmotionalArc {
	stages := make([]types.Stage, len(r.Stages))
	copy(stages, r.Stages)
	return types.EmotionalArc{Name: r.Name, Stages: stages}
}

// DefaultRules is the built-in catalog, evaluated in order
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "long-stay",
			Stages:      []types.Stage{types.StageSad, types.StageHopeful, types.StageJoyful},
			MinStayDays: 180,
		},
		{
			Name:        "rescue",
			Stages:      []types.Stage{types.StageSad, types.StageHopeful, types.StageJoyful},
			AnyKeywords: []string{"abandoned", "stray", "neglect", "abuse", "surrendered", "rescued", "injured"},
		},
		{
			Name:        "recovery",
			Stages:      []types.Stage{types.StageSad, types.StageHopeful, types.StageHopeful, types.StageJoyful},
			HealthFlags: true,
		},
		{
			Name:    "shy-bloomer",
			Stages:  []types.Stage{types.StageShy, types.StageHopeful, types.StageJoyful},
			AnyTags: []string{"shy", "timid", "anxious", "fearful"},
		},
		{
			Name:    "playful",
			Stages:  []types.Stage{types.StagePlayful, types.StageHopeful, types.StageJoyful},
			AnyTags: []string{"playful", "energetic", "puppy", "kitten"},
		},
	}
}

// FallbackArc is the neutral→hopeful arc used when no rule matches
func FallbackArc() types.EmotionalArc {
	return types.EmotionalArc{
		Name:   FallbackArcName,
		Stages: []types.Stage{types.StageNeutral, types.StageHopeful},
	}
}

// Classifier maps pet metadata to an emotional arc. It holds no mutable
// state and is safe for concurrent use.
type Classifier struct {
	rules  []Rule
	logger zerolog.Logger
}

// New builds a classifier from the configured catalog, or the built-in one
// when config.yaml defines no arcs.
func New(cfg *config.Config) (*Classifier, error) {
	if len(cfg.Arcs) == 0 {
		return NewWithRules(DefaultRules()), nil
	}
	rules, err := RulesFromConfig(cfg.Arcs)
	if err != nil {
		return nil, err
	}
	return NewWithRules(rules), nil
}

// NewWithRules builds a classifier over an explicit catalog
func NewWithRules(rules []Rule) *Classifier {
	return &Classifier{
		rules:  rules,
		logger: logging.WithComponent("emotion"),
	}
}

// RulesFromConfig converts config.yaml arc entries to rules
func RulesFromConfig(arcs []config.ArcConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(arcs))
	for _, a := range arcs {
		if a.Name == "" {
			return nil, fmt.Errorf("arc catalog: entry without a name")
		}
		if len(a.Stages) == 0 {
			return nil, fmt.Errorf("arc %q: no stages", a.Name)
		}
		stages := make([]types.Stage, 0, len(a.Stages))
		for _, s := range a.Stages {
			st, ok := types.ParseStage(s)
			if !ok {
				return nil, fmt.Errorf("arc %q: unknown stage %q", a.Name, s)
			}
			stages = append(stages, st)
		}
		rules = append(rules, Rule{
			Name:        a.Name,
			Stages:      stages,
			MinStayDays: a.MinStayDays,
			MaxStayDays: a.MaxStayDays,
			AnyTags:     a.AnyTags,
			AnyKeywords: a.AnyKeywords,
			HealthFlags: a.HealthFlags,
		})
	}
	return rules, nil
}

// Classify returns the arc of the first matching rule, or the fallback arc.
// It never fails.
func (c *Classifier) Classify(meta types.PetMetadata) types.EmotionalArc {
	for _, r := range c.rules {
		if r.Matches(meta) {
			c.logger.Debug().Str("pet", meta.Name).Str("arc", r.Name).Msg("rule matched")
			return r.arc()
		}
	}
	c.logger.Debug().Str("pet", meta.Name).Msg("no rule matched, using fallback arc")
	return FallbackArc()
}

// Arc looks up a catalog entry by name
func (c *Classifier) Arc(name string) (types.EmotionalArc, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range c.rules {
		if strings.ToLower(r.Name) == name {
			return r.arc(), true
		}
	}
	if name == FallbackArcName {
		return FallbackArc(), true
	}
	return types.EmotionalArc{}, false
}

// Resolve honors the job's tone option: "auto" (or empty) classifies, a
// catalog name selects that arc directly, and an unknown name classifies
// and reports a tone_unknown warning.
func (c *Classifier) Resolve(meta types.PetMetadata, tone string) (types.EmotionalArc, []types.Warning) {
	tone = strings.TrimSpace(tone)
	if tone == "" || strings.EqualFold(tone, "auto") {
		return c.Classify(meta), nil
	}
	if arc, ok := c.Arc(tone); ok {
		return arc, nil
	}

	arc := c.Classify(meta)
	return arc, []types.Warning{{
		Kind:      types.WarnToneUnknown,
		BeatIndex: -1,
		Message:   fmt.Sprintf("tone %q is not in the arc catalog, classified as %s", tone, arc.Name),
	}}
}

func anyTag(have, want []string) bool {
	for _, h := range have {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, w := range want {
			if h == strings.ToLower(w) {
				return true
			}
		}
	}
	return false
}

func anyKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
