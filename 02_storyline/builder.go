package storyline

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/types"
)

// Builder expands an arc plus metadata into captioned, weighted beats
type Builder struct {
	captions    map[types.Stage][]*template.Template
	weights     map[types.Stage]float64
	endingBonus float64
	defaults    map[string]string
	validate    *validator.Validate
	logger      zerolog.Logger
}

// New compiles the caption templates. Config entries replace the built-in
// templates and weights stage by stage.
func New(cfg *config.Config) (*Builder, error) {
	sc := cfg.Storyline

	raw := make(map[types.Stage][]string, len(defaultCaptions))
	for st, list := range defaultCaptions {
		raw[st] = list
	}
	for name, list := range sc.Captions {
		st, ok := types.ParseStage(name)
		if !ok {
			return nil, fmt.Errorf("storyline captions: unknown stage %q", name)
		}
		if len(list) > 0 {
			raw[st] = list
		}
	}

	captions := make(map[types.Stage][]*template.Template, len(raw))
	for st, list := range raw {
		for i, text := range list {
			t, err := template.New(fmt.Sprintf("%s-%d", st, i)).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("parse %s caption %d: %w", st, i, err)
			}
			captions[st] = append(captions[st], t)
		}
	}

	weights := make(map[types.Stage]float64, len(defaultWeights))
	for st, w := range defaultWeights {
		weights[st] = w
	}
	for name, w := range sc.Weights {
		st, ok := types.ParseStage(name)
		if !ok {
			return nil, fmt.Errorf("storyline weights: unknown stage %q", name)
		}
		if w <= 0 {
			return nil, fmt.Errorf("storyline weights: %s must be > 0", st)
		}
		weights[st] = w
	}

	defaults := make(map[string]string, len(defaultValues))
	for k, v := range defaultValues {
		defaults[k] = v
	}
	for k, v := range sc.DefaultValue {
		defaults[k] = v
	}

	return &Builder{
		captions:    captions,
		weights:     weights,
		endingBonus: sc.EndingBonus,
		defaults:    defaults,
		validate:    validator.New(),
		logger:      logging.WithComponent("storyline"),
	}, nil
}

// Build allocates one beat per arc stage. It fails with
// InsufficientMetadataError when a caption needs a field that is neither in
// the metadata nor in the defaults.
func (b *Builder) Build(meta types.PetMetadata, arc types.EmotionalArc) (types.Storyline, error) {
	values := b.values(meta)
	seen := make(map[types.Stage]int)

	sl := types.Storyline{Arc: arc, Beats: make([]types.Beat, 0, len(arc.Stages))}
	for i, st := range arc.Stages {
		caption, err := b.caption(st, seen[st], values)
		if err != nil {
			return types.Storyline{}, err
		}
		seen[st]++

		w := b.weights[st]
		if w <= 0 {
			w = 1.0
		}
		if i == len(arc.Stages)-1 {
			w += b.endingBonus
		}

		sl.Beats = append(sl.Beats, types.Beat{
			Index:   i,
			Stage:   st,
			Caption: caption,
			Weight:  w,
		})
	}

	if err := b.validate.Struct(sl); err != nil {
		return types.Storyline{}, fmt.Errorf("storyline for %s: %w", arc.Name, err)
	}

	b.logger.Debug().Str("arc", arc.String()).Int("beats", len(sl.Beats)).Msg("storyline built")
	return sl, nil
}

func (b *Builder) caption(st types.Stage, occurrence int, values map[string]any) (string, error) {
	list := b.captions[st]
	if len(list) == 0 {
		return "", fmt.Errorf("no caption template for stage %s", st)
	}
	t := list[occurrence%len(list)]

	for _, field := range templateFields(t) {
		if _, ok := values[field]; !ok {
			return "", &types.InsufficientMetadataError{Field: field, Stage: st}
		}
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, values); err != nil {
		return "", fmt.Errorf("render %s caption: %w", st, err)
	}
	return strings.Join(strings.Fields(buf.String()), " "), nil
}

// Default returns the value used for a template field the metadata leaves
// empty, or "" when the field has none.
func (b *Builder) Default(field string) string {
	return b.defaults[field]
}

// values exposes the metadata fields present, then fills defaults
func (b *Builder) values(meta types.PetMetadata) map[string]any {
	v := make(map[string]any)
	if s := strings.TrimSpace(meta.Name); s != "" {
		v["Name"] = s
	}
	if s := strings.TrimSpace(meta.Species); s != "" {
		v["Species"] = strings.ToLower(s)
	}
	if s := strings.TrimSpace(meta.Age); s != "" {
		v["Age"] = s
	}
	if meta.StayDays > 0 {
		v["StayDays"] = strconv.Itoa(meta.StayDays)
	}
	if s := strings.TrimSpace(meta.IntakeStory); s != "" {
		v["Story"] = s
	}
	if len(meta.Tags) > 0 {
		v["Temperament"] = temperament(meta.Tags)
	}

	for k, d := range b.defaults {
		if _, ok := v[k]; !ok && d != "" {
			v[k] = d
		}
	}
	return v
}

// temperament joins tags as "senior and gentle" / "shy, sweet and curious"
func temperament(tags []string) string {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(strings.ToLower(t)); t != "" {
			clean = append(clean, t)
		}
	}
	switch len(clean) {
	case 0:
		return ""
	case 1:
		return clean[0]
	}
	return strings.Join(clean[:len(clean)-1], ", ") + " and " + clean[len(clean)-1]
}

// templateFields lists the top-level fields a template references
func templateFields(t *template.Template) []string {
	var fields []string
	seen := make(map[string]bool)

	var walk func(n parse.Node)
	walk = func(n parse.Node) {
		switch n := n.(type) {
		case *parse.ListNode:
			if n == nil {
				return
			}
			for _, c := range n.Nodes {
				walk(c)
			}
		case *parse.ActionNode:
			walk(n.Pipe)
		case *parse.PipeNode:
			if n == nil {
				return
			}
			for _, cmd := range n.Cmds {
				for _, arg := range cmd.Args {
					walk(arg)
				}
			}
		case *parse.FieldNode:
			if len(n.Ident) > 0 && !seen[n.Ident[0]] {
				seen[n.Ident[0]] = true
				fields = append(fields, n.Ident[0])
			}
		case *parse.IfNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		case *parse.RangeNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		case *parse.WithNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		}
	}

	if t.Tree != nil {
		walk(t.Tree.Root)
	}
	return fields
}
