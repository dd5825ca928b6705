package types

import "strings"

// Stage is one emotional tone stage of an arc
type Stage string

const (
	StageSad     Stage = "SAD"
	StageShy     Stage = "SHY"
	StageNeutral Stage = "NEUTRAL"
	StageHopeful Stage = "HOPEFUL"
	StagePlayful Stage = "PLAYFUL"
	StageJoyful  Stage = "JOYFUL"
)

// ParseStage normalizes a stage or mood label ("sad", " Joyful ") to a Stage.
// It returns false for labels outside the known set.
func ParseStage(s string) (Stage, bool) {
	st := Stage(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StageSad, StageShy, StageNeutral, StageHopeful, StagePlayful, StageJoyful:
		return st, true
	}
	return "", false
}

// PetMetadata is the caller-owned description of one adoptable pet
type PetMetadata struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Species     string   `json:"species" yaml:"species"`
	Age         string   `json:"age,omitempty" yaml:"age"`
	IntakeStory string   `json:"story" yaml:"story"`
	Tags        []string `json:"tags" yaml:"tags"`
	StayDays    int      `json:"length_of_stay" yaml:"length_of_stay"`
	HealthFlags []string `json:"health_flags,omitempty" yaml:"health_flags"`
}

// EmotionalArc is the ordered sequence of tone stages for one video
type EmotionalArc struct {
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

// String renders the arc as "sad→hopeful→joyful"
func (a EmotionalArc) String() string {
	parts := make([]string, len(a.Stages))
	for i, s := range a.Stages {
		parts[i] = strings.ToLower(string(s))
	}
	return strings.Join(parts, "→")
}

// Beat is one narrative unit of a storyline
type Beat struct {
	Index   int     `json:"index" validate:"gte=0"`
	Stage   Stage   `json:"stage" validate:"required"`
	Caption string  `json:"caption" validate:"required"`
	Weight  float64 `json:"weight" validate:"gt=0"`
}

// Storyline holds the beats built for one arc
type Storyline struct {
	Arc   EmotionalArc `json:"arc"`
	Beats []Beat       `json:"beats" validate:"required,min=1,dive"`
}

// Mark is one word of narration with its timing inside the segment
type Mark struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NarrationSegment is the synthesized speech for one beat
type NarrationSegment struct {
	BeatIndex int     `json:"beat_index"`
	AudioPath string  `json:"audio_path,omitempty"`
	Duration  float64 `json:"duration"`
	Marks     []Mark  `json:"marks,omitempty"`
	Silent    bool    `json:"silent"`
}

// SpeechEnd returns the end time of the last spoken word, or the full
// duration when there are no marks.
func (n NarrationSegment) SpeechEnd() float64 {
	if n.Silent {
		return 0
	}
	if len(n.Marks) == 0 {
		return n.Duration
	}
	return n.Marks[len(n.Marks)-1].End
}

// ClipAsset is a raw input video file from the pool
type ClipAsset struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	Mood     string  `json:"mood,omitempty"`
}

// Grade is a color-grade directive applied to every frame of a segment
type Grade struct {
	Name       string  `json:"name"`
	Saturation float64 `json:"saturation"`
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Gamma      float64 `json:"gamma"`
	// Warmth shifts red up and blue down when positive, the reverse when negative.
	Warmth float64 `json:"warmth"`
}

// Segment is one placed, graded, timed clip range on the output timeline
type Segment struct {
	BeatIndex int       `json:"beat_index"`
	Stage     Stage     `json:"stage"`
	Clip      ClipAsset `json:"clip"`
	In        float64   `json:"in"`
	Out       float64   `json:"out"`
	Duration  float64   `json:"duration"`
	Start     float64   `json:"start"`
	Looped    bool      `json:"looped"`
	Reused    bool      `json:"reused"`
	Grade     Grade     `json:"grade"`
}

// End returns the timeline position where the segment stops
func (s Segment) End() float64 {
	return s.Start + s.Duration
}

// Aspect is the output frame shape
type Aspect string

const (
	AspectVertical   Aspect = "vertical"
	AspectSquare     Aspect = "square"
	AspectHorizontal Aspect = "horizontal"
)

// Branding holds the overlay specs burned into the video
type Branding struct {
	Title    string    `json:"title"`
	CTA      string    `json:"cta"`
	CTASub   string    `json:"cta_sub"`
	Logo     string    `json:"logo,omitempty"`
	Stickers []Sticker `json:"stickers,omitempty"`
}

// Sticker is an image overlaid on the whole video at a fixed corner
type Sticker struct {
	Path     string  `json:"path" yaml:"path"`
	Position string  `json:"position" yaml:"position"` // top-left | top-right | bottom-left | bottom-right
	Scale    float64 `json:"scale" yaml:"scale"`       // fraction of output width
}

// RenderJob is everything the compositor needs for one render
type RenderJob struct {
	ID        string             `json:"id"`
	Storyline Storyline          `json:"storyline"`
	Segments  []Segment          `json:"segments"`
	Narration []NarrationSegment `json:"narration"`
	Branding  Branding           `json:"branding"`
	MusicDir  string             `json:"music_dir,omitempty"`
	Aspect    Aspect             `json:"aspect"`
	Output    string             `json:"output"`
}

// SegmentReport is the per-segment timing entry of a render
type SegmentReport struct {
	BeatIndex int     `json:"beat_index"`
	Stage     Stage   `json:"stage"`
	Clip      string  `json:"clip"`
	In        float64 `json:"in"`
	Out       float64 `json:"out"`
	Start     float64 `json:"start"`
	Duration  float64 `json:"duration"`
	Looped    bool    `json:"looped"`
	Grade     string  `json:"grade"`
}

// RenderResult is returned to the caller after a successful render
type RenderResult struct {
	JobID    string          `json:"job_id"`
	Path     string          `json:"path"`
	Duration float64         `json:"duration"`
	Arc      string          `json:"arc"`
	Segments []SegmentReport `json:"segments"`
	Warnings []Warning       `json:"warnings"`
}
