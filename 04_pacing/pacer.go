package pacing

import (
	"fmt"

	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/types"
)

// DefaultMinUsableCut is the shortest clip that may be placed, in seconds
const DefaultMinUsableCut = 0.5

// Options tune one selection run
type Options struct {
	// TargetDuration splits across silent beats by weight; 0 keeps their
	// fallback estimate.
	TargetDuration float64
	MinUsableCut   float64
}

// Select places one clip range under every beat. Identical inputs always
// produce the identical segment sequence.
func Select(beats []types.Beat, narration []types.NarrationSegment, pool []types.ClipAsset, opts Options) ([]types.Segment, []types.Warning, error) {
	logger := logging.WithComponent("pacing")

	if len(narration) != len(beats) {
		return nil, nil, fmt.Errorf("narration has %d segments for %d beats", len(narration), len(beats))
	}

	minCut := opts.MinUsableCut
	if minCut <= 0 {
		minCut = DefaultMinUsableCut
	}

	usable := make([]types.ClipAsset, 0, len(pool))
	for _, c := range pool {
		if c.Duration >= minCut {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return nil, nil, &types.NoClipsAvailableError{PoolSize: len(pool), Excluded: len(pool)}
	}
	if excluded := len(pool) - len(usable); excluded > 0 {
		logger.Debug().Int("excluded", excluded).Float64("min_cut", minCut).Msg("clips below minimum cut")
	}

	durations := Durations(beats, narration, opts.TargetDuration)
	idx := newArena(usable)

	var (
		segments = make([]types.Segment, 0, len(beats))
		warnings []types.Warning
		start    float64
	)

	for step, beat := range beats {
		d := durations[step]
		if d <= 0 {
			return nil, nil, fmt.Errorf("beat %d has no duration", beat.Index)
		}

		slot, tier := idx.best(beat.Stage)
		clip := idx.clips[slot]
		idx.markUsed(slot, step)

		seg := types.Segment{
			BeatIndex: beat.Index,
			Stage:     beat.Stage,
			Clip:      clip,
			Duration:  d,
			Start:     start,
			Reused:    tier == tierReuse,
			Grade:     GradeFor(beat.Stage),
		}
		seg.In, seg.Out, seg.Looped = clipRange(clip.Duration, d)

		if seg.Reused {
			warnings = append(warnings, types.Warning{
				Kind:      types.WarnClipReused,
				BeatIndex: beat.Index,
				Message:   fmt.Sprintf("no unused clip left, reused %s", clip.Path),
			})
		}
		if seg.Looped {
			warnings = append(warnings, types.Warning{
				Kind:      types.WarnClipLooped,
				BeatIndex: beat.Index,
				Message:   fmt.Sprintf("clip %s is %.2fs, shorter than the %.2fs needed; looped", clip.Path, clip.Duration, d),
			})
		}

		logger.Debug().
			Int("beat", beat.Index).
			Str("stage", string(beat.Stage)).
			Str("clip", clip.Path).
			Float64("in", seg.In).
			Float64("out", seg.Out).
			Float64("start", seg.Start).
			Float64("duration", d).
			Msg("segment placed")

		segments = append(segments, seg)
		start += d
	}

	return segments, warnings, nil
}

// Durations gives every beat its absolute length. Spoken beats last as long
// as their narration; silent beats take their weight share of target.
func Durations(beats []types.Beat, narration []types.NarrationSegment, target float64) []float64 {
	var totalWeight float64
	for _, b := range beats {
		totalWeight += b.Weight
	}

	out := make([]float64, len(beats))
	for i, b := range beats {
		n := narration[i]
		switch {
		case !n.Silent:
			out[i] = n.Duration
		case target > 0 && totalWeight > 0:
			out[i] = target * b.Weight / totalWeight
		default:
			out[i] = n.Duration
		}
	}
	return out
}

// clipRange picks the midpoint-centered window of length need, or the
// whole clip looped when it is too short.
func clipRange(clipDur, need float64) (in, out float64, looped bool) {
	if clipDur < need {
		return 0, clipDur, true
	}
	in = (clipDur - need) / 2
	out = in + need
	if out > clipDur {
		out = clipDur
	}
	return in, out, false
}
