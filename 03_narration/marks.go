package narration

import (
	"math"
	"strings"
	"unicode/utf8"

	"pet-adoption-pipeline/types"
)

// FallbackDuration is the silent length given to a beat whose synthesis
// failed: the caption read at wpm, never shorter than min.
func FallbackDuration(text string, wpm, min float64) float64 {
	if wpm <= 0 {
		wpm = 150
	}
	words := float64(len(strings.Fields(text)))
	return math.Max(min, words/(wpm/60))
}

// EstimateMarks spreads the caption's words across duration in proportion
// to their length.
func EstimateMarks(text string, duration float64) []types.Mark {
	words := strings.Fields(text)
	if len(words) == 0 || duration <= 0 {
		return nil
	}

	total := 0
	for _, w := range words {
		total += utf8.RuneCountInString(w)
	}

	marks := make([]types.Mark, len(words))
	var t float64
	for i, w := range words {
		span := duration * float64(utf8.RuneCountInString(w)) / float64(total)
		marks[i] = types.Mark{Word: w, Start: t, End: t + span}
		t += span
	}
	// float drift must not push the last mark past the audio
	marks[len(marks)-1].End = duration
	return marks
}

// ClampMarks orders mark times and keeps them inside [0, duration].
func ClampMarks(marks []types.Mark, duration float64) []types.Mark {
	out := make([]types.Mark, 0, len(marks))
	var prevEnd float64
	for _, m := range marks {
		start := math.Max(m.Start, prevEnd)
		end := math.Max(m.End, start)
		start = math.Min(start, duration)
		end = math.Min(end, duration)
		out = append(out, types.Mark{Word: m.Word, Start: start, End: end})
		prevEnd = end
	}
	return out
}
