package compose

import (
	"fmt"
	"os"
	"strings"

	"pet-adoption-pipeline/types"
)

// Cue is one caption line on the output timeline
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// BuildCues times captions per beat. Spoken beats get word phrases from
// their marks; silent beats and beats without marks get one cue spanning
// the segment. offset is the intro card length.
func BuildCues(segments []types.Segment, narration []types.NarrationSegment, beats []types.Beat, offset float64, wordsPerCue int) []Cue {
	if wordsPerCue <= 0 {
		wordsPerCue = 4
	}

	var cues []Cue
	for i, seg := range segments {
		segStart := offset + seg.Start
		segEnd := segStart + seg.Duration

		var marks []types.Mark
		if i < len(narration) && !narration[i].Silent {
			marks = narration[i].Marks
		}

		if len(marks) == 0 {
			if i < len(beats) && beats[i].Caption != "" {
				cues = append(cues, Cue{Start: segStart, End: segEnd, Text: beats[i].Caption})
			}
			continue
		}

		for j := 0; j < len(marks); j += wordsPerCue {
			k := j + wordsPerCue
			if k > len(marks) {
				k = len(marks)
			}
			words := make([]string, 0, k-j)
			for _, m := range marks[j:k] {
				words = append(words, m.Word)
			}

			start := segStart + marks[j].Start
			end := segStart + marks[k-1].End
			// hold each phrase until the next one starts
			if k < len(marks) {
				end = segStart + marks[k].Start
			}
			if end > segEnd {
				end = segEnd
			}
			if end <= start {
				continue
			}
			cues = append(cues, Cue{Start: start, End: end, Text: strings.Join(words, " ")})
		}
	}
	return cues
}

// assStyle is the subset of ASS style options we expose
type assStyle struct {
	Font         string
	FontSize     int
	MarginBottom int
	Width        int
	Height       int
}

// writeASS writes cues as an ASS script: white text, black outline,
// bottom-centered.
func writeASS(path string, cues []Cue, st assStyle) error {
	var b strings.Builder
	b.WriteString("[Script Info]\nScriptType: v4.00+\n")
	fmt.Fprintf(&b, "PlayResX: %d\nPlayResY: %d\nWrapStyle: 0\n\n", st.Width, st.Height)

	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&b, "Style: Default,%s,%d,&H00FFFFFF,&H000000FF,&H00000000,&H64000000,1,0,0,0,100,100,0,0,1,3,1,2,60,60,%d,1\n\n",
		st.Font, st.FontSize, st.MarginBottom)

	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, c := range cues {
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", assTime(c.Start), assTime(c.End), assText(c.Text))
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}

// assTime formats seconds as H:MM:SS.cc
func assTime(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	cs := int(sec*100 + 0.5)
	h := cs / 360000
	m := (cs / 6000) % 60
	s := (cs / 100) % 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs%100)
}

func assText(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	return s
}
