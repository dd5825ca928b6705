package compose

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pet-adoption-pipeline/types"
)

// Music bed subfolders under the music dir
const (
	MusicSoft   = "soft"
	MusicUpbeat = "upbeat"
)

// musicMoods maps tone stages to a music subfolder
var musicMoods = map[types.Stage]string{
	types.StageSad:     MusicSoft,
	types.StageShy:     MusicSoft,
	types.StageNeutral: MusicSoft,
	types.StageHopeful: MusicSoft,
	types.StagePlayful: MusicUpbeat,
	types.StageJoyful:  MusicUpbeat,
}

var musicExtensions = map[string]bool{".mp3": true, ".wav": true, ".m4a": true}

// DominantMood weighs every segment's stage by its duration and returns the
// heavier music mood; ties stay soft.
func DominantMood(segments []types.Segment) string {
	weight := map[string]float64{}
	for _, s := range segments {
		mood, ok := musicMoods[s.Stage]
		if !ok {
			mood = MusicSoft
		}
		weight[mood] += s.Duration
	}
	if weight[MusicUpbeat] > weight[MusicSoft] {
		return MusicUpbeat
	}
	return MusicSoft
}

// PickMusic returns the first file, by name, in dir/mood, falling back to
// the first file anywhere under dir. Empty means no music.
func PickMusic(dir, mood string) string {
	if dir == "" {
		return ""
	}
	if f := firstAudio(filepath.Join(dir, mood), false); f != "" {
		return f
	}
	return firstAudio(dir, true)
}

func firstAudio(dir string, recursive bool) string {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if musicExtensions[strings.ToLower(filepath.Ext(path))] {
			found = append(found, path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return ""
	}
	if len(found) == 0 {
		return ""
	}
	sort.Strings(found)
	return found[0]
}

// window is a narration span on the output timeline
type window struct{ start, end float64 }

// speechWindows lists where narration is audible, shifted by the intro
func speechWindows(segments []types.Segment, narration []types.NarrationSegment, offset float64) []window {
	var out []window
	for i, seg := range segments {
		if i >= len(narration) || narration[i].Silent {
			continue
		}
		end := narration[i].SpeechEnd()
		if end > seg.Duration {
			end = seg.Duration
		}
		if end <= 0 {
			continue
		}
		out = append(out, window{start: offset + seg.Start, end: offset + seg.Start + end})
	}
	return out
}

// duckVolume builds a per-frame volume expression: ducked inside speech
// windows, full gain everywhere else.
func duckVolume(windows []window, ducked, full float64) string {
	if len(windows) == 0 {
		return fmt.Sprintf("volume=%.3f", full)
	}
	parts := make([]string, len(windows))
	for i, w := range windows {
		parts[i] = fmt.Sprintf("between(t,%.3f,%.3f)", w.start, w.end)
	}
	return fmt.Sprintf("volume='if(%s,%.3f,%.3f)':eval=frame", strings.Join(parts, "+"), ducked, full)
}
