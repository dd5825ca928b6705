package compose

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/ffmpeg"
	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/types"
)

// fakeMedia records every ffmpeg call and touches its output file
type fakeMedia struct {
	mu       sync.Mutex
	calls    [][]string
	failOn   string
	duration float64
	probeErr error
}

func (f *fakeMedia) Run(ctx context.Context, opts ffmpeg.RunOptions) error {
	f.mu.Lock()
	f.calls = append(f.calls, opts.Args)
	f.mu.Unlock()

	out := opts.Args[len(opts.Args)-1]
	if f.failOn != "" && strings.HasSuffix(out, f.failOn) {
		return errors.New("ffmpeg failed: Invalid data found when processing input")
	}
	return os.WriteFile(out, []byte("media"), 0644)
}

func (f *fakeMedia) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return f.duration, f.probeErr
}

// finalCall returns the args of the mixing pass
func (f *fakeMedia) finalCall(t *testing.T) string {
	t.Helper()
	for _, c := range f.calls {
		joined := strings.Join(c, " ")
		if strings.Contains(joined, "-f mp4") {
			return joined
		}
	}
	t.Fatal("no final encode call")
	return ""
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Paths.WorkDir = filepath.Join(t.TempDir(), "work")
	return cfg
}

// testJob builds a 3 x 4s timeline: 2.5 + 12 + 2.5 = 17s total
func testJob(t *testing.T) types.RenderJob {
	out := filepath.Join(t.TempDir(), "buddy.mp4")
	voice := filepath.Join(t.TempDir(), "beat_01.mp3")
	require.NoError(t, os.WriteFile(voice, []byte("mp3"), 0644))

	stages := []types.Stage{types.StageSad, types.StageHopeful, types.StageJoyful}
	var segs []types.Segment
	var beats []types.Beat
	for i, st := range stages {
		segs = append(segs, types.Segment{
			BeatIndex: i,
			Stage:     st,
			Clip:      types.ClipAsset{Path: "clips/clip.mp4", Duration: 10},
			In:        3,
			Out:       7,
			Duration:  4,
			Start:     float64(i) * 4,
			Looped:    i == 2,
			Grade:     types.Grade{Name: string(st), Saturation: 1, Contrast: 1, Gamma: 1},
		})
		beats = append(beats, types.Beat{Index: i, Stage: st, Caption: "Buddy waited", Weight: 1})
	}

	return types.RenderJob{
		ID:        "job-1",
		Storyline: types.Storyline{Arc: types.EmotionalArc{Name: "long-stay", Stages: stages}, Beats: beats},
		Segments:  segs,
		Narration: []types.NarrationSegment{
			{BeatIndex: 0, Duration: 4, Silent: true},
			{BeatIndex: 1, AudioPath: voice, Duration: 3, Marks: []types.Mark{
				{Word: "Buddy", Start: 0, End: 0.5}, {Word: "waited", Start: 0.5, End: 1.2},
			}},
			{BeatIndex: 2, Duration: 4, Silent: true},
		},
		Branding: types.Branding{Title: "Meet Buddy", CTA: "Give Buddy a home"},
		Aspect:   types.AspectVertical,
		Output:   out,
	}
}

func TestRenderWritesOutput(t *testing.T) {
	cfg := testConfig(t)
	media := &fakeMedia{duration: 17.02}
	job := testJob(t)

	res, err := New(cfg, media).Render(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, job.Output, res.Path)
	assert.FileExists(t, job.Output)
	assert.NoFileExists(t, job.Output+".partial")
	assert.InDelta(t, 17.02, res.Duration, 1e-9)
	assert.Equal(t, "sad→hopeful→joyful", res.Arc)
	require.Len(t, res.Segments, 3)
	assert.Equal(t, "JOYFUL", res.Segments[2].Grade)
	assert.True(t, res.Segments[2].Looped)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, types.WarnMusicMissing, res.Warnings[0].Kind)

	_, err = os.Stat(filepath.Join(cfg.Paths.WorkDir, "job-1"))
	assert.True(t, os.IsNotExist(err), "work dir should be removed")

	final := media.finalCall(t)
	assert.Contains(t, final, "subtitles=")
	assert.Contains(t, final, "adelay=2500:all=1")
	assert.Contains(t, final, "-t 17.000")
	assert.NotContains(t, final, "amix")
}

func TestRenderSegmentArgs(t *testing.T) {
	media := &fakeMedia{duration: 17}
	_, err := New(testConfig(t), media).Render(context.Background(), testJob(t))
	require.NoError(t, err)

	var cut, looped string
	for _, c := range media.calls {
		joined := strings.Join(c, " ")
		switch {
		case strings.HasSuffix(joined, "seg_00.mp4"):
			cut = joined
		case strings.HasSuffix(joined, "seg_02.mp4"):
			looped = joined
		}
	}
	assert.Contains(t, cut, "-ss 3.000 -t 4.000 -i clips/clip.mp4")
	assert.Contains(t, cut, "crop=1080:1920")
	assert.Contains(t, looped, "-stream_loop -1 -i clips/clip.mp4")
}

func TestRenderSegmentFailure(t *testing.T) {
	media := &fakeMedia{duration: 17, failOn: "seg_01.mp4"}
	job := testJob(t)

	_, err := New(testConfig(t), media).Render(context.Background(), job)
	require.Error(t, err)

	var rf *types.RenderFailedError
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, 1, rf.Segment)
	assert.NoFileExists(t, job.Output)
}

func TestRenderDurationMismatch(t *testing.T) {
	media := &fakeMedia{duration: 12}
	job := testJob(t)

	_, err := New(testConfig(t), media).Render(context.Background(), job)

	var rf *types.RenderFailedError
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, -1, rf.Segment)
	assert.NoFileExists(t, job.Output)
	assert.NoFileExists(t, job.Output+".partial")
}

func TestRenderProbeFailureWarns(t *testing.T) {
	media := &fakeMedia{probeErr: errors.New("moov atom not found")}

	res, err := New(testConfig(t), media).Render(context.Background(), testJob(t))
	require.NoError(t, err)
	assert.InDelta(t, 17, res.Duration, 1e-9)

	kinds := map[types.WarningKind]bool{}
	for _, w := range res.Warnings {
		kinds[w.Kind] = true
	}
	assert.True(t, kinds[types.WarnDurationDiff])
}

func TestRenderOutputConflict(t *testing.T) {
	job := testJob(t)
	require.NoError(t, os.WriteFile(job.Output, []byte("old"), 0644))

	_, err := New(testConfig(t), &fakeMedia{duration: 17}).Render(context.Background(), job)

	var oc *types.OutputConflictError
	require.True(t, errors.As(err, &oc))
	assert.Equal(t, job.Output, oc.Path)
}

func TestRenderRejectsTimelineGap(t *testing.T) {
	job := testJob(t)
	job.Segments[1].Start = 4.5

	media := &fakeMedia{duration: 17}
	_, err := New(testConfig(t), media).Render(context.Background(), job)

	var rf *types.RenderFailedError
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, -1, rf.Segment)
	assert.Empty(t, media.calls)
}

func TestRenderMixesMusic(t *testing.T) {
	music := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(music, MusicUpbeat), 0755))
	track := filepath.Join(music, MusicUpbeat, "a_theme.mp3")
	require.NoError(t, os.WriteFile(track, []byte("mp3"), 0644))

	job := testJob(t)
	job.MusicDir = music
	for i := range job.Segments {
		job.Segments[i].Stage = types.StageJoyful
	}
	media := &fakeMedia{duration: 17}

	res, err := New(testConfig(t), media).Render(context.Background(), job)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	final := media.finalCall(t)
	assert.Contains(t, final, "-stream_loop -1 -i "+track)
	assert.Contains(t, final, "amix=inputs=2:duration=first:normalize=0")
	assert.Contains(t, final, "between(t,6.500,7.700)")
	assert.Contains(t, final, "afade=t=out:st=16.000:d=1.000")
}

func TestRenderStickersAndLetterbox(t *testing.T) {
	cfg := testConfig(t)
	cfg.Compose.Fit = "letterbox"
	cfg.Compose.BurnCaptions = false

	job := testJob(t)
	job.Aspect = types.AspectSquare
	job.Branding.Stickers = []types.Sticker{{Path: "paw.png", Position: "bottom-left", Scale: 0.1}}
	media := &fakeMedia{duration: 17}

	_, err := New(cfg, media).Render(context.Background(), job)
	require.NoError(t, err)

	final := media.finalCall(t)
	assert.NotContains(t, final, "subtitles=")
	assert.Contains(t, final, "[2:v]scale=108:-1[st2];[0:v][st2]overlay=27:H-h-27[vst0]")

	for _, c := range media.calls {
		joined := strings.Join(c, " ")
		if strings.HasSuffix(joined, "seg_00.mp4") {
			assert.Contains(t, joined, "pad=1080:1080")
		}
	}
}

func TestBuildCues(t *testing.T) {
	segs := []types.Segment{{Start: 0, Duration: 3}, {Start: 3, Duration: 2}}
	narr := []types.NarrationSegment{
		{Marks: []types.Mark{
			{Word: "Luna", Start: 0, End: 0.4},
			{Word: "loves", Start: 0.4, End: 0.8},
			{Word: "long", Start: 0.8, End: 1.1},
			{Word: "walks", Start: 1.1, End: 1.6},
			{Word: "outside", Start: 1.6, End: 2.2},
		}},
		{Silent: true},
	}
	beats := []types.Beat{{Caption: "Luna loves long walks outside"}, {Caption: "Adopt Luna"}}

	cues := BuildCues(segs, narr, beats, 2.5, 4)
	require.Len(t, cues, 3)
	assert.Equal(t, "Luna loves long walks", cues[0].Text)
	assert.InDelta(t, 2.5, cues[0].Start, 1e-9)
	assert.InDelta(t, 4.1, cues[0].End, 1e-9, "held until the next phrase")
	assert.Equal(t, "outside", cues[1].Text)
	assert.InDelta(t, 4.7, cues[1].End, 1e-9)
	assert.Equal(t, Cue{Start: 5.5, End: 7.5, Text: "Adopt Luna"}, cues[2])
}

func TestWriteASS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.ass")
	require.NoError(t, writeASS(path, []Cue{{Start: 1, End: 2.5, Text: "hi {there}"}},
		assStyle{Font: "Arial", FontSize: 54, MarginBottom: 160, Width: 1080, Height: 1920}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "PlayResY: 1920")
	assert.Contains(t, string(data), "Dialogue: 0,0:00:01.00,0:00:02.50,Default,,0,0,0,,hi (there)")
}

func TestAssTime(t *testing.T) {
	assert.Equal(t, "0:00:00.00", assTime(-1))
	assert.Equal(t, "1:02:03.46", assTime(3723.456))
}

func TestDuckVolume(t *testing.T) {
	assert.Equal(t, "volume=0.600", duckVolume(nil, 0.25, 0.6))
	assert.Equal(t,
		"volume='if(between(t,1.000,2.000)+between(t,3.000,4.500),0.250,0.600)':eval=frame",
		duckVolume([]window{{1, 2}, {3, 4.5}}, 0.25, 0.6))
}

func TestDominantMood(t *testing.T) {
	assert.Equal(t, MusicSoft, DominantMood(nil))
	assert.Equal(t, MusicUpbeat, DominantMood([]types.Segment{
		{Stage: types.StageSad, Duration: 3},
		{Stage: types.StageJoyful, Duration: 5},
	}))
	assert.Equal(t, MusicSoft, DominantMood([]types.Segment{
		{Stage: types.StageHopeful, Duration: 4},
		{Stage: types.StagePlayful, Duration: 4},
	}))
}

func TestPickMusic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, MusicSoft), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MusicSoft, "b.wav"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MusicSoft, "a.mp3"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MusicSoft, "notes.txt"), nil, 0644))

	assert.Equal(t, filepath.Join(dir, MusicSoft, "a.mp3"), PickMusic(dir, MusicSoft))
	assert.Equal(t, filepath.Join(dir, MusicSoft, "a.mp3"), PickMusic(dir, MusicUpbeat), "falls back to any track")
	assert.Empty(t, PickMusic(filepath.Join(dir, "missing"), MusicSoft))
	assert.Empty(t, PickMusic("", MusicSoft))
}

func TestParseAspect(t *testing.T) {
	a, ok := ParseAspect("landscape")
	assert.True(t, ok)
	assert.Equal(t, types.AspectHorizontal, a)

	_, ok = ParseAspect("diagonal")
	assert.False(t, ok)

	w, h := Resolution("weird")
	assert.Equal(t, [2]int{1080, 1920}, [2]int{w, h})
}

func TestWrap(t *testing.T) {
	assert.Equal(t, "Give Luna a\nforever home", wrap("Give Luna a forever home", 12))
	assert.Equal(t, "x", wrap("x", 0))
}

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available")
	}
}

func TestRenderWithFFmpeg(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	exe, err := ffmpeg.New(logging.WithComponent("test"), 1)
	require.NoError(t, err)
	require.NoError(t, exe.Run(context.Background(), ffmpeg.RunOptions{Args: []string{
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=30:duration=3",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", clip,
	}}))

	cfg := testConfig(t)
	cfg.Compose.BurnCaptions = false
	cfg.Compose.IntroSec = 0.5
	cfg.Compose.CTASec = 0.5
	cfg.Compose.Preset = "ultrafast"
	cfg.Compose.DurationToleranceSec = 0.25
	cfg.Compose.CTASubline = ""

	job := types.RenderJob{
		ID: "it",
		Storyline: types.Storyline{
			Arc:   types.EmotionalArc{Stages: []types.Stage{types.StageSad, types.StageJoyful}},
			Beats: []types.Beat{{Index: 0, Stage: types.StageSad, Caption: "a", Weight: 1}, {Index: 1, Stage: types.StageJoyful, Caption: "b", Weight: 1}},
		},
		Segments: []types.Segment{
			{BeatIndex: 0, Stage: types.StageSad, Clip: types.ClipAsset{Path: clip, Duration: 3}, In: 0.5, Out: 2, Duration: 1.5},
			{BeatIndex: 1, Stage: types.StageJoyful, Clip: types.ClipAsset{Path: clip, Duration: 3}, In: 0, Out: 3, Duration: 1, Start: 1.5},
		},
		Narration: []types.NarrationSegment{{BeatIndex: 0, Silent: true}, {BeatIndex: 1, Silent: true}},
		Aspect:    types.AspectSquare,
		Output:    filepath.Join(dir, "out.mp4"),
	}

	res, err := New(cfg, exe).Render(context.Background(), job)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, res.Duration, 0.25)

	info, err := exe.Probe(context.Background(), res.Path)
	require.NoError(t, err)
	assert.Equal(t, 1080, info.Width)
	assert.True(t, info.HasAudio)
}
