package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/ffmpeg"
	"pet-adoption-pipeline/history"
	"pet-adoption-pipeline/types"
)

// fakeMedia probes every clip as 10s of video, touches every ffmpeg output
// and reports the final encode's -t as the output duration.
type fakeMedia struct {
	mu       sync.Mutex
	clipSec  float64
	finalSec float64
	runs     int
}

func (f *fakeMedia) Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error) {
	return &ffmpeg.MediaInfo{Path: path, Duration: f.clipSec, Width: 1920, Height: 1080, HasVideo: true}, nil
}

func (f *fakeMedia) ProbeDuration(ctx context.Context, path string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalSec, nil
}

func (f *fakeMedia) Run(ctx context.Context, opts ffmpeg.RunOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++

	args := opts.Args
	if strings.Contains(strings.Join(args, " "), "-f mp4") {
		for i := len(args) - 1; i > 0; i-- {
			if args[i-1] == "-t" {
				f.finalSec, _ = strconv.ParseFloat(args[i], 64)
				break
			}
		}
	}
	return os.WriteFile(args[len(args)-1], []byte("media"), 0644)
}

func petDir(t *testing.T, name, metadata string, clips int) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ClipsDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(metadata), 0644))
	for i := 0; i < clips; i++ {
		p := filepath.Join(dir, ClipsDir, "clip_"+strconv.Itoa(i)+".mp4")
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	return dir
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	root := t.TempDir()
	cfg.Paths.WorkDir = filepath.Join(root, "work")
	cfg.Paths.Output = filepath.Join(root, "out")
	cfg.Paths.MusicDir = ""
	return cfg
}

func TestGenerateEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	p, err := New(cfg, &fakeMedia{clipSec: 10}, nil, store)
	require.NoError(t, err)

	dir := petDir(t, "Buddy", `{"length_of_stay": 400, "tags": ["senior", "gentle"]}`, 5)
	res, err := p.Generate(context.Background(), Request{PetDir: dir, TargetDuration: 30})
	require.NoError(t, err)

	assert.Equal(t, "sad→hopeful→joyful", res.Arc)
	require.Len(t, res.Segments, 3)

	var at float64
	for _, s := range res.Segments {
		assert.InDelta(t, at, s.Start, 1e-6, "segments must be contiguous")
		at += s.Duration
	}
	assert.InDelta(t, 30, at, 1e-6)
	assert.InDelta(t, 30+cfg.Compose.IntroSec+cfg.Compose.CTASec, res.Duration, 0.01)

	assert.FileExists(t, res.Path)
	assert.NoFileExists(t, res.Path+".lock")
	assert.FileExists(t, strings.TrimSuffix(res.Path, ".mp4")+".json")
	assert.True(t, strings.HasPrefix(filepath.Base(res.Path), "buddy_"))

	kinds := map[types.WarningKind]int{}
	for _, w := range res.Warnings {
		kinds[w.Kind]++
	}
	assert.Equal(t, 3, kinds[types.WarnTTSFallback])
	assert.Equal(t, 1, kinds[types.WarnMusicMissing])
	assert.Zero(t, kinds[types.WarnProbeFailed])

	renders, err := store.ListRenders(5)
	require.NoError(t, err)
	require.Len(t, renders, 1)
	assert.Equal(t, history.StatusSucceeded, renders[0].Status)
	assert.Equal(t, "Buddy", renders[0].PetName)
	assert.Equal(t, res.JobID, renders[0].JobID)
}

func TestGenerateEmptyPool(t *testing.T) {
	cfg := testConfig(t)
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	p, err := New(cfg, &fakeMedia{clipSec: 10}, nil, store)
	require.NoError(t, err)

	dir := petDir(t, "Luna", `{"name": "Luna", "species": "cat"}`, 0)
	out := filepath.Join(t.TempDir(), "luna.mp4")
	_, err = p.Generate(context.Background(), Request{PetDir: dir, Output: out})

	var nc *types.NoClipsAvailableError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, 0, nc.PoolSize)
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, out+".lock")

	renders, err := store.ListRenders(5)
	require.NoError(t, err)
	require.Len(t, renders, 1)
	assert.Equal(t, history.StatusFailed, renders[0].Status)
}

func TestGenerateOutputConflict(t *testing.T) {
	p, err := New(testConfig(t), &fakeMedia{clipSec: 10}, nil, nil)
	require.NoError(t, err)
	dir := petDir(t, "Rex", `{"name": "Rex"}`, 2)

	out := filepath.Join(t.TempDir(), "rex.mp4")
	require.NoError(t, os.WriteFile(out+".lock", nil, 0644))

	_, err = p.Generate(context.Background(), Request{PetDir: dir, Output: out})
	var oc *types.OutputConflictError
	require.True(t, errors.As(err, &oc))

	require.NoError(t, os.Remove(out+".lock"))
	require.NoError(t, os.WriteFile(out, []byte("old"), 0644))
	_, err = p.Generate(context.Background(), Request{PetDir: dir, Output: out})
	require.True(t, errors.As(err, &oc))
}

func TestGenerateInlineMetadataAndTone(t *testing.T) {
	p, err := New(testConfig(t), &fakeMedia{clipSec: 10}, nil, nil)
	require.NoError(t, err)
	dir := petDir(t, "ignored", `{}`, 3)

	res, err := p.Generate(context.Background(), Request{
		Metadata: &types.PetMetadata{Name: "Pip", Species: "rabbit", Tags: []string{"playful"}},
		ClipsDir: filepath.Join(dir, ClipsDir),
		Tone:     "no-such-arc",
		Aspect:   "square",
		Output:   filepath.Join(t.TempDir(), "pip.mp4"),
	})
	require.NoError(t, err)
	assert.Equal(t, "playful→hopeful→joyful", res.Arc)

	var toneWarned bool
	for _, w := range res.Warnings {
		toneWarned = toneWarned || w.Kind == types.WarnToneUnknown
	}
	assert.True(t, toneWarned)
}

func TestGenerateMissingStayDays(t *testing.T) {
	p, err := New(testConfig(t), &fakeMedia{clipSec: 10}, nil, nil)
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), Request{
		Metadata: &types.PetMetadata{Name: "Rex"},
		Clips:    []string{"a.mp4"},
		Tone:     "long-stay",
		Output:   filepath.Join(t.TempDir(), "x.mp4"),
	})
	var im *types.InsufficientMetadataError
	require.True(t, errors.As(err, &im))
	assert.Equal(t, "StayDays", im.Field)
	assert.Equal(t, types.StageSad, im.Stage)
}

func TestGenerateInlineUnnamedPet(t *testing.T) {
	p, err := New(testConfig(t), &fakeMedia{clipSec: 10}, nil, nil)
	require.NoError(t, err)
	dir := petDir(t, "clips-only", `{}`, 5)

	res, err := p.Generate(context.Background(), Request{
		Metadata:       &types.PetMetadata{StayDays: 400, Tags: []string{"senior", "gentle"}},
		ClipsDir:       filepath.Join(dir, ClipsDir),
		TargetDuration: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, "sad→hopeful→joyful", res.Arc)
	require.Len(t, res.Segments, 3)
	assert.True(t, strings.HasPrefix(filepath.Base(res.Path), "this-pet_"))
	assert.FileExists(t, res.Path)
}

func TestGenerateRejectsInvalidRequest(t *testing.T) {
	p, err := New(testConfig(t), &fakeMedia{clipSec: 10}, nil, nil)
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), Request{})
	assert.ErrorContains(t, err, "invalid request")

	_, err = p.Generate(context.Background(), Request{PetDir: "x", Aspect: "diagonal"})
	assert.ErrorContains(t, err, "invalid request")

	// inline metadata with nowhere to read clips from
	_, err = p.Generate(context.Background(), Request{Metadata: &types.PetMetadata{Name: "Pip"}})
	var verr validator.ValidationErrors
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "ClipsDir", verr[0].Field())

	_, err = p.Generate(context.Background(), Request{PetDir: "x", TimeoutSec: -1})
	assert.ErrorContains(t, err, "invalid request")
}

// stallingMedia writes the partial output of the final encode, then blocks
// until the job's context ends.
type stallingMedia struct {
	*fakeMedia
}

func (s stallingMedia) Run(ctx context.Context, opts ffmpeg.RunOptions) error {
	if !strings.Contains(strings.Join(opts.Args, " "), "-f mp4") {
		return s.fakeMedia.Run(ctx, opts)
	}
	if err := os.WriteFile(opts.Args[len(opts.Args)-1], []byte("half"), 0644); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestGenerateTimeoutRemovesOutput(t *testing.T) {
	cases := []struct {
		name       string
		cfgTimeout int
		reqTimeout int
	}{
		{name: "config deadline", cfgTimeout: 1},
		{name: "request deadline", cfgTimeout: 900, reqTimeout: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Job.TimeoutSec = tc.cfgTimeout
			p, err := New(cfg, stallingMedia{&fakeMedia{clipSec: 10}}, nil, nil)
			require.NoError(t, err)

			dir := petDir(t, "Nova", `{"name": "Nova"}`, 3)
			out := filepath.Join(t.TempDir(), "nova.mp4")

			start := time.Now()
			_, err = p.Generate(context.Background(), Request{PetDir: dir, Output: out, TimeoutSec: tc.reqTimeout})
			require.Error(t, err)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Less(t, time.Since(start), 10*time.Second)

			assert.NoFileExists(t, out)
			assert.NoFileExists(t, out+".partial")
			assert.NoFileExists(t, out+".lock")
		})
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "sir-wiggles-3", slug("Sir Wiggles #3"))
	assert.Equal(t, "pet", slug("!!!"))
}

func TestDescribeMatchesGenerate(t *testing.T) {
	p, err := New(testConfig(t), &fakeMedia{clipSec: 10}, nil, nil)
	require.NoError(t, err)
	dir := petDir(t, "Mochi", `{"species": "cat", "length_of_stay": 200}`, 3)

	meta, story, err := p.Describe(Request{PetDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "Mochi", meta.Name)
	require.Len(t, story.Beats, len(story.Arc.Stages))

	res, err := p.Generate(context.Background(), Request{PetDir: dir, Output: filepath.Join(t.TempDir(), "m.mp4")})
	require.NoError(t, err)
	assert.Equal(t, story.Arc.String(), res.Arc)
}
