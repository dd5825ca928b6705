package compose

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/ffmpeg"
	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/types"
)

// timelineEpsilon absorbs float drift when checking segment contiguity
const timelineEpsilon = 1e-3

// Media is the ffmpeg surface the compositor drives
type Media interface {
	Run(ctx context.Context, opts ffmpeg.RunOptions) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Compositor turns a placed timeline into one finished video file
type Compositor struct {
	cfg      config.ComposeConfig
	media    Media
	workRoot string
	logger   zerolog.Logger
}

// New creates a compositor. Intermediate files go under the configured
// work dir, one subdirectory per job.
func New(cfg *config.Config, media Media) *Compositor {
	root := cfg.Paths.WorkDir
	if root == "" {
		root = os.TempDir()
	}
	return &Compositor{
		cfg:      cfg.Compose,
		media:    media,
		workRoot: root,
		logger:   logging.WithComponent("compose"),
	}
}

// render carries the state of one Render call
type render struct {
	job      types.RenderJob
	work     string
	width    int
	height   int
	intro    float64
	cta      float64
	body     float64
	warnings []types.Warning
}

func (r *render) total() float64 {
	return r.intro + r.body + r.cta
}

// Render runs the whole composition for job and returns the result once the
// output file is in place. Nothing is left at job.Output on failure.
func (c *Compositor) Render(ctx context.Context, job types.RenderJob) (types.RenderResult, error) {
	if err := checkTimeline(job); err != nil {
		return types.RenderResult{}, &types.RenderFailedError{Segment: -1, Err: err}
	}
	if job.Output == "" {
		return types.RenderResult{}, &types.RenderFailedError{Segment: -1, Err: errors.New("no output path")}
	}
	if _, err := os.Stat(job.Output); err == nil {
		return types.RenderResult{}, &types.OutputConflictError{Path: job.Output}
	}

	w, h := Resolution(job.Aspect)
	r := &render{
		job:    job,
		work:   filepath.Join(c.workRoot, jobDir(job)),
		width:  w,
		height: h,
		intro:  math.Max(c.cfg.IntroSec, 0),
		cta:    math.Max(c.cfg.CTASec, 0),
	}
	for _, s := range job.Segments {
		r.body += s.Duration
	}

	if err := os.MkdirAll(r.work, 0755); err != nil {
		return types.RenderResult{}, &types.RenderFailedError{Segment: -1, Err: fmt.Errorf("create work dir: %w", err)}
	}
	if !c.cfg.KeepWorkDir {
		defer os.RemoveAll(r.work)
	}
	if dir := filepath.Dir(job.Output); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return types.RenderResult{}, &types.RenderFailedError{Segment: -1, Err: fmt.Errorf("create output dir: %w", err)}
		}
	}

	logger := c.logger.With().Str("job", job.ID).Logger()
	logger.Info().
		Int("segments", len(job.Segments)).
		Str("aspect", string(job.Aspect)).
		Float64("duration", r.total()).
		Msg("rendering")

	partial := job.Output + ".partial"
	duration, err := c.compose(ctx, r, partial, logger)
	if err != nil {
		os.Remove(partial)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.RenderResult{}, ctxErr
		}
		return types.RenderResult{}, err
	}

	if err := os.Rename(partial, job.Output); err != nil {
		os.Remove(partial)
		return types.RenderResult{}, &types.RenderFailedError{Segment: -1, Err: fmt.Errorf("finalize output: %w", err)}
	}

	logger.Info().Str("output", job.Output).Float64("duration", duration).Msg("render complete")

	return types.RenderResult{
		JobID:    job.ID,
		Path:     job.Output,
		Duration: duration,
		Arc:      job.Storyline.Arc.String(),
		Segments: reports(job.Segments),
		Warnings: r.warnings,
	}, nil
}

// compose writes the finished video to partial and returns its duration
func (c *Compositor) compose(ctx context.Context, r *render, partial string, logger zerolog.Logger) (float64, error) {
	var parts []string

	encode := c.videoEncodeArgs()

	if r.intro > 0 {
		path := filepath.Join(r.work, "intro.mp4")
		args := introCard(r.job.Branding).args(c.font(), r.width, r.height, c.fps(), r.intro, encode, path)
		if err := c.media.Run(ctx, ffmpeg.RunOptions{Args: args}); err != nil {
			return 0, &types.RenderFailedError{Segment: -1, Err: fmt.Errorf("intro card: %w", err)}
		}
		parts = append(parts, path)
	}

	for i, seg := range r.job.Segments {
		path, err := c.renderSegment(ctx, r, i, seg, encode)
		if err != nil {
			return 0, &types.RenderFailedError{Segment: i, Err: err}
		}
		logger.Debug().Int("segment", i).Str("clip", filepath.Base(seg.Clip.Path)).Str("grade", seg.Grade.Name).Msg("segment rendered")
		parts = append(parts, path)
	}

	if r.cta > 0 {
		branding := r.job.Branding
		if branding.CTASub == "" {
			branding.CTASub = c.cfg.CTASubline
		}
		path := filepath.Join(r.work, "cta.mp4")
		args := ctaCard(branding).args(c.font(), r.width, r.height, c.fps(), r.cta, encode, path)
		if err := c.media.Run(ctx, ffmpeg.RunOptions{Args: args}); err != nil {
			return 0, &types.RenderFailedError{Segment: -1, Err: fmt.Errorf("cta card: %w", err)}
		}
		parts = append(parts, path)
	}

	video := filepath.Join(r.work, "video.mp4")
	if err := c.concat(ctx, parts, video); err != nil {
		return 0, &types.RenderFailedError{Segment: -1, Err: fmt.Errorf("join video: %w", err)}
	}

	voice, err := c.narrationTrack(ctx, r)
	if err != nil {
		return 0, err
	}

	var subs string
	if c.cfg.BurnCaptions {
		subs = filepath.Join(r.work, "captions.ass")
		cues := BuildCues(r.job.Segments, r.job.Narration, r.job.Storyline.Beats, r.intro, c.cfg.CaptionWordsPerCue)
		style := assStyle{
			Font:         c.font(),
			FontSize:     c.cfg.CaptionFontSize * r.width / 1080,
			MarginBottom: c.cfg.CaptionMarginBottom * r.height / 1920,
			Width:        r.width,
			Height:       r.height,
		}
		if err := writeASS(subs, cues, style); err != nil {
			return 0, &types.RenderFailedError{Segment: -1, Err: fmt.Errorf("write captions: %w", err)}
		}
	}

	music := PickMusic(r.job.MusicDir, DominantMood(r.job.Segments))
	if music == "" {
		r.warnings = append(r.warnings, types.Warning{
			Kind:      types.WarnMusicMissing,
			BeatIndex: -1,
			Message:   fmt.Sprintf("no music found under %q, rendering without a music bed", r.job.MusicDir),
		})
	}

	args := c.finalArgs(r, video, voice, music, subs, partial)
	total := r.total()
	err = c.media.Run(ctx, ffmpeg.RunOptions{
		Args: args,
		ProgressHandler: func(p *ffmpeg.Progress) {
			if total > 0 {
				logger.Debug().Float64("percent", math.Min(p.OutTime/total*100, 100)).Str("speed", p.Speed).Msg("encoding")
			}
		},
	})
	if err != nil {
		return 0, &types.RenderFailedError{Segment: -1, Err: fmt.Errorf("final encode: %w", err)}
	}

	got, err := c.media.ProbeDuration(ctx, partial)
	if err != nil {
		r.warnings = append(r.warnings, types.Warning{
			Kind:      types.WarnDurationDiff,
			BeatIndex: -1,
			Message:   fmt.Sprintf("could not probe output duration: %v", err),
		})
		return total, nil
	}
	if math.Abs(got-total) > c.tolerance() {
		return 0, &types.RenderFailedError{
			Segment: -1,
			Err:     fmt.Errorf("output is %.3fs, timeline is %.3fs", got, total),
		}
	}
	return got, nil
}

// renderSegment cuts, fits and grades one clip range into its own file
func (c *Compositor) renderSegment(ctx context.Context, r *render, i int, seg types.Segment, encode []string) (string, error) {
	out := filepath.Join(r.work, fmt.Sprintf("seg_%02d.mp4", i))
	dur := fmt.Sprintf("%.3f", seg.Duration)

	var args []string
	if seg.Looped {
		args = append(args, "-stream_loop", "-1", "-i", seg.Clip.Path)
	} else {
		args = append(args, "-ss", fmt.Sprintf("%.3f", seg.In), "-t", dur, "-i", seg.Clip.Path)
	}
	args = append(args,
		"-vf", segmentFilter(c.cfg.Fit, r.width, r.height, c.fps(), seg.Grade),
		"-an",
	)
	args = append(args, encode...)
	args = append(args, "-t", dur, out)

	if err := c.media.Run(ctx, ffmpeg.RunOptions{Args: args}); err != nil {
		return "", err
	}
	return out, nil
}

// narrationTrack lays every beat's speech into a slot the length of its
// segment and joins the slots into one wav.
func (c *Compositor) narrationTrack(ctx context.Context, r *render) (string, error) {
	slots := make([]string, 0, len(r.job.Segments))
	for i, seg := range r.job.Segments {
		out := filepath.Join(r.work, fmt.Sprintf("voice_%02d.wav", i))
		dur := fmt.Sprintf("%.3f", seg.Duration)

		narr := r.job.Narration[i]
		var args []string
		if narr.Silent || narr.AudioPath == "" {
			args = []string{
				"-f", "lavfi",
				"-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", ffmpeg.DefaultSampleRate),
				"-t", dur,
			}
		} else {
			args = []string{
				"-i", narr.AudioPath,
				"-af", fmt.Sprintf("apad,atrim=end=%s", dur),
				"-t", dur,
			}
		}
		args = append(args,
			"-ar", fmt.Sprint(ffmpeg.DefaultSampleRate),
			"-ac", "2",
			"-c:a", "pcm_s16le",
			out,
		)
		if err := c.media.Run(ctx, ffmpeg.RunOptions{Args: args}); err != nil {
			return "", &types.RenderFailedError{Segment: i, Err: fmt.Errorf("narration slot: %w", err)}
		}
		slots = append(slots, out)
	}

	track := filepath.Join(r.work, "voice.wav")
	if err := c.concat(ctx, slots, track); err != nil {
		return "", &types.RenderFailedError{Segment: -1, Err: fmt.Errorf("join narration: %w", err)}
	}
	return track, nil
}

// finalArgs mixes video, narration and music, burns captions and stickers,
// and encodes to the aspect's resolution.
func (c *Compositor) finalArgs(r *render, video, voice, music, subs, out string) []string {
	total := r.total()
	args := []string{"-i", video, "-i", voice}

	musicIdx := -1
	next := 2
	if music != "" {
		args = append(args, "-stream_loop", "-1", "-i", music)
		musicIdx = next
		next++
	}

	var graph []string

	vbase := "[0:v]"
	if subs != "" {
		graph = append(graph, fmt.Sprintf("%ssubtitles=filename='%s'[vsub]", vbase, ffmpeg.EscapePath(subs)))
		vbase = "[vsub]"
	}
	for i, st := range r.job.Branding.Stickers {
		if st.Path == "" {
			continue
		}
		args = append(args, "-i", st.Path)
		label := fmt.Sprintf("[vst%d]", i)
		graph = append(graph, stickerOverlay(st, next, r.width, vbase, label))
		vbase = label
		next++
	}
	graph = append(graph, vbase+"format=yuv420p[vout]")

	delayMs := int(math.Round(r.intro * 1000))
	voiceChain := fmt.Sprintf("[1:a]adelay=%d:all=1,apad,atrim=0:%.3f", delayMs, total)
	if musicIdx < 0 {
		graph = append(graph, voiceChain+"[aout]")
	} else {
		graph = append(graph, voiceChain+"[voice]")

		fade := c.cfg.MusicFadeSec
		if fade*2 > total {
			fade = total / 2
		}
		windows := speechWindows(r.job.Segments, r.job.Narration, r.intro)
		music := fmt.Sprintf("[%d:a]atrim=0:%.3f,asetpts=PTS-STARTPTS,%s", musicIdx, total,
			duckVolume(windows, c.cfg.MusicDuckedGain, c.cfg.MusicFullGain))
		if fade > 0 {
			music += fmt.Sprintf(",afade=t=in:st=0:d=%.3f,afade=t=out:st=%.3f:d=%.3f", fade, total-fade, fade)
		}
		graph = append(graph,
			music+"[music]",
			"[voice][music]amix=inputs=2:duration=first:normalize=0[aout]",
		)
	}

	args = append(args,
		"-filter_complex", strings.Join(graph, ";"),
		"-map", "[vout]",
		"-map", "[aout]",
	)
	args = append(args, c.videoEncodeArgs()...)
	return append(args,
		"-c:a", ffmpeg.DefaultAudioCodec,
		"-b:a", "192k",
		"-ar", fmt.Sprint(ffmpeg.DefaultSampleRate),
		"-t", fmt.Sprintf("%.3f", total),
		"-movflags", "+faststart",
		"-f", "mp4",
		out,
	)
}

func (c *Compositor) concat(ctx context.Context, inputs []string, out string) error {
	args, err := ffmpeg.ConcatArgs(ffmpeg.ConcatOptions{Inputs: inputs, Output: out, Copy: true})
	if err != nil {
		return err
	}
	return c.media.Run(ctx, ffmpeg.RunOptions{Args: args})
}

func (c *Compositor) videoEncodeArgs() []string {
	crf := c.cfg.CRF
	if crf <= 0 {
		crf = ffmpeg.DefaultCRF
	}
	preset := c.cfg.Preset
	if preset == "" {
		preset = ffmpeg.DefaultPreset
	}
	return []string{
		"-c:v", ffmpeg.DefaultVideoCodec,
		"-preset", preset,
		"-crf", fmt.Sprint(crf),
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprint(c.fps()),
	}
}

func (c *Compositor) fps() int {
	if c.cfg.FPS <= 0 {
		return 30
	}
	return c.cfg.FPS
}

func (c *Compositor) font() string {
	if c.cfg.CaptionFont == "" {
		return "Arial"
	}
	return c.cfg.CaptionFont
}

func (c *Compositor) tolerance() float64 {
	if c.cfg.DurationToleranceSec <= 0 {
		return 0.1
	}
	return c.cfg.DurationToleranceSec
}

// checkTimeline rejects jobs whose segments do not tile the body exactly
func checkTimeline(job types.RenderJob) error {
	if len(job.Segments) == 0 {
		return errors.New("timeline has no segments")
	}
	if len(job.Narration) != len(job.Segments) {
		return fmt.Errorf("timeline has %d segments but %d narration slots", len(job.Segments), len(job.Narration))
	}
	var at float64
	for i, s := range job.Segments {
		if s.Duration <= 0 {
			return fmt.Errorf("segment %d has no duration", i)
		}
		if math.Abs(s.Start-at) > timelineEpsilon {
			return fmt.Errorf("segment %d starts at %.3f, expected %.3f", i, s.Start, at)
		}
		if s.Clip.Path == "" {
			return fmt.Errorf("segment %d has no clip", i)
		}
		at += s.Duration
	}
	return nil
}

func jobDir(job types.RenderJob) string {
	if job.ID != "" {
		return job.ID
	}
	base := filepath.Base(job.Output)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func reports(segments []types.Segment) []types.SegmentReport {
	out := make([]types.SegmentReport, len(segments))
	for i, s := range segments {
		out[i] = types.SegmentReport{
			BeatIndex: s.BeatIndex,
			Stage:     s.Stage,
			Clip:      s.Clip.Path,
			In:        s.In,
			Out:       s.Out,
			Start:     s.Start,
			Duration:  s.Duration,
			Looped:    s.Looped,
			Grade:     s.Grade.Name,
		}
	}
	return out
}
