package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	emotion "pet-adoption-pipeline/01_emotion"
	storyline "pet-adoption-pipeline/02_storyline"
	narration "pet-adoption-pipeline/03_narration"
	pacing "pet-adoption-pipeline/04_pacing"
	compose "pet-adoption-pipeline/05_compose"
	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/ffmpeg"
	"pet-adoption-pipeline/history"
	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/types"
)

// Pet directory layout
const (
	MetadataFile = "metadata.json"
	ClipsDir     = "Clips"
)

// Request is one generation job as the CLI and HTTP API submit it. Clips
// come from ClipsDir, the Clips list, or <pet_dir>/Clips; a request with
// inline metadata and no pet dir must name one of the first two.
// TimeoutSec overrides job.timeout_sec when set.
type Request struct {
	PetDir   string             `json:"pet_dir" validate:"required_without=Metadata"`
	Metadata *types.PetMetadata `json:"metadata,omitempty"`
	ClipsDir string             `json:"clips_dir,omitempty" validate:"required_without_all=PetDir Clips"`
	Clips    []string           `json:"clips,omitempty" validate:"omitempty,dive,required"`
	Tone     string             `json:"tone,omitempty"`
	Aspect   string             `json:"aspect,omitempty" validate:"omitempty,oneof=vertical square horizontal portrait landscape"`
	// TargetDuration in seconds; 0 uses the configured default
	TargetDuration float64         `json:"target_duration,omitempty" validate:"gte=0,lte=600"`
	Output         string          `json:"out,omitempty"`
	MusicDir       string          `json:"music_dir,omitempty"`
	Title          string          `json:"title,omitempty"`
	CTA            string          `json:"cta,omitempty"`
	Stickers       []types.Sticker `json:"stickers,omitempty" validate:"omitempty,dive"`
	TimeoutSec     int             `json:"timeout_sec,omitempty" validate:"gte=0,lte=86400"`
}

// Media is the ffmpeg surface the pipeline needs: probing for the clip pool
// and TTS audio, running for the compositor.
type Media interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Run(ctx context.Context, opts ffmpeg.RunOptions) error
}

// Pipeline wires the stages together. It is safe for concurrent use; every
// Generate call is independent.
type Pipeline struct {
	cfg        *config.Config
	classifier *emotion.Classifier
	builder    *storyline.Builder
	synth      *narration.Synthesizer
	media      Media
	compositor *compose.Compositor
	store      *history.Store
	validate   *validator.Validate
	logger     zerolog.Logger
}

// New builds a pipeline. A nil tts renders every beat silent; a nil store
// skips history.
func New(cfg *config.Config, media Media, tts narration.TTS, store *history.Store) (*Pipeline, error) {
	classifier, err := emotion.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("arc catalog: %w", err)
	}
	builder, err := storyline.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("caption templates: %w", err)
	}
	return &Pipeline{
		cfg:        cfg,
		classifier: classifier,
		builder:    builder,
		synth:      narration.New(cfg, tts),
		media:      media,
		compositor: compose.New(cfg, media),
		store:      store,
		validate:   validator.New(),
		logger:     logging.WithComponent("pipeline"),
	}, nil
}

// Generate runs one request end to end and returns the render result. On
// any error no output file is left behind.
func (p *Pipeline) Generate(ctx context.Context, req Request) (types.RenderResult, error) {
	if err := p.validate.Struct(req); err != nil {
		return types.RenderResult{}, fmt.Errorf("invalid request: %w", err)
	}

	aspect, ok := compose.ParseAspect(firstNonEmpty(req.Aspect, p.cfg.Job.Aspect))
	if !ok {
		return types.RenderResult{}, fmt.Errorf("invalid aspect %q", p.cfg.Job.Aspect)
	}

	meta, err := p.loadMetadata(req)
	if err != nil {
		return types.RenderResult{}, err
	}

	jobID := uuid.NewString()
	output := req.Output
	if output == "" {
		output = filepath.Join(p.cfg.Paths.Output, fmt.Sprintf("%s_%s.mp4", slug(meta.Name), jobID[:8]))
	}

	release, err := claimOutput(output)
	if err != nil {
		return types.RenderResult{}, err
	}
	defer release()

	if d := p.timeout(req); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	logger := p.logger.With().Str("job", jobID[:8]).Str("pet", meta.Name).Logger()
	logger.Info().Str("output", output).Msg("pet adoption pipeline starting")

	started := time.Now()
	res, err := p.run(ctx, logger, jobID, req, meta, aspect, output)
	p.record(jobID, meta, output, res, err)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		logger.Error().Err(err).Msg("pipeline failed")
		return types.RenderResult{}, err
	}

	saveJSON(strings.TrimSuffix(output, filepath.Ext(output))+".json", res)
	logger.Info().
		Str("video", res.Path).
		Float64("duration", res.Duration).
		Int("warnings", len(res.Warnings)).
		Dur("took", time.Since(started)).
		Msg("pipeline complete")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logger zerolog.Logger, jobID string, req Request, meta types.PetMetadata, aspect types.Aspect, output string) (types.RenderResult, error) {
	var warnings []types.Warning

	// STAGE 1: emotion
	logger.Info().Msg("━━━ STAGE 1: Emotion ━━━")
	arc, warns := p.classifier.Resolve(meta, firstNonEmpty(req.Tone, p.cfg.Job.Tone))
	warnings = append(warnings, warns...)
	logger.Info().Str("arc", arc.Name).Str("stages", arc.String()).Msg("arc selected")

	// STAGE 2: storyline
	logger.Info().Msg("━━━ STAGE 2: Storyline ━━━")
	story, err := p.builder.Build(meta, arc)
	if err != nil {
		return types.RenderResult{}, fmt.Errorf("stage 2 storyline: %w", err)
	}

	// STAGE 3: narration runs alongside clip pool probing
	logger.Info().Msg("━━━ STAGE 3: Narration + clip pool ━━━")
	workDir := filepath.Join(p.cfg.Paths.WorkDir, jobID)
	if !p.cfg.Compose.KeepWorkDir {
		defer os.RemoveAll(workDir)
	}

	clipsDir := req.ClipsDir
	if clipsDir == "" && len(req.Clips) == 0 {
		clipsDir = filepath.Join(req.PetDir, ClipsDir)
	}

	var (
		wg        sync.WaitGroup
		segsNarr  []types.NarrationSegment
		narrWarns []types.Warning
		narrErr   error
		pool      []types.ClipAsset
		poolWarns []types.Warning
		poolErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		segsNarr, narrWarns, narrErr = p.synth.Synthesize(ctx, story.Beats, filepath.Join(workDir, "narration"))
	}()
	go func() {
		defer wg.Done()
		pool, poolWarns, poolErr = pacing.LoadPool(ctx, p.media, clipsDir, req.Clips)
	}()
	wg.Wait()

	if narrErr != nil {
		return types.RenderResult{}, fmt.Errorf("stage 3 narration: %w", narrErr)
	}
	if poolErr != nil {
		return types.RenderResult{}, fmt.Errorf("stage 3 clip pool: %w", poolErr)
	}
	warnings = append(warnings, poolWarns...)
	warnings = append(warnings, narrWarns...)
	logger.Info().Int("clips", len(pool)).Int("beats", len(segsNarr)).Msg("narration and pool ready")

	// STAGE 4: pacing
	logger.Info().Msg("━━━ STAGE 4: Clip selection ━━━")
	target := req.TargetDuration
	if target == 0 {
		target = p.cfg.Job.TargetDurationSec
	}
	segments, warns, err := pacing.Select(story.Beats, segsNarr, pool, pacing.Options{
		TargetDuration: target,
		MinUsableCut:   p.cfg.Pacing.MinUsableCutSec,
	})
	if err != nil {
		return types.RenderResult{}, fmt.Errorf("stage 4 pacing: %w", err)
	}
	warnings = append(warnings, warns...)

	// STAGE 5: compose
	logger.Info().Msg("━━━ STAGE 5: Rendering ━━━")
	res, err := p.compositor.Render(ctx, types.RenderJob{
		ID:        jobID,
		Storyline: story,
		Segments:  segments,
		Narration: segsNarr,
		Branding:  p.branding(req, meta),
		MusicDir:  firstNonEmpty(req.MusicDir, p.cfg.Paths.MusicDir),
		Aspect:    aspect,
		Output:    output,
	})
	if err != nil {
		return types.RenderResult{}, fmt.Errorf("stage 5 render: %w", err)
	}

	res.Warnings = append(warnings, res.Warnings...)
	return res, nil
}

// Describe reruns the text stages for req without rendering. The result
// matches what Generate produced for the same request, so a publish step
// can caption a video rendered earlier.
func (p *Pipeline) Describe(req Request) (types.PetMetadata, types.Storyline, error) {
	meta, err := p.loadMetadata(req)
	if err != nil {
		return meta, types.Storyline{}, err
	}
	arc, _ := p.classifier.Resolve(meta, firstNonEmpty(req.Tone, p.cfg.Job.Tone))
	story, err := p.builder.Build(meta, arc)
	return meta, story, err
}

// timeout prefers the request's own deadline over the configured one
func (p *Pipeline) timeout(req Request) time.Duration {
	if req.TimeoutSec > 0 {
		return time.Duration(req.TimeoutSec) * time.Second
	}
	return p.cfg.Job.Timeout()
}

func (p *Pipeline) branding(req Request, meta types.PetMetadata) types.Branding {
	return types.Branding{
		Title:    firstNonEmpty(req.Title, "Meet "+meta.Name),
		CTA:      firstNonEmpty(req.CTA, "Give "+meta.Name+" a home"),
		CTASub:   p.cfg.Compose.CTASubline,
		Logo:     p.cfg.Paths.LogoPath,
		Stickers: req.Stickers,
	}
}

// loadMetadata reads <pet_dir>/metadata.json unless the request carries
// metadata inline. A pet without a name takes its directory's name, or the
// caption default when there is no directory.
func (p *Pipeline) loadMetadata(req Request) (types.PetMetadata, error) {
	var meta types.PetMetadata
	if req.Metadata != nil {
		meta = *req.Metadata
	} else {
		path := filepath.Join(req.PetDir, MetadataFile)
		data, err := os.ReadFile(path)
		if err != nil {
			return meta, fmt.Errorf("read metadata: %w", err)
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			return meta, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if strings.TrimSpace(meta.Name) == "" && req.PetDir != "" {
		meta.Name = filepath.Base(filepath.Clean(req.PetDir))
	}
	if strings.TrimSpace(meta.Name) == "" {
		meta.Name = p.builder.Default("Name")
	}
	return meta, nil
}

func (p *Pipeline) record(jobID string, meta types.PetMetadata, output string, res types.RenderResult, runErr error) {
	if p.store == nil {
		return
	}
	r := history.Render{
		JobID:    jobID,
		PetID:    meta.ID,
		PetName:  meta.Name,
		Output:   output,
		Status:   history.StatusSucceeded,
		Arc:      res.Arc,
		Duration: res.Duration,
		Warnings: res.Warnings,
	}
	if runErr != nil {
		r.Status = history.StatusFailed
		r.Error = runErr.Error()
	}
	if _, err := p.store.RecordRender(r); err != nil {
		p.logger.Warn().Err(err).Msg("could not record render history")
	}
}

// claimOutput refuses an existing output path and holds <out>.lock for the
// duration of the job.
func claimOutput(output string) (func(), error) {
	if _, err := os.Stat(output); err == nil {
		return nil, &types.OutputConflictError{Path: output}
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	lock := output + ".lock"
	f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, &types.OutputConflictError{Path: output}
		}
		return nil, fmt.Errorf("lock output: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { os.Remove(lock) }, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	s = strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if s == "" {
		return "pet"
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func saveJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0644)
}
