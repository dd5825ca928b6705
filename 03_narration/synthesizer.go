package narration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/types"
)

var errNoEngine = errors.New("no TTS engine configured")

// Synthesizer runs one TTS call per beat as a fixed batch. A failed call
// degrades only its own beat.
type Synthesizer struct {
	tts         TTS
	maxParallel int
	wpm         float64
	minFallback float64
	logger      zerolog.Logger
}

// New creates a synthesizer. A nil tts turns every beat into a silent
// fallback.
func New(cfg *config.Config, tts TTS) *Synthesizer {
	n := cfg.Narration.MaxParallel
	if n <= 0 {
		n = 1
	}
	return &Synthesizer{
		tts:         tts,
		maxParallel: n,
		wpm:         cfg.Narration.WordsPerMinute,
		minFallback: cfg.Narration.MinFallbackSec,
		logger:      logging.WithComponent("narration"),
	}
}

type result struct {
	speech Speech
	err    error
}

// Synthesize returns one NarrationSegment per beat, in beat order, plus a
// tts_fallback warning for every beat that went silent. The error is non-nil
// only when ctx ends before the batch completes.
func (s *Synthesizer) Synthesize(ctx context.Context, beats []types.Beat, dir string) ([]types.NarrationSegment, []types.Warning, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create narration dir: %w", err)
	}

	s.logger.Info().Int("beats", len(beats)).Int("parallel", s.maxParallel).Msg("synthesizing narration")

	results := make([]result, len(beats))
	sem := make(chan struct{}, s.maxParallel)
	var wg sync.WaitGroup

	for i, beat := range beats {
		wg.Add(1)
		go func(i int, beat types.Beat) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = result{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			results[i] = s.synthesizeOne(ctx, beat, dir)
		}(i, beat)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	segments := make([]types.NarrationSegment, len(beats))
	var warnings []types.Warning
	for i, beat := range beats {
		r := results[i]
		if r.err != nil {
			dur := FallbackDuration(beat.Caption, s.wpm, s.minFallback)
			segments[i] = types.NarrationSegment{
				BeatIndex: beat.Index,
				Duration:  dur,
				Marks:     EstimateMarks(beat.Caption, dur),
				Silent:    true,
			}
			warnings = append(warnings, types.Warning{
				Kind:      types.WarnTTSFallback,
				BeatIndex: beat.Index,
				Message:   fmt.Sprintf("TTS failed, using %.2fs of silence: %v", dur, r.err),
			})
			s.logger.Warn().Int("beat", beat.Index).Err(r.err).Msg("TTS failed, silent fallback")
			continue
		}

		marks := r.speech.Marks
		if len(marks) == 0 {
			marks = EstimateMarks(beat.Caption, r.speech.Duration)
		}
		segments[i] = types.NarrationSegment{
			BeatIndex: beat.Index,
			AudioPath: r.speech.Path,
			Duration:  r.speech.Duration,
			Marks:     ClampMarks(marks, r.speech.Duration),
		}
		s.logger.Debug().Int("beat", beat.Index).Float64("duration", r.speech.Duration).Msg("narration ready")
	}

	return segments, warnings, nil
}

func (s *Synthesizer) synthesizeOne(ctx context.Context, beat types.Beat, dir string) (r result) {
	if s.tts == nil {
		return result{err: errNoEngine}
	}

	// a panicking engine must not take the batch down
	defer func() {
		if p := recover(); p != nil {
			r = result{err: fmt.Errorf("tts panic: %v", p)}
		}
	}()

	out := filepath.Join(dir, fmt.Sprintf("beat_%02d.mp3", beat.Index))
	speech, err := s.tts.Synthesize(ctx, beat.Caption, out)
	if err != nil {
		return result{err: err}
	}
	if speech.Duration <= 0 {
		return result{err: fmt.Errorf("engine reported no audio for beat %d", beat.Index)}
	}
	if speech.Path == "" {
		speech.Path = out
	}
	return result{speech: speech}
}
