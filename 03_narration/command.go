package narration

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/types"
)

const edgeTTS = "edge-tts"

// CommandTTS shells out to edge-tts or a user-supplied TTS command.
// A custom command receives: --text "..." --output path/to/file.mp3
type CommandTTS struct {
	command  string
	voice    string
	rate     string
	attempts int
	backoff  time.Duration
	prober   DurationProber
	logger   zerolog.Logger
}

// NewCommandTTS creates a command-backed engine
func NewCommandTTS(cfg *config.Config, command string, prober DurationProber) *CommandTTS {
	attempts := cfg.Narration.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	return &CommandTTS{
		command:  strings.TrimSpace(command),
		voice:    cfg.Narration.CommandVoice,
		rate:     edgeRate(cfg.Narration.Speed),
		attempts: attempts,
		backoff:  2 * time.Second,
		prober:   prober,
		logger:   logging.WithComponent("tts"),
	}
}

// Synthesize runs the command with retries, then measures the result.
// edge-tts also writes a subtitle file that carries word timings.
func (c *CommandTTS) Synthesize(ctx context.Context, text, outPath string) (Speech, error) {
	subPath := strings.TrimSuffix(outPath, ".mp3") + ".vtt"

	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		cmd := c.buildCmd(ctx, text, outPath, subPath)
		out, runErr := cmd.CombinedOutput()
		if runErr == nil {
			err = nil
			break
		}
		err = fmt.Errorf("%s: %w: %s", c.command, runErr, strings.TrimSpace(string(out)))
		if ctx.Err() != nil {
			return Speech{}, ctx.Err()
		}
		if attempt < c.attempts {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("TTS attempt failed, retrying")
			select {
			case <-ctx.Done():
				return Speech{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
	}
	if err != nil {
		return Speech{}, err
	}

	dur, err := c.prober.ProbeDuration(ctx, outPath)
	if err != nil {
		return Speech{}, fmt.Errorf("measure %s: %w", outPath, err)
	}

	speech := Speech{Path: outPath, Duration: dur}
	if c.command == edgeTTS {
		if marks, err := readSubtitleMarks(subPath); err == nil {
			speech.Marks = marks
		} else {
			c.logger.Debug().Err(err).Msg("no word timing from edge-tts, will estimate")
		}
	}
	return speech, nil
}

func (c *CommandTTS) buildCmd(ctx context.Context, text, outPath, subPath string) *exec.Cmd {
	switch {
	case c.command == edgeTTS:
		return exec.CommandContext(ctx, edgeTTS,
			"--voice", c.voice,
			"--rate="+c.rate,
			"--text", text,
			"--write-media", outPath,
			"--write-subtitles", subPath,
		)
	case strings.HasSuffix(c.command, ".py"):
		return exec.CommandContext(ctx, "python3", c.command, "--text", text, "--output", outPath)
	}
	return exec.CommandContext(ctx, c.command, "--text", text, "--output", outPath)
}

// edgeRate converts a speed multiplier to edge-tts's "+10%" form
func edgeRate(speed float64) string {
	if speed <= 0 {
		speed = 1
	}
	return fmt.Sprintf("%+d%%", int(math.Round((speed-1)*100)))
}

// readSubtitleMarks parses the VTT/SRT file edge-tts writes. Cues with
// several words are split evenly across the cue.
func readSubtitleMarks(path string) ([]types.Mark, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var marks []types.Mark
	var start, end float64
	inCue := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if a, b, ok := strings.Cut(line, "-->"); ok {
			s, err1 := parseTimestamp(a)
			e, err2 := parseTimestamp(b)
			if err1 != nil || err2 != nil || e < s {
				inCue = false
				continue
			}
			start, end, inCue = s, e, true
			continue
		}
		if line == "" {
			inCue = false
			continue
		}
		if !inCue {
			continue
		}

		words := strings.Fields(line)
		step := (end - start) / float64(len(words))
		for i, w := range words {
			marks = append(marks, types.Mark{
				Word:  w,
				Start: start + float64(i)*step,
				End:   start + float64(i+1)*step,
			})
		}
		// a cue's later text lines share its span; only the first is timed
		inCue = false
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(marks) == 0 {
		return nil, fmt.Errorf("no cues in %s", path)
	}
	return marks, nil
}

// parseTimestamp reads "HH:MM:SS.mmm", "MM:SS.mmm" or "HH:MM:SS,mmm"
func parseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i] // drop cue settings
	}
	s = strings.Replace(s, ",", ".", 1)

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("bad timestamp %q: %w", s, err)
		}
		total = total*60 + v
	}
	return total, nil
}
