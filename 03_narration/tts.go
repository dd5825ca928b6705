package narration

import (
	"context"
	"fmt"
	"os/exec"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/types"
)

// Speech is what a TTS engine hands back for one caption
type Speech struct {
	Path     string
	Duration float64
	// Marks are optional; engines without word timing leave them empty
	Marks []types.Mark
}

// TTS turns text into an audio file at outPath
type TTS interface {
	Synthesize(ctx context.Context, text, outPath string) (Speech, error)
}

// DurationProber measures audio length, normally backed by ffprobe
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// NewTTS picks the engine named by narration.engine. The command engine uses
// TTS_COMMAND when set and falls back to edge-tts on PATH.
func NewTTS(cfg *config.Config, prober DurationProber) (TTS, error) {
	switch cfg.Narration.Engine {
	case "openai":
		if cfg.Secrets.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("narration engine openai needs OPENAI_API_KEY")
		}
		return NewOpenAITTS(cfg, prober), nil

	case "command", "":
		command := cfg.Secrets.TTSCommand
		if command == "" {
			if _, err := exec.LookPath("edge-tts"); err != nil {
				return nil, fmt.Errorf("no TTS engine found: set TTS_COMMAND or install edge-tts (pip install edge-tts)")
			}
			command = edgeTTS
		}
		return NewCommandTTS(cfg, command, prober), nil

	case "none":
		return nil, fmt.Errorf("narration disabled")
	}
	return nil, fmt.Errorf("unknown narration engine %q", cfg.Narration.Engine)
}
