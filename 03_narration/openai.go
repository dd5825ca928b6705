package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"pet-adoption-pipeline/config"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAITTS calls the OpenAI speech endpoint. It returns no word marks.
type OpenAITTS struct {
	apiKey     string
	model      string
	voice      string
	speed      float64
	baseURL    string
	httpClient *http.Client
	prober     DurationProber
}

// NewOpenAITTS creates an OpenAI-backed engine
func NewOpenAITTS(cfg *config.Config, prober DurationProber) *OpenAITTS {
	return &OpenAITTS{
		apiKey:     cfg.Secrets.OpenAIAPIKey,
		model:      cfg.Narration.Model,
		voice:      cfg.Narration.Voice,
		speed:      cfg.Narration.Speed,
		baseURL:    openAIBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		prober:     prober,
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

// Synthesize posts the text and stores the mp3 body at outPath
func (o *OpenAITTS) Synthesize(ctx context.Context, text, outPath string) (Speech, error) {
	body, err := json.Marshal(speechRequest{
		Model:          o.model,
		Voice:          o.voice,
		Input:          text,
		Speed:          o.speed,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return Speech{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return Speech{}, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Speech{}, fmt.Errorf("openai speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Speech{}, fmt.Errorf("openai speech: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	f, err := os.Create(outPath)
	if err != nil {
		return Speech{}, err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return Speech{}, fmt.Errorf("write %s: %w", outPath, err)
	}
	if err := f.Close(); err != nil {
		return Speech{}, err
	}

	dur, err := o.prober.ProbeDuration(ctx, outPath)
	if err != nil {
		return Speech{}, fmt.Errorf("measure %s: %w", outPath, err)
	}
	return Speech{Path: outPath, Duration: dur}, nil
}
