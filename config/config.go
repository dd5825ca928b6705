package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

type Config struct {
	Job       JobConfig       `yaml:"job"`
	Arcs      []ArcConfig     `yaml:"arcs"`
	Storyline StorylineConfig `yaml:"storyline"`
	Narration NarrationConfig `yaml:"narration"`
	Pacing    PacingConfig    `yaml:"pacing"`
	Compose   ComposeConfig   `yaml:"compose"`
	Publish   PublishConfig   `yaml:"publish"`
	Paths     PathsConfig     `yaml:"paths"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`

	// Secrets never come from config.yaml, only from the environment / .env
	Secrets Secrets `yaml:"-"`
}

// JobConfig holds the defaults applied to a generation request
type JobConfig struct {
	Tone              string  `yaml:"tone"`
	Aspect            string  `yaml:"aspect"`
	TargetDurationSec float64 `yaml:"target_duration_sec"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

// ArcConfig is one entry of the emotional arc catalog. Every criterion that is
// set must hold for the rule to match.
type ArcConfig struct {
	Name        string   `yaml:"name"`
	Stages      []string `yaml:"stages"`
	MinStayDays int      `yaml:"min_stay_days"`
	MaxStayDays int      `yaml:"max_stay_days"`
	AnyTags     []string `yaml:"any_tags"`
	AnyKeywords []string `yaml:"any_keywords"`
	HealthFlags bool     `yaml:"health_flags"`
}

type StorylineConfig struct {
	Captions     map[string][]string `yaml:"captions"`
	Weights      map[string]float64  `yaml:"weights"`
	EndingBonus  float64             `yaml:"ending_bonus"`
	DefaultValue map[string]string   `yaml:"defaults"`
}

type NarrationConfig struct {
	Engine         string  `yaml:"engine"` // command | openai
	Voice          string  `yaml:"voice"`
	CommandVoice   string  `yaml:"command_voice"`
	Model          string  `yaml:"model"`
	Speed          float64 `yaml:"speed"`
	WordsPerMinute float64 `yaml:"words_per_minute"`
	MinFallbackSec float64 `yaml:"min_fallback_sec"`
	MaxParallel    int     `yaml:"max_parallel"`
	Attempts       int     `yaml:"attempts"`
}

type PacingConfig struct {
	MinUsableCutSec float64 `yaml:"min_usable_cut_sec"`
}

type ComposeConfig struct {
	FPS                  int     `yaml:"fps"`
	Fit                  string  `yaml:"fit"` // crop | letterbox
	CRF                  int     `yaml:"crf"`
	Preset               string  `yaml:"preset"`
	Threads              int     `yaml:"threads"`
	IntroSec             float64 `yaml:"intro_sec"`
	CTASec               float64 `yaml:"cta_sec"`
	CTASubline           string  `yaml:"cta_subline"`
	MusicDuckedGain      float64 `yaml:"music_ducked_gain"`
	MusicFullGain        float64 `yaml:"music_full_gain"`
	MusicFadeSec         float64 `yaml:"music_fade_sec"`
	BurnCaptions         bool    `yaml:"burn_captions"`
	CaptionFont          string  `yaml:"caption_font"`
	CaptionFontSize      int     `yaml:"caption_font_size"`
	CaptionWordsPerCue   int     `yaml:"caption_words_per_cue"`
	CaptionMarginBottom  int     `yaml:"caption_margin_bottom"`
	DurationToleranceSec float64 `yaml:"duration_tolerance_sec"`
	KeepWorkDir          bool    `yaml:"keep_work_dir"`
}

type PublishConfig struct {
	Targets           []string `yaml:"targets"`
	YouTubeCategoryID string   `yaml:"youtube_category_id"`
	Visibility        string   `yaml:"visibility"`
	DefaultLanguage   string   `yaml:"default_language"`
	MadeForKids       bool     `yaml:"made_for_kids"`
	BaseHashtags      []string `yaml:"base_hashtags"`
	TitleMaxChars     int      `yaml:"title_max_chars"`
	GraphAPIVersion   string   `yaml:"graph_api_version"`
}

type PathsConfig struct {
	PetsDir   string `yaml:"pets_dir"`
	MusicDir  string `yaml:"music_dir"`
	LogoPath  string `yaml:"logo_path"`
	Output    string `yaml:"output"`
	WorkDir   string `yaml:"work_dir"`
	Logs      string `yaml:"logs"`
	HistoryDB string `yaml:"history_db"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig binds the HTTP API. Paths in API requests must stay under
// paths.pets_dir / paths.music_dir (inputs) and paths.output (outputs).
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Secrets are read from the environment after .env has been loaded
type Secrets struct {
	OpenAIAPIKey        string `env:"OPENAI_API_KEY"`
	TTSCommand          string `env:"TTS_COMMAND"`
	YouTubeClientID     string `env:"YOUTUBE_CLIENT_ID"`
	YouTubeClientSecret string `env:"YOUTUBE_CLIENT_SECRET"`
	YouTubeRefreshToken string `env:"YOUTUBE_REFRESH_TOKEN"`
	FacebookPageID      string `env:"FB_PAGE_ID"`
	FacebookAccessToken string `env:"FB_ACCESS_TOKEN"`
	LogLevel            string `env:"LOG_LEVEL"`
}

// Timeout returns the per-request deadline, zero when unbounded
func (j JobConfig) Timeout() time.Duration {
	if j.TimeoutSec <= 0 {
		return 0
	}
	return time.Duration(j.TimeoutSec) * time.Second
}

// Load reads config.yaml over the defaults and then applies env secrets.
// An empty path searches the usual locations; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Secrets.LogLevel != "" {
		cfg.Log.Level = cfg.Secrets.LogLevel
	}

	return cfg, nil
}

// Default returns the built-in configuration. Arc catalog, captions and
// weights stay empty here; their packages fall back to built-in tables.
func Default() *Config {
	return &Config{
		Job: JobConfig{
			Tone:              "auto",
			Aspect:            "vertical",
			TargetDurationSec: 40,
			TimeoutSec:        900,
		},
		Storyline: StorylineConfig{
			EndingBonus: 0.25,
		},
		Narration: NarrationConfig{
			Engine:         "command",
			Voice:          "alloy",
			CommandVoice:   "en-US-JennyNeural",
			Model:          "tts-1",
			Speed:          1.0,
			WordsPerMinute: 150,
			MinFallbackSec: 1.5,
			MaxParallel:    4,
			Attempts:       3,
		},
		Pacing: PacingConfig{
			MinUsableCutSec: 0.5,
		},
		Compose: ComposeConfig{
			FPS:                  30,
			Fit:                  "crop",
			CRF:                  22,
			Preset:               "fast",
			IntroSec:             2.5,
			CTASec:               2.5,
			CTASubline:           "Adopt today",
			MusicDuckedGain:      0.25,
			MusicFullGain:        0.6,
			MusicFadeSec:         1.0,
			BurnCaptions:         true,
			CaptionFont:          "Arial",
			CaptionFontSize:      54,
			CaptionWordsPerCue:   4,
			CaptionMarginBottom:  160,
			DurationToleranceSec: 0.1,
		},
		Publish: PublishConfig{
			YouTubeCategoryID: "15",
			Visibility:        "public",
			DefaultLanguage:   "en",
			BaseHashtags:      []string{"adoptdontshop", "rescue", "adoptme"},
			TitleMaxChars:     70,
			GraphAPIVersion:   "v20.0",
		},
		Paths: PathsConfig{
			PetsDir:   "pets",
			MusicDir:  "assets/music",
			Output:    "out",
			WorkDir:   "out/work",
			Logs:      "out/logs",
			HistoryDB: "out/history.db",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".pet-adoption-pipeline", "config.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
