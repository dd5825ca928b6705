package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/logging"
)

// ErrUnsupported marks a platform we can name but not upload to
var ErrUnsupported = errors.New("upload not supported")

// Result is what an adapter reports after a successful upload
type Result struct {
	ID  string
	URL string
}

// Adapter uploads a post to one platform
type Adapter interface {
	Name() string
	Publish(ctx context.Context, post Post) (Result, error)
}

// Outcome is the per-target result of a publish call
type Outcome struct {
	Platform  string    `json:"platform"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	VideoID   string    `json:"video_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	VideoPath string    `json:"video_path"`
	Title     string    `json:"title"`
	At        time.Time `json:"at"`
}

// Router dispatches a finished video to platform adapters
type Router struct {
	adapters map[string]Adapter
	logDir   string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRouter creates a router over the given adapters. Outcomes are logged
// as JSON under logDir/social when logDir is set.
func NewRouter(logDir string, adapters ...Adapter) *Router {
	r := &Router{
		adapters: make(map[string]Adapter, len(adapters)),
		logDir:   logDir,
		logger:   logging.WithComponent("publish"),
		now:      time.Now,
	}
	for _, a := range adapters {
		r.adapters[strings.ToLower(a.Name())] = a
	}
	return r
}

// New creates a router with every built-in platform
func New(cfg *config.Config) *Router {
	return NewRouter(cfg.Paths.Logs,
		NewYouTube(cfg.Publish, cfg.Secrets),
		NewFacebook(cfg.Publish, cfg.Secrets),
		Unsupported{Platform: "instagram", Reason: "direct Instagram video upload needs a publicly hosted video URL; cross-post from the Facebook page instead"},
		Unsupported{Platform: "tiktok", Reason: "TikTok upload needs an approved content-posting app scope"},
	)
}

// Targets lists the registered platform names
func (r *Router) Targets() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Publish uploads post to every target. One target failing never stops the
// others; every target gets an outcome.
func (r *Router) Publish(ctx context.Context, post Post, targets []string) map[string]Outcome {
	outcomes := make(map[string]Outcome, len(targets))

	var fileErr error
	if _, err := os.Stat(post.VideoPath); err != nil {
		fileErr = fmt.Errorf("video file: %w", err)
	}

	for _, raw := range targets {
		target := strings.ToLower(strings.TrimSpace(raw))
		if target == "" {
			continue
		}
		if _, done := outcomes[target]; done {
			continue
		}

		out := Outcome{Platform: target, VideoPath: post.VideoPath, Title: post.Title}

		adapter, ok := r.adapters[target]
		switch {
		case !ok:
			out.Message = fmt.Sprintf("unknown target %q", target)
		case fileErr != nil:
			out.Message = fileErr.Error()
		case ctx.Err() != nil:
			out.Message = ctx.Err().Error()
		default:
			r.logger.Info().Str("target", target).Str("title", post.Title).Msg("publishing")
			res, err := adapter.Publish(ctx, post)
			if err != nil {
				out.Message = err.Error()
			} else {
				out.Success = true
				out.Message = "published"
				out.VideoID = res.ID
				out.URL = res.URL
			}
		}
		out.At = r.now().UTC()

		if out.Success {
			r.logger.Info().Str("target", target).Str("url", out.URL).Msg("published")
		} else {
			r.logger.Warn().Str("target", target).Str("reason", out.Message).Msg("publish failed")
		}
		if err := r.logOutcome(out); err != nil {
			r.logger.Warn().Err(err).Str("target", target).Msg("could not write publish log")
		}
		outcomes[target] = out
	}
	return outcomes
}

// logOutcome writes <logDir>/social/<ts>_<platform>.json
func (r *Router) logOutcome(out Outcome) error {
	if r.logDir == "" {
		return nil
	}
	dir := filepath.Join(r.logDir, "social")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s.json", out.At.Format("20060102-150405"), strings.NewReplacer("/", "_", `\`, "_").Replace(out.Platform))
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}

// Unsupported is an adapter for a platform that is recognized but always
// fails with a reason.
type Unsupported struct {
	Platform string
	Reason   string
}

func (u Unsupported) Name() string { return u.Platform }

func (u Unsupported) Publish(ctx context.Context, post Post) (Result, error) {
	return Result{}, fmt.Errorf("%s: %w: %s", u.Platform, ErrUnsupported, u.Reason)
}
