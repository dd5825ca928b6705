package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	narration "pet-adoption-pipeline/03_narration"
	publish "pet-adoption-pipeline/06_publish"
	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/ffmpeg"
	"pet-adoption-pipeline/history"
	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/pipeline"
	"pet-adoption-pipeline/server"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "petreel",
	Short:         "petreel - emotional adoption videos from pet clips",
	Long:          "Turns a pet's metadata and raw clips into a narrated, captioned short video with an emotional arc, and optionally publishes it.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is for local dev; CI injects secrets directly
		_ = godotenv.Load()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logging.Init(cfg.Log, verbose)

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	generateCmd.Flags().String("pet-dir", "", "pet directory holding metadata.json and Clips/")
	generateCmd.Flags().String("clips", "", "clip directory (default: <pet-dir>/Clips)")
	generateCmd.Flags().String("tone", "", "arc name or auto")
	generateCmd.Flags().String("aspect", "", "vertical, square or horizontal")
	generateCmd.Flags().Float64("target", 0, "target clip timeline length in seconds")
	generateCmd.Flags().String("out", "", "output .mp4 path")
	generateCmd.Flags().String("music", "", "music directory")
	generateCmd.Flags().StringSlice("publish", nil, "platforms to publish to after rendering")
	generateCmd.Flags().Int("timeout", 0, "abort the render after this many seconds (default: job.timeout_sec)")
	_ = generateCmd.MarkFlagRequired("pet-dir")

	publishCmd.Flags().String("video", "", "rendered video to upload")
	publishCmd.Flags().String("pet-dir", "", "pet directory the video was rendered from")
	publishCmd.Flags().String("tone", "", "arc name or auto, as used when rendering")
	publishCmd.Flags().String("job", "", "job ID to attach the outcomes to in history")
	publishCmd.Flags().StringSlice("targets", nil, "platforms to publish to (default: publish.targets)")
	_ = publishCmd.MarkFlagRequired("video")
	_ = publishCmd.MarkFlagRequired("pet-dir")

	serveCmd.Flags().String("addr", "", "listen address (default: server.addr)")

	historyCmd.Flags().Int("limit", 20, "number of renders to show")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render an adoption video for one pet",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		f := cmd.Flags()

		req := pipeline.Request{}
		req.PetDir, _ = f.GetString("pet-dir")
		req.ClipsDir, _ = f.GetString("clips")
		req.Tone, _ = f.GetString("tone")
		req.Aspect, _ = f.GetString("aspect")
		req.TargetDuration, _ = f.GetFloat64("target")
		req.Output, _ = f.GetString("out")
		req.MusicDir, _ = f.GetString("music")
		req.TimeoutSec, _ = f.GetInt("timeout")
		targets, _ := f.GetStringSlice("publish")

		app, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer app.close()

		res, err := app.pipe.Generate(cmd.Context(), req)
		if err != nil {
			return err
		}
		for _, w := range res.Warnings {
			log.Warn().Str("kind", string(w.Kind)).Int("beat", w.BeatIndex).Msg(w.Message)
		}
		log.Info().Str("video", res.Path).Float64("duration", res.Duration).Str("arc", res.Arc).Msg("video ready")

		if len(targets) == 0 {
			return nil
		}
		return app.publish(cmd.Context(), res.JobID, res.Path, req, targets)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a rendered video to social platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		f := cmd.Flags()

		video, _ := f.GetString("video")
		jobID, _ := f.GetString("job")
		req := pipeline.Request{}
		req.PetDir, _ = f.GetString("pet-dir")
		req.Tone, _ = f.GetString("tone")
		targets, _ := f.GetStringSlice("targets")
		if len(targets) == 0 {
			targets = cfg.Publish.Targets
		}
		if len(targets) == 0 {
			return fmt.Errorf("no targets: pass --targets or set publish.targets")
		}

		app, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer app.close()
		return app.publish(cmd.Context(), jobID, video, req, targets)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}

		app, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer app.close()

		api := server.NewApp(app.pipe, app.router, app.store, server.Options{
			RequestTimeout: cfg.Job.Timeout(),
			InputRoots:     []string{cfg.Paths.PetsDir, cfg.Paths.MusicDir},
			OutputRoot:     cfg.Paths.Output,
		})
		return api.Serve(cmd.Context(), addr)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent renders",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := history.NewStore(cfg.Paths.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()

		renders, err := store.ListRenders(limit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(renders)
	},
}

// app holds the long-lived pieces the commands share
type app struct {
	cfg    *config.Config
	pipe   *pipeline.Pipeline
	router *publish.Router
	store  *history.Store
}

func newApp(cfg *config.Config) (*app, error) {
	media, err := ffmpeg.New(log.Logger, cfg.Compose.Threads)
	if err != nil {
		return nil, err
	}

	var tts narration.TTS
	if engine, err := narration.NewTTS(cfg, media); err != nil {
		log.Warn().Err(err).Msg("narration unavailable, beats will be silent")
	} else {
		tts = engine
	}

	store, err := history.NewStore(cfg.Paths.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	pipe, err := pipeline.New(cfg, media, tts, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, pipe: pipe, router: publish.New(cfg), store: store}, nil
}

func (a *app) close() {
	a.store.Close()
}

func (a *app) publish(ctx context.Context, jobID, video string, req pipeline.Request, targets []string) error {
	meta, story, err := a.pipe.Describe(req)
	if err != nil {
		return fmt.Errorf("describe %s: %w", filepath.Base(req.PetDir), err)
	}
	post := publish.BuildPost(a.cfg.Publish, video, meta, story)
	outcomes := a.router.Publish(ctx, post, targets)

	var failed []string
	for _, o := range outcomes {
		if _, err := a.store.RecordPublish(history.Publish{
			JobID:     jobID,
			Platform:  o.Platform,
			Success:   o.Success,
			Message:   o.Message,
			URL:       o.URL,
			VideoPath: o.VideoPath,
			CreatedAt: o.At,
		}); err != nil {
			log.Warn().Err(err).Msg("could not record publish history")
		}
		if o.Success {
			log.Info().Str("platform", o.Platform).Str("url", o.URL).Msg("published")
			continue
		}
		log.Error().Str("platform", o.Platform).Msg(o.Message)
		failed = append(failed, o.Platform)
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("publish failed for %s", strings.Join(failed, ", "))
	}
	return nil
}
