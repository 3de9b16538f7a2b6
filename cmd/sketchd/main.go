package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sketchd/internal/acquire"
	"sketchd/internal/common/fsutil"
	"sketchd/internal/config"
	"sketchd/internal/engine"
	"sketchd/internal/httpapi"
	"sketchd/internal/manager"
)

var version = "dev"

type options struct {
	configPath  string
	addr        string
	dataDir     string
	modelURL    string
	initOnStart bool
	logLevel    string
	corsOrigins []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "sketchd",
		Short:         "Model lifecycle and inference daemon for the sketch assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml/.yml/.json/.toml); flags override it")
	fl.StringVar(&opts.addr, "addr", "", "HTTP listen address, e.g. :8080")
	fl.StringVar(&opts.dataDir, "data-dir", "", "App storage directory for the model artifact")
	fl.StringVar(&opts.modelURL, "model-url", "", "Authenticated download URL used when no local model is found")
	fl.BoolVar(&opts.initOnStart, "init-on-start", true, "Start model initialization immediately instead of waiting for POST /initialize")
	fl.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fl.StringSliceVar(&opts.corsOrigins, "cors-origin", nil, "Allowed CORS origin (repeatable); CORS is off when unset")
	return cmd
}

func run(opts *options) error {
	lvl, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()

	var cfg config.Config
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			logger.Error().Err(err).Str("path", opts.configPath).Msg("load config")
			return err
		}
	}
	applyOverrides(&cfg, opts)
	applyDefaults(&cfg)

	acq := acquire.New(acquire.Config{
		DataDir:      cfg.DataDir,
		ExtraVolumes: cfg.ExtraVolumes,
		SharedDirs:   cfg.SharedDirs,
		FileName:     cfg.ModelFileName,
		URL:          cfg.ModelURL,
		Username:     cfg.KaggleUser,
		APIKey:       cfg.KaggleKey,
	}, logger)

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Acquirer: acq,
		Engine: engine.Config{
			ContextTokens: cfg.ContextTokens,
			Threads:       cfg.Threads,
			GPULayers:     cfg.GPULayers,
			MaxImages:     cfg.MaxImages,
		},
		Session: engine.SessionParams{
			TopK:         cfg.TopK,
			Temperature:  float32(cfg.Temperature),
			EnableVision: cfg.MaxImages > 0,
		},
		GenerateTimeout: time.Duration(cfg.GenerateTimeoutSeconds) * time.Second,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpapi.SetLogger(logger)
	httpapi.SetBaseContext(ctx)
	if len(opts.corsOrigins) > 0 {
		httpapi.SetCORSOptions(true, opts.corsOrigins,
			[]string{http.MethodGet, http.MethodPost, http.MethodOptions},
			[]string{"Content-Type", "X-Log-Level"})
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(mgr)}

	g, gctx := errgroup.WithContext(ctx)
	if opts.initOnStart {
		g.Go(func() error {
			if !mgr.InitializeOnce(gctx) {
				p := mgr.Progress()
				logger.Error().Str("failed_step", string(p.FailedStep)).Str("detail", p.Err).
					Msg("initialization failed; POST /retry to resume")
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("data_dir", cfg.DataDir).Msg("sketchd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})

	err = g.Wait()
	// Free the engine and session before exit.
	mgr.Reset()
	if err != nil {
		logger.Error().Err(err).Msg("sketchd exited with error")
	}
	return err
}

func applyOverrides(cfg *config.Config, opts *options) {
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.modelURL != "" {
		cfg.ModelURL = opts.modelURL
	}
	if cfg.KaggleUser == "" {
		cfg.KaggleUser = os.Getenv("KAGGLE_USERNAME")
	}
	if cfg.KaggleKey == "" {
		cfg.KaggleKey = os.Getenv("KAGGLE_KEY")
	}
}

func applyDefaults(cfg *config.Config) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "~/.local/share/sketchd"
	}
	if expanded, err := fsutil.ExpandHome(cfg.DataDir); err == nil {
		cfg.DataDir = expanded
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = 4096
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	if cfg.MaxImages < 0 {
		cfg.MaxImages = 0
	}
}
