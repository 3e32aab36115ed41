package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"techsheet/internal/config"
	"techsheet/internal/learning"
	"techsheet/internal/rules"
	"techsheet/internal/storage"
	"techsheet/internal/storage/postgres"
	"techsheet/internal/storage/sqlite"
)

// Execute runs the command line and exits non-zero on error.
func Execute() {
	if err := NewRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "techsheet",
		Short: "Turn a service running order into a tech production sheet",
		Long: `techsheet predicts camera, scene, mic, stream and notes for every item of a
church service running order. It starts from a keyword rule table and learns
from the corrections people make, moving through pattern matching to a small
neural network as confirmed examples accumulate.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.AddCommand(
		newServeCmd(),
		newPredictCmd(),
		newImportCmd(),
		newStatusCmd(),
		newReportCmd(),
	)
	return root
}

// App is everything one command needs, built from config.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Learner *learning.Coordinator
	Gateway *storage.Gateway
	Local   *sqlite.Store

	remote *postgres.Store
}

// Open loads config, opens the stores and restores the learner. A failed
// restore is logged and leaves the learner in rule-only mode.
func Open(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	a, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	ruleEngine, err := rules.Load(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	local, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	logger.Info("local store opened", zap.String("path", cfg.DBPath))

	var remote *postgres.Store
	var primary storage.Store
	if cfg.PostgresURL != "" {
		remote, err = postgres.Open(ctx, postgres.Config{ConnectionString: cfg.PostgresURL})
		if err != nil {
			logger.Warn("remote store unavailable at startup, continuing with local store only", zap.Error(err))
		} else {
			primary = remote
			logger.Info("remote store connected")
		}
	}

	gateway := storage.NewGateway(primary, local,
		storage.WithRetryInterval(cfg.PrimaryRetryInterval()),
		storage.WithLogger(logger.Named("storage")),
	)
	coord, err := learning.NewCoordinator(cfg.LearnerConfig(), ruleEngine, gateway,
		learning.WithLogger(logger.Named("learning")))
	if err != nil {
		local.Close()
		if remote != nil {
			remote.Close()
		}
		return nil, fmt.Errorf("create learner: %w", err)
	}
	// restore errors are already recorded in the learner status
	_ = coord.Initialize(ctx)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Learner: coord,
		Gateway: gateway,
		Local:   local,
		remote:  remote,
	}, nil
}

func (a *App) Close() {
	if err := a.Local.Close(); err != nil {
		a.Logger.Warn("closing local store", zap.Error(err))
	}
	if a.remote != nil {
		a.remote.Close()
	}
	a.Logger.Sync()
}

// NewLogger builds a JSON production logger or a console development
// logger at the given level.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
