package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"techsheet/internal/api"
	slackbot "techsheet/internal/integrations/slack"
	"techsheet/internal/scheduler"
)

const shutdownSaveTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the Slack bot when configured, and the snapshot scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := Open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}
}

// Serve runs every long-lived component until ctx is done and saves the
// learner on the way out.
func (a *App) Serve(ctx context.Context) error {
	logger := a.Logger
	st := a.Learner.Status()
	logger.Info("starting techsheet",
		zap.String("phase", st.Phase),
		zap.Int("examples", st.TotalExamples),
		zap.Bool("rule_only", st.RuleOnly),
		zap.Bool("remote_store", st.Storage.HasPrimary),
		zap.Bool("slack", a.Config.SlackConfigured()),
	)

	g, gctx := errgroup.WithContext(ctx)
	snapshots, err := scheduler.StartSnapshotScheduler(gctx, a.Config, a.Learner, logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("snapshot scheduler: %w", err)
	}
	probes := scheduler.StartProbeScheduler(gctx, a.Config, a.Gateway, logger.Named("scheduler"))

	if logger.Core().Enabled(zap.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(a.Learner, logger.Named("api")))

	g.Go(func() error {
		return api.Serve(gctx, a.Config.HTTPAddr, router, logger.Named("api"))
	})
	if a.Config.SlackConfigured() {
		client := slack.New(a.Config.SlackBotToken, slack.OptionAppLevelToken(a.Config.SlackAppToken))
		bot := slackbot.New(a.Learner, a.Local, client, logger.Named("slack"))
		g.Go(func() error {
			if err := bot.Run(gctx, client); err != nil && gctx.Err() == nil {
				return fmt.Errorf("slack bot: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	<-snapshots
	<-probes

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownSaveTimeout)
	defer cancel()
	a.Learner.SaveSystemData(saveCtx)
	logger.Info("techsheet stopped")
	return err
}
