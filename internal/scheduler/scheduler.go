package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"techsheet/internal/config"
)

// Saver writes a full snapshot of the learner.
type Saver interface {
	SaveSystemData(ctx context.Context)
}

// Prober re-checks the remote store and reports whether it answered.
type Prober interface {
	Probe(ctx context.Context) bool
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a standard 5-field cron expression or a descriptor
// such as "@hourly" or "@every 5m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// StartSnapshotScheduler saves the learner on cfg.SnapshotSchedule until ctx
// is done. An empty schedule disables it. The returned channel closes when
// the loop has stopped.
func StartSnapshotScheduler(ctx context.Context, cfg config.Config, saver Saver, logger *zap.Logger) (<-chan struct{}, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	spec := strings.TrimSpace(cfg.SnapshotSchedule)
	if spec == "" {
		logger.Info("snapshots disabled (snapshot_schedule not set)")
		return closed(), nil
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	logger.Info("snapshots scheduled", zap.String("cron", spec))
	return run(ctx, sched, "snapshot", logger, func(ctx context.Context) {
		saver.SaveSystemData(ctx)
	}), nil
}

// StartProbeScheduler re-probes the remote store every retry interval so a
// recovered database is noticed without waiting for the next write.
func StartProbeScheduler(ctx context.Context, cfg config.Config, prober Prober, logger *zap.Logger) <-chan struct{} {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PostgresURL == "" {
		return closed()
	}
	return run(ctx, cron.Every(cfg.PrimaryRetryInterval()), "probe", logger, func(ctx context.Context) {
		if !prober.Probe(ctx) {
			logger.Debug("remote store still unavailable")
		}
	})
}

func run(ctx context.Context, sched cron.Schedule, name string, logger *zap.Logger, job func(context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			logger.Debug("next run", zap.String("job", name), zap.Time("at", next), zap.Duration("in", wait.Round(time.Second)))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			job(ctx)
		}
	}()
	return done
}

func closed() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
