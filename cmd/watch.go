package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/xeptore/chartd/config"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/log"
)

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func watch(cliCtx *cli.Context) error {
	ctx, cancel := signalContext(cliCtx)
	defer cancel()

	cfg, logger, err := setup(cliCtx)
	if nil != err {
		return err
	}

	r := newRunner(cfg, logger)
	cl := cronLogger{logger: logger.With().Str("module", "cron").Logger()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(cfg.Schedule, func() {
		if err := r.runOnce(ctx); nil != err {
			switch {
			case errutil.IsContext(ctx):
				logger.Debug().Msg("Run was interrupted by shutdown")
			case errutil.IsFlaw(err):
				logger.Error().Func(log.Flaw(err)).Msg("Run failed")
			default:
				logger.Error().Err(err).Msg("Run failed")
			}
		}
	}); nil != err {
		return fmt.Errorf("failed to parse schedule %q: %v", cfg.Schedule, err)
	}

	c.Start()
	logger.Info().Str("schedule", cfg.Schedule).Msg("Watching charts")
	<-ctx.Done()

	logger.Debug().Msg("Waiting for the running pass to stop")
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(config.TelegramShutdownGrace + config.TelegramSendReportTimeout):
		return errors.New("timed out waiting for the running pass to stop")
	}
	return context.Canceled
}
