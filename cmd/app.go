package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/auth"
	"github.com/xeptore/chartd/cache"
	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/chartsapi"
	"github.com/xeptore/chartd/config"
	"github.com/xeptore/chartd/ctxutil"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/fetch"
	"github.com/xeptore/chartd/log"
	"github.com/xeptore/chartd/merge"
	"github.com/xeptore/chartd/notify"
	"github.com/xeptore/chartd/objectstore"
	"github.com/xeptore/chartd/orchestrator"
	"github.com/xeptore/chartd/pipeline"
	"github.com/xeptore/chartd/report"
	"github.com/xeptore/chartd/retry"
	"github.com/xeptore/chartd/store"
	"github.com/xeptore/chartd/store/redisstore"
	"github.com/xeptore/chartd/store/sqlitestore"
	"github.com/xeptore/chartd/tag"
)

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	var (
		inner store.Store
		err   error
	)
	switch cfg.Store.Driver {
	case config.StoreDriverRedis:
		inner, err = redisstore.New(ctx, cfg.Store.Redis)
	case config.StoreDriverSQLite:
		inner, err = sqlitestore.New(ctx, cfg.Store.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	if nil != err {
		return nil, err
	}
	return store.WithRetry(inner, retryPolicy(cfg), logger.With().Str("module", "store").Logger()), nil
}

func openBucket(ctx context.Context, cfg *config.Config) (objectstore.Bucket, error) {
	switch cfg.ObjectStore.Driver {
	case config.ObjectStoreDriverGCS:
		return objectstore.NewGCS(ctx, cfg.ObjectStore.Bucket, cfg.ObjectStore.CredentialsFile)
	case config.ObjectStoreDriverLocal:
		return objectstore.NewLocal(cfg.ObjectStore.LocalDir)
	default:
		return nil, fmt.Errorf("unsupported object store driver %q", cfg.ObjectStore.Driver)
	}
}

func toCatalogChannels(service string, channels []config.Channel) []catalog.Channel {
	return lo.Map(channels, func(ch config.Channel, _ int) catalog.Channel {
		return catalog.Channel{
			ID:      lo.CoalesceOrEmpty(ch.ID, ch.Title),
			Title:   ch.Title,
			Service: lo.CoalesceOrEmpty(ch.Service, service),
			Region:  ch.Region,
			Genre:   ch.Genre,
		}
	})
}

// runner owns the components that live for the whole process. Connections
// to the catalog store and the bucket are opened per run.
type runner struct {
	cfg      *config.Config
	cache    *cache.Cache
	source   auth.Source
	notifier *notify.Telegram
	logger   zerolog.Logger
}

func newRunner(cfg *config.Config, logger zerolog.Logger) *runner {
	r := &runner{
		cfg:      cfg,
		cache:    cache.New(),
		source:   auth.NewFileSource(cfg.Auth.TokenFile),
		notifier: nil,
		logger:   logger,
	}
	if nil != cfg.Telegram {
		r.notifier = notify.NewTelegram(*cfg.Telegram, logger.With().Str("module", "notify").Logger())
	}
	return r
}

func (r *runner) channels(ctx context.Context, s store.Store) ([]catalog.Channel, error) {
	if len(r.cfg.Channels) > 0 {
		return store.FilterService(toCatalogChannels(r.cfg.Service, r.cfg.Channels), r.cfg.Service), nil
	}
	channels, err := s.Channels(ctx)
	if nil != err {
		return nil, err
	}
	return store.FilterService(channels, r.cfg.Service), nil
}

// runOnce processes every channel, then reports the outcome. The returned
// error is the run-level failure, if any. Per-channel failures only show up
// in the report.
func (r *runner) runOnce(ctx context.Context) (err error) {
	runID := uuid.NewString()
	logger := r.logger.With().Str("run_id", runID).Logger()
	startedAt := time.Now()

	runCtx, cancel := ctxutil.WithOptionalTimeout(ctx, r.cfg.Pipeline.RunTimeout)
	defer cancel()

	s, err := openStore(runCtx, r.cfg, logger)
	if nil != err {
		return err
	}
	defer func() {
		logger.Debug().Msg("Releasing catalog store connection")
		if closeErr := s.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close catalog store: %v", closeErr)).Append(flawP)
			if nil != err {
				logger.Error().Func(log.Flaw(closeErr)).Msg("Failed to close catalog store")
			} else {
				err = closeErr
			}
		}
	}()

	bucket, err := openBucket(runCtx, r.cfg)
	if nil != err {
		return err
	}
	defer func() {
		if closeErr := bucket.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close object store")
		}
	}()

	channels, err := r.channels(runCtx, s)
	if nil != err {
		return err
	}
	if len(channels) == 0 {
		logger.Warn().Str("service", r.cfg.Service).Msg("No channels to process")
		return nil
	}

	policy := retryPolicy(r.cfg)
	processor := pipeline.New(pipeline.Options{
		Service:  r.cfg.Service,
		CacheDir: r.cfg.CacheDir,
		Policy:   merge.Policy{ReingestOnNewSource: r.cfg.Pipeline.ReingestOnNewSource},
		Charts: chartsapi.NewClient(
			r.cfg.Charts.BaseURL,
			r.cfg.Charts.StreamsBaseURL,
			r.cfg.Charts.Limit,
			policy,
			logger.With().Str("module", "chartsapi").Logger(),
		),
		Fetcher:  fetch.New(config.AudioDownloadTimeout, policy, logger.With().Str("module", "fetch").Logger()),
		Tagger:   tag.New(logger.With().Str("module", "tag").Logger()),
		Uploader: objectstore.NewUploader(bucket, &r.cache.UploadedAssets, policy, logger.With().Str("module", "objectstore").Logger()),
		Store:    s,
		Artworks: &r.cache.DownloadedArtworks,
		Now:      time.Now,
		Logger:   logger.With().Str("module", "pipeline").Logger(),
	})
	orch := orchestrator.New(
		processor,
		r.source,
		r.cfg.Pipeline.Concurrency,
		r.cfg.Pipeline.RequestsPerSecond,
		logger.With().Str("module", "orchestrator").Logger(),
	)

	logger.Info().Int("channels", len(channels)).Msg("Starting run")
	outcomes, runErr := orch.Run(runCtx, channels)
	rep := report.Build(runID, startedAt, time.Now(), outcomes, runErr)
	logger.
		Info().
		Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).
		Dur("elapsed", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("Run finished")

	r.publish(ctx, logger, rep)

	if nil != runErr {
		switch {
		case errors.Is(runErr, context.Canceled):
			return context.Canceled
		case errors.Is(runErr, context.DeadlineExceeded):
			return fmt.Errorf("run exceeded its timeout of %s", r.cfg.Pipeline.RunTimeout)
		default:
			return runErr
		}
	}
	return nil
}

// publish writes the report file and sends the Telegram summary when they
// are configured. Failures are logged only.
func (r *runner) publish(ctx context.Context, logger zerolog.Logger, rep *report.Report) {
	if path := r.cfg.Report.Path; path != "" {
		if err := rep.Write(path); nil != err {
			logger.Error().Func(log.Flaw(err)).Msg("Failed to write run report")
		} else {
			logger.Debug().Str("path", path).Msg("Run report written")
		}
	}

	if nil != r.notifier {
		if err := r.notifier.Send(ctx, rep); nil != err {
			if errutil.IsFlaw(err) {
				logger.Error().Func(log.Flaw(err)).Msg("Failed to send run report")
			} else {
				logger.Error().Err(err).Msg("Failed to send run report")
			}
		}
	}
}
