// Package orchestrator runs the channel pipeline over a set of channels with
// bounded concurrency, isolating failures per channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gopkg.in/matryer/try.v1"

	"github.com/xeptore/chartd/auth"
	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/ingest"
	"github.com/xeptore/chartd/log"
	"github.com/xeptore/chartd/merge"
	"github.com/xeptore/chartd/pipeline"
	"github.com/xeptore/chartd/ratelimit"
)

var ErrRunAborted = errors.New("run aborted before the channel was processed")

const maxRefreshAttempts = 3

type Processor interface {
	Process(ctx context.Context, authCtx auth.Context, ch catalog.Channel) (*pipeline.Result, error)
}

type Outcome struct {
	Channel  catalog.Channel
	Genre    string
	Action   merge.Action
	Key      string
	Err      error
	Duration time.Duration
}

type Orchestrator struct {
	processor   Processor
	source      auth.Source
	concurrency int
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

func New(processor Processor, source auth.Source, concurrency int, requestsPerSecond float64, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		processor:   processor,
		source:      source,
		concurrency: ratelimit.ChannelConcurrency(concurrency),
		limiter:     ratelimit.NewChannelLimiter(requestsPerSecond),
		logger:      logger,
	}
}

// authState holds the run's current credentials. It allows a single refresh
// per run; an auth failure with refreshed credentials is final.
type authState struct {
	mux       sync.Mutex
	source    auth.Source
	current   auth.Context
	refreshed bool
}

func (s *authState) get() auth.Context {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.current
}

func (s *authState) refresh(ctx context.Context, stale auth.Context) (auth.Context, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.current.Token != stale.Token {
		return s.current, nil
	}
	if s.refreshed {
		return auth.Context{}, auth.ErrUnauthorized //nolint:exhaustruct
	}
	s.refreshed = true

	var fresh auth.Context
	err := try.Do(func(attempt int) (bool, error) {
		var err error
		fresh, err = s.source.Refresh(ctx, stale)
		retryable := nil != err && !errors.Is(err, auth.ErrUnauthorized) && !errutil.IsContext(ctx)
		return retryable && attempt < maxRefreshAttempts, err
	})
	if nil != err {
		return auth.Context{}, err //nolint:exhaustruct
	}
	s.current = fresh
	return fresh, nil
}

// Run processes channels and returns one outcome per channel in input order.
// The returned error is non-nil only when the run as a whole was cut short:
// credentials that stay rejected after a refresh, or ctx ending.
func (o *Orchestrator) Run(ctx context.Context, channels []catalog.Channel) ([]Outcome, error) {
	outcomes := make([]Outcome, len(channels))
	for i, ch := range channels {
		outcomes[i] = Outcome{Channel: ch, Genre: "", Action: "", Key: "", Err: ErrRunAborted, Duration: 0}
	}

	initial, err := o.source.Load(ctx)
	if nil != err {
		if errutil.IsContext(ctx) {
			return outcomes, ctx.Err()
		}
		return outcomes, &ingest.AuthError{Err: err}
	}
	state := &authState{mux: sync.Mutex{}, source: o.source, current: initial, refreshed: false}

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	var wg errgroup.Group
	wg.SetLimit(o.concurrency)
	for i, ch := range channels {
		if nil != runCtx.Err() {
			break
		}
		wg.Go(func() error {
			if nil != runCtx.Err() {
				return nil
			}
			if err := o.limiter.Wait(runCtx); nil != err {
				return nil
			}
			outcome, fatal := o.process(runCtx, state, ch)
			outcomes[i] = outcome
			if nil != fatal {
				abort(fatal)
			}
			return nil
		})
	}
	_ = wg.Wait()

	cause := context.Cause(runCtx)
	switch {
	case nil == cause:
		return outcomes, nil
	case ingest.IsAuth(cause):
		for i := range outcomes {
			if errors.Is(outcomes[i].Err, context.Canceled) {
				outcomes[i].Err = ErrRunAborted
			}
		}
		o.logger.Error().Err(cause).Msg("Credentials were rejected after refresh. Run aborted")
		return outcomes, cause
	default:
		if errors.Is(cause, context.Canceled) && nil == ctx.Err() {
			return outcomes, nil
		}
		return outcomes, ctx.Err()
	}
}

// process runs one channel. fatal is set when the whole run must stop.
func (o *Orchestrator) process(ctx context.Context, state *authState, ch catalog.Channel) (outcome Outcome, fatal error) {
	logger := o.logger.With().Str("channel", ch.Title).Logger()
	start := time.Now()
	outcome = Outcome{Channel: ch, Genre: "", Action: "", Key: "", Err: nil, Duration: 0}

	defer func() {
		if v := recover(); nil != v {
			logger.Error().Func(log.Panic(v)).Msg("Channel processing panicked")
			outcome.Err = errutil.Recovered(v)
			fatal = nil
		}
		outcome.Duration = time.Since(start)
	}()

	authCtx := state.get()
	res, err := o.processor.Process(ctx, authCtx, ch)
	if ingest.IsAuth(err) {
		logger.Warn().Err(err).Msg("Credentials were rejected. Refreshing")
		fresh, refreshErr := state.refresh(ctx, authCtx)
		if nil != refreshErr {
			authErr := &ingest.AuthError{Err: fmt.Errorf("refresh failed: %w", refreshErr)}
			outcome.Err = authErr
			return outcome, authErr
		}
		res, err = o.processor.Process(ctx, fresh, ch)
		if ingest.IsAuth(err) {
			outcome.Err = err
			return outcome, err
		}
	}

	if nil != err {
		outcome.Err = err
		switch {
		case errutil.IsContext(ctx):
			logger.Warn().Err(err).Msg("Channel processing was interrupted")
		case errutil.IsFlaw(err):
			logger.Error().Str("kind", ingest.Kind(err)).Func(log.Flaw(err)).Msg("Channel processing failed")
		default:
			logger.Error().Str("kind", ingest.Kind(err)).Err(err).Msg("Channel processing failed")
		}
		return outcome, nil
	}

	outcome.Genre = res.Genre
	outcome.Action = res.Action
	outcome.Key = res.Key.Path()
	logger.Info().Str("action", string(res.Action)).Msg("Channel processed")
	return outcome, nil
}
