package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/ingest"
	"github.com/xeptore/chartd/retry"
)

// Retrying retries failed store operations and reports the final failure as
// *ingest.StoreError.
type Retrying struct {
	inner  Store
	policy retry.Policy
	logger zerolog.Logger
}

func WithRetry(inner Store, policy retry.Policy, logger zerolog.Logger) *Retrying {
	return &Retrying{inner: inner, policy: policy, logger: logger}
}

func (r *Retrying) wrap(ctx context.Context, op, key string, err error) error {
	if errutil.IsContext(ctx) {
		return ctx.Err()
	}
	return &ingest.StoreError{Op: op, Key: key, Err: err}
}

func (r *Retrying) Read(ctx context.Context, key catalog.Key) (*catalog.Record, error) {
	rec, err := retry.Do(ctx, r.policy, r.logger, func(ctx context.Context, _ int) (*catalog.Record, error) {
		rec, err := r.inner.Read(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil, retry.Permanent(err)
		}
		return rec, err
	})
	if nil != err {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, r.wrap(ctx, "read", key.Path(), err)
	}
	return rec, nil
}

func (r *Retrying) Update(ctx context.Context, key catalog.Key, mutate MutateFunc) error {
	var mutateErr error
	_, err := retry.Do(ctx, r.policy, r.logger, func(ctx context.Context, _ int) (struct{}, error) {
		mutateErr = nil
		err := r.inner.Update(ctx, key, func(existing *catalog.Record) (catalog.Patch, error) {
			patch, err := mutate(existing)
			mutateErr = err
			return patch, err
		})
		if nil != mutateErr {
			return struct{}{}, retry.Permanent(err)
		}
		return struct{}{}, err
	})
	if nil != err {
		if nil != mutateErr {
			return mutateErr
		}
		return r.wrap(ctx, "update", key.Path(), err)
	}
	return nil
}

func (r *Retrying) Channels(ctx context.Context) ([]catalog.Channel, error) {
	channels, err := retry.Do(ctx, r.policy, r.logger, func(ctx context.Context, _ int) ([]catalog.Channel, error) {
		return r.inner.Channels(ctx)
	})
	if nil != err {
		return nil, r.wrap(ctx, "channels", "", err)
	}
	return channels, nil
}

func (r *Retrying) SaveChannel(ctx context.Context, ch catalog.Channel) error {
	_, err := retry.Do(ctx, r.policy, r.logger, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, r.inner.SaveChannel(ctx, ch)
	})
	if nil != err {
		return r.wrap(ctx, "save_channel", ch.Title, err)
	}
	return nil
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}
