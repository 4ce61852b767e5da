package objectstore

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/xeptore/chartd/cache"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/ingest"
	"github.com/xeptore/chartd/retry"
)

type Uploader struct {
	bucket      Bucket
	cache       *cache.UploadedAssetsCache
	retryPolicy retry.Policy
	logger      zerolog.Logger
}

func NewUploader(bucket Bucket, c *cache.UploadedAssetsCache, retryPolicy retry.Policy, logger zerolog.Logger) *Uploader {
	return &Uploader{
		bucket:      bucket,
		cache:       c,
		retryPolicy: retryPolicy,
		logger:      logger,
	}
}

// Upload stores the file at localPath under remoteKey unless an object with
// that key already exists, in which case the existing ref is returned. Refs
// are cached per key, so repeated calls in a process do not reach the bucket.
func (u *Uploader) Upload(ctx context.Context, localPath, remoteKey string) (Ref, error) {
	item, err := u.cache.Fetch(remoteKey, cache.DefaultUploadedAssetTTL, func() (Ref, error) {
		return u.upload(ctx, localPath, remoteKey)
	})
	if nil != err {
		if errutil.IsContext(ctx) {
			return Ref{}, ctx.Err() //nolint:exhaustruct
		}
		return Ref{}, &ingest.UploadError{Key: remoteKey, Err: err} //nolint:exhaustruct
	}
	return item.Value(), nil
}

func (u *Uploader) upload(ctx context.Context, localPath, remoteKey string) (Ref, error) {
	logger := u.logger.With().Str("key", remoteKey).Logger()

	ref, err := retry.Do(ctx, u.retryPolicy, logger, func(ctx context.Context, _ int) (Ref, error) {
		ref, err := u.bucket.Head(ctx, remoteKey)
		if errors.Is(err, ErrObjectNotFound) {
			return ref, retry.Permanent(err)
		}
		return ref, err
	})
	switch {
	case nil == err:
		logger.Debug().Msg("Object already exists. Skipping upload")
		return ref, nil
	case errors.Is(err, ErrObjectNotFound):
	default:
		return Ref{}, err //nolint:exhaustruct
	}

	ref, err = retry.Do(ctx, u.retryPolicy, logger, func(ctx context.Context, _ int) (Ref, error) {
		return u.bucket.Put(ctx, localPath, remoteKey)
	})
	if nil != err {
		return Ref{}, err //nolint:exhaustruct
	}
	logger.Debug().Str("media_link", ref.MediaLink).Msg("Object uploaded")
	return ref, nil
}
