package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/xeptore/flaw/v8"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/xeptore/chartd/config"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/must"
)

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

func NewGCS(ctx context.Context, bucket, credentialsFile string, opts ...option.ClientOption) (*GCS, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP := flaw.P{"bucket": bucket, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to create storage client: %v", err)).Append(flawP)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) selfLink(key string) string {
	return "https://www.googleapis.com/storage/v1/b/" + url.PathEscape(g.bucket) + "/o/" + url.PathEscape(key)
}

func (g *GCS) ref(attrs *storage.ObjectAttrs) Ref {
	return Ref{MediaLink: attrs.MediaLink, SelfLink: g.selfLink(attrs.Name)}
}

func (g *GCS) Head(ctx context.Context, key string) (Ref, error) {
	ctx, cancel := context.WithTimeout(ctx, config.ObjectHeadTimeout)
	defer cancel()

	attrs, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if nil != err {
		switch {
		case errors.Is(err, storage.ErrObjectNotExist):
			return Ref{}, ErrObjectNotFound //nolint:exhaustruct
		case errutil.IsContext(ctx):
			return Ref{}, ctx.Err() //nolint:exhaustruct
		default:
			flawP := flaw.P{"bucket": g.bucket, "key": key, "err_debug_tree": errutil.Tree(err).FlawP()}
			return Ref{}, flaw.From(fmt.Errorf("failed to get object attributes: %v", err)).Append(flawP) //nolint:exhaustruct
		}
	}
	return g.ref(attrs), nil
}

// Put uploads only if the object does not exist yet. Losing a race against a
// concurrent writer of the same key returns the winner's ref.
func (g *GCS) Put(ctx context.Context, localPath, key string) (ref Ref, err error) {
	flawP := flaw.P{"bucket": g.bucket, "key": key, "local_path": localPath}

	file, err := os.Open(localPath)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return Ref{}, flaw.From(fmt.Errorf("failed to open local file: %v", err)).Append(flawP) //nolint:exhaustruct
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close local file: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()

	uploadCtx, cancel := context.WithTimeout(ctx, config.ObjectPutTimeout)
	defer cancel()

	obj := g.client.Bucket(g.bucket).Object(key).If(storage.Conditions{DoesNotExist: true}) //nolint:exhaustruct
	w := obj.NewWriter(uploadCtx)
	w.ContentType = contentType(localPath)
	w.CacheControl = "public, max-age=31536000"

	if _, err := io.Copy(w, file); nil != err {
		_ = w.Close()
		if errutil.IsContext(ctx) {
			return Ref{}, ctx.Err() //nolint:exhaustruct
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return Ref{}, flaw.From(fmt.Errorf("failed to write object: %v", err)).Append(flawP) //nolint:exhaustruct
	}

	if err := w.Close(); nil != err {
		if apiErr := new(googleapi.Error); errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return g.Head(ctx, key)
		}
		if errutil.IsContext(ctx) {
			return Ref{}, ctx.Err() //nolint:exhaustruct
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return Ref{}, flaw.From(fmt.Errorf("failed to finalize object upload: %v", err)).Append(flawP) //nolint:exhaustruct
	}

	return g.ref(w.Attrs()), nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func contentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
