// Package objectstore uploads ingested assets to a bucket exactly once per
// key.
package objectstore

import (
	"context"
	"errors"

	"github.com/xeptore/chartd/catalog"
)

var ErrObjectNotFound = errors.New("object not found")

type Ref = catalog.AssetRef

// Bucket is the remote side of an upload.
type Bucket interface {
	// Head returns the ref of the object stored under key, or ErrObjectNotFound.
	Head(ctx context.Context, key string) (Ref, error)
	// Put uploads the file at localPath under key and returns its ref.
	Put(ctx context.Context, localPath, key string) (Ref, error)
	Close() error
}
