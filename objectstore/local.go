package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/fetch"
)

// Local is a bucket backed by a directory. Media links are file URLs.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if nil != err {
		flawP := flaw.P{"dir": dir, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to resolve local bucket directory: %v", err)).Append(flawP)
	}
	if err := os.MkdirAll(abs, 0o0755); nil != err {
		flawP := flaw.P{"dir": abs, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to create local bucket directory: %v", err)).Append(flawP)
	}
	return &Local{dir: abs}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

func (l *Local) ref(key string) Ref {
	media := url.URL{Scheme: "file", Path: filepath.ToSlash(l.path(key))} //nolint:exhaustruct
	return Ref{MediaLink: media.String(), SelfLink: "local://" + key}
}

func (l *Local) Head(ctx context.Context, key string) (Ref, error) {
	if errutil.IsContext(ctx) {
		return Ref{}, ctx.Err() //nolint:exhaustruct
	}
	info, err := os.Stat(l.path(key))
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return Ref{}, ErrObjectNotFound //nolint:exhaustruct
		}
		flawP := flaw.P{"key": key, "err_debug_tree": errutil.Tree(err).FlawP()}
		return Ref{}, flaw.From(fmt.Errorf("failed to stat object: %v", err)).Append(flawP) //nolint:exhaustruct
	}
	if info.IsDir() {
		return Ref{}, ErrObjectNotFound //nolint:exhaustruct
	}
	return l.ref(key), nil
}

func (l *Local) Put(ctx context.Context, localPath, key string) (Ref, error) {
	if errutil.IsContext(ctx) {
		return Ref{}, ctx.Err() //nolint:exhaustruct
	}
	b, err := os.ReadFile(localPath)
	if nil != err {
		flawP := flaw.P{"local_path": localPath, "err_debug_tree": errutil.Tree(err).FlawP()}
		return Ref{}, flaw.From(fmt.Errorf("failed to read local file: %v", err)).Append(flawP) //nolint:exhaustruct
	}
	if err := fetch.WriteFile(l.path(key), b); nil != err {
		return Ref{}, err //nolint:exhaustruct
	}
	return l.ref(key), nil
}

func (l *Local) Close() error {
	return nil
}
