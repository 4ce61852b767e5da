package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/must"
)

var ErrUnauthorized = errors.New("unauthorized")

// Context carries the client token used against the charts API. It is a
// value: refreshing produces a new Context instead of mutating a shared one.
type Context struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now. A zero expiry
// never expires.
func (c Context) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type Source interface {
	Load(ctx context.Context) (Context, error)
	// Refresh returns a context that differs from stale, or ErrUnauthorized
	// when no newer credentials are available.
	Refresh(ctx context.Context, stale Context) (Context, error)
}

// FileSource reads the token from a JSON file that is rotated out of band.
type FileSource struct {
	path string
	now  func() time.Time
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

// WithClock returns a copy of s that uses now as its time source.
func (s *FileSource) WithClock(now func() time.Time) *FileSource {
	return &FileSource{path: s.path, now: now}
}

type tokenFileContent struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *FileSource) Load(ctx context.Context) (Context, error) {
	if errutil.IsContext(ctx) {
		return Context{}, ctx.Err() //nolint:exhaustruct
	}

	c, err := s.read()
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return Context{}, ErrUnauthorized //nolint:exhaustruct
		}
		return Context{}, err //nolint:exhaustruct
	}

	authCtx := Context{Token: c.Token, ExpiresAt: time.Time{}}
	if c.ExpiresAt > 0 {
		authCtx.ExpiresAt = time.Unix(c.ExpiresAt, 0)
	}
	if authCtx.Token == "" || authCtx.Expired(s.now()) {
		return Context{}, ErrUnauthorized //nolint:exhaustruct
	}
	return authCtx, nil
}

func (s *FileSource) Refresh(ctx context.Context, stale Context) (Context, error) {
	fresh, err := s.Load(ctx)
	if nil != err {
		return Context{}, err //nolint:exhaustruct
	}
	if fresh.Token == stale.Token {
		return Context{}, ErrUnauthorized //nolint:exhaustruct
	}
	return fresh, nil
}

func (s *FileSource) read() (c *tokenFileContent, err error) {
	file, err := os.OpenFile(s.path, os.O_RDONLY, 0o0600)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		flawP := flaw.P{"path": s.path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to open token file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close token file: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			default:
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()

	if err := json.NewDecoder(file).Decode(&c); nil != err {
		flawP := flaw.P{"path": s.path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to decode token file: %v", err)).Append(flawP)
	}
	if nil == c {
		return nil, flaw.From(errors.New("token file is empty")).Append(flaw.P{"path": s.path})
	}

	return c, nil
}

// WriteTokenFile stores token in the format FileSource reads.
func WriteTokenFile(path, token string, expiresAt time.Time) (err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o0600)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to open token file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close token file: %v", closeErr)).Append(flawP)
			if nil != err {
				err = must.BeFlaw(err).Join(closeErr)
			} else {
				err = closeErr
			}
		}
	}()

	c := tokenFileContent{Token: token, ExpiresAt: 0}
	if !expiresAt.IsZero() {
		c.ExpiresAt = expiresAt.Unix()
	}
	if err := json.NewEncoder(file).EncodeWithOption(c); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to encode token file: %v", err)).Append(flawP)
	}
	return nil
}
