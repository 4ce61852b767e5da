package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/httputil"
	"github.com/xeptore/chartd/ingest"
	"github.com/xeptore/chartd/retry"
)

type Fetcher struct {
	timeout     time.Duration
	retryPolicy retry.Policy
	logger      zerolog.Logger
}

func New(timeout time.Duration, retryPolicy retry.Policy, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		timeout:     timeout,
		retryPolicy: retryPolicy,
		logger:      logger,
	}
}

// Open issues a single GET for url and returns the response body on a 2xx
// status. Failures are returned as *ingest.FetchError.
func (f *Fetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	body, err := f.open(ctx, url)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		return nil, &ingest.FetchError{URL: url, Err: retry.Unwrap(err)}
	}
	return body, nil
}

func (f *Fetcher) open(ctx context.Context, url string) (io.ReadCloser, error) {
	flawP := flaw.P{"url": url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, retry.Permanent(flaw.From(fmt.Errorf("failed to create download request: %v", err)).Append(flawP))
	}

	client := http.Client{Timeout: f.timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to send download request: %v", err)).Append(flawP)
		}
	}

	if code := resp.StatusCode; code < 200 || code > 299 {
		flawP["response"] = errutil.HTTPResponseFlawPayload(resp)
		respBytes, readErr := httputil.ReadOptionalResponseBody(ctx, resp)
		if nil == readErr {
			flawP["response_body"] = string(respBytes)
		}
		if closeErr := resp.Body.Close(); nil != closeErr {
			flawP["close_err"] = closeErr.Error()
		}
		err := flaw.From(fmt.Errorf("unexpected status code: %d", code)).Append(flawP)
		if errutil.IsRetryableStatus(code) {
			return nil, err
		}
		return nil, retry.Permanent(err)
	}

	return resp.Body, nil
}

// Bytes downloads url into memory.
func (f *Fetcher) Bytes(ctx context.Context, url string) ([]byte, error) {
	b, err := retry.Do(ctx, f.retryPolicy, f.logger, func(ctx context.Context, _ int) (b []byte, err error) {
		body, err := f.open(ctx, url)
		if nil != err {
			return nil, err
		}
		defer func() {
			if closeErr := body.Close(); nil != closeErr && nil == err {
				flawP := flaw.P{"url": url, "err_debug_tree": errutil.Tree(closeErr).FlawP()}
				err = flaw.From(fmt.Errorf("failed to close download response body: %v", closeErr)).Append(flawP)
			}
		}()

		b, err = io.ReadAll(body)
		if nil != err {
			if errutil.IsContext(ctx) {
				return nil, ctx.Err()
			}
			flawP := flaw.P{"url": url, "err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to read download response body: %v", err)).Append(flawP)
		}
		return b, nil
	})
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		return nil, &ingest.FetchError{URL: url, Err: err}
	}
	return b, nil
}

// SaveTo downloads url into path. The content is written to a temporary file
// next to path, synced and renamed into place, so path is either absent or
// complete once SaveTo returns.
func (f *Fetcher) SaveTo(ctx context.Context, url, path string) error {
	_, err := retry.Do(ctx, f.retryPolicy, f.logger, func(ctx context.Context, _ int) (struct{}, error) {
		body, err := f.open(ctx, url)
		if nil != err {
			return struct{}{}, err
		}
		return struct{}{}, writeDurable(ctx, path, body)
	})
	if nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		return &ingest.FetchError{URL: url, Err: err}
	}
	return nil
}

// WriteFile durably writes b into path.
func WriteFile(path string, b []byte) error {
	return writeDurable(context.Background(), path, io.NopCloser(bytes.NewReader(b)))
}

func writeDurable(ctx context.Context, path string, body io.ReadCloser) (err error) {
	defer func() {
		if closeErr := body.Close(); nil != closeErr && nil == err {
			flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(closeErr).FlawP()}
			err = flaw.From(fmt.Errorf("failed to close source: %v", closeErr)).Append(flawP)
		}
	}()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o0755); nil != err {
		flawP := flaw.P{"dir": dir, "err_debug_tree": errutil.Tree(err).FlawP()}
		return retry.Permanent(flaw.From(fmt.Errorf("failed to create destination directory: %v", err)).Append(flawP))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if nil != err {
		flawP := flaw.P{"dir": dir, "err_debug_tree": errutil.Tree(err).FlawP()}
		return retry.Permanent(flaw.From(fmt.Errorf("failed to create temporary file: %v", err)).Append(flawP))
	}
	tmpPath := tmp.Name()
	flawP := flaw.P{"path": path, "tmp_path": tmpPath}
	defer func() {
		if nil != err {
			if removeErr := os.Remove(tmpPath); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				flawP["remove_err"] = removeErr.Error()
			}
		}
	}()

	if _, err := io.Copy(tmp, body); nil != err {
		_ = tmp.Close()
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to write temporary file: %v", err)).Append(flawP)
	}

	if err := tmp.Sync(); nil != err {
		_ = tmp.Close()
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to sync temporary file: %v", err)).Append(flawP)
	}

	if err := tmp.Close(); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to close temporary file: %v", err)).Append(flawP)
	}

	if err := os.Rename(tmpPath, path); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to move temporary file into place: %v", err)).Append(flawP)
	}

	return nil
}
