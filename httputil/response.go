package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/errutil"
)

func readResponseBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		default:
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to read response body: %v", err)).Append(flawP)
		}
	}
	if len(respBody) == 0 {
		return nil, io.EOF
	}
	return respBody, nil
}

// ReadResponseBody reads the whole body, treating an empty one as a flaw.
func ReadResponseBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	respBody, err := readResponseBody(ctx, resp)
	if nil != err {
		if errors.Is(err, io.EOF) {
			return nil, flaw.From(errors.New("unexpected empty response body"))
		}
		return nil, err
	}
	return respBody, nil
}

func ReadOptionalResponseBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	respBody, err := readResponseBody(ctx, resp)
	if nil != err && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return respBody, nil
}

// ErrorMessages extracts human readable messages from an API error payload.
// Both `{"errors":[{"error_message":"..."}]}` and `{"error":"..."}` shapes
// are understood. Unknown shapes yield nil.
func ErrorMessages(b []byte) []string {
	if !gjson.ValidBytes(b) {
		return nil
	}
	var out []string
	for _, m := range gjson.GetBytes(b, "errors.#.error_message").Array() {
		if s := m.String(); s != "" {
			out = append(out, s)
		}
	}
	if msg := gjson.GetBytes(b, "error"); msg.Type == gjson.String && msg.String() != "" {
		out = append(out, msg.String())
	}
	return out
}
