package chartsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/auth"
	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/config"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/httputil"
	"github.com/xeptore/chartd/must"
	"github.com/xeptore/chartd/retry"
)

var ErrTooManyRequests = errors.New("too many requests")

type Client struct {
	baseURL        string
	streamsBaseURL string
	limit          int
	retryPolicy    retry.Policy
	logger         zerolog.Logger
}

func NewClient(baseURL, streamsBaseURL string, limit int, retryPolicy retry.Policy, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:        baseURL,
		streamsBaseURL: streamsBaseURL,
		limit:          limit,
		retryPolicy:    retryPolicy,
		logger:         logger,
	}
}

// ChartsURL returns the charts URL queried for ch, without credentials.
func (c *Client) ChartsURL(ch catalog.Channel) string {
	chartsURL, err := url.JoinPath(c.baseURL, "charts")
	if nil != err {
		return c.baseURL
	}
	return chartsURL + "?" + ch.Query(c.limit).Encode()
}

// TopTrack returns the track currently leading the channel's chart with its
// download URL resolved. An empty chart yields a zero Observation.
func (c *Client) TopTrack(ctx context.Context, authCtx auth.Context, ch catalog.Channel) (*catalog.Observation, error) {
	query := ch.Query(c.limit)
	query.Set("client_id", authCtx.Token)
	chartsURL, err := url.JoinPath(c.baseURL, "charts")
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to join charts base URL with path: %v", err)).Append(flawP)
	}
	chartsURL += "?" + query.Encode()

	body, err := c.get(ctx, chartsURL, config.ChartsRequestTimeout)
	if nil != err {
		return nil, err
	}

	track := gjson.GetBytes(body, "collection.0.track")
	if !track.Exists() {
		c.logger.Warn().Str("channel", ch.Title).Msg("Chart has no entries")
		return &catalog.Observation{}, nil //nolint:exhaustruct
	}

	obs := parseTrack(track)
	if obs.Title == "" {
		return obs, nil
	}

	downloadURL, err := c.streamURL(ctx, authCtx, obs.RemoteID)
	if nil != err {
		return nil, err
	}
	obs.DownloadURL = downloadURL

	return obs, nil
}

func parseTrack(track gjson.Result) *catalog.Observation {
	artworkURL := track.Get("artwork_url").String()
	if artworkURL == "" {
		artworkURL = track.Get("user.avatar_url").String()
	}
	return &catalog.Observation{
		RemoteID:     track.Get("id").Int(),
		Title:        track.Get("title").String(),
		ArtistName:   track.Get("publisher_metadata.artist").String(),
		Genre:        track.Get("genre").String(),
		DurationMS:   track.Get("duration").Int(),
		ArtworkURL:   catalog.LargeArtworkURL(artworkURL),
		PermalinkURL: track.Get("permalink_url").String(),
		DownloadURL:  "",
		UploaderName: track.Get("user.full_name").String(),
		Album:        track.Get("publisher_metadata.album_title").String(),
		ReleaseTitle: track.Get("publisher_metadata.release_title").String(),
	}
}

func (c *Client) streamURL(ctx context.Context, authCtx auth.Context, trackID int64) (string, error) {
	streamsURL, err := url.JoinPath(c.streamsBaseURL, "tracks", strconv.FormatInt(trackID, 10), "streams")
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return "", flaw.From(fmt.Errorf("failed to join streams base URL with path: %v", err)).Append(flawP)
	}
	streamsURL += "?" + url.Values{"client_id": {authCtx.Token}}.Encode()

	body, err := c.get(ctx, streamsURL, config.StreamsRequestTimeout)
	if nil != err {
		return "", err
	}

	mp3URL := gjson.GetBytes(body, "http_mp3_128_url").String()
	if mp3URL == "" {
		flawP := flaw.P{"track_id": trackID, "response_body": string(body)}
		return "", flaw.From(errors.New("track has no progressive mp3 stream")).Append(flawP)
	}
	return mp3URL, nil
}

func (c *Client) get(ctx context.Context, reqURL string, timeout time.Duration) ([]byte, error) {
	return retry.Do(ctx, c.retryPolicy, c.logger, func(ctx context.Context, _ int) ([]byte, error) {
		body, err := getOnce(ctx, reqURL, timeout)
		if nil != err {
			switch {
			case errors.Is(err, ErrTooManyRequests):
				return nil, err
			case errors.Is(err, auth.ErrUnauthorized), errutil.IsContext(ctx):
				return nil, retry.Permanent(err)
			case errors.Is(err, context.DeadlineExceeded):
				return nil, err
			case errutil.IsFlaw(err):
				var retryable *retryableFlaw
				if errors.As(err, &retryable) {
					return nil, retryable.err
				}
				return nil, retry.Permanent(err)
			default:
				panic(errutil.UnknownError(err))
			}
		}
		return body, nil
	})
}

// retryableFlaw marks a flaw returned for a server side failure.
type retryableFlaw struct {
	err *flaw.Flaw
}

func (r *retryableFlaw) Error() string {
	return r.err.Error()
}

func (r *retryableFlaw) Unwrap() error {
	return r.err
}

func getOnce(ctx context.Context, reqURL string, timeout time.Duration) (b []byte, err error) {
	flawP := flaw.P{"url": redactURL(reqURL)}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}

		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to create charts API request: %v", err)).Append(flawP)
	}
	req.Header.Add("Accept", "application/json")

	client := http.Client{Timeout: timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to send charts API request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close charts API response body: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsContext(ctx):
				err = flaw.From(errors.New("context has ended")).Join(closeErr)
			case errors.Is(err, context.DeadlineExceeded):
				err = flaw.From(errors.New("timeout has reached")).Join(closeErr)
			case errors.Is(err, ErrTooManyRequests):
				err = flaw.From(errors.New("too many requests")).Join(closeErr)
			case errors.Is(err, auth.ErrUnauthorized):
				err = flaw.From(errors.New("unauthorized")).Join(closeErr)
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(closeErr)
			default:
				panic(errutil.UnknownError(err))
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	switch code := resp.StatusCode; code {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, auth.ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrTooManyRequests
	default:
		respBytes, err := httputil.ReadOptionalResponseBody(ctx, resp)
		if nil != err {
			return nil, err
		}
		flawP["response_body"] = string(respBytes)
		flawP["messages"] = httputil.ErrorMessages(respBytes)
		f := flaw.From(fmt.Errorf("unexpected status code: %d", code)).Append(flawP)
		if errutil.IsRetryableStatus(code) {
			return nil, &retryableFlaw{err: f}
		}
		return nil, f
	}

	respBytes, err := httputil.ReadResponseBody(ctx, resp)
	if nil != err {
		return nil, err
	}
	if !gjson.ValidBytes(respBytes) {
		flawP["response_body"] = string(respBytes)
		return nil, flaw.From(errors.New("charts API returned invalid JSON")).Append(flawP)
	}
	return respBytes, nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if nil != err {
		return ""
	}
	q := u.Query()
	if q.Has("client_id") {
		q.Set("client_id", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
