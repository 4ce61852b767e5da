package chartsapi_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/chartd/auth"
	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/chartsapi"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/retry"
)

const chartsBody = `{
  "collection": [
    {
      "track": {
        "id": 42,
        "title": "Song A",
        "genre": "Jazz",
        "duration": 215000,
        "artwork_url": null,
        "permalink_url": "https://soundcloud.com/b/song-a",
        "user": {"full_name": "Uploader Name", "avatar_url": "https://i1.sndcdn.com/avatars-1-large.jpg"},
        "publisher_metadata": {"artist": "Artist B", "album_title": "Album C", "release_title": "Song A (Remaster)"}
      }
    }
  ]
}`

var fastPolicy = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func newServer(t *testing.T, charts http.HandlerFunc, streams http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/charts", charts)
	mux.HandleFunc("/i1/tracks/42/streams", streams)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server) *chartsapi.Client {
	return chartsapi.NewClient(srv.URL, srv.URL+"/i1", 20, fastPolicy, zerolog.Nop())
}

func TestTopTrack(t *testing.T) {
	t.Parallel()

	var gotQuery atomic.Value
	srv := newServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			gotQuery.Store(r.URL.Query())
			_, _ = w.Write([]byte(chartsBody))
		},
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "token", r.URL.Query().Get("client_id"))
			_, _ = w.Write([]byte(`{"http_mp3_128_url":"https://cf-media.sndcdn.com/a.128.mp3"}`))
		},
	)

	ch := catalog.Channel{Title: "Jazz", Service: "SoundCloud", Region: "US", Genre: "jazzblues"} //nolint:exhaustruct
	obs, err := newClient(srv).TopTrack(t.Context(), auth.Context{Token: "token"}, ch) //nolint:exhaustruct
	require.NoError(t, err)

	assert.Equal(t, int64(42), obs.RemoteID)
	assert.Equal(t, "Song A", obs.Title)
	assert.Equal(t, "Artist B", obs.ArtistName)
	assert.Equal(t, "Jazz", obs.Genre)
	assert.Equal(t, int64(215000), obs.DurationMS)
	assert.Equal(t, "https://i1.sndcdn.com/avatars-1-t500x500.jpg", obs.ArtworkURL)
	assert.Equal(t, "https://soundcloud.com/b/song-a", obs.PermalinkURL)
	assert.Equal(t, "https://cf-media.sndcdn.com/a.128.mp3", obs.DownloadURL)
	assert.Equal(t, "Uploader Name", obs.UploaderName)
	assert.Equal(t, "Album C", obs.Album)
	assert.Equal(t, "Song A (Remaster)", obs.ReleaseTitle)

	q, ok := gotQuery.Load().(url.Values)
	require.True(t, ok)
	assert.Equal(t, "top", q.Get("kind"))
	assert.Equal(t, "20", q.Get("limit"))
	assert.Equal(t, "token", q.Get("client_id"))
	assert.Equal(t, "soundcloud:region:US", q.Get("region"))
	assert.Equal(t, "soundcloud:genres:jazzblues", q.Get("genre"))
}

func TestTopTrackEmptyChart(t *testing.T) {
	t.Parallel()

	srv := newServer(t,
		func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"collection":[]}`)) },
		func(w http.ResponseWriter, _ *http.Request) { t.Error("streams must not be requested") },
	)

	obs, err := newClient(srv).TopTrack(t.Context(), auth.Context{Token: "token"}, catalog.Channel{Title: "Jazz"}) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Empty(t, obs.Title)
}

func TestTopTrackUnauthorized(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newServer(t,
		func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		},
		func(http.ResponseWriter, *http.Request) {},
	)

	_, err := newClient(srv).TopTrack(t.Context(), auth.Context{Token: "stale"}, catalog.Channel{Title: "Jazz"}) //nolint:exhaustruct
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTopTrackTooManyRequests(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newServer(t,
		func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		},
		func(http.ResponseWriter, *http.Request) {},
	)

	_, err := newClient(srv).TopTrack(t.Context(), auth.Context{Token: "token"}, catalog.Channel{Title: "Jazz"}) //nolint:exhaustruct
	require.ErrorIs(t, err, chartsapi.ErrTooManyRequests)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTopTrackServerErrorRecovers(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newServer(t,
		func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(chartsBody))
		},
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"http_mp3_128_url":"https://cf-media.sndcdn.com/a.128.mp3"}`))
		},
	)

	obs, err := newClient(srv).TopTrack(t.Context(), auth.Context{Token: "token"}, catalog.Channel{Title: "Jazz"}) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, "Song A", obs.Title)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTopTrackBadRequestIsFlaw(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newServer(t,
		func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":[{"error_message":"bad genre"}]}`))
		},
		func(http.ResponseWriter, *http.Request) {},
	)

	_, err := newClient(srv).TopTrack(t.Context(), auth.Context{Token: "token"}, catalog.Channel{Title: "Jazz"}) //nolint:exhaustruct
	require.Error(t, err)
	assert.True(t, errutil.IsFlaw(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTopTrackMissingStream(t *testing.T) {
	t.Parallel()

	srv := newServer(t,
		func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(chartsBody)) },
		func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"hls_mp3_128_url":"x"}`)) },
	)

	_, err := newClient(srv).TopTrack(t.Context(), auth.Context{Token: "token"}, catalog.Channel{Title: "Jazz"}) //nolint:exhaustruct
	require.Error(t, err)
	assert.True(t, errutil.IsFlaw(err))
}

func TestChartsURL(t *testing.T) {
	t.Parallel()

	c := chartsapi.NewClient("https://api-v2.soundcloud.com", "https://api.soundcloud.com/i1", 20, fastPolicy, zerolog.Nop())
	got := c.ChartsURL(catalog.Channel{Title: "Jazz", Genre: "jazzblues"}) //nolint:exhaustruct
	assert.Equal(t, "https://api-v2.soundcloud.com/charts?genre=soundcloud%3Agenres%3Ajazzblues&kind=top&limit=20", got)
	assert.NotContains(t, got, "client_id")
}
