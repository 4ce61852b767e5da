package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/chartd/auth"
	"github.com/xeptore/chartd/cache"
	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/fetch"
	"github.com/xeptore/chartd/ingest"
	"github.com/xeptore/chartd/merge"
	"github.com/xeptore/chartd/objectstore"
	"github.com/xeptore/chartd/pipeline"
	"github.com/xeptore/chartd/retry"
	"github.com/xeptore/chartd/store"
	"github.com/xeptore/chartd/store/sqlitestore"
	"github.com/xeptore/chartd/tag"
)

var (
	fakeAudio  = append([]byte{0xff, 0xfb, 0x90, 0x64}, bytes.Repeat([]byte{0}, 413)...)
	fakeJPEG   = append([]byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, bytes.Repeat([]byte{1}, 64)...)
	fastPolicy = retry.Policy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	jazz       = catalog.Channel{ID: "jazz", Title: "Jazz", Service: "SoundCloud", Region: "", Genre: "jazzblues"}
	errNetwork = errors.New("network down")
)

type fakeCharts struct {
	obs *catalog.Observation
	err error
}

func (f *fakeCharts) TopTrack(context.Context, auth.Context, catalog.Channel) (*catalog.Observation, error) {
	if nil != f.err {
		return nil, f.err
	}
	obs := *f.obs
	return &obs, nil
}

func (f *fakeCharts) ChartsURL(ch catalog.Channel) string {
	return "https://charts.test/" + ch.ID
}

type fakeFetcher struct {
	mux      sync.Mutex
	saves    int
	audioErr error
}

func (f *fakeFetcher) SaveTo(_ context.Context, url, path string) error {
	f.mux.Lock()
	f.saves++
	f.mux.Unlock()
	if nil != f.audioErr {
		return &ingest.FetchError{URL: url, Err: f.audioErr}
	}
	return fetch.WriteFile(path, fakeAudio)
}

func (f *fakeFetcher) Bytes(context.Context, string) ([]byte, error) {
	return fakeJPEG, nil
}

type fixture struct {
	processor *pipeline.Processor
	fetcher   *fakeFetcher
	charts    *fakeCharts
	store     store.Store
	bucketDir string
	cacheDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, func(s store.Store) store.Store { return s })
}

func newFixtureWithStore(t *testing.T, wrap func(store.Store) store.Store) *fixture {
	t.Helper()

	db, err := sqlitestore.New(t.Context(), filepath.Join(t.TempDir(), "chartd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := wrap(db)

	bucketDir := t.TempDir()
	bucket, err := objectstore.NewLocal(bucketDir)
	require.NoError(t, err)

	c := cache.New()
	f := &fixture{
		processor: nil,
		fetcher:   &fakeFetcher{mux: sync.Mutex{}, saves: 0, audioErr: nil},
		charts: &fakeCharts{
			obs: &catalog.Observation{
				RemoteID:     42,
				Title:        "Song A",
				ArtistName:   "Artist B",
				Genre:        "Jazz",
				DurationMS:   215000,
				ArtworkURL:   "https://img.test/a-t500x500.jpg",
				PermalinkURL: "p1",
				DownloadURL:  "u1",
				UploaderName: "Uploader",
				Album:        "Album C",
				ReleaseTitle: "",
			},
			err: nil,
		},
		store:     s,
		bucketDir: bucketDir,
		cacheDir:  t.TempDir(),
	}
	f.processor = pipeline.New(pipeline.Options{
		Service:  "SoundCloud",
		CacheDir: f.cacheDir,
		Policy:   merge.Policy{ReingestOnNewSource: false},
		Charts:   f.charts,
		Fetcher:  f.fetcher,
		Tagger:   tag.New(zerolog.Nop()),
		Uploader: objectstore.NewUploader(bucket, &c.UploadedAssets, fastPolicy, zerolog.Nop()),
		Store:    s,
		Artworks: &c.DownloadedArtworks,
		Now:      func() time.Time { return time.UnixMilli(1_700_000_000_000) },
		Logger:   zerolog.Nop(),
	})
	return f
}

var songKey = catalog.Key{Service: "SoundCloud", Channel: "Jazz", Title: "song a artist b"}

func TestProcessFirstIngestion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.processor.Process(t.Context(), auth.Context{Token: "t"}, jazz) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, "Jazz", res.Genre)
	assert.Equal(t, merge.ActionCreate, res.Action)
	assert.Equal(t, songKey, res.Key)

	rec, err := f.store.Read(t.Context(), songKey)
	require.NoError(t, err)
	assert.Equal(t, []int64{215}, rec.Time)
	assert.Equal(t, 1, rec.Hours)
	assert.Equal(t, []string{"u1"}, rec.Src)
	assert.Equal(t, []int64{1_700_000_000_000}, rec.ID)
	assert.True(t, rec.Complete())
	assert.Equal(t, "local://SoundCloud/Jazz/song a artist b.mp3", rec.SelfLink)

	assert.FileExists(t, filepath.Join(f.bucketDir, "SoundCloud", "Jazz", "song a artist b.mp3"))
	assert.FileExists(t, filepath.Join(f.bucketDir, "SoundCloud", "Jazz", "song a artist b.jpg"))

	uploaded, err := os.ReadFile(filepath.Join(f.bucketDir, "SoundCloud", "Jazz", "song a artist b.mp3"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(uploaded, []byte("ID3")), "uploaded audio must carry tags")
}

func TestProcessReobservation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.processor.Process(t.Context(), auth.Context{Token: "t"}, jazz) //nolint:exhaustruct
	require.NoError(t, err)

	res, err := f.processor.Process(t.Context(), auth.Context{Token: "t"}, jazz) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, merge.ActionUpdateCount, res.Action)
	assert.Equal(t, 1, f.fetcher.saves, "complete records must not be downloaded again")

	rec, err := f.store.Read(t.Context(), songKey)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Hours)
	assert.Len(t, rec.Src, 1)
}

func TestProcessIncompletePriorRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.store.Update(t.Context(), songKey, func(*catalog.Record) (catalog.Patch, error) {
		return catalog.Patch{
			catalog.FieldTitle:     "Song A",
			catalog.FieldSrc:       []string{"u0"},
			catalog.FieldID:        []int64{1},
			catalog.FieldHours:     5,
			catalog.FieldMediaLink: "old",
		}, nil
	}))

	res, err := f.processor.Process(t.Context(), auth.Context{Token: "t"}, jazz) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, merge.ActionMerge, res.Action)
	assert.Equal(t, 1, f.fetcher.saves)

	rec, err := f.store.Read(t.Context(), songKey)
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Hours)
	assert.Equal(t, []string{"u1", "u0"}, rec.Src)
	assert.True(t, rec.Complete())
}

func TestProcessUnauthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.charts.err = auth.ErrUnauthorized

	_, err := f.processor.Process(t.Context(), auth.Context{Token: "stale"}, jazz) //nolint:exhaustruct
	var authErr *ingest.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestProcessChartFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.charts.err = errNetwork

	_, err := f.processor.Process(t.Context(), auth.Context{Token: "t"}, jazz) //nolint:exhaustruct
	var fetchErr *ingest.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "https://charts.test/jazz", fetchErr.URL)
}

func TestProcessEmptyChart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.charts.obs = &catalog.Observation{} //nolint:exhaustruct

	res, err := f.processor.Process(t.Context(), auth.Context{Token: "t"}, jazz) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, merge.ActionSkip, res.Action)
	assert.Zero(t, f.fetcher.saves)
}

func TestProcessDownloadFailureWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fetcher.audioErr = errNetwork

	_, err := f.processor.Process(t.Context(), auth.Context{Token: "t"}, jazz) //nolint:exhaustruct
	var fetchErr *ingest.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "u1", fetchErr.URL)

	_, err = f.store.Read(t.Context(), songKey)
	require.ErrorIs(t, err, store.ErrNotFound)
}

// clearedAfterReadStore serves Reads with asset links filled in while the
// stored record has none, as if another writer cleared them right after the
// read.
type clearedAfterReadStore struct {
	store.Store
	updates int
}

func (s *clearedAfterReadStore) Read(ctx context.Context, key catalog.Key) (*catalog.Record, error) {
	rec, err := s.Store.Read(ctx, key)
	if nil != err {
		return nil, err
	}
	snapshot := *rec
	snapshot.MediaLink = "media/cleared"
	snapshot.SelfLink = "self/cleared"
	snapshot.ArtLink = "art/cleared"
	return &snapshot, nil
}

func (s *clearedAfterReadStore) Update(ctx context.Context, key catalog.Key, mutate store.MutateFunc) error {
	s.updates++
	return s.Store.Update(ctx, key, mutate)
}

func TestProcessRecordClearedSinceRead(t *testing.T) {
	t.Parallel()

	var racing *clearedAfterReadStore
	f := newFixtureWithStore(t, func(s store.Store) store.Store {
		racing = &clearedAfterReadStore{Store: s, updates: 0}
		return racing
	})
	require.NoError(t, racing.Store.Update(t.Context(), songKey, func(*catalog.Record) (catalog.Patch, error) {
		return catalog.Patch{
			catalog.FieldTitle: "Song A",
			catalog.FieldSrc:   []string{"u0"},
			catalog.FieldID:    []int64{1},
			catalog.FieldHours: 5,
		}, nil
	}))

	res, err := f.processor.Process(t.Context(), auth.Context{Token: "t"}, jazz) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, merge.ActionMerge, res.Action)
	assert.Equal(t, 1, f.fetcher.saves, "assets must be ingested exactly once")
	assert.Equal(t, 2, racing.updates)

	rec, err := racing.Store.Read(t.Context(), songKey)
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Hours)
	assert.Equal(t, []string{"u1", "u0"}, rec.Src)
	assert.True(t, rec.Complete())
	assert.NotEqual(t, "media/cleared", rec.MediaLink)
}

func TestProcessChannelTitleStaysInOneDirectory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ch := catalog.Channel{ID: "rnb", Title: "R&B/Soul", Service: "SoundCloud", Region: "", Genre: "rbsoul"}

	res, err := f.processor.Process(t.Context(), auth.Context{Token: "t"}, ch) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, "SoundCloud/R&B%2FSoul/song a artist b", res.Key.Path())

	assert.FileExists(t, filepath.Join(f.cacheDir, "SoundCloud", "R&B%2FSoul", "song a artist b.mp3"))
	assert.FileExists(t, filepath.Join(f.bucketDir, "SoundCloud", "R&B%2FSoul", "song a artist b.mp3"))
	assert.NoDirExists(t, filepath.Join(f.cacheDir, "SoundCloud", "R&B"))
}
