package cache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/chartd/cache"
	"github.com/xeptore/chartd/catalog"
)

func TestUploadedAssetsFetch(t *testing.T) {
	t.Parallel()

	c := cache.New()
	calls := 0
	fetch := func() (catalog.AssetRef, error) {
		calls++
		return catalog.AssetRef{MediaLink: "m", SelfLink: "s"}, nil
	}

	first, err := c.UploadedAssets.Fetch("k", cache.DefaultUploadedAssetTTL, fetch)
	require.NoError(t, err)
	second, err := c.UploadedAssets.Fetch("k", cache.DefaultUploadedAssetTTL, fetch)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Value(), second.Value())

	c.UploadedAssets.Delete("k")
	_, err = c.UploadedAssets.Fetch("k", cache.DefaultUploadedAssetTTL, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDownloadedArtworksFetchError(t *testing.T) {
	t.Parallel()

	c := cache.New()
	errFetch := errors.New("boom")
	_, err := c.DownloadedArtworks.Fetch("u", cache.DefaultDownloadedArtworkTTL, func() ([]byte, error) { return nil, errFetch })
	require.ErrorIs(t, err, errFetch)

	item, err := c.DownloadedArtworks.Fetch("u", cache.DefaultDownloadedArtworkTTL, func() ([]byte, error) { return []byte("img"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), item.Value())
}

func TestUploadedAssetsFetchDistinctKeysRunConcurrently(t *testing.T) {
	t.Parallel()

	c := cache.New()
	var started sync.WaitGroup
	started.Add(2)
	bothStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(bothStarted)
	}()

	fetch := func(k string) func() (catalog.AssetRef, error) {
		return func() (catalog.AssetRef, error) {
			started.Done()
			select {
			case <-bothStarted:
				return catalog.AssetRef{MediaLink: "media/" + k, SelfLink: "self/" + k}, nil
			case <-time.After(5 * time.Second):
				return catalog.AssetRef{}, errors.New("fetch for " + k + " waited alone") //nolint:exhaustruct
			}
		}
	}

	var wg errgroup.Group
	for _, k := range []string{"a.jpg", "a.mp3"} {
		wg.Go(func() error {
			item, err := c.UploadedAssets.Fetch(k, cache.DefaultUploadedAssetTTL, fetch(k))
			if nil != err {
				return err
			}
			assert.Equal(t, "media/"+k, item.Value().MediaLink)
			return nil
		})
	}
	require.NoError(t, wg.Wait())
}

func TestDownloadedArtworksFetchSameKeySharesFetch(t *testing.T) {
	t.Parallel()

	c := cache.New()
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func() ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("img"), nil
	}

	var wg errgroup.Group
	for range 4 {
		wg.Go(func() error {
			item, err := c.DownloadedArtworks.Fetch("u", cache.DefaultDownloadedArtworkTTL, fetch)
			if nil != err {
				return err
			}
			assert.Equal(t, []byte("img"), item.Value())
			return nil
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	require.NoError(t, wg.Wait())
	assert.Equal(t, int32(1), calls.Load())
}
