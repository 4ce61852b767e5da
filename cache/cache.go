package cache

import (
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/xeptore/chartd/catalog"
)

var (
	DefaultUploadedAssetTTL     = 6 * time.Hour
	DefaultDownloadedArtworkTTL = 1 * time.Hour
)

type Cache struct {
	UploadedAssets     UploadedAssetsCache
	DownloadedArtworks DownloadedArtworksCache
}

func New() *Cache {
	uploadedAssetsCache := ccache.New(
		ccache.Configure[catalog.AssetRef]().
			MaxSize(1000).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	downloadedArtworksCache := ccache.New(
		ccache.Configure[[]byte]().
			MaxSize(100).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	return &Cache{
		UploadedAssets: UploadedAssetsCache{
			c:      uploadedAssetsCache,
			flight: singleflight.Group{},
		},
		DownloadedArtworks: DownloadedArtworksCache{
			c:      downloadedArtworksCache,
			flight: singleflight.Group{},
		},
	}
}

// UploadedAssetsCache maps remote object keys to the refs they were stored
// under.
type UploadedAssetsCache struct {
	c      *ccache.Cache[catalog.AssetRef]
	flight singleflight.Group
}

// Fetch returns the cached ref for k, calling fetch on a miss. Concurrent
// calls for the same key share one fetch. Calls for other keys do not wait.
func (c *UploadedAssetsCache) Fetch(k string, ttl time.Duration, fetch func() (catalog.AssetRef, error)) (*ccache.Item[catalog.AssetRef], error) {
	return fetchOnce(&c.flight, c.c, k, ttl, fetch)
}

func (c *UploadedAssetsCache) Delete(k string) {
	c.c.Delete(k)
}

// DownloadedArtworksCache maps artwork URLs to their bytes. Uploader avatars
// are shared between tracks, so the same URL is often seen more than once in
// a run.
type DownloadedArtworksCache struct {
	c      *ccache.Cache[[]byte]
	flight singleflight.Group
}

func (c *DownloadedArtworksCache) Fetch(k string, ttl time.Duration, fetch func() ([]byte, error)) (*ccache.Item[[]byte], error) {
	return fetchOnce(&c.flight, c.c, k, ttl, fetch)
}

func fetchOnce[T any](flight *singleflight.Group, c *ccache.Cache[T], k string, ttl time.Duration, fetch func() (T, error)) (*ccache.Item[T], error) {
	v, err, _ := flight.Do(k, func() (any, error) {
		return c.Fetch(k, ttl, fetch)
	})
	if nil != err {
		return nil, err
	}
	return v.(*ccache.Item[T]), nil //nolint:forcetypeassert
}
