// Package storetest runs the behaviour every store.Store backend must have.
package storetest

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/store"
)

var errMutate = errors.New("mutate failed")

func key(title string) catalog.Key {
	return catalog.Key{Service: "SoundCloud", Channel: "Jazz", Title: title}
}

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("read_absent", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Read(t.Context(), key("absent"))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("create_and_read", func(t *testing.T) {
		s := newStore(t)
		rec := catalog.Record{
			Title:     "Song A",
			Artist:    "Artist B",
			Art:       "art",
			UserName:  "Uploader",
			Src:       []string{"u1"},
			PostURL:   []string{"p1"},
			Time:      []int64{215},
			ID:        []int64{1},
			Hours:     1,
			MediaLink: "m",
			SelfLink:  "s",
			ArtLink:   "a",
		}
		err := s.Update(t.Context(), key("song a"), func(existing *catalog.Record) (catalog.Patch, error) {
			assert.Nil(t, existing)
			return catalog.FullPatch(rec), nil
		})
		require.NoError(t, err)

		got, err := s.Read(t.Context(), key("song a"))
		require.NoError(t, err)
		assert.Equal(t, rec, *got)
	})

	t.Run("patch_keeps_untouched_fields", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(t.Context(), key("k"), func(*catalog.Record) (catalog.Patch, error) {
			return catalog.Patch{catalog.FieldTitle: "T", catalog.FieldSrc: []string{"u1"}, catalog.FieldHours: 1}, nil
		}))
		require.NoError(t, s.Update(t.Context(), key("k"), func(existing *catalog.Record) (catalog.Patch, error) {
			require.NotNil(t, existing)
			return catalog.Patch{catalog.FieldHours: existing.Hours + 1, catalog.FieldID: []int64{2}}, nil
		}))

		got, err := s.Read(t.Context(), key("k"))
		require.NoError(t, err)
		assert.Equal(t, "T", got.Title)
		assert.Equal(t, []string{"u1"}, got.Src)
		assert.Equal(t, 2, got.Hours)
		assert.Equal(t, []int64{2}, got.ID)
	})

	t.Run("nil_patch_writes_nothing", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(t.Context(), key("k"), func(*catalog.Record) (catalog.Patch, error) {
			return nil, nil
		}))
		_, err := s.Read(t.Context(), key("k"))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("mutate_error_is_returned", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(t.Context(), key("k"), func(*catalog.Record) (catalog.Patch, error) {
			return nil, errMutate
		})
		require.ErrorIs(t, err, errMutate)
		_, err = s.Read(t.Context(), key("k"))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("concurrent_updates_are_serialized", func(t *testing.T) {
		s := newStore(t)
		const writers = 8

		var wg sync.WaitGroup
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Update(t.Context(), key("k"), func(existing *catalog.Record) (catalog.Patch, error) {
					hours := 1
					if nil != existing {
						hours = existing.Hours + 1
					}
					return catalog.Patch{catalog.FieldHours: hours}, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Read(t.Context(), key("k"))
		require.NoError(t, err)
		assert.Equal(t, writers, got.Hours)
	})

	t.Run("channels", func(t *testing.T) {
		s := newStore(t)
		channels, err := s.Channels(t.Context())
		require.NoError(t, err)
		assert.Empty(t, channels)

		require.NoError(t, s.SaveChannel(t.Context(), catalog.Channel{ID: "a", Title: "Jazz", Service: "SoundCloud", Region: "US", Genre: "jazzblues"}))
		require.NoError(t, s.SaveChannel(t.Context(), catalog.Channel{ID: "b", Title: "Rock", Service: "Other", Region: "", Genre: ""}))
		require.NoError(t, s.SaveChannel(t.Context(), catalog.Channel{ID: "a", Title: "Jazz & Blues", Service: "SoundCloud", Region: "US", Genre: "jazzblues"}))

		channels, err = s.Channels(t.Context())
		require.NoError(t, err)
		require.Len(t, channels, 2)
		assert.Equal(t, "Jazz & Blues", channels[0].Title)
		assert.Equal(t, "US", channels[0].Region)
		assert.Equal(t, "Rock", channels[1].Title)

		filtered := store.FilterService(channels, "SoundCloud")
		require.Len(t, filtered, 1)
		assert.Equal(t, "a", filtered[0].ID)
	})
}
