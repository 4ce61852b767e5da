// Package merge decides how a chart observation changes the catalog. It does
// no I/O.
package merge

import (
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/mathutil"
)

var ErrAssetsRequired = errors.New("uploaded assets are required to create or merge a record")

type Action string

const (
	ActionSkip        Action = "SKIP"
	ActionCreate      Action = "CREATE"
	ActionMerge       Action = "MERGE"
	ActionUpdateCount Action = "UPDATE_COUNT"
)

// NeedsAssets reports whether the action writes asset links, so the assets
// must be downloaded and uploaded first.
func (a Action) NeedsAssets() bool {
	return a == ActionCreate || a == ActionMerge
}

type Policy struct {
	// ReingestOnNewSource merges instead of only counting when a complete
	// record is observed with a download URL not yet in its sources.
	ReingestOnNewSource bool
}

type Uploaded struct {
	Audio   catalog.AssetRef
	Artwork catalog.AssetRef
}

type Decision struct {
	Action Action
	Record catalog.Record
	Patch  catalog.Patch
}

func Plan(existing *catalog.Record, obs catalog.Observation, policy Policy) Action {
	switch {
	case strings.TrimSpace(obs.Title) == "":
		return ActionSkip
	case existing.Complete():
		if policy.ReingestOnNewSource && obs.DownloadURL != "" && !lo.Contains(existing.Src, obs.DownloadURL) {
			return ActionMerge
		}
		return ActionUpdateCount
	case nil == existing:
		return ActionCreate
	default:
		return ActionMerge
	}
}

// Decide computes the record to persist for obs given the currently stored
// record, if any. at is recorded, in Unix milliseconds, as the newest
// observation id.
func Decide(existing *catalog.Record, obs catalog.Observation, uploaded *Uploaded, at time.Time, policy Policy) (Decision, error) {
	action := Plan(existing, obs, policy)
	observedAt := at.UnixMilli()

	switch action {
	case ActionSkip:
		return Decision{Action: action, Record: catalog.Record{}, Patch: nil}, nil //nolint:exhaustruct
	case ActionUpdateCount:
		rec := *existing
		rec.ID = lo.Union([]int64{observedAt}, existing.ID)
		rec.Hours = existing.Hours + 1
		patch := catalog.Patch{
			catalog.FieldID:    rec.ID,
			catalog.FieldHours: rec.Hours,
		}
		return Decision{Action: action, Record: rec, Patch: patch}, nil
	}

	if nil == uploaded {
		return Decision{}, ErrAssetsRequired //nolint:exhaustruct
	}

	rec := catalog.Record{
		Title:     obs.Title,
		Artist:    obs.ArtistName,
		Art:       obs.ArtworkURL,
		UserName:  obs.UploaderName,
		Src:       lo.Compact([]string{obs.DownloadURL}),
		PostURL:   lo.Compact([]string{obs.PermalinkURL}),
		Time:      []int64{mathutil.TruncDiv(obs.DurationMS, 1000)},
		ID:        []int64{observedAt},
		Hours:     1,
		MediaLink: uploaded.Audio.MediaLink,
		SelfLink:  uploaded.Audio.SelfLink,
		ArtLink:   uploaded.Artwork.MediaLink,
	}

	if action == ActionMerge {
		rec.Src = lo.Union(rec.Src, existing.Src)
		rec.PostURL = lo.Union(rec.PostURL, existing.PostURL)
		rec.Time = lo.Union(rec.Time, existing.Time)
		rec.ID = lo.Union(rec.ID, existing.ID)
		rec.Hours = max(existing.Hours, 0) + 1
	}

	return Decision{Action: action, Record: rec, Patch: catalog.FullPatch(rec)}, nil
}
