// Package pipeline processes one channel: it observes the chart leader,
// ingests its assets when the catalog needs them and commits the merged
// record.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/chartd/auth"
	"github.com/xeptore/chartd/cache"
	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/fetch"
	"github.com/xeptore/chartd/ingest"
	"github.com/xeptore/chartd/merge"
	"github.com/xeptore/chartd/store"
	"github.com/xeptore/chartd/tag"
)

type ChartsClient interface {
	TopTrack(ctx context.Context, authCtx auth.Context, ch catalog.Channel) (*catalog.Observation, error)
	ChartsURL(ch catalog.Channel) string
}

type Fetcher interface {
	SaveTo(ctx context.Context, url, path string) error
	Bytes(ctx context.Context, url string) ([]byte, error)
}

type Tagger interface {
	Tag(ctx context.Context, audioPath string, meta tag.Meta) (*tag.Result, error)
}

type Uploader interface {
	Upload(ctx context.Context, localPath, remoteKey string) (catalog.AssetRef, error)
}

type Result struct {
	Genre  string
	Action merge.Action
	Key    catalog.Key
}

type Processor struct {
	service  string
	cacheDir string
	policy   merge.Policy
	charts   ChartsClient
	fetcher  Fetcher
	tagger   Tagger
	uploader Uploader
	store    store.Store
	artworks *cache.DownloadedArtworksCache
	now      func() time.Time
	logger   zerolog.Logger
}

type Options struct {
	Service  string
	CacheDir string
	Policy   merge.Policy
	Charts   ChartsClient
	Fetcher  Fetcher
	Tagger   Tagger
	Uploader Uploader
	Store    store.Store
	Artworks *cache.DownloadedArtworksCache
	Now      func() time.Time
	Logger   zerolog.Logger
}

func New(opts Options) *Processor {
	now := opts.Now
	if nil == now {
		now = time.Now
	}
	return &Processor{
		service:  opts.Service,
		cacheDir: opts.CacheDir,
		policy:   opts.Policy,
		charts:   opts.Charts,
		fetcher:  opts.Fetcher,
		tagger:   opts.Tagger,
		uploader: opts.Uploader,
		store:    opts.Store,
		artworks: opts.Artworks,
		now:      now,
		logger:   opts.Logger,
	}
}

// Process runs every stage for ch. Writes are idempotent, so a failed run
// can be repeated.
func (p *Processor) Process(ctx context.Context, authCtx auth.Context, ch catalog.Channel) (*Result, error) {
	logger := p.logger.With().Str("channel", ch.Title).Logger()

	obs, err := p.observe(ctx, authCtx, ch)
	if nil != err {
		return nil, err
	}

	key := catalog.NewKey(p.service, ch, *obs)
	logger = logger.With().Str("key", key.Path()).Logger()
	if key.Title == "" {
		logger.Warn().Str("title", obs.Title).Msg("Observation has no usable title. Skipping")
		return &Result{Genre: ch.Title, Action: merge.ActionSkip, Key: key}, nil
	}

	existing, err := p.snapshot(ctx, key)
	if nil != err {
		return nil, err
	}

	action := merge.Plan(existing, *obs, p.policy)
	logger.Debug().Str("planned_action", string(action)).Msg("Planned catalog action")
	if action == merge.ActionSkip {
		return &Result{Genre: ch.Title, Action: action, Key: key}, nil
	}

	var uploaded *merge.Uploaded
	if action.NeedsAssets() {
		if uploaded, err = p.ingest(ctx, logger, key, *obs); nil != err {
			return nil, err
		}
	}

	decision, err := p.commit(ctx, key, *obs, uploaded)
	if errors.Is(err, merge.ErrAssetsRequired) {
		// The record changed since the snapshot and now needs assets.
		logger.Info().Msg("Record became incomplete since it was read. Ingesting assets")
		if uploaded, err = p.ingest(ctx, logger, key, *obs); nil != err {
			return nil, err
		}
		decision, err = p.commit(ctx, key, *obs, uploaded)
	}
	if nil != err {
		return nil, err
	}

	logger.Info().Str("action", string(decision.Action)).Int("hours", decision.Record.Hours).Msg("Catalog record committed")
	return &Result{Genre: ch.Title, Action: decision.Action, Key: key}, nil
}

func (p *Processor) observe(ctx context.Context, authCtx auth.Context, ch catalog.Channel) (*catalog.Observation, error) {
	obs, err := p.charts.TopTrack(ctx, authCtx, ch)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, auth.ErrUnauthorized):
			return nil, &ingest.AuthError{Err: err}
		default:
			return nil, &ingest.FetchError{URL: p.charts.ChartsURL(ch), Err: err}
		}
	}
	return obs, nil
}

func (p *Processor) snapshot(ctx context.Context, key catalog.Key) (*catalog.Record, error) {
	rec, err := p.store.Read(ctx, key)
	if nil != err {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil //nolint:nilnil
		}
		return nil, err
	}
	return rec, nil
}

type downloaded struct {
	audioPath   string
	artworkPath string
}

func (p *Processor) ingest(ctx context.Context, logger zerolog.Logger, key catalog.Key, obs catalog.Observation) (*merge.Uploaded, error) {
	files, err := p.download(ctx, key, obs)
	if nil != err {
		return nil, err
	}
	logger.Debug().Str("audio_path", files.audioPath).Msg("Assets downloaded")

	if err := p.tag(ctx, files, obs); nil != err {
		return nil, err
	}

	uploaded, err := p.upload(ctx, key, files)
	if nil != err {
		return nil, err
	}
	logger.Debug().Str("media_link", uploaded.Audio.MediaLink).Str("art_link", uploaded.Artwork.MediaLink).Msg("Assets uploaded")
	return uploaded, nil
}

func (p *Processor) download(ctx context.Context, key catalog.Key, obs catalog.Observation) (*downloaded, error) {
	dir := filepath.Join(p.cacheDir, key.Service, key.Channel)
	files := &downloaded{
		audioPath:   filepath.Join(dir, key.Title+".mp3"),
		artworkPath: filepath.Join(dir, key.Title+".jpg"),
	}

	if err := p.fetcher.SaveTo(ctx, obs.DownloadURL, files.audioPath); nil != err {
		return nil, err
	}

	item, err := p.artworks.Fetch(obs.ArtworkURL, cache.DefaultDownloadedArtworkTTL, func() ([]byte, error) {
		return p.fetcher.Bytes(ctx, obs.ArtworkURL)
	})
	if nil != err {
		return nil, err
	}
	if err := fetch.WriteFile(files.artworkPath, item.Value()); nil != err {
		return nil, &ingest.FetchError{URL: obs.ArtworkURL, Err: err}
	}

	return files, nil
}

func (p *Processor) tag(ctx context.Context, files *downloaded, obs catalog.Observation) error {
	title := obs.ReleaseTitle
	if title == "" {
		title = obs.Title
	}
	meta := tag.Meta{
		Title:       title,
		Artist:      obs.ArtistName,
		Album:       obs.Album,
		Genre:       obs.Genre,
		ArtworkPath: files.artworkPath,
	}
	_, err := p.tagger.Tag(ctx, files.audioPath, meta)
	return err
}

func (p *Processor) upload(ctx context.Context, key catalog.Key, files *downloaded) (*merge.Uploaded, error) {
	var uploaded merge.Uploaded

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		ref, err := p.uploader.Upload(wgCtx, files.artworkPath, key.Path()+".jpg")
		if nil != err {
			return err
		}
		uploaded.Artwork = ref
		return nil
	})
	wg.Go(func() error {
		ref, err := p.uploader.Upload(wgCtx, files.audioPath, key.Path()+".mp3")
		if nil != err {
			return err
		}
		uploaded.Audio = ref
		return nil
	})
	if err := wg.Wait(); nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return &uploaded, nil
}

func (p *Processor) commit(ctx context.Context, key catalog.Key, obs catalog.Observation, uploaded *merge.Uploaded) (*merge.Decision, error) {
	at := p.now()
	var decision merge.Decision
	err := p.store.Update(ctx, key, func(existing *catalog.Record) (catalog.Patch, error) {
		d, err := merge.Decide(existing, obs, uploaded, at, p.policy)
		if nil != err {
			return nil, err
		}
		decision = d
		return d.Patch, nil
	})
	if nil != err {
		return nil, err
	}
	return &decision, nil
}
