package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/config"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/store"
)

const (
	channelsKey  = "channels"
	maxTxRetries = 10
)

var errTxConflict = errors.New("record was modified concurrently too many times")

// Store keeps each record as a JSON string under its key path and channels
// as JSON values of a hash.
type Store struct {
	client *redis.Client
}

func New(ctx context.Context, cfg config.RedisStore) (*Store, error) {
	client := redis.NewClient(&redis.Options{ //nolint:exhaustruct
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, config.StoreOperationTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); nil != err {
		_ = client.Close()
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP := flaw.P{"addr": cfg.Addr, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to ping redis: %v", err)).Append(flawP)
	}

	return &Store{client: client}, nil
}

func (s *Store) Read(ctx context.Context, key catalog.Key) (*catalog.Record, error) {
	doc, err := s.client.Get(ctx, key.Path()).Bytes()
	if nil != err {
		switch {
		case errors.Is(err, redis.Nil):
			return nil, store.ErrNotFound
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		default:
			flawP := flaw.P{"key": key.Path(), "err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to get record: %v", err)).Append(flawP)
		}
	}
	return store.Decode(doc)
}

// Update watches the record key so a concurrent write between the read and
// the write aborts the transaction, which is then retried from the read.
func (s *Store) Update(ctx context.Context, key catalog.Key, mutate store.MutateFunc) error {
	path := key.Path()
	var mutateErr error

	txf := func(tx *redis.Tx) error {
		doc, err := tx.Get(ctx, path).Bytes()
		var existing *catalog.Record
		switch {
		case nil == err:
			rec, err := store.Decode(doc)
			if nil != err {
				return err
			}
			existing = rec
		case errors.Is(err, redis.Nil):
			doc = nil
		default:
			return err
		}

		patch, err := mutate(existing)
		if nil != err {
			mutateErr = err
			return err
		}
		if nil == patch {
			return nil
		}

		updated, err := store.Overlay(doc, patch)
		if nil != err {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, path, updated, 0)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		mutateErr = nil
		err := s.client.Watch(ctx, txf, path)
		switch {
		case nil == err:
			return nil
		case nil != mutateErr:
			return mutateErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errutil.IsFlaw(err):
			return err
		default:
			flawP := flaw.P{"key": path, "err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to update record: %v", err)).Append(flawP)
		}
	}
	return flaw.From(errTxConflict).Append(flaw.P{"key": path, "attempts": maxTxRetries})
}

func (s *Store) Channels(ctx context.Context) ([]catalog.Channel, error) {
	entries, err := s.client.HGetAll(ctx, channelsKey).Result()
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to list channels: %v", err)).Append(flawP)
	}

	channels := make([]catalog.Channel, 0, len(entries))
	for id, v := range entries {
		var ch catalog.Channel
		if err := json.Unmarshal([]byte(v), &ch); nil != err {
			flawP := flaw.P{"id": id, "value": v, "err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to decode channel: %v", err)).Append(flawP)
		}
		ch.ID = id
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
	return channels, nil
}

func (s *Store) SaveChannel(ctx context.Context, ch catalog.Channel) error {
	if ch.ID == "" {
		ch.ID = ch.Title
	}
	b, err := json.Marshal(ch)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to encode channel: %v", err)).Append(flawP)
	}
	if err := s.client.HSet(ctx, channelsKey, ch.ID, b).Err(); nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		flawP := flaw.P{"id": ch.ID, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to save channel: %v", err)).Append(flawP)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
