package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/must"
	"github.com/xeptore/chartd/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS channels (
	id      TEXT PRIMARY KEY,
	title   TEXT NOT NULL,
	service TEXT NOT NULL,
	region  TEXT NOT NULL DEFAULT '',
	genre   TEXT NOT NULL DEFAULT ''
);
`

// Store keeps records as JSON documents in a SQLite database. Updates run in
// BEGIN IMMEDIATE transactions, which take the write lock before reading.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_txlock":       {"immediate"},
		"_busy_timeout": {"5000"},
		"_journal_mode": {"WAL"},
		"_foreign_keys": {"on"},
	}.Encode()

	db, err := sql.Open("sqlite3", dsn)
	if nil != err {
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to open database: %v", err)).Append(flawP)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); nil != err {
		_ = db.Close()
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to ping database: %v", err)).Append(flawP)
	}

	if _, err := db.ExecContext(ctx, schema); nil != err {
		_ = db.Close()
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to migrate database: %v", err)).Append(flawP)
	}

	return &Store{db: db}, nil
}

func (s *Store) Read(ctx context.Context, key catalog.Key) (*catalog.Record, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE path = ?`, key.Path()).Scan(&body)
	if nil != err {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, store.ErrNotFound
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		default:
			flawP := flaw.P{"key": key.Path(), "err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to read record: %v", err)).Append(flawP)
		}
	}
	return store.Decode(body)
}

func (s *Store) Update(ctx context.Context, key catalog.Key, mutate store.MutateFunc) (err error) {
	path := key.Path()
	flawP := flaw.P{"key": path}

	tx, err := s.db.BeginTx(ctx, nil)
	if nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to begin transaction: %v", err)).Append(flawP)
	}
	defer func() {
		if nil == err {
			return
		}
		if rollbackErr := tx.Rollback(); nil != rollbackErr && !errors.Is(rollbackErr, sql.ErrTxDone) {
			flawP["err_debug_tree"] = errutil.Tree(rollbackErr).FlawP()
			rollbackErr = flaw.From(fmt.Errorf("failed to rollback transaction: %v", rollbackErr)).Append(flawP)
			if errutil.IsFlaw(err) {
				err = must.BeFlaw(err).Join(rollbackErr)
			}
		}
	}()

	var (
		doc      []byte
		existing *catalog.Record
	)
	switch err := tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE path = ?`, path).Scan(&doc); {
	case nil == err:
		rec, err := store.Decode(doc)
		if nil != err {
			return err
		}
		existing = rec
	case errors.Is(err, sql.ErrNoRows):
		doc = nil
	case errutil.IsContext(ctx):
		return ctx.Err()
	default:
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to read record: %v", err)).Append(flawP)
	}

	patch, err := mutate(existing)
	if nil != err {
		return err
	}
	if nil == patch {
		return tx.Rollback()
	}

	updated, err := store.Overlay(doc, patch)
	if nil != err {
		return err
	}

	const upsert = `INSERT INTO documents (path, body, updated_at) VALUES (?, ?, ?)
ON CONFLICT (path) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsert, path, string(updated), time.Now().UnixMilli()); nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to write record: %v", err)).Append(flawP)
	}

	if err := tx.Commit(); nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to commit transaction: %v", err)).Append(flawP)
	}
	return nil
}

func (s *Store) Channels(ctx context.Context) (channels []catalog.Channel, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, service, region, genre FROM channels ORDER BY id`)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to list channels: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := rows.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close channel rows: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()

	channels = []catalog.Channel{}
	for rows.Next() {
		var ch catalog.Channel
		if err := rows.Scan(&ch.ID, &ch.Title, &ch.Service, &ch.Region, &ch.Genre); nil != err {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to scan channel: %v", err)).Append(flawP)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to iterate channels: %v", err)).Append(flawP)
	}
	return channels, nil
}

func (s *Store) SaveChannel(ctx context.Context, ch catalog.Channel) error {
	if ch.ID == "" {
		ch.ID = ch.Title
	}
	const upsert = `INSERT INTO channels (id, title, service, region, genre) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET title = excluded.title, service = excluded.service, region = excluded.region, genre = excluded.genre`
	if _, err := s.db.ExecContext(ctx, upsert, ch.ID, ch.Title, ch.Service, ch.Region, ch.Genre); nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		flawP := flaw.P{"id": ch.ID, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to save channel: %v", err)).Append(flawP)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
