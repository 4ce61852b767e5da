// Package store defines the catalog store: records addressed by catalog.Key
// and the channel list.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/errutil"
)

var ErrNotFound = errors.New("record not found")

// MutateFunc receives the current record, nil when absent, and returns the
// fields to write. A nil patch leaves the record untouched.
type MutateFunc func(existing *catalog.Record) (catalog.Patch, error)

type Store interface {
	// Read returns the record stored under key, or ErrNotFound.
	Read(ctx context.Context, key catalog.Key) (*catalog.Record, error)
	// Update runs mutate against the freshly read record and overlays the
	// returned patch in a single read-modify-write. Errors from mutate are
	// returned as is.
	Update(ctx context.Context, key catalog.Key, mutate MutateFunc) error
	Channels(ctx context.Context) ([]catalog.Channel, error)
	SaveChannel(ctx context.Context, ch catalog.Channel) error
	Close() error
}

// Decode parses a stored record document.
func Decode(doc []byte) (*catalog.Record, error) {
	var rec catalog.Record
	if err := json.Unmarshal(doc, &rec); nil != err {
		flawP := flaw.P{"document": string(doc), "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to decode record document: %v", err)).Append(flawP)
	}
	return &rec, nil
}

// Overlay writes the patch fields over doc, keeping every other field of doc
// as stored, including fields unknown to catalog.Record. A nil doc starts
// from an empty document.
func Overlay(doc []byte, patch catalog.Patch) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &fields); nil != err {
			flawP := flaw.P{"document": string(doc), "err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to decode stored document: %v", err)).Append(flawP)
		}
	}
	for k, v := range patch {
		b, err := json.Marshal(v)
		if nil != err {
			flawP := flaw.P{"field": k, "err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to encode patch field: %v", err)).Append(flawP)
		}
		fields[k] = b
	}
	out, err := json.Marshal(fields)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to encode document: %v", err)).Append(flawP)
	}
	return out, nil
}

// FilterService keeps the channels served by service.
func FilterService(channels []catalog.Channel, service string) []catalog.Channel {
	return lo.Filter(channels, func(ch catalog.Channel, _ int) bool { return ch.Service == service })
}
