package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/chartd/auth"
	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/ingest"
	"github.com/xeptore/chartd/merge"
	"github.com/xeptore/chartd/orchestrator"
	"github.com/xeptore/chartd/pipeline"
)

var errBoom = errors.New("boom")

type fakeSource struct {
	mux       sync.Mutex
	tokens    []string
	refreshes int
}

func (s *fakeSource) Load(context.Context) (auth.Context, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return auth.Context{Token: s.tokens[0]}, nil //nolint:exhaustruct
}

func (s *fakeSource) Refresh(_ context.Context, stale auth.Context) (auth.Context, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.refreshes++
	for _, tok := range s.tokens {
		if tok != stale.Token {
			return auth.Context{Token: tok}, nil //nolint:exhaustruct
		}
	}
	return auth.Context{}, auth.ErrUnauthorized //nolint:exhaustruct
}

type fakeProcessor struct {
	fn    func(ctx context.Context, authCtx auth.Context, ch catalog.Channel) (*pipeline.Result, error)
	calls atomic.Int32
}

func (p *fakeProcessor) Process(ctx context.Context, authCtx auth.Context, ch catalog.Channel) (*pipeline.Result, error) {
	p.calls.Add(1)
	return p.fn(ctx, authCtx, ch)
}

func channels(titles ...string) []catalog.Channel {
	out := make([]catalog.Channel, len(titles))
	for i, title := range titles {
		out[i] = catalog.Channel{ID: title, Title: title, Service: "SoundCloud", Region: "", Genre: ""}
	}
	return out
}

func ok(ch catalog.Channel) *pipeline.Result {
	return &pipeline.Result{Genre: ch.Title, Action: merge.ActionCreate, Key: catalog.Key{Service: "SoundCloud", Channel: ch.Title, Title: "t"}}
}

func TestRunOrderAndIsolation(t *testing.T) {
	t.Parallel()

	processor := &fakeProcessor{
		fn: func(_ context.Context, _ auth.Context, ch catalog.Channel) (*pipeline.Result, error) {
			switch ch.Title {
			case "B":
				return nil, &ingest.FetchError{URL: "u", Err: errBoom}
			case "A":
				time.Sleep(20 * time.Millisecond)
			}
			return ok(ch), nil
		},
		calls: atomic.Int32{},
	}
	source := &fakeSource{mux: sync.Mutex{}, tokens: []string{"t1"}, refreshes: 0}

	o := orchestrator.New(processor, source, 3, 0, zerolog.Nop())
	outcomes, err := o.Run(t.Context(), channels("A", "B", "C"))
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, "A", outcomes[0].Genre)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, "B", outcomes[1].Channel.Title)
	var fetchErr *ingest.FetchError
	assert.ErrorAs(t, outcomes[1].Err, &fetchErr)
	assert.Equal(t, "C", outcomes[2].Genre)
	assert.Equal(t, merge.ActionCreate, outcomes[2].Action)
	assert.Equal(t, "SoundCloud/C/t", outcomes[2].Key)
}

func TestRunDefaultConcurrencyIsSequential(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	processor := &fakeProcessor{
		fn: func(_ context.Context, _ auth.Context, ch catalog.Channel) (*pipeline.Result, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return ok(ch), nil
		},
		calls: atomic.Int32{},
	}
	source := &fakeSource{mux: sync.Mutex{}, tokens: []string{"t1"}, refreshes: 0}

	outcomes, err := orchestrator.New(processor, source, 0, 0, zerolog.Nop()).Run(t.Context(), channels("A", "B", "C", "D"))
	require.NoError(t, err)
	assert.Len(t, outcomes, 4)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestRunPanicIsIsolated(t *testing.T) {
	t.Parallel()

	processor := &fakeProcessor{
		fn: func(_ context.Context, _ auth.Context, ch catalog.Channel) (*pipeline.Result, error) {
			if ch.Title == "A" {
				panic("unexpected")
			}
			return ok(ch), nil
		},
		calls: atomic.Int32{},
	}
	source := &fakeSource{mux: sync.Mutex{}, tokens: []string{"t1"}, refreshes: 0}

	outcomes, err := orchestrator.New(processor, source, 1, 0, zerolog.Nop()).Run(t.Context(), channels("A", "B"))
	require.NoError(t, err)
	require.Error(t, outcomes[0].Err)
	assert.Contains(t, outcomes[0].Err.Error(), "unexpected")
	assert.NoError(t, outcomes[1].Err)
}

func TestRunRefreshesOnce(t *testing.T) {
	t.Parallel()

	processor := &fakeProcessor{
		fn: func(_ context.Context, authCtx auth.Context, ch catalog.Channel) (*pipeline.Result, error) {
			if authCtx.Token != "t2" {
				return nil, &ingest.AuthError{Err: auth.ErrUnauthorized}
			}
			return ok(ch), nil
		},
		calls: atomic.Int32{},
	}
	source := &fakeSource{mux: sync.Mutex{}, tokens: []string{"t1", "t2"}, refreshes: 0}

	outcomes, err := orchestrator.New(processor, source, 1, 0, zerolog.Nop()).Run(t.Context(), channels("A", "B", "C"))
	require.NoError(t, err)
	for _, outcome := range outcomes {
		assert.NoError(t, outcome.Err)
	}
	assert.Equal(t, 1, source.refreshes)
	assert.Equal(t, int32(4), processor.calls.Load())
}

func TestRunAbortsOnSecondAuthFailure(t *testing.T) {
	t.Parallel()

	processor := &fakeProcessor{
		fn: func(_ context.Context, _ auth.Context, ch catalog.Channel) (*pipeline.Result, error) {
			if ch.Title == "A" {
				return ok(ch), nil
			}
			return nil, &ingest.AuthError{Err: auth.ErrUnauthorized}
		},
		calls: atomic.Int32{},
	}
	source := &fakeSource{mux: sync.Mutex{}, tokens: []string{"t1", "t2"}, refreshes: 0}

	outcomes, err := orchestrator.New(processor, source, 1, 0, zerolog.Nop()).Run(t.Context(), channels("A", "B", "C", "D"))
	var authErr *ingest.AuthError
	require.ErrorAs(t, err, &authErr)

	assert.NoError(t, outcomes[0].Err)
	assert.True(t, ingest.IsAuth(outcomes[1].Err))
	assert.ErrorIs(t, outcomes[2].Err, orchestrator.ErrRunAborted)
	assert.ErrorIs(t, outcomes[3].Err, orchestrator.ErrRunAborted)
	assert.Equal(t, 1, source.refreshes)
	assert.Equal(t, int32(3), processor.calls.Load())
}

func TestRunAbortsWhenRefreshFails(t *testing.T) {
	t.Parallel()

	processor := &fakeProcessor{
		fn: func(context.Context, auth.Context, catalog.Channel) (*pipeline.Result, error) {
			return nil, &ingest.AuthError{Err: auth.ErrUnauthorized}
		},
		calls: atomic.Int32{},
	}
	source := &fakeSource{mux: sync.Mutex{}, tokens: []string{"t1"}, refreshes: 0}

	outcomes, err := orchestrator.New(processor, source, 1, 0, zerolog.Nop()).Run(t.Context(), channels("A", "B"))
	require.True(t, ingest.IsAuth(err))
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.True(t, ingest.IsAuth(outcomes[0].Err))
	assert.ErrorIs(t, outcomes[1].Err, orchestrator.ErrRunAborted)
	assert.Equal(t, int32(1), processor.calls.Load())
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	processor := &fakeProcessor{
		fn: func(_ context.Context, _ auth.Context, ch catalog.Channel) (*pipeline.Result, error) {
			cancel()
			return ok(ch), nil
		},
		calls: atomic.Int32{},
	}
	source := &fakeSource{mux: sync.Mutex{}, tokens: []string{"t1"}, refreshes: 0}

	outcomes, err := orchestrator.New(processor, source, 1, 0, zerolog.Nop()).Run(ctx, channels("A", "B"))
	require.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, orchestrator.ErrRunAborted)
}
