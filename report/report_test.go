package report_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeptore/flaw/v8"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/chartd/catalog"
	"github.com/xeptore/chartd/ingest"
	"github.com/xeptore/chartd/merge"
	"github.com/xeptore/chartd/orchestrator"
	"github.com/xeptore/chartd/report"
)

func outcomes() []orchestrator.Outcome {
	return []orchestrator.Outcome{
		{
			Channel:  catalog.Channel{Title: "Jazz"}, //nolint:exhaustruct
			Genre:    "Jazz",
			Action:   merge.ActionCreate,
			Key:      "SoundCloud/Jazz/song",
			Err:      nil,
			Duration: 1500 * time.Millisecond,
		},
		{
			Channel:  catalog.Channel{Title: "Rock"}, //nolint:exhaustruct
			Genre:    "",
			Action:   "",
			Key:      "",
			Err:      &ingest.UploadError{Key: "k", Err: flaw.From(errors.New("bucket unavailable")).Append(flaw.P{"bucket": "b"})},
			Duration: time.Second,
		},
		{
			Channel:  catalog.Channel{Title: "Pop"}, //nolint:exhaustruct
			Genre:    "",
			Action:   "",
			Key:      "",
			Err:      orchestrator.ErrRunAborted,
			Duration: 0,
		},
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := report.Build("run-1", started, started.Add(time.Minute), outcomes(), nil)

	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 2, r.Failed)
	require.Len(t, r.Channels, 3)
	assert.Equal(t, "CREATE", r.Channels[0].Action)
	assert.Equal(t, "1.5s", r.Channels[0].Duration)
	assert.Nil(t, r.Channels[0].Error)

	require.NotNil(t, r.Channels[1].Error)
	assert.Equal(t, "upload", r.Channels[1].Error.Kind)
	require.NotNil(t, r.Channels[1].Error.Flaw)
	assert.Equal(t, "bucket unavailable", r.Channels[1].Error.Flaw.Inner)

	assert.Equal(t, "aborted", r.Channels[2].Error.Kind)
	assert.Nil(t, r.Channels[2].Error.Flaw)
	assert.NotEmpty(t, r.Lines())
}

func TestWrite(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := report.Build("run-1", started, started.Add(time.Minute), outcomes(), errors.New("auth: unauthorized"))

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, r.Write(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(b, &doc))
	assert.Equal(t, "run-1", doc["run_id"])
	assert.Equal(t, "auth: unauthorized", doc["error"])
	channels, ok := doc["channels"].([]any)
	require.True(t, ok)
	assert.Len(t, channels, 3)
}
