// Package report summarizes a run for humans: a YAML file and a Telegram
// message.
package report

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gotd/td/telegram/message/styling"
	"github.com/samber/lo"
	"github.com/xeptore/flaw/v8"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/ingest"
	"github.com/xeptore/chartd/must"
	"github.com/xeptore/chartd/orchestrator"
)

type Report struct {
	RunID      string    `yaml:"run_id"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
	Error      string    `yaml:"error,omitempty"`
	Succeeded  int       `yaml:"succeeded"`
	Failed     int       `yaml:"failed"`
	Channels   []Entry   `yaml:"channels"`
}

type Entry struct {
	Channel  string      `yaml:"channel"`
	Genre    string      `yaml:"genre,omitempty"`
	Action   string      `yaml:"action,omitempty"`
	Key      string      `yaml:"key,omitempty"`
	Duration string      `yaml:"duration"`
	Error    *ErrorEntry `yaml:"error,omitempty"`
}

type ErrorEntry struct {
	Kind    string        `yaml:"kind"`
	Message string        `yaml:"message"`
	Flaw    *errutil.Flaw `yaml:"flaw,omitempty"`
}

func Build(runID string, startedAt, finishedAt time.Time, outcomes []orchestrator.Outcome, runErr error) *Report {
	r := &Report{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Error:      "",
		Succeeded:  0,
		Failed:     0,
		Channels:   make([]Entry, len(outcomes)),
	}
	if nil != runErr {
		r.Error = runErr.Error()
	}

	for i, o := range outcomes {
		e := Entry{
			Channel:  o.Channel.Title,
			Genre:    o.Genre,
			Action:   string(o.Action),
			Key:      o.Key,
			Duration: o.Duration.Round(time.Millisecond).String(),
			Error:    nil,
		}
		if nil != o.Err {
			r.Failed++
			e.Error = &ErrorEntry{Kind: kind(o.Err), Message: o.Err.Error(), Flaw: nil}
			if f, ok := errutil.FlawOf(o.Err); ok {
				e.Error.Flaw = f
			}
		} else {
			r.Succeeded++
		}
		r.Channels[i] = e
	}
	return r
}

func kind(err error) string {
	if errors.Is(err, orchestrator.ErrRunAborted) {
		return "aborted"
	}
	return ingest.Kind(err)
}

// Write stores the report as YAML at path, replacing any previous one.
func (r *Report) Write(path string) (err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0644)
	if nil != err {
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to open report file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close report file: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			default:
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()

	enc := yaml.NewEncoder(file)
	enc.SetIndent(2)
	if err := enc.Encode(r); nil != err {
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to encode report: %v", err)).Append(flawP)
	}
	if err := enc.Close(); nil != err {
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to flush report: %v", err)).Append(flawP)
	}
	if err := file.Sync(); nil != err {
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to sync report file: %v", err)).Append(flawP)
	}
	return nil
}

// Lines renders the report as a Telegram message.
func (r *Report) Lines() []styling.StyledTextOption {
	lines := []styling.StyledTextOption{
		styling.Bold("Chart run "),
		styling.Code(r.RunID),
		styling.Plain("\n"),
		styling.Plain(fmt.Sprintf("%d succeeded, %d failed in %s", r.Succeeded, r.Failed, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))),
		styling.Plain("\n"),
	}
	if r.Error != "" {
		lines = append(lines, styling.Italic("Run aborted: "), styling.Code(r.Error), styling.Plain("\n"))
	}

	succeeded := lo.Filter(r.Channels, func(e Entry, _ int) bool { return nil == e.Error })
	failed := lo.Filter(r.Channels, func(e Entry, _ int) bool { return nil != e.Error })

	for _, e := range succeeded {
		lines = append(lines,
			styling.Plain("\n"),
			styling.Bold(e.Genre),
			styling.Plain(": "),
			styling.Code(e.Action),
		)
	}
	for _, e := range failed {
		lines = append(lines,
			styling.Plain("\n"),
			styling.Bold(e.Channel),
			styling.Plain(": "),
			styling.Italic(e.Error.Kind),
			styling.Plain(" "),
			styling.Code(e.Error.Message),
		)
	}
	return lines
}
