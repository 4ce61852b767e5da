package log

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/pretty"

	"github.com/xeptore/chartd/constant"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
}

func newBaseLogger() zerolog.Logger {
	return zerolog.
		New(io.Discard).
		With().
		Dict(
			"app",
			zerolog.Dict().
				Str("name", constant.AppName).
				Str("version", constant.Version).
				Str("compilation_time", constant.CompileTime.Format(time.RFC3339)),
		).
		Timestamp().
		Logger().
		Level(zerolog.TraceLevel)
}

// NewPretty returns a logger writing indented, colored JSON lines. Meant for terminals.
func NewPretty(w io.Writer) zerolog.Logger {
	return newBaseLogger().Output(newPrettyWriter(w))
}

// NewPacked returns a logger writing one compact JSON object per line.
func NewPacked(w io.Writer) zerolog.Logger {
	return newBaseLogger().Output(w)
}

// New builds a logger for the given format ("pretty" or "json") and level name.
func New(w io.Writer, format, level string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(level))
		if nil != err {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %v", level, err)
		}
		lvl = l
	}

	switch strings.ToLower(format) {
	case "", "pretty":
		return NewPretty(w).Level(lvl), nil
	case "json":
		return NewPacked(w).Level(lvl), nil
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q", format)
	}
}

func newPrettyWriter(out io.Writer) prettyWriter {
	return prettyWriter{out}
}

type prettyWriter struct {
	out io.Writer
}

func (p prettyWriter) Write(line []byte) (int, error) {
	if n, err := p.out.Write(pretty.Color(pretty.Pretty(line), nil)); nil != err {
		return n, err
	}
	return len(line), nil
}
