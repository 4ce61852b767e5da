package log

import (
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
)

// Panic renders a recovered value together with the goroutine stack, one
// frame line per array element, starting from the frame that panicked.
func Panic(thing any) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		frames := zerolog.Arr()
		for _, line := range panickingFrames(string(debug.Stack())) {
			frames.Str(line)
		}
		e.Dict("panic", zerolog.Dict().Any("content", thing).Array("stack_traces", frames))
	}
}

func panickingFrames(stack string) []string {
	lines := strings.Split(strings.TrimSpace(stack), "\n")
	// goroutine header, debug.Stack, this closure, runtime panic frames.
	if idx := lastIndexContaining(lines, "panic("); idx >= 0 && idx+2 < len(lines) {
		lines = lines[idx+2:]
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func lastIndexContaining(lines []string, substr string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i], substr) {
			return i
		}
	}
	return -1
}
