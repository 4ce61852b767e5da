package constant

import (
	_ "embed"
	"fmt"
	"strings"
	"time"
)

const AppName = "chartd"

var (
	//go:embed version
	version string
	// Set at build time with -ldflags "-X github.com/xeptore/chartd/constant.compileTime=...".
	compileTime = "2026-10-01T00:00:00Z"

	Version     = strings.TrimSpace(version)
	CompileTime time.Time
)

func init() {
	t, err := time.Parse(time.RFC3339, compileTime)
	if nil != err {
		panic(fmt.Errorf("could not parse compile time %q. Make sure it is set at build time in RFC3339 format", compileTime))
	}
	CompileTime = t
}
