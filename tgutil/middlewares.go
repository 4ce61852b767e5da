package tgutil

import (
	"context"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/telegram"
	"github.com/iyear/tdl/core/middlewares/recovery"
	"github.com/iyear/tdl/core/middlewares/retry"

	"github.com/xeptore/chartd/constant"
)

//nolint:exhaustruct
var Device = telegram.DeviceConfig{
	DeviceModel:    constant.AppName,
	SystemVersion:  runtime.GOOS + "/" + runtime.GOARCH,
	AppVersion:     constant.Version,
	SystemLangCode: "en",
	LangCode:       "en",
}

func DefaultMiddlewares(ctx context.Context) []telegram.Middleware {
	return []telegram.Middleware{
		retry.New(4),
		recovery.New(ctx, newBackoff(2*time.Minute)),
	}
}

func newBackoff(timeout time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.Multiplier = 1.1
	b.MaxElapsedTime = timeout
	b.MaxInterval = 10 * time.Second
	return b
}
