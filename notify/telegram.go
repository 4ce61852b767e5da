// Package notify delivers run reports to a Telegram chat through a bot.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/config"
	"github.com/xeptore/chartd/ctxutil"
	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/report"
	"github.com/xeptore/chartd/tgutil"
)

type Telegram struct {
	cfg    config.Telegram
	logger zerolog.Logger
}

func NewTelegram(cfg config.Telegram, logger zerolog.Logger) *Telegram {
	return &Telegram{cfg: cfg, logger: logger}
}

// Send posts r to the configured peer. The send may outlive ctx by a short
// grace period so a report of an interrupted run still goes out.
func (t *Telegram) Send(ctx context.Context, r *report.Report) error {
	if err := os.MkdirAll(t.cfg.SessionDir, 0o0700); nil != err {
		flawP := flaw.P{"session_dir": t.cfg.SessionDir, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create telegram session directory: %v", err)).Append(flawP)
	}

	clientCtx, cancel := ctxutil.WithDelayedTimeout(ctx, config.TelegramShutdownGrace)
	defer cancel()

	client := telegram.NewClient(
		t.cfg.AppID,
		t.cfg.AppHash,
		//nolint:exhaustruct
		telegram.Options{
			SessionStorage: &session.FileStorage{Path: filepath.Join(t.cfg.SessionDir, "session.json")},
			RetryInterval:  5 * time.Second,
			DialTimeout:    10 * time.Second,
			Device:         tgutil.Device,
			Middlewares:    tgutil.DefaultMiddlewares(clientCtx),
		},
	)

	return client.Run(clientCtx, func(runCtx context.Context) error {
		sendCtx, cancel := context.WithTimeout(runCtx, config.TelegramSendReportTimeout)
		defer cancel()

		status, err := client.Auth().Status(sendCtx)
		if nil != err {
			if errutil.IsContext(sendCtx) {
				return sendCtx.Err()
			}
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to get telegram client auth status: %v", err)).Append(flawP)
		}
		if !status.Authorized {
			if _, err := client.Auth().Bot(sendCtx, t.cfg.BotToken); nil != err {
				if errutil.IsContext(sendCtx) {
					return sendCtx.Err()
				}
				flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
				return flaw.From(fmt.Errorf("failed to authorize telegram bot: %v", err)).Append(flawP)
			}
			t.logger.Debug().Msg("Telegram client authorized")
		}

		sender := message.NewSender(tg.NewClient(client))
		if _, err := sender.Resolve(t.cfg.Peer).StyledText(sendCtx, r.Lines()...); nil != err {
			switch {
			case errutil.IsContext(sendCtx):
				return sendCtx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				return context.DeadlineExceeded
			default:
				flawP := flaw.P{"peer": t.cfg.Peer, "err_debug_tree": errutil.Tree(err).FlawP()}
				return flaw.From(fmt.Errorf("failed to send run report: %v", err)).Append(flawP)
			}
		}
		t.logger.Info().Str("peer", t.cfg.Peer).Msg("Run report sent")
		return nil
	})
}
