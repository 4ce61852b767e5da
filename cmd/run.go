package main

import (
	"github.com/urfave/cli/v2"
)

func run(cliCtx *cli.Context) error {
	ctx, cancel := signalContext(cliCtx)
	defer cancel()

	cfg, logger, err := setup(cliCtx)
	if nil != err {
		return err
	}

	return newRunner(cfg, logger).runOnce(ctx)
}
