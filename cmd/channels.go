package main

import (
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/chartd/store"
)

func listChannels(cliCtx *cli.Context) (err error) {
	ctx, cancel := signalContext(cliCtx)
	defer cancel()

	cfg, logger, err := setup(cliCtx)
	if nil != err {
		return err
	}

	s, err := openStore(ctx, cfg, logger)
	if nil != err {
		return err
	}
	defer func() {
		if closeErr := s.Close(); nil != closeErr && nil == err {
			err = closeErr
		}
	}()

	channels, err := s.Channels(ctx)
	if nil != err {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(store.FilterService(channels, cfg.Service)); nil != err {
		return err
	}
	return enc.Close()
}

func importChannels(cliCtx *cli.Context) (err error) {
	ctx, cancel := signalContext(cliCtx)
	defer cancel()

	cfg, logger, err := setup(cliCtx)
	if nil != err {
		return err
	}

	s, err := openStore(ctx, cfg, logger)
	if nil != err {
		return err
	}
	defer func() {
		if closeErr := s.Close(); nil != closeErr && nil == err {
			err = closeErr
		}
	}()

	for _, ch := range toCatalogChannels(cfg.Service, cfg.Channels) {
		if err := s.SaveChannel(ctx, ch); nil != err {
			return err
		}
		logger.Info().Str("channel_id", ch.ID).Str("title", ch.Title).Msg("Channel saved")
	}
	return nil
}
