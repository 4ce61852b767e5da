package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/config"
	"github.com/xeptore/chartd/constant"
	"github.com/xeptore/chartd/log"
)

const (
	flagConfigFilePath = "config"
)

func main() {
	logger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)
	if err := godotenv.Load(); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Msg(".env file was not found")
		} else {
			logger.Fatal().Err(err).Msg("Failed to load .env file")
		}
	}

	configFlag := []cli.Flag{
		//nolint:exhaustruct
		&cli.StringFlag{
			Name:     flagConfigFilePath,
			Aliases:  []string{"c"},
			Usage:    "Config file path",
			Required: false,
		},
	}

	//nolint:exhaustruct
	app := &cli.App{
		Name:     constant.AppName,
		Version:  constant.Version,
		Compiled: constant.CompileTime,
		Suggest:  true,
		Usage:    "Top-track chart ingester",
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Process every configured channel once",
				Action:  run,
				Flags:   configFlag,
			},
			//nolint:exhaustruct
			{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Process channels repeatedly on the configured schedule",
				Action:  watch,
				Flags:   configFlag,
			},
			//nolint:exhaustruct
			{
				Name:  "channels",
				Usage: "Manage channels kept in the catalog store",
				Subcommands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:   "list",
						Usage:  "Print stored channels of the configured service",
						Action: listChannels,
						Flags:  configFlag,
					},
					//nolint:exhaustruct
					{
						Name:   "import",
						Usage:  "Save channels from the config file into the catalog store",
						Action: importChannels,
						Flags:  configFlag,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			return
		}
		if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
			logger.Fatal().Func(log.Flaw(flawErr)).Msg("Application exited with flaw")
			return
		}
		logger.Fatal().Err(err).Msg("Application exited with error")
	}
}

func signalContext(cliCtx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
}

func loadConfig(cliCtx *cli.Context, logger zerolog.Logger) (*config.Config, error) {
	cfgEnv := os.Getenv("CONFIG")
	cfgFilePath := cliCtx.String(flagConfigFilePath)
	switch {
	case cfgFilePath != "" && cfgEnv != "":
		return nil, errors.New("config file path and config environment variable are both set. specify only one")
	case cfgFilePath == "" && cfgEnv == "":
		return nil, errors.New("config file path and config environment variable are both empty. specify one")
	case cfgFilePath != "":
		logger.Debug().Str("config_file_path", cfgFilePath).Msg("Loading config from file")
		cfg, err := config.FromFile(cfgFilePath)
		if nil != err {
			return nil, fmt.Errorf("failed to load config file: %v", err)
		}
		return cfg, nil
	default:
		logger.Debug().Msg("Loading config from environment variable")
		cfg, err := config.FromString(cfgEnv)
		if nil != err {
			return nil, fmt.Errorf("failed to load config from environment variable: %v", err)
		}
		return cfg, nil
	}
}

// setup loads the config and builds the logger it asks for.
func setup(cliCtx *cli.Context) (*config.Config, zerolog.Logger, error) {
	bootLogger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)
	cfg, err := loadConfig(cliCtx, bootLogger)
	if nil != err {
		return nil, bootLogger, err
	}
	logger, err := log.New(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	if nil != err {
		return nil, bootLogger, fmt.Errorf("failed to initialize logger: %v", err)
	}
	return cfg, logger, nil
}
