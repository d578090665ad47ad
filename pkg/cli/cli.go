package cli

import (
	"context"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/cli/config"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const envFileEnv = "CONCIERGE_ENV_FILE"

func Run(ctx context.Context, args []string, version string) error {
	var loggerCfg config.Logger
	var sentryCfg config.Sentry
	var envFile string
	var closers []func()

	// flag sources read the environment while parsing, so the file is
	// loaded before the app runs
	if err := loadEnvFile(args); err != nil {
		logging.Default().Error("failed to load env file", "error", err)
		return err
	}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "env-file",
			Usage:       "Load environment variables from this file before parsing flags",
			Sources:     cli.EnvVars(envFileEnv),
			Destination: &envFile,
		},
	}
	flags = append(flags, loggerCfg.Flags()...)
	flags = append(flags, sentryCfg.Flags()...)

	app := &cli.Command{
		Name:    "concierge",
		Usage:   "Personal assistant inference broker with encrypted memory",
		Version: version,
		Flags:   flags,
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			f, err := loggerCfg.Configure()
			if err != nil {
				return ctx, err
			}
			closers = append(closers, f)

			flush, err := sentryCfg.Configure(version)
			if err != nil {
				return ctx, err
			}
			closers = append(closers, flush)

			logging.Default().Info("Starting concierge",
				"version", version,
				"logger", &loggerCfg,
				"sentry", &sentryCfg,
				"env_file", envFile,
			)
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			return nil
		},
		Commands: []*cli.Command{
			cmdServe(),
			cmdAsk(),
			cmdMigrate(),
			cmdSalt(),
			cmdValidate(),
			cmdBudget(),
			cmdToken(),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		logging.Default().Error("failed to run app", "error", err)
		return err
	}

	return nil
}

// envFilePath finds --env-file in args, falling back to CONCIERGE_ENV_FILE
func envFilePath(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--":
			return os.Getenv(envFileEnv)
		case arg == "--env-file" || arg == "-env-file":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(arg, "--env-file="):
			return strings.TrimPrefix(arg, "--env-file=")
		case strings.HasPrefix(arg, "-env-file="):
			return strings.TrimPrefix(arg, "-env-file=")
		}
	}
	return os.Getenv(envFileEnv)
}

// loadEnvFile loads the env file if one is given. Variables already set in
// the environment win over the file.
func loadEnvFile(args []string) error {
	path := envFilePath(args)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return goerr.Wrap(err, "failed to load env file", goerr.V(config.ConfigPathKey, path))
	}
	return nil
}
