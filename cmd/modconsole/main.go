package main

import (
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "modconsole",
		Usage:   "session and readiness daemon for a moderation service console",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		&cli.Command{
			Name:   "serve",
			Usage:  "run the web server",
			Action: serve,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "service-did",
					Usage:    "DID of the moderation service (labeler) this console operates",
					Required: true,
					EnvVars:  []string{"OZONE_SERVICE_DID"},
				},
				&cli.StringFlag{
					Name:     "session-secret",
					Usage:    "random string/token used for session cookie security",
					Required: true,
					EnvVars:  []string{"SESSION_SECRET"},
				},
				&cli.StringFlag{
					Name:    "hostname",
					Usage:   "public host name for this client (if not localhost dev mode)",
					EnvVars: []string{"CLIENT_HOSTNAME"},
				},
				&cli.StringFlag{
					Name:    "client-secret-key",
					Usage:   "confidential client secret key. should be P-256 private key in multibase encoding",
					EnvVars: []string{"CLIENT_SECRET_KEY"},
				},
				&cli.StringFlag{
					Name:    "client-secret-key-id",
					Usage:   "key id for client-secret-key",
					Value:   "primary",
					EnvVars: []string{"CLIENT_SECRET_KEY_ID"},
				},
				&cli.StringFlag{
					Name:    "oauth-scopes",
					Usage:   "space-separated OAuth scopes to request",
					Value:   "atproto transition:generic",
					EnvVars: []string{"OAUTH_SCOPES"},
				},
				&cli.StringFlag{
					Name:    "bind",
					Usage:   "Specify the local IP/port to bind to",
					Value:   ":8700",
					EnvVars: []string{"MODCONSOLE_BIND"},
				},
				&cli.StringFlag{
					Name:    "metrics-listen",
					Usage:   "IP or address, and port, to listen on for metrics APIs",
					Value:   ":3989",
					EnvVars: []string{"MODCONSOLE_METRICS_LISTEN"},
				},
				&cli.StringFlag{
					Name:    "log-level",
					Usage:   "log verbosity level (eg: warn, info, debug)",
					EnvVars: []string{"MODCONSOLE_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
				},
			},
		},
	}
	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer *os.File) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info", "":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
