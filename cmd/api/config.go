package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"othello-server/internal/server"
)

type options struct {
	server    server.Config
	logLevel  string
	logFormat string
}

func newCmd(opts *options) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("OTHELLO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "othello-server",
		Short:   "Lobby, matchmaking and move relay for two-player Othello over websockets.",
		Args:    cobra.ExactArgs(0),
		Version: releaseVersion,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applyEnvironment(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.server.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), opts.server, setupLogger(opts.logLevel, opts.logFormat))
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	def := server.DefaultConfig()
	cfg := &opts.server

	fs.StringVarP(&cfg.Bind, "bind", "b", def.Bind, "address to bind to (env: OTHELLO_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", def.Port, "port to listen on (env: OTHELLO_PORT)")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", def.AllowedOrigins, "websocket origin patterns to accept (env: OTHELLO_ALLOWED_ORIGINS)")
	fs.DurationVar(&cfg.PairingDelay, "pairing-delay", def.PairingDelay, "window for coalescing match requests, 0 pairs immediately (env: OTHELLO_PAIRING_DELAY)")
	fs.IntVar(&cfg.RateLimit, "rate-limit", def.RateLimit, "frames allowed per connection per window (env: OTHELLO_RATE_LIMIT)")
	fs.DurationVar(&cfg.RateWindow, "rate-window", def.RateWindow, "rate limit window (env: OTHELLO_RATE_WINDOW)")
	fs.IntVar(&cfg.SendBuffer, "send-buffer", def.SendBuffer, "outbound frames queued per connection before it is dropped (env: OTHELLO_SEND_BUFFER)")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", def.PingInterval, "websocket heartbeat interval, 0 disables (env: OTHELLO_PING_INTERVAL)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres url for match history, empty disables (env: OTHELLO_DATABASE_URL)")
	fs.IntVar(&cfg.HistoryBuffer, "history-buffer", def.HistoryBuffer, "match history events queued before dropping (env: OTHELLO_HISTORY_BUFFER)")
	fs.StringVar(&cfg.NATSURL, "nats-url", "", "nats url for match events, empty disables (env: OTHELLO_NATS_URL)")
	fs.StringVar(&cfg.NATSSubject, "nats-subject", def.NATSSubject, "subject prefix for match events (env: OTHELLO_NATS_SUBJECT)")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error (env: OTHELLO_LOG_LEVEL)")
	fs.StringVar(&opts.logFormat, "log-format", "text", "text or json (env: OTHELLO_LOG_FORMAT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("othello-server v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// applyEnvironment fills flags not given on the command line from OTHELLO_*
// variables. It must run after flag parsing: a flag set here counts as
// changed, and a slice flag set twice appends.
func applyEnvironment(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		if setErr := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); setErr != nil {
			err = fmt.Errorf("invalid environment value for --%s: %w", f.Name, setErr)
		}
	})
	return err
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
