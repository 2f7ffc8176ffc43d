package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/sammck-go/pydevtunnel/pkg/pdtunnel"
	pdshare "github.com/sammck-go/pydevtunnel/share"
)

var errInterrupted = errors.New("interrupted")

type rootFlagData struct {
	configFile   string
	logLevel     string
	logFormat    string
	pollInterval time.Duration
}

var rootFlags rootFlagData

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pydevtunnel",
		Short: "Tunnels pydev debugger connections over a single stdio pipe",
		Long: `pydevtunnel carries the connections between a pydev debugger and its debuggees,
including the servers started by forked debuggees, over one duplex byte stream.

The local side runs next to the IDE and spawns a worker command (typically a remote
shell) that runs the remote side with its stdin and stdout as the pipe.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	addCommonFlags(rootCmd.PersistentFlags(), &rootFlags)

	rootCmd.AddCommand(newLocalCmd())
	rootCmd.AddCommand(newRemoteCmd())
	return rootCmd
}

func addCommonFlags(fs *pflag.FlagSet, f *rootFlagData) {
	fs.StringVarP(&f.configFile, "config", "c", "", "YAML file with tunnel settings")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: error, warning, info, debug or trace (default info)")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text or json (default text)")
	fs.DurationVar(&f.pollInterval, "poll-interval", 0, "Readiness wait bound, which is also the server monitor period (default 1s)")
}

// loadConfig reads the config file if one was given, then applies the flags
// that were set explicitly on the command line.
func loadConfig(fs *pflag.FlagSet) (*pdtunnel.Config, error) {
	var config *pdtunnel.Config
	if rootFlags.configFile != "" {
		c, err := pdtunnel.LoadConfigFile(rootFlags.configFile)
		if err != nil {
			return nil, err
		}
		config = c
	} else {
		config = pdtunnel.DefaultConfig()
	}

	if fs.Changed("log-level") {
		config.LogLevel = rootFlags.logLevel
	}
	if fs.Changed("log-format") {
		config.LogFormat = rootFlags.logFormat
	}
	if fs.Changed("poll-interval") {
		config.PollInterval = rootFlags.pollInterval
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// newLogger builds the root logger. Output always goes to stderr because
// stdout may be the pipe.
func newLogger(config *pdtunnel.Config) (pdshare.Logger, func(), error) {
	level := pdshare.StringToLogLevel(config.LogLevel)
	opts := []pdshare.Option{pdshare.WithLogLevel(level)}
	flush := func() {}
	if config.LogFormat == "json" {
		z, err := pdshare.NewJSONZapLogger(level)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, pdshare.WithZap(z))
		flush = func() { _ = z.Sync() }
	}
	logger, err := pdshare.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	return logger, flush, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
}

// runSession runs s until it ends, translating a signal into errInterrupted
func runSession(ctx context.Context, s *pdtunnel.Session) error {
	err := s.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return errInterrupted
	}
	return err
}
