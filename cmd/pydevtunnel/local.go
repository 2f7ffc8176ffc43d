package main

import (
	"github.com/spf13/cobra"

	"github.com/sammck-go/pydevtunnel/pkg/pdtunnel"
)

func newLocalCmd() *cobra.Command {
	localCmd := &cobra.Command{
		Use:   "local <port> -- <command> [args...]",
		Short: "Runs the IDE side of the tunnel",
		Long: `Runs the IDE side of the tunnel.

<command> is started with its stdin and stdout as the pipe; it must run
"pydevtunnel remote" at the far end. The debug server listening on <port> is
monitored, and the tunnel exits once no monitored server remains.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runLocal,
	}
	return localCmd
}

func runLocal(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(config)
	if err != nil {
		return err
	}
	defer flush()

	ctx, cancel := signalContext()
	defer cancel()

	s, err := pdtunnel.NewLocalSession(logger, config, args[0], args[1:])
	if err != nil {
		logger.ELogf("%s", err)
		return err
	}
	return runSession(ctx, s)
}
