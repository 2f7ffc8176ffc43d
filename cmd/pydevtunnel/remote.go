package main

import (
	"github.com/spf13/cobra"

	"github.com/sammck-go/pydevtunnel/pkg/pdtunnel"
)

func newRemoteCmd() *cobra.Command {
	remoteCmd := &cobra.Command{
		Use:   "remote",
		Short: "Runs the debuggee side of the tunnel over stdin and stdout",
		Args:  cobra.NoArgs,
		RunE:  runRemote,
	}
	return remoteCmd
}

func runRemote(cmd *cobra.Command, args []string) error {
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

	s, err := pdtunnel.NewRemoteSession(logger, config)
	if err != nil {
		logger.ELogf("%s", err)
		return err
	}
	return runSession(ctx, s)
}
