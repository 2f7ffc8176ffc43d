package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sammck-go/pydevtunnel/pkg/pdtunnel"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps the end of a session to a process exit status. The peer
// closing the pipe is the normal way for the remote side to end.
func exitCode(err error) int {
	if err == nil || errors.Is(err, pdtunnel.ErrPipeClosed) || errors.Is(err, errInterrupted) {
		return 0
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
