package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"castindex/internal/services"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitSetup       = 2
	exitInterrupted = 130
)

func main() {
	err := newRootCommand().Execute()
	reportError(os.Stderr, err)
	os.Exit(exitStatus(err))
}

// exitStatus maps a command error to the process status. Per-item stage
// failures never reach here; they are reported in the run summary.
func exitStatus(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, services.ErrSetup), errors.Is(err, services.ErrConfiguration):
		return exitSetup
	default:
		return exitFailure
	}
}

func reportError(w io.Writer, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if kind := services.Kind(err); kind == services.KindSetup || kind == services.KindConfiguration {
		fmt.Fprintf(w, "castindex: %s error: %s\n", kind, services.Message(err))
		return
	}
	fmt.Fprintf(w, "castindex: %v\n", err)
}
