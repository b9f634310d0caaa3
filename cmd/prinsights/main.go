// Command prinsights extracts pull request activity into SQLite and derives
// the aggregate, forecast and insight artifacts of a dashboard dataset.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// Process exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout)
	err := root.ExecuteContext(ctx)
	return exitCode(ctx, err)
}

// exitCode maps a command error onto the process exit status. Any failure
// after the context was cancelled counts as an interruption.
func exitCode(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		slog.Warn("interrupted")
		return exitInterrupted
	default:
		slog.Error("fatal error", "error", err)
		return exitFailure
	}
}
