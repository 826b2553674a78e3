package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/synclone/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()

	code := cli.GetExitCode(err)
	if code == cli.ExitCommandError {
		fmt.Fprintf(os.Stderr, "synclone: %v\n", err)
	}
	os.Exit(code)
}
