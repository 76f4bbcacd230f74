package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"infinite-experiment/logbook/internal/client/cli"
	"infinite-experiment/logbook/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCommand().ExecuteContext(ctx)
	_ = logging.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
