package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	duckpipecli "github.com/duckpipe/duckpipe/internal/cli/duckpipe"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := duckpipecli.Run(ctx, os.Args[1:], duckpipecli.Options{
		Lookup: os.LookupEnv,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
