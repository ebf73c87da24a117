package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newApp(defaultDeps(os.Stdout)).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "stacktag:", err)
		stop()
		os.Exit(1)
	}
}
