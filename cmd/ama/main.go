package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exit := make(chan os.Signal, 1) // buffered so the notifier is never blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(exit)
	go func() {
		select {
		case sig := <-exit:
			slog.Info("signal caught", "sig", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
}
