package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/astromechza/ama-live/pkg/api"
	"github.com/astromechza/ama-live/pkg/config"
	"github.com/astromechza/ama-live/pkg/metrics"
	"github.com/astromechza/ama-live/pkg/share"
)

const appName = "ama"

// app holds what every subcommand shares once flags are parsed.
type app struct {
	out    io.Writer
	errOut io.Writer

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
	client   *api.Client
	metrics  *metrics.Metrics

	shareOpts []share.Option
}

func newRootCmd(out, errOut io.Writer, shareOpts ...share.Option) *cobra.Command {
	a := &app{out: out, errOut: errOut, shareOpts: shareOpts}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Follow and take part in live ask-me-anything rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newWatchCmd(a),
		newAskCmd(a),
		newMessagesCmd(a),
		newRoomCmd(a),
		newReactCmd(a),
		newAnswerCmd(a),
		newShareCmd(a),
	)
	return cmd
}

// setup resolves configuration and builds the shared client. Interactive commands keep logs off
// the terminal unless a log file is configured.
func (a *app) setup(cmd *cobra.Command, interactive bool) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	logger, closeLog, err := cfg.Logger(a.errOut, interactive)
	if err != nil {
		return err
	}
	opts := []api.Option{api.WithTimeout(cfg.HTTP.Timeout), api.WithLogger(logger)}
	if cfg.LiveURL != "" {
		opts = append(opts, api.WithLiveURL(cfg.LiveURL))
	}
	client, err := api.NewClient(cfg.BaseURL, opts...)
	if err != nil {
		_ = closeLog()
		return fmt.Errorf("failed to build client: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	a.closeLog = closeLog
	a.client = client
	a.metrics = metrics.New()
	return nil
}

// run wraps a subcommand body with setup and teardown.
func (a *app) run(cmd *cobra.Command, interactive bool, fn func(cmd *cobra.Command) error) error {
	if err := a.setup(cmd, interactive); err != nil {
		return err
	}
	defer func() {
		if err := a.closeLog(); err != nil {
			slog.Warn("failed to close log file", "err", err)
		}
	}()
	return fn(cmd)
}

// sharer falls back to an OSC 52 sequence on stderr when no clipboard is reachable.
func (a *app) sharer() *share.Sharer {
	opts := append([]share.Option{share.WithTerminal(a.errOut), share.WithLogger(a.logger)}, a.shareOpts...)
	return share.New(opts...)
}
