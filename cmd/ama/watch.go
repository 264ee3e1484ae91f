package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/astromechza/ama-live/pkg/render"
	"github.com/astromechza/ama-live/pkg/roomview"
	"github.com/astromechza/ama-live/pkg/submit"
	"github.com/astromechza/ama-live/pkg/tui"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <room>",
		Short: "Follow a room's questions live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, _ := cmd.Flags().GetBool("plain")
			return a.run(cmd, !plain, func(cmd *cobra.Command) error {
				return a.watch(cmd.Context(), args[0], plain)
			})
		},
	}
	cmd.Flags().Bool("plain", false, "print the list on every change instead of starting the interactive view")
	return cmd
}

func (a *app) watch(ctx context.Context, roomID string, plain bool) error {
	wg := new(sync.WaitGroup)
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Metrics.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.serveMetrics(ctx); err != nil {
				a.logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	view := roomview.New(roomview.Options{
		Remote:            a.client,
		Live:              a.cfg.LiveOptions(),
		ResyncOnReconnect: a.cfg.Live.ResyncOnReconnect,
		Logger:            a.logger,
		Metrics:           a.metrics,
	})
	defer view.Close()
	view.Open(roomID)

	if plain {
		return a.watchPlain(ctx, view)
	}

	model := tui.New(ctx, tui.Options{
		View:      view,
		Submitter: submit.New(a.client, submit.WithLogger(a.logger), submit.WithMetrics(a.metrics)),
		Sharer:    a.sharer(),
		ShareURL:  a.cfg.ShareURL,
		Logger:    a.logger,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run interactive view: %w", err)
	}
	return nil
}

// watchPlain prints the ranked list whenever it differs from the last print, until ctx is
// cancelled. Live state changes alone are only logged.
func (a *app) watchPlain(ctx context.Context, view *roomview.View) error {
	var lastLive, lastBody string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-view.Changes():
		}
		state := view.State()
		if l := state.Live.String(); l != lastLive {
			a.logger.Info("live channel", "room", state.RoomID, "state", l)
			lastLive = l
		}
		switch state.Phase {
		case roomview.PhaseFailed:
			fmt.Fprintf(a.out, "could not load questions: %v\n", state.Err)
			return state.Err
		case roomview.PhaseReady:
			body := render.String(state.Messages, render.Options{ShowIDs: true})
			if state.LiveUnavailable() {
				body += "live updates unavailable\n"
			}
			if body == lastBody {
				continue
			}
			lastBody = body
			fmt.Fprintf(a.out, "--- %s (%d questions) ---\n", time.Now().Format(time.TimeOnly), len(state.Messages))
			if _, err := io.WriteString(a.out, body); err != nil {
				return err
			}
		}
	}
}

func (a *app) serveMetrics(ctx context.Context) error {
	r := mux.NewRouter()
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	server := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	a.logger.Info("serving metrics", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve metrics: %w", err)
	}
	return nil
}
