package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astromechza/ama-live/pkg/render"
	"github.com/astromechza/ama-live/pkg/submit"
)

func newAskCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <room> <question...>",
		Short: "Ask a question in a room",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, false, func(cmd *cobra.Command) error {
				notifier := submit.NotifierFunc(func(n submit.Notification) {
					fmt.Fprintln(a.errOut, n.Text)
				})
				s := submit.New(a.client, submit.WithNotifier(notifier), submit.WithLogger(a.logger), submit.WithMetrics(a.metrics))
				id, err := s.Submit(cmd.Context(), args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, id)
				return nil
			})
		},
	}
}

func newMessagesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages <room>",
		Short: "Print a room's questions, most reacted first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showIDs, _ := cmd.Flags().GetBool("ids")
			return a.run(cmd, false, func(cmd *cobra.Command) error {
				msgs, err := a.client.GetRoomMessages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render.Text(a.out, msgs, render.Options{ShowIDs: showIDs})
			})
		},
	}
	cmd.Flags().Bool("ids", false, "show message ids")
	return cmd
}

func newReactCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "react <room> <message>",
		Short: "Add or remove a reaction on a question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remove, _ := cmd.Flags().GetBool("remove")
			return a.run(cmd, false, func(cmd *cobra.Command) error {
				react := a.client.React
				if remove {
					react = a.client.RemoveReaction
				}
				count, err := react(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, count)
				return nil
			})
		},
	}
	cmd.Flags().Bool("remove", false, "remove a previously added reaction")
	return cmd
}

func newAnswerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "answer <room> <message>",
		Short: "Mark a question as answered",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, false, func(cmd *cobra.Command) error {
				return a.client.MarkAnswered(cmd.Context(), args[0], args[1])
			})
		},
	}
}

