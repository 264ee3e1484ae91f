package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/astromechza/ama-live/pkg/share"
)

func newRoomCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Create and inspect rooms",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <theme...>",
			Short: "Create a room and print its id",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd, false, func(cmd *cobra.Command) error {
					id, err := a.client.CreateRoom(cmd.Context(), strings.Join(args, " "))
					if err != nil {
						return err
					}
					fmt.Fprintln(a.out, id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List rooms",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd, false, func(cmd *cobra.Command) error {
					rooms, err := a.client.GetRooms(cmd.Context())
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tTHEME")
					for _, r := range rooms {
						fmt.Fprintf(tw, "%s\t%s\n", r.ID, r.Theme)
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "get <room>",
			Short: "Show a room's theme",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd, false, func(cmd *cobra.Command) error {
					r, err := a.client.GetRoom(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "%s\t%s\n", r.ID, r.Theme)
					return nil
				})
			},
		},
	)
	return cmd
}

func newShareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "share <room>",
		Short: "Copy a room's link to the clipboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, false, func(cmd *cobra.Command) error {
				link, err := share.RoomURL(a.cfg.ShareURL, args[0])
				if err != nil {
					return err
				}
				res, err := a.sharer().Share(cmd.Context(), "Ask me anything", link)
				if err != nil {
					// Still useful: the user can copy it by hand.
					a.logger.Warn("failed to share room", "err", err)
					fmt.Fprintln(a.out, link)
					return nil
				}
				fmt.Fprintln(a.errOut, res.Confirmation)
				fmt.Fprintln(a.out, link)
				return nil
			})
		},
	}
}
