package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tcai793/datamanager/internal/app"
	"github.com/tcai793/datamanager/internal/out"
)

func newSyncCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Archive new messages and media of the selected chats",
		Long: "Checks out a working copy of the archive, ingests every selected chat\n" +
			"from its cursor onward and publishes the result. An interrupted run is\n" +
			"resumed by the next one. --timeout does not apply.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := newEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer e.close()

			res, err := e.app.Sync(ctx)
			if err != nil && !errors.Is(err, app.ErrChatsFailed) {
				return err
			}
			if flags.asJSON {
				if werr := out.WriteJSON(os.Stdout, res); werr != nil {
					return werr
				}
				return err
			}
			printSyncResult(res)
			return err
		},
	}
}

func printSyncResult(res app.SyncResult) {
	if res.Resumed {
		fmt.Fprintf(os.Stdout, "Resumed session %s\n", res.SessionID)
	}
	for _, p := range res.Pruned {
		fmt.Fprintf(os.Stdout, "Removed orphaned file %s\n", p)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHAT\tMESSAGES\tMEDIA\tCURSOR")
	for _, c := range res.Chats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", truncate(c.Name, 32), c.Messages, c.Media, c.Cursor)
	}
	_ = w.Flush()
	for _, f := range res.Failed {
		fmt.Fprintf(os.Stdout, "FAILED %s: %s\n", f.Name, f.Error)
	}
	fmt.Fprintf(os.Stdout, "%d messages, %d media files archived\n", res.Messages, res.Media)
	if res.Backup != "" {
		fmt.Fprintf(os.Stdout, "Previous archive kept at %s\n", res.Backup)
	}
	if res.Mirrored != "" {
		fmt.Fprintf(os.Stdout, "Mirrored to %s\n", res.Mirrored)
	}
}

func newEstimateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate",
		Short: "Count messages a sync would ingest, without changing the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(context.Background(), flags)
			defer cancel()

			e, err := newEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer e.close()

			res, err := e.app.Estimate(ctx)
			if err != nil {
				return err
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, res)
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHAT\tCURSOR\tPENDING")
			for _, c := range res.Chats {
				pending := fmt.Sprintf("%d", c.Pending)
				if c.Error != "" {
					pending = "error: " + c.Error
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", truncate(c.Name, 32), c.Cursor, pending)
			}
			_ = w.Flush()
			fmt.Fprintf(os.Stdout, "%d messages pending\n", res.Total)
			return nil
		},
	}
}
