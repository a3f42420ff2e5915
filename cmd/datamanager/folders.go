package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tcai793/datamanager/internal/out"
)

func newFoldersCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "Show chat folders and their members",
	}
	cmd.AddCommand(newFoldersListCmd(flags))
	cmd.AddCommand(newFoldersMapCmd(flags))
	return cmd
}

func newFoldersListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List folder rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(context.Background(), flags)
			defer cancel()

			e, err := newEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer e.close()

			folders, err := e.app.Folders(ctx)
			if err != nil {
				return err
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, folders)
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TITLE\tINCLUDE\tEXCLUDE")
			for _, f := range folders {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Title,
					truncate(strings.Join(f.IncludePeers, ", "), 40),
					truncate(strings.Join(f.ExcludePeers, ", "), 40))
			}
			_ = w.Flush()
			return nil
		},
	}
}

func newFoldersMapCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "map",
		Short: "Show which folders each chat belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(context.Background(), flags)
			defer cancel()

			e, err := newEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer e.close()

			res, err := e.app.FolderMap(ctx)
			if err != nil {
				return err
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, res.Folders)
			}
			chats := res.Chats
			sort.Slice(chats, func(i, j int) bool { return chats[i].Name < chats[j].Name })
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHAT\tKIND\tFOLDERS")
			for _, c := range chats {
				fmt.Fprintf(w, "%s\t%s\t%s\n", truncate(c.Name, 32), c.Kind, strings.Join(res.Folders[c.ID], ", "))
			}
			_ = w.Flush()
			return nil
		},
	}
}
