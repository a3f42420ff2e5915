package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tcai793/datamanager/internal/out"
	"github.com/tcai793/datamanager/internal/wa"
)

func newAuthCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Link this device by scanning a QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(context.Background(), flags)
			defer cancel()

			e, err := newEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer e.close()

			id, err := e.wa.Authenticate(ctx, nil)
			if err != nil {
				return wrapErr(err, "authenticate")
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, id)
			}
			fmt.Fprintf(os.Stdout, "Linked to %s (%s)\n", id.FirstName, id.Phone)
			return nil
		},
	}
	cmd.AddCommand(newAuthLogoutCmd(flags))
	return cmd
}

func newAuthLogoutCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(context.Background(), flags)
			defer cancel()

			e, err := newEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.wa.Connect(ctx, wa.ConnectOptions{}); err != nil {
				return wrapErr(err, "connect")
			}
			if err := e.wa.Logout(ctx); err != nil {
				return wrapErr(err, "logout")
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, map[string]any{"logged_out": true})
			}
			fmt.Fprintln(os.Stdout, "Logged out.")
			return nil
		},
	}
}
