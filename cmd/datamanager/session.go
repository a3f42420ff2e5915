package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tcai793/datamanager/internal/out"
	"github.com/tcai793/datamanager/internal/workcopy"
)

func newSessionCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or discard an unfinished sync session",
	}
	cmd.AddCommand(newSessionStatusCmd(flags))
	cmd.AddCommand(newSessionDiscardCmd(flags))
	return cmd
}

func newSessionStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the lock marker and working copy state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			st, err := workcopy.Inspect(cfg.ArchiveRoot, cfg.WorkDir)
			if err != nil {
				return err
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, st)
			}
			fmt.Fprintf(os.Stdout, "State: %s\n", st.State)
			fmt.Fprintf(os.Stdout, "Lock marker: %t\nWorking copy: %t\n", st.LockPresent, st.StagingPresent)
			if st.Token != nil {
				fmt.Fprintf(os.Stdout, "Held by pid %d on %s since %s\n", st.Token.PID, st.Token.Host, st.Token.StartedAt.Local().Format("2006-01-02 15:04:05"))
			}
			if st.WorkDesc != nil {
				fmt.Fprintf(os.Stdout, "Session: %s\n", st.WorkDesc.SessionID)
			}
			switch st.State {
			case workcopy.StateResumable:
				fmt.Fprintln(os.Stdout, "The next sync resumes this session.")
			case workcopy.StateMismatch, workcopy.StateInconsistent:
				fmt.Fprintln(os.Stdout, "Run `datamanager session discard --force` to drop the working copy.")
			}
			return nil
		},
	}
}

func newSessionDiscardCmd(flags *rootFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "discard",
		Short: "Drop the working copy and lock marker, keeping the published archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to discard without --force")
			}
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := workcopy.Discard(cfg.ArchiveRoot, cfg.WorkDir); err != nil {
				return err
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, map[string]any{"discarded": true})
			}
			fmt.Fprintln(os.Stdout, "Discarded.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm discarding unpublished work")
	return cmd
}
