package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tcai793/datamanager/internal/config"
	"github.com/tcai793/datamanager/internal/out"
)

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the config file",
	}
	cmd.AddCommand(newConfigInitCmd(flags))
	cmd.AddCommand(newConfigShowCmd(flags))
	return cmd
}

func newConfigInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if path == "" {
				p, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			home, err := config.DefaultHome()
			if err != nil {
				return err
			}
			if err := config.Init(path, config.NewConfig(home)); err != nil {
				return err
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, map[string]any{"path": path})
			}
			fmt.Fprintf(os.Stdout, "Wrote %s\n", path)
			return nil
		},
	}
}

func newConfigShowCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, cfg)
			}
			fmt.Fprintf(os.Stdout, "# %s\n", path)
			return (&config.Manager{}).Write(os.Stdout, cfg)
		},
	}
}
