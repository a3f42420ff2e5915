package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tcai793/datamanager/internal/app"
	"github.com/tcai793/datamanager/internal/config"
	"github.com/tcai793/datamanager/internal/logging"
	"github.com/tcai793/datamanager/internal/mirror"
	"github.com/tcai793/datamanager/internal/out"
	"github.com/tcai793/datamanager/internal/progress"
	"github.com/tcai793/datamanager/internal/selector"
	"github.com/tcai793/datamanager/internal/wa"
	"github.com/tcai793/datamanager/internal/workcopy"
)

var version = "dev"

type rootFlags struct {
	configPath string
	asJSON     bool
	timeout    time.Duration
}

func execute(args []string) error {
	var flags rootFlags

	rootCmd := &cobra.Command{
		Use:           "datamanager",
		Short:         "Archive chats into a local SQLite database and media tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	rootCmd.SetVersionTemplate("datamanager {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default: $DATAMANAGER_CONFIG or ~/.config/datamanager.toml)")
	rootCmd.PersistentFlags().BoolVar(&flags.asJSON, "json", false, "output JSON instead of human-readable text")
	rootCmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 5*time.Minute, "command timeout (non-sync commands)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(&flags))
	rootCmd.AddCommand(newAuthCmd(&flags))
	rootCmd.AddCommand(newSyncCmd(&flags))
	rootCmd.AddCommand(newEstimateCmd(&flags))
	rootCmd.AddCommand(newFoldersCmd(&flags))
	rootCmd.AddCommand(newChatsCmd(&flags))
	rootCmd.AddCommand(newMessagesCmd(&flags))
	rootCmd.AddCommand(newSessionCmd(&flags))

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		_ = out.WriteError(os.Stderr, flags.asJSON, err)
		return err
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "datamanager %s\n", version)
		},
	}
}

func loadConfig(flags *rootFlags) (*config.Config, string, error) {
	path := flags.configPath
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	home, err := config.DefaultHome()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path, home)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// env is everything a command that talks to the account needs.
type env struct {
	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer
	wa        *wa.Client
	app       *app.App
}

func newEnv(ctx context.Context, flags *rootFlags) (*env, error) {
	cfg, _, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	log, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log, logCloser: closer}

	idle, err := cfg.Sync.IdleExitDuration()
	if err != nil {
		e.close()
		return nil, err
	}
	e.wa, err = wa.New(wa.Options{
		StorePath:  cfg.WAStore,
		Log:        log,
		IdleExit:   idle,
		DeviceName: os.Getenv("DATAMANAGER_DEVICE_LABEL"),
		Platform:   os.Getenv("DATAMANAGER_DEVICE_PLATFORM"),
	})
	if err != nil {
		e.close()
		return nil, wrapErr(err, "open whatsapp session")
	}

	wcOpts := workcopy.Options{Log: log}
	if cfg.Backup.AgeRecipient != "" {
		r, err := workcopy.ParseRecipient(cfg.Backup.AgeRecipient)
		if err != nil {
			e.close()
			return nil, err
		}
		wcOpts.BackupRecipient = r
	}
	m, err := mirror.New(ctx, cfg.Mirror)
	if err != nil {
		e.close()
		return nil, err
	}

	sink := progress.Sink(progress.Nop{})
	if !flags.asJSON {
		sink = progress.New(os.Stderr)
	}
	opts := app.Options{
		ArchiveRoot: cfg.ArchiveRoot,
		WorkDir:     cfg.WorkDir,
		Criteria: selector.Criteria{
			Allow:   cfg.Chats,
			Block:   cfg.Block,
			Folders: cfg.Folders,
		},
		Folders:        cfg.FolderRules(),
		IgnoredFolders: cfg.IgnoredFolders,
		CountFirst:     cfg.Sync.CountFirst,
		Log:            log,
		Progress:       sink,
		Workcopy:       workcopy.New(wcOpts),
	}
	if m != nil {
		opts.Mirror = m
	}
	e.app, err = app.New(e.wa, opts)
	if err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func (e *env) close() {
	if e == nil {
		return
	}
	if e.wa != nil {
		e.wa.Close()
	}
	if e.logCloser != nil {
		_ = e.logCloser.Close()
	}
}

func withTimeout(ctx context.Context, flags *rootFlags) (context.Context, context.CancelFunc) {
	if flags.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, flags.timeout)
}

func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}
