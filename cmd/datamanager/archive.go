package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tcai793/datamanager/internal/fsutil"
	"github.com/tcai793/datamanager/internal/out"
	"github.com/tcai793/datamanager/internal/store"
	"github.com/tcai793/datamanager/internal/workcopy"
)

// openArchive opens the published archive database read-only. It never
// touches a working copy.
func openArchive(flags *rootFlags) (*store.DB, error) {
	cfg, _, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(cfg.ArchiveRoot, workcopy.DBName)
	if !fsutil.Exists(path) {
		return nil, fmt.Errorf("no archive at %s; run `datamanager sync` first", cfg.ArchiveRoot)
	}
	return store.OpenReadOnly(path)
}

func newChatsCmd(flags *rootFlags) *cobra.Command {
	var query string
	var limit int

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List archived chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openArchive(flags)
			if err != nil {
				return err
			}
			defer db.Close()

			chats, err := db.ListChats(query, limit)
			if err != nil {
				return err
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, map[string]any{"chats": chats})
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tTYPE\tCURSOR\tMEDIA")
			for _, c := range chats {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", truncate(c.Name, 32), truncate(c.ID, 32), c.Type, c.Cursor, c.MediaCounter)
			}
			_ = w.Flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "filter by name or id substring")
	cmd.Flags().IntVar(&limit, "limit", 0, "limit results (0 = all)")
	return cmd
}

func newMessagesCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Read messages from the archive",
	}
	cmd.AddCommand(newMessagesListCmd(flags))
	cmd.AddCommand(newMessagesShowCmd(flags))
	return cmd
}

func newMessagesListCmd(flags *rootFlags) *cobra.Command {
	var chat string
	var limit int
	var afterStr string
	var beforeStr string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openArchive(flags)
			if err != nil {
				return err
			}
			defer db.Close()

			var after, before *time.Time
			if afterStr != "" {
				t, err := parseTime(afterStr)
				if err != nil {
					return err
				}
				after = &t
			}
			if beforeStr != "" {
				t, err := parseTime(beforeStr)
				if err != nil {
					return err
				}
				before = &t
			}

			msgs, err := db.ListMessages(store.ListMessagesParams{
				ChatID: chat,
				Limit:  limit,
				After:  after,
				Before: before,
			})
			if err != nil {
				return err
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, map[string]any{"messages": msgs})
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tCHAT\tFROM\tID\tTEXT")
			for _, m := range msgs {
				text := strings.TrimSpace(m.Text)
				if text == "" && m.MediaID != 0 {
					text = "[media " + strconv.FormatInt(m.MediaID, 10) + "]"
				}
				if m.Type == store.MessageTypeService {
					text = "* " + text
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					m.Date.Local().Format("2006-01-02 15:04:05"),
					truncate(m.ChatID, 24),
					truncate(m.SenderID, 18),
					m.ID,
					truncate(text, 80),
				)
			}
			_ = w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVar(&chat, "chat", "", "chat id")
	cmd.Flags().IntVar(&limit, "limit", 50, "limit results")
	cmd.Flags().StringVar(&afterStr, "after", "", "only messages after time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&beforeStr, "before", "", "only messages before time (RFC3339 or YYYY-MM-DD)")
	return cmd
}

func newMessagesShowCmd(flags *rootFlags) *cobra.Command {
	var chat string
	var id int64

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one message with its media files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if chat == "" || id == 0 {
				return fmt.Errorf("--chat and --id are required")
			}
			db, err := openArchive(flags)
			if err != nil {
				return err
			}
			defer db.Close()

			m, err := db.GetMessage(chat, id)
			if err != nil {
				return wrapErr(err, "get message")
			}
			media, err := db.MessageMedia(chat, m.MediaID)
			if err != nil {
				return err
			}
			if flags.asJSON {
				return out.WriteJSON(os.Stdout, map[string]any{"message": m, "media": media})
			}
			fmt.Fprintf(os.Stdout, "Chat: %s\nID: %d\nType: %s\nDate: %s\nFrom: %s\n",
				m.ChatID, m.ID, m.Type, m.Date.Local().Format(time.RFC3339), m.SenderID)
			if m.ReplyToID != 0 {
				fmt.Fprintf(os.Stdout, "Reply to: %d\n", m.ReplyToID)
			}
			if m.FwdFrom != "" {
				fmt.Fprintf(os.Stdout, "Forwarded from: %s\n", m.FwdFrom)
			}
			if !m.Edited.IsZero() {
				fmt.Fprintf(os.Stdout, "Edited: %s\n", m.Edited.Local().Format(time.RFC3339))
			}
			for _, it := range media {
				fmt.Fprintf(os.Stdout, "Media %d: %s\n", it.ID, it.File)
			}
			if m.Text != "" {
				fmt.Fprintf(os.Stdout, "\n%s\n", m.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chat, "chat", "", "chat id")
	cmd.Flags().Int64Var(&id, "id", 0, "message id")
	return cmd
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use RFC3339 or YYYY-MM-DD)", s)
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}
