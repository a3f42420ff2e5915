package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/tcai793/datamanager/internal/media"
	"github.com/tcai793/datamanager/internal/remote"
	"github.com/tcai793/datamanager/internal/store"
	"github.com/tcai793/datamanager/internal/workcopy"
)

// ErrChatsFailed is returned by Sync after a committed run in which at least
// one chat could not be fetched from the remote.
var ErrChatsFailed = errors.New("some chats failed to sync")

// RemoteError marks a failure talking to the messaging account. It only
// affects the chat being processed.
type RemoteError struct {
	ChatID string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.ChatID == "" {
		return "remote: " + e.Err.Error()
	}
	return fmt.Sprintf("remote (chat %s): %v", e.ChatID, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func isRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

type ChatFailure struct {
	ChatID string `json:"chat_id"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

type ChatResult struct {
	ChatID   string `json:"chat_id"`
	Name     string `json:"name"`
	Messages int64  `json:"messages"`
	Media    int64  `json:"media"`
	Cursor   int64  `json:"cursor"`
}

type SyncResult struct {
	SessionID string        `json:"session_id"`
	Resumed   bool          `json:"resumed"`
	Pruned    []string      `json:"pruned,omitempty"`
	Chats     []ChatResult  `json:"chats"`
	Failed    []ChatFailure `json:"failed,omitempty"`
	Messages  int64         `json:"messages"`
	Media     int64         `json:"media"`
	Published string        `json:"published,omitempty"`
	Backup    string        `json:"backup,omitempty"`
	Mirrored  string        `json:"mirrored,omitempty"`
}

// Sync runs one ingestion session: it checks out a working copy, brings
// every selected chat up to date and publishes the result.
//
// A remote failure only skips the chat it happened in. Any local failure
// aborts the run without publishing; the working copy is left in place and
// the next run resumes it.
func (a *App) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	sess, err := a.wc.Open(a.opts.ArchiveRoot, a.opts.WorkDir)
	if err != nil {
		return res, err
	}
	res.SessionID = sess.Descriptor().SessionID
	res.Resumed = sess.Resumed()
	log := a.log.With().Str("session", res.SessionID).Logger()
	if res.Resumed {
		log.Info().Msg("resuming interrupted session")
	}

	db, err := store.Open(sess.DBPath())
	if err != nil {
		return res, err
	}
	closed := false
	defer func() {
		if !closed {
			_ = db.Close()
		}
	}()

	counters, err := db.MediaCounters()
	if err != nil {
		return res, fmt.Errorf("read media counters: %w", err)
	}
	res.Pruned = media.PruneOrphans(sess.Root(), counters, log)

	if err := a.recordIdentity(ctx, db); err != nil {
		return res, err
	}

	chats, err := a.SelectChats(ctx)
	if err != nil {
		return res, err
	}

	for i, chat := range chats {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		a.progress.Set(0, fmt.Sprintf("Chat %d/%d: %s", i+1, len(chats), chat.Name))

		cr, err := a.syncChat(ctx, db, sess, chat)
		res.Messages += cr.Messages
		res.Media += cr.Media
		if err != nil {
			if !isRemote(err) || ctx.Err() != nil {
				return res, err
			}
			log.Error().Err(err).Str("chat", chat.ID).Str("name", chat.Name).Msg("chat failed; continuing")
			res.Failed = append(res.Failed, ChatFailure{ChatID: chat.ID, Name: chat.Name, Error: err.Error()})
			continue
		}
		res.Chats = append(res.Chats, cr)

		if _, err := media.Alias(sess.Root(), chat.ID, chat.Name); err != nil {
			log.Warn().Err(err).Str("chat", chat.ID).Msg("alias failed")
		}
	}

	closed = true
	if err := db.Close(); err != nil {
		return res, fmt.Errorf("close staging database: %w", err)
	}

	commit, err := sess.Commit()
	if err != nil {
		return res, err
	}
	res.Published = commit.Published
	res.Backup = commit.Backup

	if a.opts.Mirror != nil {
		dest, err := a.opts.Mirror.Upload(ctx, commit.Published)
		if err != nil {
			// The archive itself is already published.
			log.Error().Err(err).Msg("mirror upload failed")
		} else {
			res.Mirrored = dest
		}
	}

	log.Info().
		Int("chats", len(res.Chats)).
		Int("failed", len(res.Failed)).
		Int64("messages", res.Messages).
		Int64("media", res.Media).
		Msg("sync complete")

	if len(res.Failed) > 0 {
		return res, fmt.Errorf("%w: %d of %d", ErrChatsFailed, len(res.Failed), len(chats))
	}
	return res, nil
}

func (a *App) recordIdentity(ctx context.Context, db *store.DB) error {
	id, err := a.remote.CurrentIdentity(ctx)
	if err != nil {
		return fmt.Errorf("current identity: %w", err)
	}
	changed, err := db.SyncPersonalInfo(store.PersonalInfo{
		UserID:   id.UserID,
		First:    id.FirstName,
		Last:     id.LastName,
		Phone:    id.Phone,
		Username: id.Username,
	})
	if err != nil {
		return err
	}
	if changed {
		a.log.Info().Str("user", id.UserID).Msg("recorded account details")
	}
	return nil
}

func (a *App) syncChat(ctx context.Context, db *store.DB, sess *workcopy.Session, chat remote.ChatSummary) (ChatResult, error) {
	cr := ChatResult{ChatID: chat.ID, Name: chat.Name}
	log := a.log.With().Str("chat", chat.ID).Logger()

	exists, err := db.ChatExists(chat.ID)
	if err != nil {
		return cr, fmt.Errorf("lookup chat %s: %w", chat.ID, err)
	}
	if !exists {
		if err := db.AddChat(chat.ID, chat.Name, chat.Kind); err != nil {
			return cr, err
		}
		log.Info().Str("name", chat.Name).Str("kind", chat.Kind).Msg("new chat")
	}
	row, err := db.GetChat(chat.ID)
	if err != nil {
		return cr, fmt.Errorf("read chat %s: %w", chat.ID, err)
	}
	cr.Cursor = row.Cursor

	if err := media.EnsureChatDir(sess.Root(), chat.ID); err != nil {
		return cr, err
	}

	total := int64(-1)
	if a.opts.CountFirst {
		n, err := a.countPending(ctx, chat.ID, row.Cursor)
		if err != nil {
			log.Warn().Err(err).Msg("count failed; progress shows no total")
		} else {
			total = n
		}
	}

	var i int64
	for msg, err := range a.remote.StreamMessages(ctx, chat.ID, row.Cursor) {
		if err != nil {
			return cr, &RemoteError{ChatID: chat.ID, Err: err}
		}
		i++
		a.progress.Set(1, savingLine(i, total))

		n, err := a.ingestMessage(ctx, db, sess, chat.ID, msg, log)
		if err != nil {
			return cr, err
		}
		cr.Messages++
		cr.Media += int64(n)
		cr.Cursor = msg.ID
	}
	log.Info().Int64("messages", cr.Messages).Int64("media", cr.Media).Int64("cursor", cr.Cursor).Msg("chat synced")
	return cr, nil
}

// ingestMessage stores one message and its media in a single transaction and
// returns how many media files it produced.
func (a *App) ingestMessage(ctx context.Context, db *store.DB, sess *workcopy.Session, chatID string, m remote.Message, log zerolog.Logger) (int, error) {
	tmp := sess.TmpDir()
	if err := resetDir(tmp); err != nil {
		return 0, err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	var placed []string
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tx.Rollback()
		for _, p := range placed {
			_ = os.Remove(p)
		}
	}()

	row := store.Message{
		ChatID:    chatID,
		ID:        m.ID,
		GroupedID: m.GroupedID,
		Type:      store.MessageTypeMessage,
		Date:      m.Date,
		Text:      m.Text,
		Edited:    m.Edited,
		SenderID:  m.SenderID,
		ReplyToID: m.ReplyToID,
		FwdFrom:   m.FwdFrom,
	}
	if m.Action != "" {
		row.Type = store.MessageTypeService
		if row.Text == "" {
			row.Text = m.Action
		}
	}
	if err := tx.InsertMessage(row); err != nil {
		return 0, err
	}

	chain := media.NewChain(chatID)
	for _, att := range m.Attachments() {
		a.progress.Set(2, "")
		path, err := a.remote.DownloadAttachment(ctx, att, tmp, a.downloadProgress)
		if err != nil {
			return 0, &RemoteError{ChatID: chatID, Err: fmt.Errorf("download %s of message %d: %w", att.Kind, m.ID, err)}
		}
		if path == "" {
			continue
		}
		id, err := tx.NextMediaID(chatID)
		if err != nil {
			return 0, err
		}
		rel, err := media.Place(sess.Root(), chatID, id, path)
		if err != nil {
			return 0, err
		}
		placed = append(placed, filepath.Join(sess.Root(), filepath.FromSlash(rel)))
		if err := chain.Append(id, rel); err != nil {
			return 0, err
		}
	}
	if err := tx.InsertMediaChain(chatID, chain.Items()); err != nil {
		return 0, err
	}
	if chain.Len() > 0 {
		if err := tx.SetMessageMedia(chatID, m.ID, chain.First()); err != nil {
			return 0, err
		}
	}
	if err := tx.SetCursor(chatID, m.ID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit message %s/%d: %w", chatID, m.ID, err)
	}
	committed = true

	if chain.Len() > 0 {
		log.Debug().Int64("message", m.ID).Int("media", chain.Len()).Int64("first_media", chain.First()).Msg("stored message")
	}
	return chain.Len(), nil
}

func (a *App) downloadProgress(received, total int64) {
	a.progress.Set(2, downloadLine(received, total))
}

// countPending counts the chat's messages after cursor without storing them.
func (a *App) countPending(ctx context.Context, chatID string, cursor int64) (int64, error) {
	var n int64
	for _, err := range a.remote.StreamMessages(ctx, chatID, cursor) {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

func savingLine(i, total int64) string {
	if total < 0 {
		return "Saving message " + groupDigits(i)
	}
	return fmt.Sprintf("Saving message %s/%s", groupDigits(i), groupDigits(total))
}

func downloadLine(received, total int64) string {
	if total <= 0 {
		return "Downloading File " + groupDigits(received)
	}
	return fmt.Sprintf("Downloading File %s/%s", groupDigits(received), groupDigits(total))
}

// groupDigits formats n with comma thousands separators.
func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := ""
	if n < 0 {
		neg, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return neg + s
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	head := len(s) % 3
	if head > 0 {
		out = append(out, s[:head]...)
	}
	for i := head; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return neg + string(out)
}
