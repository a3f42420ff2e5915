package wa

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/tcai793/datamanager/internal/fsutil"
	"github.com/tcai793/datamanager/internal/remote"
)

var _ remote.Client = (*Client)(nil)

// Authenticate pairs this device by QR code if needed and returns the
// account it is linked to.
func (c *Client) Authenticate(ctx context.Context, onQRCode func(string)) (remote.Identity, error) {
	if err := c.Connect(ctx, ConnectOptions{AllowQR: true, OnQRCode: onQRCode}); err != nil {
		return remote.Identity{}, err
	}
	return c.CurrentIdentity(ctx)
}

func (c *Client) CurrentIdentity(ctx context.Context) (remote.Identity, error) {
	cli := c.cli()
	if cli == nil || cli.Store == nil || cli.Store.ID == nil {
		return remote.Identity{}, fmt.Errorf("%w; run `datamanager auth`", remote.ErrNotAuthenticated)
	}
	id := cli.Store.ID.ToNonAD()
	return remote.Identity{
		UserID:    id.User,
		FirstName: strings.TrimSpace(cli.Store.PushName),
		Phone:     id.User,
	}, nil
}

func (c *Client) selfID() string {
	cli := c.cli()
	if cli == nil || cli.Store == nil || cli.Store.ID == nil {
		return ""
	}
	return cli.Store.ID.ToNonAD().String()
}

// collect connects once and journals history sync and live messages until
// no event arrived for IdleExit. The connection stays open for downloads.
func (c *Client) collect(ctx context.Context) error {
	c.collectOnce.Do(func() { c.collectErr = c.runCollect(ctx) })
	return c.collectErr
}

func (c *Client) runCollect(ctx context.Context) error {
	cli := c.cli()
	if cli == nil {
		return fmt.Errorf("whatsapp client is not initialized")
	}

	var lastEvent atomic.Int64
	lastEvent.Store(time.Now().UnixNano())
	disconnected := make(chan struct{}, 1)

	handlerID := cli.AddEventHandler(func(evt interface{}) {
		lastEvent.Store(time.Now().UnixNano())
		switch v := evt.(type) {
		case *events.Message:
			c.journal.add(ParseLiveMessage(v))
		case *events.HistorySync:
			added := 0
			for _, conv := range v.Data.GetConversations() {
				lastEvent.Store(time.Now().UnixNano())
				added += c.journal.addConversation(conv)
			}
			c.log.Info().Int("conversations", len(v.Data.GetConversations())).Int("messages", added).Msg("history sync")
		case *events.Disconnected:
			select {
			case disconnected <- struct{}{}:
			default:
			}
		}
	})
	defer cli.RemoveEventHandler(handlerID)

	if err := c.Connect(ctx, ConnectOptions{}); err != nil {
		return err
	}
	c.log.Info().Dur("idle_exit", c.opts.IdleExit).Msg("collecting history")

	poll := 250 * time.Millisecond
	if c.opts.IdleExit >= 2*time.Second {
		poll = 1 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-disconnected:
			c.log.Warn().Msg("disconnected; reconnecting")
			if err := c.ReconnectWithBackoff(ctx, 2*time.Second, 30*time.Second); err != nil {
				return err
			}
		case <-ticker.C:
			if time.Since(time.Unix(0, lastEvent.Load())) >= c.opts.IdleExit {
				c.log.Info().Int("chats", len(c.journal.snapshot())).Msg("history collection idle")
				return nil
			}
		}
	}
}

func (c *Client) ListChats(ctx context.Context) ([]remote.ChatSummary, error) {
	if err := c.collect(ctx); err != nil {
		return nil, err
	}
	contacts := c.allContacts(ctx)
	groups := c.joinedGroups(ctx)

	seen := map[types.JID]bool{}
	var out []remote.ChatSummary
	now := time.Now()
	add := func(jid types.JID, st chatState) {
		if seen[jid] || jid == types.StatusBroadcastJID {
			return
		}
		seen[jid] = true
		settings := c.chatSettings(ctx, jid)
		group := groups[jid]
		contact := contacts[jid.ToNonAD()]
		out = append(out, remote.ChatSummary{
			ID:          jid.String(),
			Name:        resolveChatName(jid, st.name, group, contact, st.pushName),
			Kind:        chatKind(jid, group),
			IsContact:   isContact(contact),
			Muted:       settings.MutedUntil.After(now) || st.mutedUntil.After(now),
			UnreadCount: st.unread,
			Archived:    settings.Archived || st.archived,
		})
	}
	for _, st := range c.journal.snapshot() {
		add(st.jid, st)
	}
	for jid := range groups {
		add(jid, chatState{jid: jid})
	}
	return out, nil
}

func (c *Client) StreamMessages(ctx context.Context, chatID string, afterID int64) iter.Seq2[remote.Message, error] {
	return func(yield func(remote.Message, error) bool) {
		if err := c.collect(ctx); err != nil {
			yield(remote.Message{}, err)
			return
		}
		for _, m := range c.journal.messages(chatID, c.selfID()) {
			if err := ctx.Err(); err != nil {
				yield(remote.Message{}, err)
				return
			}
			if m.ID <= afterID {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (c *Client) DownloadAttachment(ctx context.Context, att remote.Attachment, destDir string, onProgress remote.ProgressFunc) (string, error) {
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}
	var data []byte
	switch ref := att.Ref.(type) {
	case nil:
		return "", nil
	case inlineFile:
		data = ref
	case whatsmeow.DownloadableMessage:
		cli := c.cli()
		if cli == nil || !cli.IsConnected() {
			return "", fmt.Errorf("not connected")
		}
		onProgress(0, att.Size)
		b, err := cli.Download(ctx, ref)
		if err != nil {
			if errors.Is(err, whatsmeow.ErrMediaDownloadFailedWith404) || errors.Is(err, whatsmeow.ErrMediaDownloadFailedWith410) {
				c.log.Warn().Str("name", att.Name).Err(err).Msg("media expired on server; skipping")
				return "", nil
			}
			return "", err
		}
		data = b
	default:
		return "", fmt.Errorf("unsupported attachment reference %T", att.Ref)
	}

	name := filepath.Base(strings.TrimSpace(att.Name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "file"
	}
	path := filepath.Join(destDir, name)
	if err := fsutil.WriteFileAtomic(path, data, 0600); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	onProgress(int64(len(data)), int64(len(data)))
	return path, nil
}

// ListFolders returns no folders: WhatsApp has no chat folders, so folder
// rules come from the config only.
func (c *Client) ListFolders(ctx context.Context) ([]remote.FolderRule, error) {
	return nil, nil
}
