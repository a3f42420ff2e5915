// Package remote defines what the archiver needs from a messaging account.
package remote

import (
	"context"
	"errors"
	"iter"
	"time"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// Chat kinds as classified by the account.
const (
	KindUser      = "user"
	KindBot       = "bot"
	KindGroup     = "group"
	KindMegagroup = "megagroup"
	KindBroadcast = "broadcast"
)

type Identity struct {
	UserID    string
	FirstName string
	LastName  string
	Phone     string
	Username  string
}

type ChatSummary struct {
	ID   string
	Name string
	Kind string

	// State used by folder rules.
	IsContact   bool
	Muted       bool
	UnreadCount int
	Archived    bool
}

// Read reports whether the chat has no unread messages.
func (c ChatSummary) Read() bool { return c.UnreadCount == 0 }

type Message struct {
	ID        int64
	GroupedID int64
	Date      time.Time
	Edited    time.Time
	Text      string
	SenderID  string
	ReplyToID int64
	// FwdFrom is the chat the message was forwarded from, if any.
	FwdFrom string
	// Action is set for service messages (joins, title changes, ...).
	Action string

	Primary *Attachment
	Preview *WebPage
}

// WebPage is a cached link preview carrying its own media.
type WebPage struct {
	URL       string
	Photos    []Attachment
	Documents []Attachment
}

// Attachments lists downloadable media in fixed order: the primary
// attachment, then preview photos, then preview documents.
func (m Message) Attachments() []Attachment {
	var out []Attachment
	if m.Primary != nil {
		out = append(out, *m.Primary)
	}
	if m.Preview != nil {
		out = append(out, m.Preview.Photos...)
		out = append(out, m.Preview.Documents...)
	}
	return out
}

type Attachment struct {
	Kind     string
	Name     string
	MimeType string
	Size     int64
	// Ref is opaque to the archiver and handed back to DownloadAttachment.
	Ref any
}

// FolderRule is a chat folder definition.
type FolderRule struct {
	ID    int
	Title string

	IncludePeers []string
	ExcludePeers []string

	Contacts    bool
	NonContacts bool
	Groups      bool
	Broadcasts  bool
	Bots        bool

	ExcludeMuted    bool
	ExcludeRead     bool
	ExcludeArchived bool
}

// ProgressFunc receives bytes received so far and the total, when known.
type ProgressFunc func(received, total int64)

type Client interface {
	CurrentIdentity(ctx context.Context) (Identity, error)
	ListChats(ctx context.Context) ([]ChatSummary, error)
	// StreamMessages yields the chat's messages with id > afterID, oldest first.
	StreamMessages(ctx context.Context, chatID string, afterID int64) iter.Seq2[Message, error]
	// DownloadAttachment stores the attachment in destDir and returns the file
	// path, or "" when there is nothing to download.
	DownloadAttachment(ctx context.Context, att Attachment, destDir string, onProgress ProgressFunc) (string, error)
	ListFolders(ctx context.Context) ([]FolderRule, error)
}
