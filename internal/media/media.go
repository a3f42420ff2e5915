// Package media manages the archive's media directory: file naming, the
// ordered list of files a message produced, orphan cleanup and per-chat
// aliases.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tcai793/datamanager/internal/fsutil"
	"github.com/tcai793/datamanager/internal/store"
)

const dirName = "media"

// FileName returns the on-disk name of a media file: "<id>@<name>".
func FileName(id int64, name string) string {
	return strconv.FormatInt(id, 10) + "@" + SanitizeName(name)
}

// ParseFileName splits "<id>@<name>". ok is false for anything else.
func ParseFileName(base string) (id int64, name string, ok bool) {
	head, tail, found := strings.Cut(base, "@")
	if !found || head == "" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, tail, true
}

func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

func chatDir(root, chatID string) (string, error) {
	if chatID == "" || strings.ContainsAny(chatID, `/\`) || chatID == "." || chatID == ".." {
		return "", fmt.Errorf("invalid chat id %q for media directory", chatID)
	}
	return filepath.Join(root, dirName, chatID), nil
}

// EnsureChatDir creates the chat's media directory.
func EnsureChatDir(root, chatID string) error {
	dir, err := chatDir(root, chatID)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// Place moves a downloaded file into the chat's media directory under its
// allocated id and returns the path relative to root.
func Place(root, chatID string, id int64, src string) (string, error) {
	dir, err := chatDir(root, chatID)
	if err != nil {
		return "", err
	}
	name := FileName(id, filepath.Base(src))
	if err := fsutil.MoveFile(src, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("place media %s/%d: %w", chatID, id, err)
	}
	return filepath.ToSlash(filepath.Join(dirName, chatID, name)), nil
}

// Chain is the ordered list of media one message produced, in download order.
type Chain struct {
	chatID string
	items  []store.MediaItem
}

func NewChain(chatID string) *Chain {
	return &Chain{chatID: chatID}
}

// Append adds the next file. Ids must strictly increase.
func (c *Chain) Append(id int64, file string) error {
	if n := len(c.items); n > 0 && id <= c.items[n-1].ID {
		return fmt.Errorf("media id %d does not follow %d", id, c.items[n-1].ID)
	}
	c.items = append(c.items, store.MediaItem{ChatID: c.chatID, ID: id, File: file})
	return nil
}

func (c *Chain) Len() int { return len(c.items) }

// First is the id recorded on the message row, or 0 when empty.
func (c *Chain) First() int64 {
	if len(c.items) == 0 {
		return 0
	}
	return c.items[0].ID
}

func (c *Chain) Items() []store.MediaItem {
	out := make([]store.MediaItem, len(c.items))
	copy(out, c.items)
	return out
}
