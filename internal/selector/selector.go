// Package selector decides which chats a run processes.
package selector

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/tcai793/datamanager/internal/remote"
)

var ErrUnknownFolder = errors.New("unknown folder")

type Criteria struct {
	// Allow and Block entries match a chat id or display name exactly.
	Allow   []string
	Block   []string
	Folders []string
}

// Select returns (allowed chats ∪ requested folder members) − blocked chats,
// ordered by display name. With no allow entries and no folders every chat is
// allowed.
func Select(chats []remote.ChatSummary, folders []remote.FolderRule, c Criteria) ([]remote.ChatSummary, error) {
	rules := make([]remote.FolderRule, 0, len(c.Folders))
	for _, title := range c.Folders {
		r, ok := findFolder(folders, title)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFolder, title)
		}
		rules = append(rules, r)
	}

	all := len(c.Allow) == 0 && len(rules) == 0
	var out []remote.ChatSummary
	for _, chat := range chats {
		if matchesAny(chat, c.Block) {
			continue
		}
		if all || matchesAny(chat, c.Allow) || inAnyFolder(chat, rules) {
			out = append(out, chat)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Unmatched returns the entries that name none of chats.
func Unmatched(chats []remote.ChatSummary, entries []string) []string {
	var out []string
	for _, e := range entries {
		found := false
		for _, chat := range chats {
			if chatMatches(chat, e) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, e)
		}
	}
	return out
}

// Match reports whether chat belongs to the folder described by r.
func Match(chat remote.ChatSummary, r remote.FolderRule) bool {
	if slices.Contains(r.IncludePeers, chat.ID) {
		return true
	}
	if slices.Contains(r.ExcludePeers, chat.ID) {
		return false
	}
	if !matchesCategory(chat, r) {
		return false
	}
	switch {
	case r.ExcludeMuted && chat.Muted:
		return false
	case r.ExcludeRead && chat.Read():
		return false
	case r.ExcludeArchived && chat.Archived:
		return false
	}
	return true
}

func matchesCategory(chat remote.ChatSummary, r remote.FolderRule) bool {
	switch chat.Kind {
	case remote.KindUser:
		if chat.IsContact {
			return r.Contacts
		}
		return r.NonContacts
	case remote.KindBot:
		return r.Bots
	case remote.KindGroup, remote.KindMegagroup:
		return r.Groups
	case remote.KindBroadcast:
		return r.Broadcasts
	}
	return false
}

// MergeFolders combines account folders with locally defined ones. A local
// folder replaces an account folder with the same title.
func MergeFolders(account, local []remote.FolderRule) []remote.FolderRule {
	out := make([]remote.FolderRule, 0, len(account)+len(local))
	for _, r := range account {
		if _, overridden := findFolder(local, r.Title); overridden {
			continue
		}
		out = append(out, r)
	}
	return append(out, local...)
}

// FolderMap lists, per chat id, the titles of the folders containing it.
// Folders named in ignored are skipped; chats in no folder are omitted.
func FolderMap(chats []remote.ChatSummary, folders []remote.FolderRule, ignored []string) map[string][]string {
	out := map[string][]string{}
	for _, r := range folders {
		if slices.Contains(ignored, r.Title) {
			continue
		}
		for _, chat := range chats {
			if Match(chat, r) {
				out[chat.ID] = append(out[chat.ID], r.Title)
			}
		}
	}
	return out
}

func findFolder(folders []remote.FolderRule, title string) (remote.FolderRule, bool) {
	for _, r := range folders {
		if r.Title == title {
			return r, true
		}
	}
	return remote.FolderRule{}, false
}

func inAnyFolder(chat remote.ChatSummary, rules []remote.FolderRule) bool {
	for _, r := range rules {
		if Match(chat, r) {
			return true
		}
	}
	return false
}

func matchesAny(chat remote.ChatSummary, entries []string) bool {
	for _, e := range entries {
		if chatMatches(chat, e) {
			return true
		}
	}
	return false
}

func chatMatches(chat remote.ChatSummary, entry string) bool {
	entry = strings.TrimSpace(entry)
	return entry != "" && (entry == chat.ID || entry == chat.Name)
}
