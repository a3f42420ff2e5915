package selector

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tcai793/datamanager/internal/remote"
)

var testChats = []remote.ChatSummary{
	{ID: "1", Name: "Carol", Kind: remote.KindUser, IsContact: true},
	{ID: "2", Name: "Alice", Kind: remote.KindUser, IsContact: false, UnreadCount: 3},
	{ID: "3", Name: "Book Club", Kind: remote.KindGroup, UnreadCount: 1},
	{ID: "4", Name: "Big Community", Kind: remote.KindMegagroup, Muted: true, UnreadCount: 9},
	{ID: "5", Name: "News", Kind: remote.KindBroadcast, Archived: true},
	{ID: "6", Name: "HelperBot", Kind: remote.KindBot},
}

func ids(chats []remote.ChatSummary) []string {
	var out []string
	for _, c := range chats {
		out = append(out, c.ID)
	}
	return out
}

func TestMatchFolderRule(t *testing.T) {
	groupsUnmuted := remote.FolderRule{Title: "Groups", Groups: true, ExcludeMuted: true, IncludePeers: []string{"7"}}
	mutedListed := remote.ChatSummary{ID: "7", Name: "Muted but listed", Kind: remote.KindMegagroup, Muted: true}

	tests := []struct {
		name string
		chat remote.ChatSummary
		rule remote.FolderRule
		want bool
	}{
		{name: "muted megagroup excluded", chat: testChats[3], rule: groupsUnmuted, want: false},
		{name: "unmuted group included", chat: testChats[2], rule: groupsUnmuted, want: true},
		{name: "include peer beats mute", chat: mutedListed, rule: groupsUnmuted, want: true},
		{name: "exclude peer beats category", chat: testChats[2], rule: remote.FolderRule{Groups: true, ExcludePeers: []string{"3"}}, want: false},
		{name: "include peer beats exclude peer", chat: testChats[2], rule: remote.FolderRule{IncludePeers: []string{"3"}, ExcludePeers: []string{"3"}}, want: true},
		{name: "contact", chat: testChats[0], rule: remote.FolderRule{Contacts: true}, want: true},
		{name: "non-contact needs its own flag", chat: testChats[1], rule: remote.FolderRule{Contacts: true}, want: false},
		{name: "non-contact", chat: testChats[1], rule: remote.FolderRule{NonContacts: true}, want: true},
		{name: "bot is not a user category", chat: testChats[5], rule: remote.FolderRule{Contacts: true, NonContacts: true}, want: false},
		{name: "bot", chat: testChats[5], rule: remote.FolderRule{Bots: true}, want: true},
		{name: "broadcast archived excluded", chat: testChats[4], rule: remote.FolderRule{Broadcasts: true, ExcludeArchived: true}, want: false},
		{name: "read chat excluded", chat: testChats[0], rule: remote.FolderRule{Contacts: true, ExcludeRead: true}, want: false},
		{name: "unread chat kept", chat: testChats[1], rule: remote.FolderRule{NonContacts: true, ExcludeRead: true}, want: true},
		{name: "no flags", chat: testChats[2], rule: remote.FolderRule{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.chat, tt.rule); got != tt.want {
				t.Fatalf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	folders := []remote.FolderRule{
		{Title: "Groups", Groups: true, ExcludeMuted: true},
		{Title: "Bots", Bots: true},
	}
	tests := []struct {
		name string
		crit Criteria
		want []string
	}{
		{name: "everything sorted by name", crit: Criteria{}, want: []string{"2", "4", "3", "1", "6", "5"}},
		{name: "block only", crit: Criteria{Block: []string{"News", "1"}}, want: []string{"2", "4", "3", "6"}},
		{name: "allow by id and name", crit: Criteria{Allow: []string{"5", "Alice"}}, want: []string{"2", "5"}},
		{name: "allow minus block", crit: Criteria{Allow: []string{"5", "Alice"}, Block: []string{"2"}}, want: []string{"5"}},
		{name: "folder only", crit: Criteria{Folders: []string{"Groups"}}, want: []string{"3"}},
		{name: "allow union folders", crit: Criteria{Allow: []string{"Carol"}, Folders: []string{"Groups", "Bots"}}, want: []string{"3", "1", "6"}},
		{name: "folder minus block", crit: Criteria{Folders: []string{"Groups"}, Block: []string{"Book Club"}}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(testChats, folders, tt.crit)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Fatalf("Select() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectUnknownFolder(t *testing.T) {
	_, err := Select(testChats, nil, Criteria{Folders: []string{"Nope"}})
	if !errors.Is(err, ErrUnknownFolder) {
		t.Fatalf("expected ErrUnknownFolder, got %v", err)
	}
}

func TestUnmatched(t *testing.T) {
	got := Unmatched(testChats, []string{"Alice", "Dave", "5", "99"})
	if diff := cmp.Diff([]string{"Dave", "99"}, got); diff != "" {
		t.Fatalf("Unmatched mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeFoldersAndFolderMap(t *testing.T) {
	account := []remote.FolderRule{
		{ID: 1, Title: "Groups", Groups: true},
		{ID: 2, Title: "Personal", Contacts: true, NonContacts: true},
	}
	local := []remote.FolderRule{
		{Title: "Groups", Groups: true, ExcludeMuted: true},
		{Title: "Channels", Broadcasts: true},
	}
	merged := MergeFolders(account, local)
	var titles []string
	for _, r := range merged {
		titles = append(titles, r.Title)
	}
	if diff := cmp.Diff([]string{"Personal", "Groups", "Channels"}, titles); diff != "" {
		t.Fatalf("MergeFolders titles (-want +got):\n%s", diff)
	}

	m := FolderMap(testChats, merged, []string{"Channels"})
	want := map[string][]string{
		"1": {"Personal"},
		"2": {"Personal"},
		"3": {"Groups"},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("FolderMap mismatch (-want +got):\n%s", diff)
	}
}
