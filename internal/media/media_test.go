package media

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/tcai793/datamanager/internal/store"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		in     string
		id     int64
		name   string
		wantOK bool
	}{
		{in: "1@photo.jpg", id: 1, name: "photo.jpg", wantOK: true},
		{in: "42@a@b.txt", id: 42, name: "a@b.txt", wantOK: true},
		{in: "7@", id: 7, name: "", wantOK: true},
		{in: "photo.jpg"},
		{in: "x1@photo.jpg"},
		{in: "@photo.jpg"},
		{in: "0@zero"},
		{in: "-3@neg"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, name, ok := ParseFileName(tt.in)
			if ok != tt.wantOK || id != tt.id || name != tt.name {
				t.Fatalf("ParseFileName(%q) = %d, %q, %v", tt.in, id, name, ok)
			}
		})
	}
}

func TestFileNameSanitizes(t *testing.T) {
	if got := FileName(3, "a/b\\c.txt"); got != "3@a_b_c.txt" {
		t.Fatalf("FileName = %q", got)
	}
	if got := FileName(4, "  "); got != "4@file" {
		t.Fatalf("FileName = %q", got)
	}
}

func TestChainOrderAndFirst(t *testing.T) {
	c := NewChain("chat")
	if c.First() != 0 {
		t.Fatalf("empty chain First = %d", c.First())
	}
	for _, id := range []int64{4, 5, 6} {
		if err := c.Append(id, "f"); err != nil {
			t.Fatalf("Append(%d): %v", id, err)
		}
	}
	if err := c.Append(6, "dup"); err == nil {
		t.Fatalf("expected non-increasing id to fail")
	}
	want := []store.MediaItem{
		{ChatID: "chat", ID: 4, File: "f"},
		{ChatID: "chat", ID: 5, File: "f"},
		{ChatID: "chat", ID: 6, File: "f"},
	}
	if diff := cmp.Diff(want, c.Items()); diff != "" {
		t.Fatalf("Items mismatch (-want +got):\n%s", diff)
	}
	if c.First() != 4 || c.Len() != 3 {
		t.Fatalf("First = %d, Len = %d", c.First(), c.Len())
	}
}

func TestPlaceMovesIntoChatDir(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "report.pdf")
	touch(t, src)

	rel, err := Place(root, "g1@g.us", 9, src)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if rel != "media/g1@g.us/9@report.pdf" {
		t.Fatalf("relative path = %q", rel)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
		t.Fatalf("placed file missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source to be moved, stat err = %v", err)
	}

	if _, err := Place(root, "../escape", 1, src); err == nil {
		t.Fatalf("expected invalid chat id to fail")
	}
}

func TestPruneOrphans(t *testing.T) {
	root := t.TempDir()
	keep := []string{
		"media/a/1@one.jpg",
		"media/a/2@two.jpg",
		"media/a/notes.txt",
		"media/a/x@bad",
	}
	orphans := []string{
		"media/a/3@three.jpg",
		"media/b/1@unknown-chat.jpg",
	}
	for _, p := range append(append([]string{}, keep...), orphans...) {
		touch(t, filepath.Join(root, filepath.FromSlash(p)))
	}
	touch(t, filepath.Join(root, "media", "stray-file"))

	removed := PruneOrphans(root, map[string]int64{"a": 2}, zerolog.Nop())

	var got []string
	for _, p := range removed {
		rel, _ := filepath.Rel(root, p)
		got = append(got, filepath.ToSlash(rel))
	}
	sort.Strings(got)
	if diff := cmp.Diff(orphans, got); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	for _, p := range keep {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(p))); err != nil {
			t.Fatalf("expected %s to survive: %v", p, err)
		}
	}
}

func TestPruneOrphansMissingDir(t *testing.T) {
	if removed := PruneOrphans(t.TempDir(), nil, zerolog.Nop()); len(removed) != 0 {
		t.Fatalf("expected nothing removed, got %v", removed)
	}
}

func TestAliasReplacesRenamedChat(t *testing.T) {
	root := t.TempDir()
	if err := EnsureChatDir(root, "123@s.whatsapp.net"); err != nil {
		t.Fatalf("EnsureChatDir: %v", err)
	}

	first, err := Alias(root, "123@s.whatsapp.net", "Alice")
	if err != nil {
		t.Fatalf("Alias: %v", err)
	}
	if filepath.Base(first) != "Alice@123@s.whatsapp.net" {
		t.Fatalf("alias name = %s", filepath.Base(first))
	}
	if _, err := Alias(root, "123@s.whatsapp.net", "Alice"); err != nil {
		t.Fatalf("Alias again: %v", err)
	}

	second, err := Alias(root, "123@s.whatsapp.net", "Alice / Work")
	if err != nil {
		t.Fatalf("Alias rename: %v", err)
	}
	if _, err := os.Lstat(first); !os.IsNotExist(err) {
		t.Fatalf("expected old alias removed, err = %v", err)
	}
	target, err := os.Readlink(second)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != filepath.Join("..", "media", "123@s.whatsapp.net") {
		t.Fatalf("alias target = %s", target)
	}
	info, err := os.Stat(second)
	if err != nil || !info.IsDir() {
		t.Fatalf("alias does not resolve to the media dir: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "chats"))
	if len(entries) != 1 {
		t.Fatalf("expected one alias, got %d", len(entries))
	}
}
