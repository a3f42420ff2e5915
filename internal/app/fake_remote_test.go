package app

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tcai793/datamanager/internal/remote"
	"github.com/tcai793/datamanager/internal/workcopy"
)

type fakeRemote struct {
	mu sync.Mutex

	identity remote.Identity
	chats    []remote.ChatSummary
	folders  []remote.FolderRule
	messages map[string][]remote.Message
	// files holds attachment content by Ref.
	files map[string][]byte

	streamErr   map[string]error
	downloadErr map[string]error
	// ignoreCursor replays messages the caller already has.
	ignoreCursor bool

	downloads []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		identity:    remote.Identity{UserID: "15550001", FirstName: "Test", Phone: "15550001"},
		messages:    map[string][]remote.Message{},
		files:       map[string][]byte{},
		streamErr:   map[string]error{},
		downloadErr: map[string]error{},
	}
}

func (f *fakeRemote) addChat(c remote.ChatSummary, msgs ...remote.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, c)
	f.messages[c.ID] = append(f.messages[c.ID], msgs...)
}

func (f *fakeRemote) addMessages(chatID string, msgs ...remote.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[chatID] = append(f.messages[chatID], msgs...)
}

// attach registers downloadable content and returns an attachment for it.
func (f *fakeRemote) attach(ref, name, content string) *remote.Attachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[ref] = []byte(content)
	return &remote.Attachment{Kind: "document", Name: name, Size: int64(len(content)), Ref: ref}
}

func (f *fakeRemote) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.downloads)
}

func (f *fakeRemote) CurrentIdentity(ctx context.Context) (remote.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity, nil
}

func (f *fakeRemote) ListChats(ctx context.Context) ([]remote.ChatSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.ChatSummary(nil), f.chats...), nil
}

func (f *fakeRemote) ListFolders(ctx context.Context) ([]remote.FolderRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.FolderRule(nil), f.folders...), nil
}

func (f *fakeRemote) StreamMessages(ctx context.Context, chatID string, afterID int64) iter.Seq2[remote.Message, error] {
	return func(yield func(remote.Message, error) bool) {
		f.mu.Lock()
		err := f.streamErr[chatID]
		msgs := append([]remote.Message(nil), f.messages[chatID]...)
		ignore := f.ignoreCursor
		f.mu.Unlock()

		if err != nil {
			yield(remote.Message{}, err)
			return
		}
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
		for _, m := range msgs {
			if m.ID <= afterID && !ignore {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (f *fakeRemote) DownloadAttachment(ctx context.Context, att remote.Attachment, destDir string, onProgress remote.ProgressFunc) (string, error) {
	ref, _ := att.Ref.(string)

	f.mu.Lock()
	err := f.downloadErr[ref]
	data, ok := f.files[ref]
	f.mu.Unlock()

	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	path := filepath.Join(destDir, att.Name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	if onProgress != nil {
		onProgress(int64(len(data)), int64(len(data)))
	}

	f.mu.Lock()
	f.downloads = append(f.downloads, ref)
	f.mu.Unlock()
	return path, nil
}

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Set(line int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, fmt.Sprintf("%d:%s", line, text))
}

type testEnv struct {
	root string
	work string
	f    *fakeRemote
	app  *App
}

func newTestEnv(t *testing.T, f *fakeRemote, mutate func(*Options)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		root: filepath.Join(dir, "archive"),
		work: filepath.Join(dir, "work"),
		f:    f,
	}
	opts := Options{
		ArchiveRoot: env.root,
		WorkDir:     env.work,
		Log:         zerolog.Nop(),
		Workcopy: workcopy.New(workcopy.Options{
			Log: zerolog.Nop(),
			Now: func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
		}),
	}
	if mutate != nil {
		mutate(&opts)
	}
	a, err := New(f, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.app = a
	return env
}

func msgAt(id int64, text string) remote.Message {
	return remote.Message{
		ID:       id,
		Date:     time.Date(2024, 1, 1, 0, 0, int(id), 0, time.UTC),
		Text:     text,
		SenderID: "15550002",
	}
}
