package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tcai793/datamanager/internal/remote"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/home/user/.local/share/datamanager")
	original.Chats = []string{"Alice", "123@s.whatsapp.net"}
	original.Block = []string{"Spam"}
	original.Folders = []string{"Family"}
	original.IgnoredFolders = []string{"Work"}
	original.Folder = []FolderConfig{{
		Title:        "Family",
		Include:      []string{"Mum"},
		Exclude:      []string{"Uncle Bob"},
		Contacts:     true,
		ExcludeMuted: true,
	}}
	original.Sync.CountFirst = true
	original.Backup.AgeRecipient = "age1example"
	original.Mirror = MirrorConfig{Type: "s3", S3Bucket: "backups", S3Prefix: "chats", S3Region: "eu-west-1"}

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if diff := cmp.Diff(original, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFolderTables(t *testing.T) {
	const doc = `
chats = ["Alice"]

[[folder]]
title = "Groups"
groups = true
exclude_archived = true

[[folder]]
title = "Friends"
include = ["Bob", "Carol"]
`
	cfg, err := (&Manager{}).Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := []remote.FolderRule{
		{Title: "Groups", Groups: true, ExcludeArchived: true},
		{Title: "Friends", IncludePeers: []string{"Bob", "Carol"}},
	}
	if diff := cmp.Diff(want, cfg.FolderRules()); diff != "" {
		t.Fatalf("FolderRules mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(filepath.Join(home, "missing.toml"), home)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ArchiveRoot != filepath.Join(home, "archive") {
		t.Errorf("ArchiveRoot = %q", cfg.ArchiveRoot)
	}
	if cfg.WorkDir != filepath.Join(home, "work") {
		t.Errorf("WorkDir = %q", cfg.WorkDir)
	}
	if cfg.Log.Path != filepath.Join(home, "log", "datamanager.log") || cfg.Log.Level != "info" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if d, _ := cfg.Sync.IdleExitDuration(); d != 30*time.Second {
		t.Errorf("IdleExit = %v", d)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "datamanager.toml")
	doc := "archive_root = \"/srv/chats\"\n[sync]\nidle_exit = \"5s\"\n"
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path, home)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ArchiveRoot != "/srv/chats" {
		t.Errorf("ArchiveRoot = %q", cfg.ArchiveRoot)
	}
	if cfg.WorkDir != filepath.Join(home, "work") {
		t.Errorf("WorkDir = %q", cfg.WorkDir)
	}
	if d, _ := cfg.Sync.IdleExitDuration(); d != 5*time.Second {
		t.Errorf("IdleExit = %v", d)
	}
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "datamanager.toml")
	if err := os.WriteFile(path, []byte("archive_root = [\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path, home); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "same root and work", mutate: func(c *Config) { c.WorkDir = c.ArchiveRoot }, wantErr: true},
		{name: "bad idle exit", mutate: func(c *Config) { c.Sync.IdleExit = "soon" }, wantErr: true},
		{name: "folder without title", mutate: func(c *Config) { c.Folder = []FolderConfig{{Groups: true}} }, wantErr: true},
		{name: "filesystem mirror", mutate: func(c *Config) { c.Mirror = MirrorConfig{Type: "filesystem", Dir: "/mnt/backup"} }},
		{name: "filesystem mirror without dir", mutate: func(c *Config) { c.Mirror = MirrorConfig{Type: "filesystem"} }, wantErr: true},
		{name: "s3 mirror without bucket", mutate: func(c *Config) { c.Mirror = MirrorConfig{Type: "s3"} }, wantErr: true},
		{name: "unknown mirror", mutate: func(c *Config) { c.Mirror = MirrorConfig{Type: "ftp"} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data/datamanager")
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInit_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "datamanager.toml")
	cfg := NewConfig("/data/datamanager")
	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if got.ArchiveRoot != cfg.ArchiveRoot {
		t.Errorf("ArchiveRoot = %q, want %q", got.ArchiveRoot, cfg.ArchiveRoot)
	}
	if err := Init(path, cfg); err == nil {
		t.Fatalf("second Init() should fail")
	}
}

func TestDefaultPathsFromEnv(t *testing.T) {
	t.Setenv("DATAMANAGER_CONFIG", "/etc/dm.toml")
	t.Setenv("DATAMANAGER_HOME", "/var/lib/dm")
	if p, err := DefaultConfigPath(); err != nil || p != "/etc/dm.toml" {
		t.Errorf("DefaultConfigPath() = %q, %v", p, err)
	}
	if p, err := DefaultHome(); err != nil || p != "/var/lib/dm" {
		t.Errorf("DefaultHome() = %q, %v", p, err)
	}
}
