package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tcai793/datamanager/internal/remote"
)

// Config is the datamanager configuration file.
type Config struct {
	ArchiveRoot string `toml:"archive_root"`
	WorkDir     string `toml:"work_dir"`
	WAStore     string `toml:"wa_store"` // whatsmeow device store

	Chats          []string       `toml:"chats"` // allow list: ids or display names
	Block          []string       `toml:"block"`
	Folders        []string       `toml:"folders"`
	IgnoredFolders []string       `toml:"ignored_folders"`
	Folder         []FolderConfig `toml:"folder"`

	Sync   SyncConfig   `toml:"sync"`
	Log    LogConfig    `toml:"log"`
	Backup BackupConfig `toml:"backup"`
	Mirror MirrorConfig `toml:"mirror"`
}

// FolderConfig defines a chat folder locally, in the same shape as account folders.
type FolderConfig struct {
	Title           string   `toml:"title"`
	Include         []string `toml:"include,omitempty"`
	Exclude         []string `toml:"exclude,omitempty"`
	Contacts        bool     `toml:"contacts"`
	NonContacts     bool     `toml:"non_contacts"`
	Groups          bool     `toml:"groups"`
	Broadcasts      bool     `toml:"broadcasts"`
	Bots            bool     `toml:"bots"`
	ExcludeMuted    bool     `toml:"exclude_muted"`
	ExcludeRead     bool     `toml:"exclude_read"`
	ExcludeArchived bool     `toml:"exclude_archived"`
}

func (f FolderConfig) Rule() remote.FolderRule {
	return remote.FolderRule{
		Title:           f.Title,
		IncludePeers:    f.Include,
		ExcludePeers:    f.Exclude,
		Contacts:        f.Contacts,
		NonContacts:     f.NonContacts,
		Groups:          f.Groups,
		Broadcasts:      f.Broadcasts,
		Bots:            f.Bots,
		ExcludeMuted:    f.ExcludeMuted,
		ExcludeRead:     f.ExcludeRead,
		ExcludeArchived: f.ExcludeArchived,
	}
}

// FolderRules converts every [[folder]] table.
func (c *Config) FolderRules() []remote.FolderRule {
	out := make([]remote.FolderRule, 0, len(c.Folder))
	for _, f := range c.Folder {
		out = append(out, f.Rule())
	}
	return out
}

type SyncConfig struct {
	CountFirst bool   `toml:"count_first"`
	IdleExit   string `toml:"idle_exit"` // how long history collection waits for quiet, e.g. "30s"
}

func (s SyncConfig) IdleExitDuration() (time.Duration, error) {
	if s.IdleExit == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(s.IdleExit)
	if err != nil {
		return 0, fmt.Errorf("sync.idle_exit: %w", err)
	}
	return d, nil
}

type LogConfig struct {
	Path       string `toml:"path"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type BackupConfig struct {
	AgeRecipient string `toml:"age_recipient,omitempty"`
}

// MirrorConfig selects where a committed archive database is copied.
// Type is "", "filesystem" or "s3"; the other fields depend on it.
type MirrorConfig struct {
	Type string `toml:"type"`

	Dir string `toml:"dir,omitempty"` // filesystem

	S3Bucket        string `toml:"s3_bucket,omitempty"`
	S3Prefix        string `toml:"s3_prefix,omitempty"`
	S3Region        string `toml:"s3_region,omitempty"`
	S3Endpoint      string `toml:"s3_endpoint,omitempty"`
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
}

// NewConfig returns a config with every path under home.
func NewConfig(home string) *Config {
	c := &Config{}
	c.ApplyDefaults(home)
	return c
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults(home string) {
	if c.ArchiveRoot == "" {
		c.ArchiveRoot = filepath.Join(home, "archive")
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(home, "work")
	}
	if c.WAStore == "" {
		c.WAStore = filepath.Join(home, "session.db")
	}
	if c.Sync.IdleExit == "" {
		c.Sync.IdleExit = "30s"
	}
	if c.Log.Path == "" {
		c.Log.Path = filepath.Join(home, "log", "datamanager.log")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}
}

func (c *Config) Validate() error {
	root, err := filepath.Abs(c.ArchiveRoot)
	if err != nil {
		return err
	}
	work, err := filepath.Abs(c.WorkDir)
	if err != nil {
		return err
	}
	if root == work {
		return fmt.Errorf("archive_root and work_dir must differ")
	}
	if _, err := c.Sync.IdleExitDuration(); err != nil {
		return err
	}
	for i, f := range c.Folder {
		if f.Title == "" {
			return fmt.Errorf("folder %d: title is required", i+1)
		}
	}
	switch c.Mirror.Type {
	case "":
	case "filesystem":
		if c.Mirror.Dir == "" {
			return fmt.Errorf("filesystem mirror requires mirror.dir")
		}
	case "s3":
		if c.Mirror.S3Bucket == "" {
			return fmt.Errorf("s3 mirror requires mirror.s3_bucket")
		}
	default:
		return fmt.Errorf("unknown mirror type: %s", c.Mirror.Type)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads path if it exists, falls back to defaults otherwise, and
// validates the result.
func Load(path, home string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{}
	}
	cfg.ApplyDefaults(home)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
