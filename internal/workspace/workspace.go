// Package workspace manages isolated per-agent working directories for
// CLI providers: creation with seeded context files, contained file
// access, archival and soft-delete cleanup.
package workspace

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// Subdirectories created in every workspace. The dot dirs keep CLI tools
// from writing outside the sandbox.
var subdirs = []string{
	"knowledge",
	"logs",
	"custom/tools",
	"output",
	"media_input",
	".local/share",
	".local/cache",
	".config",
	".cache",
}

// contextFiles maps CLI type to the instruction file that tool reads on
// startup from its working directory.
var contextFiles = map[string]string{
	"claude":   "CLAUDE.md",
	"gemini":   "GEMINI.md",
	"opencode": "OPENCODE.md",
}

// Config tunes the manager.
type Config struct {
	Root         string
	TemplatesDir string // optional guide files copied into new workspaces
	SandboxUser  string // chown target when running as root
	ArchiveDir   string // defaults to <root>/archives
}

// Manager creates and serves workspaces.
type Manager struct {
	cfg   Config
	store store.WorkspaceStore
	log   *slog.Logger

	uid, gid int // -1 when no sandbox user resolved
}

func NewManager(cfg Config, ws store.WorkspaceStore, log *slog.Logger) (*Manager, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("workspace root not configured")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = filepath.Join(cfg.Root, "archives")
	}
	m := &Manager{cfg: cfg, store: ws, log: log, uid: -1, gid: -1}
	if cfg.SandboxUser != "" {
		if u, err := user.Lookup(cfg.SandboxUser); err == nil {
			uid, err1 := strconv.Atoi(u.Uid)
			gid, err2 := strconv.Atoi(u.Gid)
			if err1 == nil && err2 == nil {
				m.uid, m.gid = uid, gid
			}
		} else {
			log.Warn("workspace.sandbox_user_missing", "user", cfg.SandboxUser)
		}
	}
	return m, nil
}

// SandboxIDs returns the uid/gid of the sandbox account, or ok=false when
// no least-privileged account was resolved.
func (m *Manager) SandboxIDs() (uid, gid int, ok bool) {
	return m.uid, m.gid, m.uid >= 0
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitize(s string) string {
	return unsafePathChars.ReplaceAllString(s, "_")
}

// Create builds the directory tree, seeds the CLI context file and guide
// templates, and persists the record. Creating an existing workspace
// returns the stored record unchanged.
func (m *Manager) Create(ctx context.Context, userID, agentID, cliType string) (*store.WorkspaceRecord, error) {
	if existing, err := m.store.Get(ctx, userID, agentID); err == nil && existing != nil && existing.DeletedAt == nil {
		return existing, nil
	}

	path := filepath.Join(m.cfg.Root, sanitize(userID), sanitize(agentID))
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(path, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create workspace dirs: %w", err)
		}
	}

	ctxFile, ok := contextFiles[cliType]
	if !ok {
		ctxFile = "AGENT.md"
	}
	if err := os.WriteFile(filepath.Join(path, ctxFile), []byte(contextSeed(cliType)), 0o640); err != nil {
		return nil, fmt.Errorf("seed context file: %w", err)
	}
	if m.cfg.TemplatesDir != "" {
		if err := m.copyTemplates(path); err != nil {
			m.log.Warn("workspace.templates_copy_failed", "error", err)
		}
	}
	if err := m.chownTree(path); err != nil {
		m.log.Warn("workspace.chown_failed", "path", path, "error", err)
	}

	rec := &store.WorkspaceRecord{
		ID:        uuid.Must(uuid.NewV7()),
		UserID:    userID,
		AgentID:   agentID,
		CLIType:   cliType,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist workspace: %w", err)
	}
	m.log.Info("workspace.created", "user", userID, "agent", agentID, "cli", cliType, "path", path)
	return rec, nil
}

func contextSeed(cliType string) string {
	return fmt.Sprintf(`# Agent Workspace

This directory is your working area. Conventions:

- Put generated files under output/.
- Reference material lives under knowledge/.
- Custom helper scripts go under custom/tools/.
- Do not write outside this directory.

When you produce a file the user should receive, print a line:
[FILE_GENERATED: <absolute path>]

CLI: %s
`, cliType)
}

func (m *Manager) copyTemplates(dst string) error {
	return filepath.WalkDir(m.cfg.TemplatesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(m.cfg.TemplatesDir, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, "knowledge", rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o640)
	})
}

func (m *Manager) chownTree(path string) error {
	if m.uid < 0 {
		return nil
	}
	return filepath.WalkDir(path, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(p, m.uid, m.gid)
	})
}

// Get returns the workspace record for a user/agent pair.
func (m *Manager) Get(ctx context.Context, userID, agentID string) (*store.WorkspaceRecord, error) {
	rec, err := m.store.Get(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.DeletedAt != nil {
		return nil, fmt.Errorf("workspace not found for %s/%s", userID, agentID)
	}
	return rec, nil
}

// List returns the user's live workspaces.
func (m *Manager) List(ctx context.Context, userID string) ([]store.WorkspaceRecord, error) {
	all, err := m.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, w := range all {
		if w.DeletedAt == nil {
			live = append(live, w)
		}
	}
	return live, nil
}

// resolve joins a relative path to the workspace root, rejecting any
// traversal outside it.
func resolve(wsPath, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative")
	}
	full := filepath.Join(wsPath, filepath.Clean(rel))
	if full != wsPath && !strings.HasPrefix(full, wsPath+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return full, nil
}

// Read returns a file's content by workspace-relative path.
func (m *Manager) Read(ctx context.Context, userID, agentID, rel string) ([]byte, error) {
	rec, err := m.Get(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	full, err := resolve(rec.Path, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Write stores a file by workspace-relative path, creating parent dirs.
func (m *Manager) Write(ctx context.Context, userID, agentID, rel string, data []byte) error {
	rec, err := m.Get(ctx, userID, agentID)
	if err != nil {
		return err
	}
	full, err := resolve(rec.Path, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0o640); err != nil {
		return err
	}
	if m.uid >= 0 {
		_ = os.Chown(full, m.uid, m.gid)
	}
	return nil
}

// Entry is one file listing row.
type Entry struct {
	Name  string    `json:"name"`
	Size  int64     `json:"size"`
	IsDir bool      `json:"is_dir"`
	MTime time.Time `json:"mtime"`
}

// ListRelative lists a workspace subdirectory.
func (m *Manager) ListRelative(ctx context.Context, userID, agentID, rel string) ([]Entry, error) {
	rec, err := m.Get(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	full, err := resolve(rec.Path, rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: e.Name(), Size: info.Size(), IsDir: e.IsDir(), MTime: info.ModTime()})
	}
	return out, nil
}

// Archive zips the workspace into the archive dir and returns the zip path.
func (m *Manager) Archive(ctx context.Context, userID, agentID string) (string, error) {
	rec, err := m.Get(ctx, userID, agentID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.cfg.ArchiveDir, 0o750); err != nil {
		return "", err
	}
	zipPath := filepath.Join(m.cfg.ArchiveDir,
		fmt.Sprintf("%s-%s-%s.zip", sanitize(userID), sanitize(agentID), time.Now().UTC().Format("20060102T150405")))

	f, err := os.Create(zipPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	defer zw.Close()

	err = filepath.WalkDir(rec.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(rec.Path, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("archive workspace: %w", err)
	}
	m.log.Info("workspace.archived", "user", userID, "agent", agentID, "zip", zipPath)
	return zipPath, nil
}

// Delete soft-deletes the workspace. Files stay on disk until Cleanup.
func (m *Manager) Delete(ctx context.Context, userID, agentID string) error {
	rec, err := m.Get(ctx, userID, agentID)
	if err != nil {
		return err
	}
	if err := m.store.SoftDelete(ctx, rec.ID, time.Now().UTC()); err != nil {
		return err
	}
	m.log.Info("workspace.deleted", "user", userID, "agent", agentID)
	return nil
}

// Cleanup hard-removes workspaces soft-deleted before the cutoff.
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	deleted, err := m.store.ListDeletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, w := range deleted {
		// Only remove paths under our root.
		if !strings.HasPrefix(w.Path, m.cfg.Root+string(filepath.Separator)) {
			m.log.Warn("workspace.cleanup_skipped", "path", w.Path)
			continue
		}
		if err := os.RemoveAll(w.Path); err != nil {
			m.log.Warn("workspace.cleanup_remove_failed", "path", w.Path, "error", err)
			continue
		}
		if err := m.store.HardDelete(ctx, w.ID); err != nil {
			m.log.Warn("workspace.cleanup_row_failed", "id", w.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.log.Info("workspace.cleanup_done", "removed", removed)
	}
	return removed, nil
}
