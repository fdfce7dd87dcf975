package workspace

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/superbrain/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Stores) {
	t.Helper()
	stores := store.NewMemoryStores()
	m, err := NewManager(Config{Root: t.TempDir()}, stores.Workspaces, nil)
	if err != nil {
		t.Fatal(err)
	}
	return m, stores
}

func TestCreateSeedsWorkspace(t *testing.T) {
	m, _ := newTestManager(t)
	rec, err := m.Create(context.Background(), "u1", "agent-1", "claude")
	if err != nil {
		t.Fatal(err)
	}

	for _, sub := range []string{"knowledge", "output", "custom/tools", ".config"} {
		if st, err := os.Stat(filepath.Join(rec.Path, sub)); err != nil || !st.IsDir() {
			t.Fatalf("missing subdir %s: %v", sub, err)
		}
	}
	if _, err := os.Stat(filepath.Join(rec.Path, "CLAUDE.md")); err != nil {
		t.Fatalf("context file not seeded: %v", err)
	}

	// Creating again returns the same record.
	again, err := m.Create(context.Background(), "u1", "agent-1", "claude")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != rec.ID {
		t.Fatalf("duplicate workspace created: %s vs %s", again.ID, rec.ID)
	}
}

func TestContextFilePerCLI(t *testing.T) {
	m, _ := newTestManager(t)
	tests := []struct{ cli, file string }{
		{"claude", "CLAUDE.md"},
		{"gemini", "GEMINI.md"},
		{"opencode", "OPENCODE.md"},
		{"unknown", "AGENT.md"},
	}
	for i, tt := range tests {
		rec, err := m.Create(context.Background(), "u1", "agent-"+tt.cli, tt.cli)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(filepath.Join(rec.Path, tt.file)); err != nil {
			t.Fatalf("case %d: %s missing: %v", i, tt.file, err)
		}
	}
}

func TestReadWriteContainment(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Create(context.Background(), "u1", "a1", "claude"); err != nil {
		t.Fatal(err)
	}

	if err := m.Write(context.Background(), "u1", "a1", "output/report.txt", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	data, err := m.Read(context.Background(), "u1", "a1", "output/report.txt")
	if err != nil || string(data) != "hello" {
		t.Fatalf("read = %q, %v", data, err)
	}

	for _, bad := range []string{"../escape.txt", "output/../../escape.txt", "/etc/passwd"} {
		if err := m.Write(context.Background(), "u1", "a1", bad, []byte("x")); err == nil {
			t.Fatalf("traversal %q was not rejected", bad)
		}
	}
}

func TestListRelative(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Create(context.Background(), "u1", "a1", "gemini"); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(context.Background(), "u1", "a1", "output/a.txt", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(context.Background(), "u1", "a1", "output/b.txt", []byte("22")); err != nil {
		t.Fatal(err)
	}

	entries, err := m.ListRelative(context.Background(), "u1", "a1", "output")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestArchiveProducesZip(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Create(context.Background(), "u1", "a1", "claude"); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(context.Background(), "u1", "a1", "output/result.txt", []byte("done")); err != nil {
		t.Fatal(err)
	}

	zipPath, err := m.Archive(context.Background(), "u1", "a1")
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	found := false
	for _, f := range zr.File {
		if f.Name == "output/result.txt" {
			found = true
		}
	}
	if !found {
		t.Fatal("archived zip misses workspace file")
	}
}

func TestDeleteAndCleanup(t *testing.T) {
	m, stores := newTestManager(t)
	rec, err := m.Create(context.Background(), "u1", "a1", "claude")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(context.Background(), "u1", "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(context.Background(), "u1", "a1"); err == nil {
		t.Fatal("soft-deleted workspace still served")
	}
	if _, err := os.Stat(rec.Path); err != nil {
		t.Fatal("soft delete removed files from disk")
	}

	// Backdate the deletion so the cutoff catches it.
	past := time.Now().UTC().AddDate(0, 0, -30)
	if err := stores.Workspaces.SoftDelete(context.Background(), rec.ID, past); err != nil {
		t.Fatal(err)
	}
	removed, err := m.Cleanup(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	if _, err := os.Stat(rec.Path); !os.IsNotExist(err) {
		t.Fatal("cleanup left files behind")
	}
}

func TestStartCleanupRejectsBadSchedule(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.StartCleanup(context.Background(), "not a cron", 7); err == nil {
		t.Fatal("invalid schedule accepted")
	}
}
