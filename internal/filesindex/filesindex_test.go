package filesindex

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListAssignsIDsAndDefaultsTarget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "etc/config/network", "config interface lan\n")

	idx := New(dir)
	rows, err := idx.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].SourcePath != "etc/config/network" || rows[0].TargetPath != "etc/config/network" {
		t.Fatalf("got %+v", rows[0])
	}
	if rows[0].ID == "" {
		t.Fatal("expected a generated ID")
	}
}

func TestListIsStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "etc/config/network", "a")

	idx := New(dir)
	first, err := idx.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	second, err := idx.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if first[0].ID != second[0].ID {
		t.Fatalf("ID changed across calls: %q vs %q", first[0].ID, second[0].ID)
	}
}

func TestSetTargetRepointsDestination(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "etc/config/network", "a")
	idx := New(dir)
	rows, err := idx.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	updated, err := idx.SetTarget(rows[0].ID, `etc\config\renamed`)
	if err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if updated.TargetPath != "etc/config/renamed" {
		t.Fatalf("got target %q", updated.TargetPath)
	}
}

func TestSetTargetUnknownID(t *testing.T) {
	idx := New(t.TempDir())
	if _, err := idx.SetTarget("nope", "a/b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesFileAndReturnsRemainingCount(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "1")
	writeFile(t, dir, "b.txt", "2")
	idx := New(dir)
	if _, err := idx.List(); err != nil {
		t.Fatalf("List: %v", err)
	}

	remaining, err := idx.Delete("a.txt")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("got remaining=%d, want 1", remaining)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected a.txt removed, stat err=%v", err)
	}
}

func TestDeleteUnknownFileFails(t *testing.T) {
	idx := New(t.TempDir())
	if _, err := idx.Delete("nope.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
