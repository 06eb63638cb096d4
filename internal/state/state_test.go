package state

import (
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".skein", "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDirtySet(t *testing.T) {
	s := openStore(t)

	if err := s.MarkDirty("sk-aaa"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDirty("sk-bbb"); err != nil {
		t.Fatal(err)
	}
	// Re-marking is an upsert, not a duplicate.
	if err := s.MarkDirty("sk-aaa"); err != nil {
		t.Fatal(err)
	}

	dirty, err := s.DirtySet()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 2 || !dirty["sk-aaa"] || !dirty["sk-bbb"] {
		t.Errorf("unexpected dirty set: %v", dirty)
	}

	n, err := s.DirtyCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 dirty, got %d", n)
	}
}

func TestBaseSnapshotEmpty(t *testing.T) {
	s := openStore(t)

	base, err := s.BaseSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(base) != 0 {
		t.Errorf("fresh store should have an empty base, got %v", base)
	}
}

func TestAdvance(t *testing.T) {
	s := openStore(t)

	if err := s.MarkDirty("sk-aaa"); err != nil {
		t.Fatal(err)
	}

	merged := map[string]Base{
		"sk-aaa": {Version: 3, Hash: "hash-a"},
		"sk-bbb": {Version: 1, Hash: "hash-b"},
	}
	if err := s.Advance(merged, "c42", "r17"); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	base, err := s.BaseSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(base) != 2 {
		t.Fatalf("expected 2 base rows, got %d", len(base))
	}
	if base["sk-aaa"].Version != 3 || base["sk-aaa"].Hash != "hash-a" {
		t.Errorf("wrong base for sk-aaa: %+v", base["sk-aaa"])
	}

	n, err := s.DirtyCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Advance must clear the dirty set, %d left", n)
	}

	localRef, remoteRef, syncedAt, err := s.SyncPoint()
	if err != nil {
		t.Fatal(err)
	}
	if localRef != "c42" || remoteRef != "r17" {
		t.Errorf("wrong sync point: %s, %s", localRef, remoteRef)
	}
	if syncedAt.IsZero() {
		t.Error("sync point timestamp not recorded")
	}
}

func TestAdvanceReplacesBase(t *testing.T) {
	s := openStore(t)

	if err := s.Advance(map[string]Base{"sk-old": {Version: 1, Hash: "h1"}}, "c1", "r1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Advance(map[string]Base{"sk-new": {Version: 2, Hash: "h2"}}, "c2", "r2"); err != nil {
		t.Fatal(err)
	}

	base, err := s.BaseSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := base["sk-old"]; ok {
		t.Error("old base row survived Advance")
	}
	if base["sk-new"].Version != 2 {
		t.Errorf("new base row missing: %v", base)
	}

	localRef, remoteRef, _, err := s.SyncPoint()
	if err != nil {
		t.Fatal(err)
	}
	if localRef != "c2" || remoteRef != "r2" {
		t.Errorf("sync point not advanced: %s, %s", localRef, remoteRef)
	}
}

func TestSyncPointBeforeFirstSync(t *testing.T) {
	s := openStore(t)

	localRef, remoteRef, syncedAt, err := s.SyncPoint()
	if err != nil {
		t.Fatal(err)
	}
	if localRef != "" || remoteRef != "" || !syncedAt.IsZero() {
		t.Errorf("expected empty sync point, got %s, %s, %v", localRef, remoteRef, syncedAt)
	}
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDirty("sk-aaa"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	n, err := s2.DirtyCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("dirty set lost across reopen, got %d", n)
	}
}
