package attic

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/skeinhq/skein/internal/record"
)

func loserRecord(version int, title string) *record.Record {
	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return &record.Record{
		ID:        "sk-test1234-abcdef",
		Version:   version,
		Title:     title,
		Status:    "open",
		Priority:  2,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Hour),
	}
}

func TestArchiveAndGet(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), Dir))
	rec := loserRecord(2, "Losing edit")

	ref, created, err := a.Archive(rec, "timestamp-tiebreak")
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if !created {
		t.Error("first archive should create an entry")
	}
	if ref == "" {
		t.Fatal("empty entry reference")
	}

	entry, err := a.Get(ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.RecordID != rec.ID || entry.Version != 2 {
		t.Errorf("wrong entry metadata: %+v", entry)
	}
	if entry.Reason != "timestamp-tiebreak" {
		t.Errorf("wrong reason: %s", entry.Reason)
	}
	if entry.Record.Title != "Losing edit" {
		t.Errorf("payload not preserved: %s", entry.Record.Title)
	}
	if entry.EntryRef != ref {
		t.Errorf("EntryRef %q does not match reference %q", entry.EntryRef, ref)
	}
}

func TestArchiveIdempotentPerVersion(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), Dir))
	rec := loserRecord(2, "Losing edit")

	ref1, created1, err := a.Archive(rec, "version-skew")
	if err != nil {
		t.Fatal(err)
	}
	// Retried cycle archives the same superseded version again.
	ref2, created2, err := a.Archive(rec, "version-skew")
	if err != nil {
		t.Fatal(err)
	}

	if !created1 || created2 {
		t.Errorf("expected created=(true,false), got (%v,%v)", created1, created2)
	}
	if ref1 != ref2 {
		t.Errorf("idempotent archive returned different refs: %s vs %s", ref1, ref2)
	}

	entries, err := a.List(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestListOrderedOldestFirst(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), Dir))

	for _, v := range []int{4, 2, 3} {
		if _, _, err := a.Archive(loserRecord(v, "edit"), "version-skew"); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := a.List("sk-test1234-abcdef")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []int{2, 3, 4} {
		if entries[i].Version != want {
			t.Errorf("entry %d: expected version %d, got %d", i, want, entries[i].Version)
		}
	}
}

func TestListAllGroupsByRecord(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), Dir))

	first := loserRecord(2, "edit")
	second := loserRecord(3, "other edit")
	second.ID = "sk-other5678-012345"

	if _, _, err := a.Archive(first, "version-skew"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.Archive(second, "hash-tiebreak"); err != nil {
		t.Fatal(err)
	}

	all, err := a.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records in attic, got %d", len(all))
	}
	if len(all[first.ID]) != 1 || len(all[second.ID]) != 1 {
		t.Error("entries not grouped by record id")
	}
}

func TestListEmptyAttic(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), Dir))

	entries, err := a.List("sk-absent")
	if err != nil || entries != nil {
		t.Errorf("expected empty result, got %v, %v", entries, err)
	}

	all, err := a.ListAll()
	if err != nil || len(all) != 0 {
		t.Errorf("expected empty map, got %v, %v", all, err)
	}
}

func TestRestoreReturnsExactPayload(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), Dir))
	rec := loserRecord(2, "Losing edit")
	rec.Labels = []string{"bug"}
	rec.Body = "Full body text."

	ref, _, err := a.Archive(rec, "timestamp-tiebreak")
	if err != nil {
		t.Fatal(err)
	}

	got, err := a.Restore(ref)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got.Title != rec.Title || got.Body != rec.Body || got.Version != rec.Version {
		t.Errorf("restored payload differs: %+v", got)
	}

	// Restore is non-destructive: the entry is still there.
	if _, err := a.Get(ref); err != nil {
		t.Errorf("entry missing after restore: %v", err)
	}

	// And the returned payload is a copy.
	got.Title = "mutated"
	again, err := a.Restore(ref)
	if err != nil {
		t.Fatal(err)
	}
	if again.Title != "Losing edit" {
		t.Error("restore returned a shared pointer")
	}
}

func TestGetRejectsPathTraversal(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), Dir))

	for _, ref := range []string{"../outside.json", "/etc/passwd", "sk-x/../../escape.json"} {
		if _, err := a.Get(ref); err == nil {
			t.Errorf("Get accepted traversal reference %q", ref)
		}
	}
}

func TestGetUnknownRef(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), Dir))
	if _, err := a.Get("sk-absent/v1-0.json"); err == nil {
		t.Error("expected error for unknown reference")
	}
}
