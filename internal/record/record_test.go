package record

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteReadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	rec := baseRecord()

	if err := Write(dir, rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rec.ContentHash == "" {
		t.Fatal("Write did not refresh the content hash")
	}

	got, err := Read(filepath.Join(dir, rec.Filename()))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.ID != rec.ID || got.Title != rec.Title || got.Version != rec.Version {
		t.Errorf("roundtrip mismatch: got %+v", got)
	}
	if got.ContentHash != CanonicalHash(got) {
		t.Error("stored hash does not match recomputed hash")
	}
}

func TestReadDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	rec := baseRecord()
	if err := Write(dir, rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	path := filepath.Join(dir, rec.Filename())
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip the title without updating the stored hash.
	tampered := strings.Replace(string(data), "Fix bug", "Fix everything", 1)
	if err := os.WriteFile(path, []byte(tampered), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(path); err == nil {
		t.Error("Read accepted a record whose payload disagrees with its hash")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing id", func(r *Record) { r.ID = "" }},
		{"missing title", func(r *Record) { r.Title = "" }},
		{"zero version", func(r *Record) { r.Version = 0 }},
		{"missing status", func(r *Record) { r.Status = "" }},
		{"priority out of range", func(r *Record) { r.Priority = 9 }},
		{"missing created_at", func(r *Record) { r.CreatedAt = time.Time{} }},
		{"missing updated_at", func(r *Record) { r.UpdatedAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := baseRecord()
			tt.mutate(r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := baseRecord().Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
}

func TestReadAllSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()

	good := baseRecord()
	if err := Write(dir, good); err != nil {
		t.Fatal(err)
	}

	bad := filepath.Join(dir, "sk-broken.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	records, errs, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 readable record, got %d", len(records))
	}
	if _, ok := records[good.ID]; !ok {
		t.Error("good record missing from result")
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 per-file error, got %d", len(errs))
	}
	if _, ok := errs["sk-broken"]; !ok {
		t.Errorf("per-file error not keyed by id: %v", errs)
	}
}

func TestReadAllMissingDir(t *testing.T) {
	records, errs, err := ReadAll(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("missing directory should not be an error: %v", err)
	}
	if len(records) != 0 || len(errs) != 0 {
		t.Error("expected empty result for missing directory")
	}
}

func TestWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	rec := baseRecord()
	if err := Write(dir, rec); err != nil {
		t.Fatal(err)
	}

	// No temp file should survive a successful write.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
