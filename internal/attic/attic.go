// Package attic preserves the losing version of every resolved conflict.
//
// Entries live under attic/{record-id}/v{version}-{millis}.json in the
// sync branch checkout, so they travel with the records they supersede.
// Entries are immutable once written and never deleted by normal
// operation; restore creates a new current-version mutation and leaves
// the entry untouched.
package attic

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/skeinhq/skein/internal/record"
)

// Dir is the directory under the sync branch root that holds attic entries.
const Dir = "attic"

// Entry is one archived losing version.
type Entry struct {
	// RecordID is the internal id of the record this entry supersedes.
	RecordID string `json:"record_id"`

	// Version is the version counter the archived payload carried when
	// it lost. Together with RecordID it is the idempotence key.
	Version int `json:"version"`

	// Reason is the resolution reason recorded by the conflict resolver.
	Reason string `json:"reason"`

	// ArchivedAt is the resolution timestamp.
	ArchivedAt time.Time `json:"archived_at"`

	// Record is the full losing payload.
	Record record.Record `json:"record"`

	// EntryRef is the stable reference of this entry, set on read.
	EntryRef string `json:"-"`
}

// Ref returns the stable entry reference: the entry's path relative to
// the attic root, e.g. "sk-abc123/v2-1724400000000.json".
func (e *Entry) Ref(filename string) string {
	return filepath.ToSlash(filepath.Join(e.RecordID, filename))
}

// Archiver reads and writes attic entries under a root directory.
type Archiver struct {
	root string
}

// New creates an Archiver rooted at the given directory (normally
// {checkout}/attic). The directory is created lazily on first archive.
func New(root string) *Archiver {
	return &Archiver{root: root}
}

// Archive preserves a losing payload. Idempotent per (record id,
// superseded version): re-archiving the same superseded version during a
// retried sync cycle returns the existing entry reference instead of
// writing a duplicate. Returns the entry reference and whether a new
// entry was created.
func (a *Archiver) Archive(rec *record.Record, reason string) (string, bool, error) {
	if rec == nil || rec.ID == "" {
		return "", false, fmt.Errorf("cannot archive empty record")
	}

	recDir := filepath.Join(a.root, rec.ID)

	// Existing entry for this superseded version wins.
	if ref, err := a.findVersion(rec.ID, rec.Version); err != nil {
		return "", false, err
	} else if ref != "" {
		return ref, false, nil
	}

	if err := os.MkdirAll(recDir, 0755); err != nil {
		return "", false, fmt.Errorf("failed to create attic directory: %w", err)
	}

	entry := Entry{
		RecordID:   rec.ID,
		Version:    rec.Version,
		Reason:     reason,
		ArchivedAt: time.Now().UTC(),
		Record:     *rec.Clone(),
	}

	data, err := json.MarshalIndent(&entry, "", "  ")
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal attic entry for %s: %w", rec.ID, err)
	}
	data = append(data, '\n')

	filename := fmt.Sprintf("v%d-%d.json", rec.Version, entry.ArchivedAt.UnixMilli())
	path := filepath.Join(recDir, filename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", false, fmt.Errorf("failed to write attic entry %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", false, fmt.Errorf("failed to finalize attic entry %s: %w", path, err)
	}

	return entry.Ref(filename), true, nil
}

// List returns all attic entries for one record, oldest first.
func (a *Archiver) List(recordID string) ([]Entry, error) {
	recDir := filepath.Join(a.root, recordID)
	entries, err := os.ReadDir(recDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read attic directory: %w", err)
	}

	var out []Entry
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		entry, err := a.read(filepath.Join(recDir, de.Name()))
		if err != nil {
			return nil, err
		}
		entry.EntryRef = filepath.ToSlash(filepath.Join(recordID, de.Name()))
		out = append(out, *entry)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].ArchivedAt.Before(out[j].ArchivedAt)
	})

	return out, nil
}

// ListAll returns attic entries for every record, grouped by record id.
func (a *Archiver) ListAll() (map[string][]Entry, error) {
	dirs, err := os.ReadDir(a.root)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read attic root: %w", err)
	}

	out := make(map[string][]Entry)
	for _, de := range dirs {
		if !de.IsDir() {
			continue
		}
		entries, err := a.List(de.Name())
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			out[de.Name()] = entries
		}
	}

	return out, nil
}

// Get loads one entry by its reference (as returned by Archive).
func (a *Archiver) Get(ref string) (*Entry, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid attic reference %q", ref)
	}

	entry, err := a.read(filepath.Join(a.root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("attic entry %q not found", ref)
		}
		return nil, err
	}
	entry.EntryRef = filepath.ToSlash(clean)
	return entry, nil
}

// Restore returns the archived payload for re-issue as a new current
// version. The entry itself is left untouched: restoration is forward-
// only, never destructive.
func (a *Archiver) Restore(ref string) (*record.Record, error) {
	entry, err := a.Get(ref)
	if err != nil {
		return nil, err
	}
	return entry.Record.Clone(), nil
}

// findVersion returns the reference of an existing entry for the given
// superseded version, or "" when none exists.
func (a *Archiver) findVersion(recordID string, version int) (string, error) {
	recDir := filepath.Join(a.root, recordID)
	entries, err := os.ReadDir(recDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read attic directory: %w", err)
	}

	prefix := fmt.Sprintf("v%d-", version)
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		if strings.HasPrefix(de.Name(), prefix) && strings.HasSuffix(de.Name(), ".json") {
			return filepath.ToSlash(filepath.Join(recordID, de.Name())), nil
		}
	}

	return "", nil
}

func (a *Archiver) read(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse attic entry %s: %w", path, err)
	}

	return &entry, nil
}
