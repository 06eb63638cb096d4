// Package record defines the issue record stored as one JSON file per
// record on the sync branch, plus the canonical content hash used for
// change detection and conflict tie-breaking.
//
// Records are CRDT-friendly: flat fields, a monotonically increasing
// version counter, and timestamps that drive last-write-wins resolution.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Dir is the directory under the sync branch root that holds record files.
const Dir = "records"

// Record is an issue record stored as records/{id}.json.
//
// Version strictly increases with every committed mutation. The content
// hash covers the semantic payload (including UpdatedAt, which is the
// LWW tie-break signal) but not Version, DisplayID, or the hash itself.
type Record struct {
	// ===== Identification =====
	ID        string `json:"id"`                   // internal id, globally unique, time-sortable
	DisplayID string `json:"display_id,omitempty"` // short human-facing alias

	// ===== Versioning =====
	Version int `json:"version"`

	// ===== Payload =====
	Title    string   `json:"title"`
	Body     string   `json:"body,omitempty"`
	Status   string   `json:"status"` // open, in_progress, blocked, closed
	Priority int      `json:"priority"`
	Assignee string   `json:"assignee,omitempty"`
	Labels   []string `json:"labels,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ContentHash is the canonical payload digest as of the last write.
	// Recomputed on every write; a mismatch on read marks the record corrupt.
	ContentHash string `json:"content_hash,omitempty"`
}

// Validate checks that required fields are present and sane.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Version < 1 {
		return fmt.Errorf("version must be >= 1 (got %d)", r.Version)
	}
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(r.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(r.Title))
	}
	if r.Status == "" {
		return fmt.Errorf("status is required")
	}
	if r.Priority < 0 || r.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", r.Priority)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if r.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (r *Record) SetDefaults() {
	if r.Status == "" {
		r.Status = "open"
	}
	if r.Version == 0 {
		r.Version = 1
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
}

// Filename returns the canonical filename for this record: {id}.json
func (r *Record) Filename() string {
	return fmt.Sprintf("%s.json", r.ID)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	if r.Labels != nil {
		out.Labels = append([]string(nil), r.Labels...)
	}
	return &out
}

// Touch bumps UpdatedAt to the current time.
func (r *Record) Touch() {
	r.UpdatedAt = time.Now().UTC()
}

// Read reads and parses a record file from the given path.
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes and validates a serialized record. The stored content
// hash, when present, is verified against the payload; a mismatch means
// the store was corrupted out-of-band. source is used in error messages.
func Parse(data []byte, source string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", source, err)
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record %s: %w", source, err)
	}

	if rec.ContentHash != "" && rec.ContentHash != CanonicalHash(&rec) {
		return nil, fmt.Errorf("record %s: content hash mismatch (store corrupt)", source)
	}

	return &rec, nil
}

// Write writes a record to recordsDir/{id}.json with its content hash
// refreshed. The file is written to a temp file and renamed so readers
// never observe a partial write.
func Write(recordsDir string, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid record: %w", err)
	}

	if err := os.MkdirAll(recordsDir, 0755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}

	rec.ContentHash = CanonicalHash(rec)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
	}
	data = append(data, '\n')

	path := filepath.Join(recordsDir, rec.Filename())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize record file %s: %w", path, err)
	}

	return nil
}

// ReadAll reads all record files from the given directory.
// Unreadable or invalid files do not abort the scan; they are returned
// in the errs map keyed by the offending id (or filename when the id is
// unknown) so callers can report them per record.
func ReadAll(recordsDir string) (map[string]*Record, map[string]error, error) {
	entries, err := os.ReadDir(recordsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Record{}, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read records directory: %w", err)
	}

	records := make(map[string]*Record)
	var errs map[string]error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(recordsDir, entry.Name())
		rec, err := Read(path)
		if err != nil {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[strings.TrimSuffix(entry.Name(), ".json")] = err
			continue
		}
		records[rec.ID] = rec
	}

	return records, errs, nil
}
