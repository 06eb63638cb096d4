// Package ids generates internal record identifiers and maintains the
// durable display-id mapping table.
//
// Internal ids are globally unique and time-sortable. Display ids are
// short prefixes of the internal id that humans type; collisions between
// concurrently created records are resolved by lengthening the later
// entry's prefix. A mapping is created once at record creation and never
// reassigned.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Prefix is the namespace prefix carried by every skein identifier.
const Prefix = "sk-"

// MapFile is the filename of the mapping table inside the sync branch.
const MapFile = "idmap.yaml"

// minDisplayLen is the initial length of the unique portion of a display id.
const minDisplayLen = 4

var (
	// ErrUnknownIdentifier is returned when a display id has no mapping.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrIdentifierExhausted is returned when even the full internal id
	// collides with an existing mapping. Practically unreachable.
	ErrIdentifierExhausted = errors.New("identifier space exhausted")
)

// New generates a fresh internal id: base36 millisecond timestamp plus a
// random suffix, e.g. "sk-mfz3k1x2-9f2a4c". Lexicographic order of ids
// generated by well-synchronized clocks follows creation order.
func New() string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)

	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is unrecoverable on any supported platform
		panic(fmt.Sprintf("ids: failed to read random bytes: %v", err))
	}

	return Prefix + ts + "-" + hex.EncodeToString(buf)
}

// mapDoc is the on-disk YAML shape of the mapping table.
type mapDoc struct {
	Mappings map[string]string `yaml:"mappings"` // display id -> internal id
}

// Mapper is the bidirectional display/internal id table. It is loaded
// from and saved to the sync branch checkout so mapping changes commit
// atomically with the records they map.
type Mapper struct {
	path       string
	byDisplay  map[string]string
	byInternal map[string]string
}

// Load reads the mapping table from dir/idmap.yaml. A missing file
// yields an empty mapper.
func Load(dir string) (*Mapper, error) {
	m := &Mapper{
		path:       filepath.Join(dir, MapFile),
		byDisplay:  make(map[string]string),
		byInternal: make(map[string]string),
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read id map: %w", err)
	}

	var doc mapDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse id map %s: %w", m.path, err)
	}

	for display, internal := range doc.Mappings {
		m.byDisplay[display] = internal
		m.byInternal[internal] = display
	}

	return m, nil
}

// Decode parses a serialized mapping table, e.g. one extracted from a
// remote ref. The returned mapper has no backing path and exists only to
// be merged into a durable one.
func Decode(data []byte) (*Mapper, error) {
	var doc mapDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse id map: %w", err)
	}

	m := &Mapper{
		byDisplay:  make(map[string]string),
		byInternal: make(map[string]string),
	}
	for display, internal := range doc.Mappings {
		m.byDisplay[display] = internal
		m.byInternal[internal] = display
	}
	return m, nil
}

// Save writes the mapping table back to disk. The file is replaced
// atomically so a crash mid-write never leaves a torn table.
func (m *Mapper) Save() error {
	doc := mapDoc{Mappings: m.byDisplay}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal id map: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create id map directory: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write id map: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to finalize id map: %w", err)
	}

	return nil
}

// Allocate derives a display id for the given internal id and records
// the mapping. Allocation is idempotent: an already-mapped internal id
// returns its existing display id. On prefix collision the display id is
// lengthened one character at a time; if the full internal id still
// collides, ErrIdentifierExhausted is returned.
func (m *Mapper) Allocate(internalID string) (string, error) {
	if internalID == "" {
		return "", fmt.Errorf("internal id is required")
	}
	if display, ok := m.byInternal[internalID]; ok {
		return display, nil
	}

	unique := strings.ReplaceAll(strings.TrimPrefix(internalID, Prefix), "-", "")
	for n := minDisplayLen; n <= len(unique); n++ {
		candidate := Prefix + unique[:n]
		if owner, taken := m.byDisplay[candidate]; taken && owner != internalID {
			continue
		}
		m.byDisplay[candidate] = internalID
		m.byInternal[internalID] = candidate
		return candidate, nil
	}

	return "", fmt.Errorf("allocating display id for %s: %w", internalID, ErrIdentifierExhausted)
}

// Adopt records a display assignment carried by a record adopted from
// another replica. The carried display id is registered as-is when it is
// free (or already ours); when another record owns it, a fresh one is
// allocated instead. An internal id that is already mapped keeps its
// existing assignment. Returns the display id the record should carry.
func (m *Mapper) Adopt(displayID, internalID string) (string, error) {
	if displayID == "" {
		return m.Allocate(internalID)
	}
	if current, ok := m.byInternal[internalID]; ok {
		return current, nil
	}
	if owner, taken := m.byDisplay[displayID]; !taken || owner == internalID {
		m.byDisplay[displayID] = internalID
		m.byInternal[internalID] = displayID
		return displayID, nil
	}
	return m.Allocate(internalID)
}

// Resolve returns the internal id for a display id. Internal ids resolve
// to themselves so callers can accept either form.
func (m *Mapper) Resolve(displayID string) (string, error) {
	if internal, ok := m.byDisplay[displayID]; ok {
		return internal, nil
	}
	if _, ok := m.byInternal[displayID]; ok {
		return displayID, nil
	}
	return "", fmt.Errorf("resolving %q: %w", displayID, ErrUnknownIdentifier)
}

// DisplayFor returns the display id for an internal id, or the internal
// id itself when no mapping exists yet.
func (m *Mapper) DisplayFor(internalID string) string {
	if display, ok := m.byInternal[internalID]; ok {
		return display
	}
	return internalID
}

// Merge folds another mapper's entries into this one, preserving existing
// assignments. Entries whose display id is already owned by a different
// internal id are re-allocated with a longer prefix, which is how two
// replicas that allocated the same short id concurrently converge.
func (m *Mapper) Merge(other *Mapper) error {
	internals := make([]string, 0, len(other.byInternal))
	for internal := range other.byInternal {
		internals = append(internals, internal)
	}
	sort.Strings(internals) // deterministic merge order across replicas

	for _, internal := range internals {
		if _, ok := m.byInternal[internal]; ok {
			continue
		}
		display := other.byInternal[internal]
		if owner, taken := m.byDisplay[display]; !taken || owner == internal {
			m.byDisplay[display] = internal
			m.byInternal[internal] = display
			continue
		}
		if _, err := m.Allocate(internal); err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of live mappings.
func (m *Mapper) Len() int {
	return len(m.byInternal)
}
