package record

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CanonicalHash computes the content digest of a record's semantic payload.
//
// The digest is stable across re-serialization: field order is fixed,
// line endings are normalized to LF, trailing whitespace is stripped per
// line, label order is ignored, and omitted optional fields hash the same
// as empty ones. Version, DisplayID, and the stored hash are bookkeeping
// and excluded. UpdatedAt is payload: it is the LWW tie-break signal.
func CanonicalHash(r *Record) string {
	labels := append([]string(nil), r.Labels...)
	sort.Strings(labels)

	var b strings.Builder
	writeField(&b, "assignee", r.Assignee)
	writeField(&b, "body", normalizeText(r.Body))
	writeField(&b, "created_at", canonicalTime(r.CreatedAt))
	writeField(&b, "labels", strings.Join(labels, "\x1f"))
	writeField(&b, "priority", strconv.Itoa(r.Priority))
	writeField(&b, "status", r.Status)
	writeField(&b, "title", normalizeText(r.Title))
	writeField(&b, "updated_at", canonicalTime(r.UpdatedAt))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// writeField appends one key/value pair with unambiguous framing so that
// field boundaries can never be forged by field content.
func writeField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(key)
	b.WriteByte(0x00)
	b.WriteString(value)
	b.WriteByte(0x1e)
}

// normalizeText converts CRLF/CR to LF, strips trailing whitespace from
// each line, and drops trailing blank lines.
func normalizeText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// canonicalTime renders a timestamp in UTC at millisecond precision.
// Sub-millisecond noise from different clock sources must not change
// the digest.
func canonicalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Millisecond).Format("2006-01-02T15:04:05.000Z")
}
