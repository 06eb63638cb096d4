// Package resolve implements deterministic last-writer-wins resolution
// for divergent record versions.
//
// Two replicas that resolve the same pair of versions independently must
// pick the same winner without coordination, so every step of the
// decision is a total order: version counter, then payload timestamp,
// then content hash.
package resolve

import (
	"github.com/skeinhq/skein/internal/record"
)

// Reason explains which tie-break step decided a conflict.
type Reason string

const (
	// ReasonVersionSkew means one side had a strictly higher version counter.
	ReasonVersionSkew Reason = "version-skew"

	// ReasonTimestampTiebreak means versions were equal (concurrent edits
	// from a common base) and the later payload timestamp won.
	ReasonTimestampTiebreak Reason = "timestamp-tiebreak"

	// ReasonHashTiebreak means version and timestamp were both equal and
	// the lexicographically greater content hash won. Arbitrary but
	// reproducible on every replica.
	ReasonHashTiebreak Reason = "hash-tiebreak"
)

// Resolution is the outcome of resolving two versions of one record.
type Resolution struct {
	// Conflict is false when both sides carry identical content; the
	// record resolves silently with no archive entry and no version bump.
	Conflict bool

	// Merged is the record to commit. For a conflict this is the winning
	// payload re-issued at max(local, remote) version + 1; otherwise it
	// is the higher-versioned of the two identical sides.
	Merged *record.Record

	// Winner and Loser are the original inputs. Loser is nil when
	// Conflict is false.
	Winner *record.Record
	Loser  *record.Record

	// Reason records which tie-break step picked the winner.
	Reason Reason
}

// Resolve decides between two divergent versions of the same record.
// The outcome is symmetric: Resolve(a, b) and Resolve(b, a) agree.
func Resolve(local, remote *record.Record) Resolution {
	localHash := record.CanonicalHash(local)
	remoteHash := record.CanonicalHash(remote)

	// Identical payloads are not a conflict regardless of version skew.
	if localHash == remoteHash {
		merged := local
		if remote.Version > local.Version {
			merged = remote
		}
		return Resolution{Merged: merged}
	}

	winner, loser := local, remote
	reason := ReasonVersionSkew

	switch {
	case local.Version != remote.Version:
		if remote.Version > local.Version {
			winner, loser = remote, local
		}
	case !local.UpdatedAt.Equal(remote.UpdatedAt):
		reason = ReasonTimestampTiebreak
		if remote.UpdatedAt.After(local.UpdatedAt) {
			winner, loser = remote, local
		}
	default:
		reason = ReasonHashTiebreak
		if remoteHash > localHash {
			winner, loser = remote, local
		}
	}

	merged := winner.Clone()
	merged.Version = max(local.Version, remote.Version) + 1

	return Resolution{
		Conflict: true,
		Merged:   merged,
		Winner:   winner,
		Loser:    loser,
		Reason:   reason,
	}
}
