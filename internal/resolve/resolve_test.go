package resolve

import (
	"testing"
	"time"

	"github.com/skeinhq/skein/internal/record"
)

func testRecord(version int, title string, updated time.Time) *record.Record {
	created := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	return &record.Record{
		ID:        "sk-test1234-abcdef",
		Version:   version,
		Title:     title,
		Status:    "open",
		Priority:  2,
		CreatedAt: created,
		UpdatedAt: updated,
	}
}

func TestIdenticalContentIsNotAConflict(t *testing.T) {
	at := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	local := testRecord(1, "Same title", at)
	remote := testRecord(3, "Same title", at)

	res := Resolve(local, remote)
	if res.Conflict {
		t.Fatal("identical payloads reported as conflict")
	}
	if res.Merged.Version != 3 {
		t.Errorf("expected the higher version to be adopted, got %d", res.Merged.Version)
	}
	if res.Loser != nil {
		t.Error("non-conflict should have no loser")
	}
}

func TestVersionSkewWins(t *testing.T) {
	at := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	local := testRecord(2, "Local edit", at.Add(time.Hour)) // later timestamp
	remote := testRecord(5, "Remote edit", at)              // higher version

	res := Resolve(local, remote)
	if !res.Conflict {
		t.Fatal("expected conflict")
	}
	if res.Reason != ReasonVersionSkew {
		t.Errorf("expected version-skew, got %s", res.Reason)
	}
	if res.Winner.Title != "Remote edit" {
		t.Error("higher version must win regardless of timestamps")
	}
	if res.Merged.Version != 6 {
		t.Errorf("merged version must be max+1, got %d", res.Merged.Version)
	}
	if res.Merged.Title != "Remote edit" {
		t.Error("merged payload must carry the winner's content")
	}
}

func TestTimestampTiebreak(t *testing.T) {
	base := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	local := testRecord(2, "Earlier edit", base)
	remote := testRecord(2, "Later edit", base.Add(5*time.Minute))

	res := Resolve(local, remote)
	if !res.Conflict {
		t.Fatal("expected conflict")
	}
	if res.Reason != ReasonTimestampTiebreak {
		t.Errorf("expected timestamp-tiebreak, got %s", res.Reason)
	}
	if res.Winner.Title != "Later edit" {
		t.Error("later updated_at must win at equal versions")
	}
	if res.Loser.Title != "Earlier edit" {
		t.Error("loser must be the earlier edit")
	}
	if res.Merged.Version != 3 {
		t.Errorf("merged version must be 3, got %d", res.Merged.Version)
	}
}

func TestHashTiebreak(t *testing.T) {
	at := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	local := testRecord(2, "Edit A", at)
	remote := testRecord(2, "Edit B", at)

	res := Resolve(local, remote)
	if !res.Conflict {
		t.Fatal("expected conflict")
	}
	if res.Reason != ReasonHashTiebreak {
		t.Errorf("expected hash-tiebreak, got %s", res.Reason)
	}
	wantWinner := local
	if record.CanonicalHash(remote) > record.CanonicalHash(local) {
		wantWinner = remote
	}
	if res.Winner.Title != wantWinner.Title {
		t.Error("lexicographically greater hash must win")
	}
}

func TestResolveIsSymmetric(t *testing.T) {
	base := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	pairs := []struct {
		name string
		a, b *record.Record
	}{
		{"version skew", testRecord(2, "A", base), testRecord(4, "B", base)},
		{"timestamp tiebreak", testRecord(2, "A", base), testRecord(2, "B", base.Add(time.Minute))},
		{"hash tiebreak", testRecord(2, "A", base), testRecord(2, "B", base)},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			fwd := Resolve(tt.a, tt.b)
			rev := Resolve(tt.b, tt.a)

			if fwd.Winner.Title != rev.Winner.Title {
				t.Errorf("winner differs by argument order: %s vs %s",
					fwd.Winner.Title, rev.Winner.Title)
			}
			if fwd.Reason != rev.Reason {
				t.Errorf("reason differs by argument order: %s vs %s", fwd.Reason, rev.Reason)
			}
			if fwd.Merged.Version != rev.Merged.Version {
				t.Errorf("merged version differs: %d vs %d",
					fwd.Merged.Version, rev.Merged.Version)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	base := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	a := testRecord(2, "Edit A", base)
	b := testRecord(2, "Edit B", base)

	first := Resolve(a, b)
	for i := 0; i < 10; i++ {
		again := Resolve(a, b)
		if again.Winner.Title != first.Winner.Title || again.Reason != first.Reason {
			t.Fatal("repeated resolution disagreed with itself")
		}
	}
}

// Two replicas edit the same record concurrently from a shared version 1:
// both bump to version 2, the later timestamp wins, and the merged record
// re-issues the winning payload at version 3.
func TestConcurrentEditScenario(t *testing.T) {
	created := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)

	laptop := testRecord(2, "Fix login bug (repro steps added)", created.Add(2*time.Hour))
	desktop := testRecord(2, "Fix login bug", created.Add(3*time.Hour))

	res := Resolve(laptop, desktop)
	if !res.Conflict {
		t.Fatal("expected conflict")
	}
	if res.Reason != ReasonTimestampTiebreak {
		t.Errorf("expected timestamp-tiebreak, got %s", res.Reason)
	}
	if res.Winner != desktop {
		t.Error("the later edit must win")
	}
	if res.Merged.Version != 3 {
		t.Errorf("merged version must be 3, got %d", res.Merged.Version)
	}
	if res.Merged.Title != "Fix login bug" {
		t.Error("merged payload must be the desktop edit")
	}
	if res.Loser != laptop {
		t.Error("the laptop edit must be the archived loser")
	}

	// The other replica resolves the same pair in the opposite order and
	// must reach the same state.
	mirror := Resolve(desktop, laptop)
	if mirror.Winner != desktop || mirror.Merged.Version != 3 {
		t.Error("replicas disagreed on the resolution outcome")
	}
}

func TestMergedIsACopy(t *testing.T) {
	base := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	local := testRecord(2, "A", base)
	remote := testRecord(3, "B", base)

	res := Resolve(local, remote)
	res.Merged.Title = "mutated"
	if remote.Title != "B" {
		t.Error("mutating the merged record changed the input")
	}
}
