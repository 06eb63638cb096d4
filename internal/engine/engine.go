// Package engine drives the end-to-end sync cycle: fetch, diff, resolve,
// commit, publish.
//
// The engine owns the sync state machine and treats the version-control
// backend behind the Workspace interface as an append-only content-
// addressed log with compare-and-swap ref advancement. All conflict
// resolution is synchronous and deterministic; every losing edit is
// preserved in the attic before the merged state is committed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/skeinhq/skein/internal/attic"
	"github.com/skeinhq/skein/internal/ids"
	"github.com/skeinhq/skein/internal/record"
	"github.com/skeinhq/skein/internal/resolve"
	"github.com/skeinhq/skein/internal/state"
	"github.com/skeinhq/skein/internal/worktree"
)

// Phase is the sync state machine phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseDiffing    Phase = "diffing"
	PhaseResolving  Phase = "resolving"
	PhaseCommitting Phase = "committing"
	PhasePublishing Phase = "publishing"
	PhaseFailed     Phase = "failed"
)

// Mode selects which half of the cycle runs.
type Mode string

const (
	// ModeFull pulls, resolves, commits, and publishes.
	ModeFull Mode = "full"

	// ModePushOnly commits and publishes local changes without adopting
	// anything from the remote. If the remote advanced concurrently the
	// publish fails with ErrSyncContention; a full sync resolves it.
	ModePushOnly Mode = "push-only"

	// ModePullOnly adopts and resolves remote changes without publishing.
	ModePullOnly Mode = "pull-only"
)

// Workspace is the private sync-branch checkout the engine operates on.
// worktree.Manager is the git-backed implementation.
type Workspace interface {
	Checkout(ctx context.Context) error
	Path() string

	Records() (map[string]*record.Record, map[string]error, error)
	RecordsAt(ctx context.Context, ref string) (map[string]*record.Record, map[string]error, error)
	WriteRecord(rec *record.Record) error

	ListFiles(ctx context.Context, ref, prefix string) ([]string, error)
	ReadFileAt(ctx context.Context, ref, path string) ([]byte, error)
	WriteFile(relPath string, data []byte) error
	FileExists(relPath string) bool

	HasChanges(ctx context.Context) (bool, error)
	Commit(ctx context.Context, message string) (string, error)
	Tip(ctx context.Context) (string, error)
	IsAncestor(ctx context.Context, a, b string) (bool, error)
	BeginMerge(ctx context.Context, ref string) error
	AbortMerge(ctx context.Context) error

	Fetch(ctx context.Context) (string, error)
	Publish(ctx context.Context) error
	AheadBehind(ctx context.Context) (int, int, error)
}

// Options configures an Engine.
type Options struct {
	// PublishRetries caps the publish-rejection retry loop.
	PublishRetries int

	// NetRetries is how many times a transient fetch/push failure is
	// retried with backoff before surfacing ErrSyncUnreachable.
	NetRetries int

	// NetTimeout bounds each individual fetch/push attempt.
	NetTimeout time.Duration

	// Backoff is the initial delay between transient-failure retries;
	// it doubles per attempt.
	Backoff time.Duration

	// LockPath is the exclusive lock scoped to the private checkout.
	// Defaults to sync.lock next to the state database.
	LockPath string

	Logger *log.Logger
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		PublishRetries: 5,
		NetRetries:     3,
		NetTimeout:     30 * time.Second,
		Backoff:        500 * time.Millisecond,
	}
}

// ConflictReport describes one automatic resolution, with enough detail
// to audit and reverse it via attic restore.
type ConflictReport struct {
	RecordID      string         `json:"record_id"`
	Reason        resolve.Reason `json:"reason"`
	WinnerVersion int            `json:"winner_version"`
	LoserVersion  int            `json:"loser_version"`
	MergedVersion int            `json:"merged_version"`
	AtticRef      string         `json:"attic_ref"`
}

// RecordError is a per-record failure that did not abort the cycle.
type RecordError struct {
	RecordID string `json:"record_id"`
	Err      string `json:"error"`
}

// Summary reports the outcome of one sync cycle.
type Summary struct {
	Mode      Mode             `json:"mode"`
	Pulled    int              `json:"pulled"`
	Pushed    int              `json:"pushed"`
	Resolved  int              `json:"resolved"`
	Conflicts []ConflictReport `json:"conflicts,omitempty"`
	Errors    []RecordError    `json:"errors,omitempty"`
	CommitRef string           `json:"commit_ref,omitempty"`
	Published bool             `json:"published"`
	Attempts  int              `json:"attempts"`
}

// Status is the observability snapshot exposed to collaborators.
// PendingConflicts is always 0: resolution is synchronous and automatic.
type Status struct {
	Ahead            int `json:"ahead"`
	Behind           int `json:"behind"`
	Dirty            int `json:"dirty"`
	PendingConflicts int `json:"pending_conflicts"`
}

// Engine orchestrates sync cycles against one clone's private checkout.
type Engine struct {
	ws    Workspace
	store *state.Store
	opts  Options
	log   *log.Logger
	phase Phase
}

// New creates an Engine. The state store tracks the dirty set and the
// last-synced base snapshot for this clone.
func New(ws Workspace, store *state.Store, opts Options) *Engine {
	if opts.PublishRetries <= 0 {
		opts.PublishRetries = 5
	}
	if opts.NetRetries <= 0 {
		opts.NetRetries = 3
	}
	if opts.NetTimeout <= 0 {
		opts.NetTimeout = 30 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	// The lock must live outside the checkout: everything inside it gets
	// committed onto the sync branch.
	if opts.LockPath == "" {
		opts.LockPath = filepath.Join(filepath.Dir(store.Path()), "sync.lock")
	}

	return &Engine{
		ws:    ws,
		store: store,
		opts:  opts,
		log:   opts.Logger,
		phase: PhaseIdle,
	}
}

// Phase returns the current state-machine phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

func (e *Engine) setPhase(p Phase) {
	e.phase = p
}

// Sync runs one full cycle in the given mode. Structural failures abort
// the cycle with durable state unchanged; per-record failures are
// reported in the summary and never abort the cycle.
func (e *Engine) Sync(ctx context.Context, mode Mode) (*Summary, error) {
	unlock, err := acquireLock(e.opts.LockPath)
	if err != nil {
		return nil, err
	}
	defer unlock()
	// Failed is terminal for this cycle; only non-failed paths return to idle.
	defer func() {
		if e.phase != PhaseFailed {
			e.setPhase(PhaseIdle)
		}
	}()

	if err := e.ws.Checkout(ctx); err != nil {
		e.setPhase(PhaseFailed)
		return nil, err
	}

	summary := &Summary{Mode: mode}

	for attempt := 0; attempt < e.opts.PublishRetries; attempt++ {
		summary.Attempts = attempt + 1

		done, err := e.cycle(ctx, mode, summary)
		if err != nil {
			e.setPhase(PhaseFailed)
			return summary, err
		}
		if done {
			e.setPhase(PhaseIdle)
			return summary, nil
		}

		// Publish was rejected: the remote advanced during our
		// resolution window. Re-fetch and re-diff against the new tip.
		e.log.Printf("publish rejected, retrying (attempt %d/%d)",
			attempt+1, e.opts.PublishRetries)
	}

	e.setPhase(PhaseFailed)
	return summary, ErrSyncContention
}

// cycle runs fetch → diff → resolve → commit → publish once. It returns
// done=false when the publish was rejected and the cycle should rerun.
func (e *Engine) cycle(ctx context.Context, mode Mode, summary *Summary) (bool, error) {
	// Reset per-attempt counters; only Attempts carries across retries.
	summary.Pulled, summary.Pushed, summary.Resolved = 0, 0, 0
	summary.Conflicts = nil
	summary.Errors = nil

	e.setPhase(PhaseFetching)
	remoteRef, err := e.fetchWithBackoff(ctx)
	if err != nil {
		return false, err
	}

	e.setPhase(PhaseDiffing)
	local, localErrs, err := e.ws.Records()
	if err != nil {
		return false, err
	}
	for id, recErr := range localErrs {
		summary.Errors = append(summary.Errors, RecordError{RecordID: id, Err: recErr.Error()})
	}

	var remote map[string]*record.Record
	if remoteRef != "" && mode != ModePushOnly {
		var remoteErrs map[string]error
		remote, remoteErrs, err = e.ws.RecordsAt(ctx, remoteRef)
		if err != nil {
			return false, err
		}
		for id, recErr := range remoteErrs {
			summary.Errors = append(summary.Errors, RecordError{RecordID: id, Err: recErr.Error()})
		}
	}

	base, err := e.store.BaseSnapshot()
	if err != nil {
		return false, err
	}

	e.setPhase(PhaseResolving)
	merged, err := e.resolveAll(ctx, remoteRef, local, remote, base, summary)
	if err != nil {
		return false, err
	}

	e.setPhase(PhaseCommitting)
	commitRef, err := e.commitMerged(ctx, mode, remoteRef, summary)
	if err != nil {
		return false, err
	}
	summary.CommitRef = commitRef

	if mode != ModePullOnly {
		e.setPhase(PhasePublishing)
		err := e.publishWithBackoff(ctx)
		switch {
		case errors.Is(err, worktree.ErrPublishRejected):
			if mode == ModePushOnly {
				// Push-only never adopts remote content, so retrying
				// cannot converge. A full sync resolves the divergence.
				return false, fmt.Errorf("%w: remote has changes, run a full sync", ErrSyncContention)
			}
			return false, nil
		case err != nil:
			return false, err
		}
		summary.Published = true
	}

	localTip, err := e.ws.Tip(ctx)
	if err != nil {
		return false, err
	}
	if err := e.store.Advance(merged, localTip, remoteRef); err != nil {
		return false, err
	}

	e.log.Printf("sync complete: pulled=%d pushed=%d resolved=%d errors=%d",
		summary.Pulled, summary.Pushed, summary.Resolved, len(summary.Errors))
	return true, nil
}

// resolveAll classifies every record id present on either side against
// the last-synced base and applies the outcome to the checkout. The
// returned map is the base snapshot to persist on success.
func (e *Engine) resolveAll(
	ctx context.Context,
	remoteRef string,
	local, remote map[string]*record.Record,
	base map[string]state.Base,
	summary *Summary,
) (map[string]state.Base, error) {
	archiver := attic.New(filepath.Join(e.ws.Path(), attic.Dir))
	mapper, err := ids.Load(e.ws.Path())
	if err != nil {
		return nil, err
	}
	mapperDirty := false

	idSet := make(map[string]bool, len(local)+len(remote))
	for id := range local {
		idSet[id] = true
	}
	for id := range remote {
		idSet[id] = true
	}

	ordered := make([]string, 0, len(idSet))
	for id := range idSet {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered) // stable processing order for reproducible logs

	merged := make(map[string]state.Base, len(idSet))

	for _, id := range ordered {
		l, lok := local[id]
		r, rok := remote[id]

		final, err := e.resolveOne(l, lok, r, rok, base, archiver, summary)
		if err != nil {
			summary.Errors = append(summary.Errors, RecordError{RecordID: id, Err: err.Error()})
			continue
		}
		if final == nil {
			continue
		}

		// Mapping additions commit atomically with the records they map.
		if final.DisplayID == "" {
			display, allocErr := mapper.Allocate(final.ID)
			if allocErr != nil {
				summary.Errors = append(summary.Errors, RecordError{RecordID: id, Err: allocErr.Error()})
			} else {
				final.DisplayID = display
				mapperDirty = true
				if err := e.ws.WriteRecord(final); err != nil {
					return nil, err
				}
			}
		} else if owner, resolveErr := mapper.Resolve(final.DisplayID); resolveErr != nil || owner != final.ID {
			before := mapper.Len()
			display, adoptErr := mapper.Adopt(final.DisplayID, final.ID)
			if adoptErr != nil {
				summary.Errors = append(summary.Errors, RecordError{RecordID: id, Err: adoptErr.Error()})
			} else {
				if mapper.Len() != before {
					mapperDirty = true
				}
				// The carried display id was owned by another record;
				// re-issue this one under its fresh assignment.
				if display != final.DisplayID {
					final.DisplayID = display
					if err := e.ws.WriteRecord(final); err != nil {
						return nil, err
					}
				}
			}
		}

		merged[id] = state.Base{Version: final.Version, Hash: record.CanonicalHash(final)}
	}

	// Adopt remote attic entries and id mappings we do not have yet.
	if remote != nil {
		if err := e.adoptRemoteState(ctx, remoteRef, mapper, &mapperDirty); err != nil {
			return nil, err
		}
	}

	if mapperDirty {
		if err := mapper.Save(); err != nil {
			return nil, err
		}
	}

	return merged, nil
}

// resolveOne decides the final state of a single record and writes it
// into the checkout when it differs from the local copy. Returns nil
// when the id exists on neither side (corrupt on both, already reported).
func (e *Engine) resolveOne(
	l *record.Record, lok bool,
	r *record.Record, rok bool,
	base map[string]state.Base,
	archiver *attic.Archiver,
	summary *Summary,
) (*record.Record, error) {
	switch {
	case lok && !rok:
		if e.changedFromBase(l, base) {
			summary.Pushed++
		}
		return l, nil

	case !lok && rok:
		if err := e.ws.WriteRecord(r); err != nil {
			return nil, err
		}
		summary.Pulled++
		return r, nil

	case !lok && !rok:
		return nil, nil
	}

	// Present on both sides.
	localChanged := e.changedFromBase(l, base)
	remoteChanged := e.changedFromBase(r, base)

	res := resolve.Resolve(l, r)
	if !res.Conflict {
		// Identical payloads; adopt the higher version silently.
		if res.Merged != l {
			if err := e.ws.WriteRecord(res.Merged); err != nil {
				return nil, err
			}
			summary.Pulled++
		} else if localChanged {
			summary.Pushed++
		}
		return res.Merged, nil
	}

	switch {
	case localChanged && remoteChanged:
		// True divergence: both descend from the last-synced base.
		ref, created, err := archiver.Archive(res.Loser, string(res.Reason))
		if err != nil {
			return nil, err
		}
		if err := e.ws.WriteRecord(res.Merged); err != nil {
			return nil, err
		}
		summary.Resolved++
		summary.Conflicts = append(summary.Conflicts, ConflictReport{
			RecordID:      res.Merged.ID,
			Reason:        res.Reason,
			WinnerVersion: res.Winner.Version,
			LoserVersion:  res.Loser.Version,
			MergedVersion: res.Merged.Version,
			AtticRef:      ref,
		})
		if created {
			e.log.Printf("resolved conflict on %s (%s): v%d beat v%d, loser archived at %s",
				res.Merged.ID, res.Reason, res.Winner.Version, res.Loser.Version, ref)
		}
		return res.Merged, nil

	case remoteChanged:
		if err := e.ws.WriteRecord(r); err != nil {
			return nil, err
		}
		summary.Pulled++
		return r, nil

	default:
		if localChanged {
			summary.Pushed++
		}
		return l, nil
	}
}

// changedFromBase reports whether a record's content differs from the
// last-synced base. No-op edits (same canonical hash) do not count, so a
// touched-but-unchanged record never produces a commit or a conflict.
func (e *Engine) changedFromBase(rec *record.Record, base map[string]state.Base) bool {
	b, ok := base[rec.ID]
	if !ok {
		return true
	}
	return b.Hash != record.CanonicalHash(rec) || b.Version != rec.Version
}

// adoptRemoteState copies remote attic entries missing locally and merges
// the remote id-mapping table. The merge commit carries the remote tip as
// a parent but takes none of its content (merge -s ours), so anything we
// want to keep from the remote must be written explicitly.
func (e *Engine) adoptRemoteState(ctx context.Context, remoteRef string, mapper *ids.Mapper, mapperDirty *bool) error {
	paths, err := e.ws.ListFiles(ctx, remoteRef, attic.Dir)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if e.ws.FileExists(path) {
			continue
		}
		data, err := e.ws.ReadFileAt(ctx, remoteRef, path)
		if err != nil {
			return err
		}
		if err := e.ws.WriteFile(path, data); err != nil {
			return err
		}
	}

	data, err := e.ws.ReadFileAt(ctx, remoteRef, ids.MapFile)
	if err != nil {
		return nil // remote has no mapping table yet
	}
	remoteMapper, err := ids.Decode(data)
	if err != nil {
		return err
	}
	before := mapper.Len()
	if err := mapper.Merge(remoteMapper); err != nil {
		return err
	}
	if mapper.Len() != before {
		*mapperDirty = true
	}

	return nil
}

// commitMerged writes the resolved change set as one atomic commit. When
// the remote tip is not already an ancestor, the commit is opened as a
// merge so it carries the remote tip as a parent and the subsequent
// publish is a fast-forward.
func (e *Engine) commitMerged(ctx context.Context, mode Mode, remoteRef string, summary *Summary) (string, error) {
	localTip, err := e.ws.Tip(ctx)
	if err != nil {
		return "", err
	}

	needMerge := false
	if remoteRef != "" && mode != ModePushOnly {
		ancestor, err := e.ws.IsAncestor(ctx, remoteRef, localTip)
		if err != nil {
			return "", err
		}
		needMerge = !ancestor
	}

	hasChanges, err := e.ws.HasChanges(ctx)
	if err != nil {
		return "", err
	}

	if !needMerge && !hasChanges {
		return "", nil // empty diff: zero commits, idempotent cycle
	}

	if needMerge {
		if err := e.ws.BeginMerge(ctx, remoteRef); err != nil {
			return "", err
		}
	}

	ref, err := e.ws.Commit(ctx, e.commitMessage(summary))
	if err != nil {
		if needMerge {
			_ = e.ws.AbortMerge(ctx) // leave the checkout in pre-commit state
		}
		return "", err
	}
	return ref, nil
}

func (e *Engine) commitMessage(summary *Summary) string {
	return fmt.Sprintf("skein sync: %d pulled, %d pushed, %d resolved",
		summary.Pulled, summary.Pushed, summary.Resolved)
}

// fetchWithBackoff retries transient fetch failures with exponential
// backoff before declaring the remote unreachable.
func (e *Engine) fetchWithBackoff(ctx context.Context) (string, error) {
	var lastErr error
	delay := e.opts.Backoff

	for attempt := 0; attempt < e.opts.NetRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.NetTimeout)
		ref, err := e.ws.Fetch(attemptCtx)
		cancel()
		if err == nil {
			return ref, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		e.log.Printf("fetch failed (attempt %d/%d): %v", attempt+1, e.opts.NetRetries, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		delay *= 2
	}

	return "", fmt.Errorf("%w: %v", ErrSyncUnreachable, lastErr)
}

// publishWithBackoff retries transient publish failures. A rejection is
// returned immediately: it is contention, not a network failure.
func (e *Engine) publishWithBackoff(ctx context.Context) error {
	var lastErr error
	delay := e.opts.Backoff

	for attempt := 0; attempt < e.opts.NetRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.NetTimeout)
		err := e.ws.Publish(attemptCtx)
		cancel()
		if err == nil || errors.Is(err, worktree.ErrPublishRejected) {
			return err
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.log.Printf("publish failed (attempt %d/%d): %v", attempt+1, e.opts.NetRetries, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}

	return fmt.Errorf("%w: %v", ErrSyncUnreachable, lastErr)
}

// Preview reports what a full sync would do without writing anything:
// no records, no attic entries, no commits, no pushes, no state advance.
func (e *Engine) Preview(ctx context.Context) (*Summary, error) {
	unlock, err := acquireLock(e.opts.LockPath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.ws.Checkout(ctx); err != nil {
		return nil, err
	}

	remoteRef, err := e.fetchWithBackoff(ctx)
	if err != nil {
		return nil, err
	}

	local, localErrs, err := e.ws.Records()
	if err != nil {
		return nil, err
	}

	summary := &Summary{Mode: ModeFull, Attempts: 1}
	for id, recErr := range localErrs {
		summary.Errors = append(summary.Errors, RecordError{RecordID: id, Err: recErr.Error()})
	}

	var remote map[string]*record.Record
	if remoteRef != "" {
		var remoteErrs map[string]error
		remote, remoteErrs, err = e.ws.RecordsAt(ctx, remoteRef)
		if err != nil {
			return nil, err
		}
		for id, recErr := range remoteErrs {
			summary.Errors = append(summary.Errors, RecordError{RecordID: id, Err: recErr.Error()})
		}
	}

	base, err := e.store.BaseSnapshot()
	if err != nil {
		return nil, err
	}

	idSet := make(map[string]bool, len(local)+len(remote))
	for id := range local {
		idSet[id] = true
	}
	for id := range remote {
		idSet[id] = true
	}

	for id := range idSet {
		l, lok := local[id]
		r, rok := remote[id]

		switch {
		case lok && !rok:
			if e.changedFromBase(l, base) {
				summary.Pushed++
			}
		case !lok && rok:
			summary.Pulled++
		case lok && rok:
			localChanged := e.changedFromBase(l, base)
			remoteChanged := e.changedFromBase(r, base)

			res := resolve.Resolve(l, r)
			switch {
			case !res.Conflict:
				if res.Merged != l {
					summary.Pulled++
				} else if localChanged {
					summary.Pushed++
				}
			case localChanged && remoteChanged:
				summary.Resolved++
				summary.Conflicts = append(summary.Conflicts, ConflictReport{
					RecordID:      res.Merged.ID,
					Reason:        res.Reason,
					WinnerVersion: res.Winner.Version,
					LoserVersion:  res.Loser.Version,
					MergedVersion: res.Merged.Version,
				})
			case remoteChanged:
				summary.Pulled++
			default:
				if localChanged {
					summary.Pushed++
				}
			}
		}
	}

	return summary, nil
}

// Status reports ahead/behind divergence and the dirty-set size.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	if err := e.ws.Checkout(ctx); err != nil {
		return nil, err
	}

	ahead, behind, err := e.ws.AheadBehind(ctx)
	if err != nil {
		return nil, err
	}
	dirty, err := e.store.DirtyCount()
	if err != nil {
		return nil, err
	}

	return &Status{Ahead: ahead, Behind: behind, Dirty: dirty}, nil
}

// MarkDirty is the notification hook invoked after every local mutation.
func (e *Engine) MarkDirty(id string) error {
	return e.store.MarkDirty(id)
}

// ListAttic returns attic entries for one record, or for all records
// when id is empty.
func (e *Engine) ListAttic(ctx context.Context, id string) (map[string][]attic.Entry, error) {
	if err := e.ws.Checkout(ctx); err != nil {
		return nil, err
	}

	archiver := attic.New(filepath.Join(e.ws.Path(), attic.Dir))
	if id == "" {
		return archiver.ListAll()
	}
	entries, err := archiver.List(id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return map[string][]attic.Entry{}, nil
	}
	return map[string][]attic.Entry{id: entries}, nil
}

// RestoreAttic re-issues an archived payload as a new current version of
// its record, committed through the normal mutation path. The attic
// entry itself is untouched: restoration is forward-only.
func (e *Engine) RestoreAttic(ctx context.Context, ref string) (*record.Record, error) {
	unlock, err := acquireLock(e.opts.LockPath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.ws.Checkout(ctx); err != nil {
		return nil, err
	}

	archiver := attic.New(filepath.Join(e.ws.Path(), attic.Dir))
	payload, err := archiver.Restore(ref)
	if err != nil {
		return nil, err
	}

	restored := payload.Clone()
	restored.Version = payload.Version + 1
	if current, _, err := e.ws.Records(); err == nil {
		if cur, ok := current[payload.ID]; ok {
			restored.Version = cur.Version + 1
		}
	}
	restored.Touch()

	if err := e.ws.WriteRecord(restored); err != nil {
		return nil, err
	}
	if _, err := e.ws.Commit(ctx, fmt.Sprintf("skein: restore %s from attic (%s)", restored.ID, ref)); err != nil {
		return nil, err
	}
	if err := e.store.MarkDirty(restored.ID); err != nil {
		return nil, err
	}

	return restored, nil
}
