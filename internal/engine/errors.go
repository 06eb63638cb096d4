package engine

import "errors"

// Structural errors abort the current cycle and leave all durable state
// unchanged. Per-record errors (corrupt payloads, mapping failures) are
// accumulated into the sync summary instead and never abort the cycle.
var (
	// ErrSyncInProgress is returned when another sync cycle already
	// holds the checkout lock. The caller should not retry concurrently.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSyncUnreachable is returned when the remote could not be
	// reached after exhausting transient-failure retries.
	ErrSyncUnreachable = errors.New("sync remote unreachable")

	// ErrSyncContention is returned when the publish-rejection retry cap
	// was exceeded: the remote kept advancing during our resolution
	// window. Re-running sync converges.
	ErrSyncContention = errors.New("sync contention: publish retry cap exceeded")
)

// IsRetryable reports whether re-running sync is likely to succeed
// without any operator action.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSyncContention) || errors.Is(err, ErrSyncInProgress)
}
