package autosync

import "time"

// State represents the engine's sync state. Exactly one value is active
// at a time.
type State string

const (
	// StateSynced indicates the vault matches the remote as of LastSyncAt.
	StateSynced State = "synced"

	// StateSyncing indicates a sync attempt is in flight. Acts as the
	// mutual-exclusion gate for VCS-mutating operations.
	StateSyncing State = "syncing"

	// StateLocalChanges indicates local edits are waiting on the
	// debounce window before an auto-sync starts.
	StateLocalChanges State = "local-changes"

	// StateRemoteChanges is reserved for remote-ahead detection.
	// No transition currently drives it.
	StateRemoteChanges State = "remote-changes"

	// StateConflict indicates an unresolved merge conflict. All
	// automation is halted until a manual sync verifies resolution.
	StateConflict State = "conflict"

	// StateDisabled indicates auto-sync is off or the vault is not a
	// git repository.
	StateDisabled State = "disabled"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Status is an immutable snapshot of the engine's state, replaced
// wholesale on every transition. Consumers must not mutate it.
type Status struct {
	// State is the current sync state.
	State State `json:"state"`

	// Message is a short human-readable description.
	Message string `json:"message"`

	// LastSyncAt is when the last sync completed successfully.
	// Zero if the engine has not synced yet.
	LastSyncAt time.Time `json:"last_sync_at,omitzero"`

	// ShouldNotify indicates the transition warrants a user-facing
	// notification rather than just a status-bar update.
	ShouldNotify bool `json:"should_notify"`

	// ErrorDetail carries the failure description for error states.
	ErrorDetail string `json:"error_detail,omitempty"`
}

// StatusFunc receives status snapshots from the engine.
type StatusFunc func(Status)

// RetryFunc receives retry notifications: the attempt number just failed,
// the configured maximum, and the delay before the next attempt.
type RetryFunc func(attempt, maxRetries int, nextDelay time.Duration)

// ExhaustedFunc receives a notification when retries are exhausted.
type ExhaustedFunc func(maxRetries int, lastErr error)
