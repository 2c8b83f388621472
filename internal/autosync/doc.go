// Package autosync keeps a vault directory continuously synchronized with
// its git remote without manual commands.
//
// The engine:
//  1. Watches the vault for file changes (debounced into one signal per burst)
//  2. Pulls, then commits and pushes local changes, with bounded
//     exponential-backoff retry for transient failures
//  3. Periodically pulls remote changes on an independent timer
//  4. Halts all automation when a true merge conflict is detected, until an
//     explicit manual sync verifies the conflict is resolved
//  5. Attempts one best-effort final sync at shutdown
//
// Components:
//
//   - Engine: the top-level state machine owning current status and the
//     single-writer discipline over the working tree
//   - Watcher: fsnotify-based change watcher with debounce coalescing
//   - Scheduler: exponential-backoff retry executor keyed by operation id
//   - Classify: maps raw git failures to a fixed error taxonomy; only
//     conflicts ever pause automation
//
// Exactly one VCS-mutating operation is in flight at a time. The engine's
// Syncing state is the mutual-exclusion gate: periodic pull ticks arriving
// under contention are dropped, change notifications are deferred into
// pending-changes bookkeeping.
package autosync
