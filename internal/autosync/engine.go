package autosync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jotkit/jot/internal/gitport"
)

// Operation ids keying the retry scheduler. Distinct ids keep the retry
// sequences of independent triggers from interfering.
const (
	opAutoSync     = "auto-sync"
	opPeriodicPull = "periodic-pull"
	opManualSync   = "manual-sync"
	opFinalSync    = "final-sync"
)

// Config holds the engine's runtime configuration. It is read-only from
// the engine's perspective; changes arrive through Reconfigure.
type Config struct {
	// Root is the vault directory the engine manages.
	Root string

	// Enabled turns the automation on. When false the engine sits in
	// the disabled state and only manual syncs work.
	Enabled bool

	// Debounce is the quiet window after the last file change before
	// an auto-sync starts.
	Debounce time.Duration

	// PullInterval is the period of the independent remote-pull timer.
	// Zero disables periodic pulls.
	PullInterval time.Duration

	// Retry is the backoff policy for transient failures.
	Retry RetryPolicy

	// CommitTemplate is the commit message template. A {date}
	// placeholder is replaced with the current local time.
	CommitTemplate string

	// NotifyCooldown throttles user-facing notifications: at most one
	// per error kind per cooldown window.
	NotifyCooldown time.Duration
}

// DefaultConfig returns sensible defaults for the given vault.
func DefaultConfig(root string) Config {
	return Config{
		Root:           root,
		Enabled:        true,
		Debounce:       2 * time.Second,
		PullInterval:   5 * time.Minute,
		Retry:          DefaultRetryPolicy(),
		CommitTemplate: "vault sync {date}",
		NotifyCooldown: 5 * time.Minute,
	}
}

// Engine is the auto-sync orchestrator. There is exactly one instance
// per process, constructed once at startup by the composition root and
// passed by reference to every call site that needs it.
//
// The engine owns the single-writer discipline over the working tree:
// only one VCS-mutating operation is in flight at a time, enforced by
// the syncing state rather than a lock around git itself.
type Engine struct {
	git    gitport.Port
	retry  *Scheduler
	logger *log.Logger

	mu      sync.Mutex
	cfg     Config
	status  Status
	watcher *Watcher
	unsub   func()

	// conflictMode gates all automation. Set only by a classified true
	// conflict; cleared only by a manual sync that re-verified the
	// working tree is conflict free.
	conflictMode bool

	// pendingChanges records change signals that arrived while a sync
	// was in flight, so they are not lost under the mutual-exclusion gate.
	pendingChanges bool

	// runCtx spans one configuration epoch; teardown cancels it so
	// in-flight git commands die promptly.
	runCtx    context.Context
	runCancel context.CancelFunc
	pullStop  chan struct{}
	wg        sync.WaitGroup
	closed    bool

	nextSub       int
	statusSubs    map[int]StatusFunc
	retrySubs     map[int]RetryFunc
	exhaustedSubs map[int]ExhaustedFunc

	// lastNotified throttles notifications per error kind.
	lastNotified map[ErrorKind]time.Time

	dispatch     chan Status
	dispatchDone chan struct{}
	dispatchWG   sync.WaitGroup
	dispatchOnce sync.Once
}

// NewEngine creates the orchestrator. Call Initialize to start the
// automation. If logger is nil, logging is disabled.
func NewEngine(git gitport.Port, cfg Config, logger *log.Logger) *Engine {
	e := &Engine{
		git:           git,
		retry:         NewScheduler(cfg.Retry, logger),
		logger:        logger,
		cfg:           cfg,
		status:        Status{State: StateDisabled, Message: "not initialized"},
		statusSubs:    make(map[int]StatusFunc),
		retrySubs:     make(map[int]RetryFunc),
		exhaustedSubs: make(map[int]ExhaustedFunc),
		lastNotified:  make(map[ErrorKind]time.Time),
		dispatch:      make(chan Status, 100),
		dispatchDone:  make(chan struct{}),
	}

	e.dispatchWG.Add(1)
	go e.dispatchLoop()

	return e
}

// Initialize starts the watchers and timers according to the current
// configuration. Enters the disabled state (without error) when
// auto-sync is off or the vault is not a repository.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initLocked()
}

func (e *Engine) initLocked() error {
	if e.closed {
		return fmt.Errorf("engine is closed")
	}

	if !e.cfg.Enabled {
		e.setStatusLocked(Status{State: StateDisabled, Message: "auto-sync is disabled"})
		return nil
	}
	if !e.git.IsRepository() {
		e.setStatusLocked(Status{State: StateDisabled, Message: "vault is not a git repository"})
		return nil
	}

	w, err := NewWatcher(e.cfg.Root, e.cfg.Debounce, e.logger)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start change watcher: %w", err)
	}

	e.watcher = w
	e.unsub = w.OnChange(e.handleChange)
	e.runCtx, e.runCancel = context.WithCancel(context.Background())

	if e.conflictMode {
		// Conflict mode survives reconfiguration: automation stays
		// suspended until the user resolves and manually syncs.
		w.Suspend(true)
		e.setStatusLocked(Status{
			State:   StateConflict,
			Message: "merge conflict requires manual resolution",
		})
		return nil
	}

	if e.cfg.PullInterval > 0 {
		stop := make(chan struct{})
		e.pullStop = stop
		e.wg.Add(1)
		go e.runPeriodicPull(e.cfg.PullInterval, stop)
	}

	e.setStatusLocked(Status{
		State:      StateSynced,
		Message:    "watching vault",
		LastSyncAt: e.status.LastSyncAt,
	})

	if e.logger != nil {
		e.logger.Printf("Auto-sync initialized: vault=%s debounce=%s pull-interval=%s",
			e.cfg.Root, e.cfg.Debounce, e.cfg.PullInterval)
	}

	return nil
}

// Reconfigure tears down all watchers and timers, applies the new
// configuration, and rebuilds. Idempotent; safe to call on every
// configuration change notification.
func (e *Engine) Reconfigure(cfg Config) error {
	e.teardown()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.retry = NewScheduler(cfg.Retry, e.logger)
	return e.initLocked()
}

// teardown cancels the debounce countdown, the periodic timer, every
// pending retry wait, and any in-flight git command, then waits for the
// background goroutines to exit. Never leaves a timer that could fire
// after the engine has been torn down.
func (e *Engine) teardown() {
	e.mu.Lock()
	unsub := e.unsub
	e.unsub = nil
	w := e.watcher
	e.watcher = nil
	stop := e.pullStop
	e.pullStop = nil
	cancel := e.runCancel
	e.runCancel = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if w != nil {
		_ = w.Stop()
	}
	if stop != nil {
		close(stop)
	}
	e.retry.CancelAll()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Close tears the engine down for good. The caller should run FinalSync
// first; Close does not sync.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.teardown()

	e.dispatchOnce.Do(func() { close(e.dispatchDone) })
	e.dispatchWG.Wait()
}

// ChangeEvents returns the raw per-file event channel of the current
// watcher, or nil while the engine is disabled. The channel closes on
// teardown and reconfiguration; consumers re-acquire it afterwards.
func (e *Engine) ChangeEvents() <-chan FileEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher == nil {
		return nil
	}
	return e.watcher.Events()
}

// Status returns the current status snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ConflictMode reports whether automation is halted on a merge conflict.
func (e *Engine) ConflictMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflictMode
}

// OnStatusChanged subscribes to status snapshots. Returns a disposer.
// Delivery is asynchronous and in transition order.
func (e *Engine) OnStatusChanged(fn StatusFunc) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.statusSubs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.statusSubs, id)
			e.mu.Unlock()
		})
	}
}

// OnRetry subscribes to retry notifications.
func (e *Engine) OnRetry(fn RetryFunc) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.retrySubs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.retrySubs, id)
			e.mu.Unlock()
		})
	}
}

// OnRetryExhausted subscribes to retry-exhaustion notifications.
func (e *Engine) OnRetryExhausted(fn ExhaustedFunc) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.exhaustedSubs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.exhaustedSubs, id)
			e.mu.Unlock()
		})
	}
}

// handleChange is the debounced change callback from the watcher.
//
// The watcher's debounce timer can fire one last time while a teardown
// is in flight, so the signal is dropped once the engine is closed or
// the configuration epoch it belongs to has ended.
func (e *Engine) handleChange() {
	e.mu.Lock()
	if e.closed || e.runCtx == nil || e.conflictMode || e.status.State == StateDisabled {
		e.mu.Unlock()
		return
	}
	if e.status.State == StateSyncing {
		// Deferred, not lost: the running sync re-triggers on finish.
		e.pendingChanges = true
		e.mu.Unlock()
		return
	}
	e.setStatusLocked(Status{
		State:      StateLocalChanges,
		Message:    "local changes detected",
		LastSyncAt: e.status.LastSyncAt,
	})
	ctx := e.runCtx
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.performAutoSync(ctx)
	}()
}

// performAutoSync runs the pull + commit-and-push cycle under the retry
// scheduler, with the background retry-exhaustion fallback.
func (e *Engine) performAutoSync(ctx context.Context) {
	if !e.beginSync("synchronizing local changes") {
		return
	}

	err := e.retry.Execute(ctx, opAutoSync, e.syncOnce, e.notifyRetry)
	e.finishSync(err, true)
}

// runPeriodicPull drives the independent pull timer for one
// configuration epoch.
func (e *Engine) runPeriodicPull(interval time.Duration, stop chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.performPull()
		}
	}
}

// performPull runs one periodic pull. Ticks arriving while a sync is in
// flight or while in conflict mode are dropped, not queued: overlapping
// VCS operations on the same working tree are never allowed.
func (e *Engine) performPull() {
	e.mu.Lock()
	if e.closed || e.runCtx == nil || e.conflictMode ||
		e.status.State == StateSyncing || e.status.State == StateDisabled {
		e.mu.Unlock()
		return
	}
	e.setStatusLocked(Status{
		State:      StateSyncing,
		Message:    "pulling remote changes",
		LastSyncAt: e.status.LastSyncAt,
	})
	ctx := e.runCtx
	e.mu.Unlock()

	err := e.retry.Execute(ctx, opPeriodicPull, func(ctx context.Context) error {
		return e.git.Pull(ctx)
	}, e.notifyRetry)
	e.finishSync(err, true)
}

// SynchronizeNow performs a manual sync, bypassing the debounce window.
//
// In conflict mode it instead verifies the conflict is resolved: if the
// working tree still has conflicts the engine stays in conflict mode and
// an error is returned; otherwise automation resumes and a sync runs.
//
// Failures surface synchronously to the caller; the background
// retry-exhaustion fallback does not apply.
func (e *Engine) SynchronizeNow(ctx context.Context) error {
	e.mu.Lock()
	if e.conflictMode {
		e.mu.Unlock()
		return e.exitConflict(ctx)
	}
	if !e.git.IsRepository() {
		e.setStatusLocked(Status{State: StateDisabled, Message: "vault is not a git repository"})
		e.mu.Unlock()
		return gitport.ErrNotRepository
	}
	if e.status.State == StateSyncing {
		e.mu.Unlock()
		return fmt.Errorf("a sync is already in progress")
	}
	e.setStatusLocked(Status{
		State:      StateSyncing,
		Message:    "manual sync",
		LastSyncAt: e.status.LastSyncAt,
	})
	e.mu.Unlock()

	err := e.retry.Execute(ctx, opManualSync, e.syncOnce, e.notifyRetry)
	e.finishSync(err, false)
	return err
}

// exitConflict re-verifies the working tree and, only when it is clean
// of conflicts, leaves conflict mode and restarts the automation.
//
// Entry into conflict mode trusts the error classifier; exit trusts
// HasConflicts. The two signals can disagree (a conflict left over from
// a pull outside the tool) and the asymmetry is intentional.
func (e *Engine) exitConflict(ctx context.Context) error {
	conflicted, err := e.git.HasConflicts(ctx)
	if err != nil {
		return fmt.Errorf("could not verify conflict state: %w", err)
	}
	if conflicted {
		e.mu.Lock()
		e.setStatusLocked(Status{
			State:        StateConflict,
			Message:      "conflicts are not resolved yet",
			ShouldNotify: true,
		})
		e.mu.Unlock()
		return fmt.Errorf("working tree still has unresolved conflicts")
	}

	e.mu.Lock()
	e.conflictMode = false
	if e.watcher != nil {
		e.watcher.Suspend(false)
	}
	// Restart the periodic timer that conflict entry cancelled.
	if e.cfg.PullInterval > 0 && e.pullStop == nil {
		stop := make(chan struct{})
		e.pullStop = stop
		e.wg.Add(1)
		go e.runPeriodicPull(e.cfg.PullInterval, stop)
	}
	e.setStatusLocked(Status{
		State:   StateSyncing,
		Message: "conflict resolved, synchronizing",
	})
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Printf("Conflict mode cleared, resuming automation")
	}

	err = e.retry.Execute(ctx, opManualSync, e.syncOnce, e.notifyRetry)
	e.finishSync(err, false)
	return err
}

// FinalSync is the shutdown hook: one best-effort commit and push when
// local changes exist and the engine is not in conflict mode. Failures
// are logged and swallowed; blocking process shutdown on a sync failure
// is unacceptable. No retries.
func (e *Engine) FinalSync(ctx context.Context) {
	e.mu.Lock()
	if e.conflictMode || e.status.State == StateDisabled {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	changed, err := e.git.HasLocalChanges(ctx)
	if err != nil {
		if e.logger != nil {
			e.logger.Printf("Final sync skipped: %v", err)
		}
		return
	}
	if !changed {
		return
	}

	if err := e.git.CommitAndPush(ctx, e.commitMessage()); err != nil &&
		!errors.Is(err, gitport.ErrNothingToCommit) {
		if e.logger != nil {
			e.logger.Printf("Final sync failed: %v", err)
		}
		return
	}

	if e.logger != nil {
		e.logger.Printf("Final sync completed")
	}
}

// syncOnce is one full sync attempt: pull, then commit and push if the
// working tree has local changes.
func (e *Engine) syncOnce(ctx context.Context) error {
	if err := e.git.Pull(ctx); err != nil {
		return err
	}

	changed, err := e.git.HasLocalChanges(ctx)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := e.git.CommitAndPush(ctx, e.commitMessage()); err != nil {
		if errors.Is(err, gitport.ErrNothingToCommit) {
			return nil
		}
		return err
	}
	return nil
}

// beginSync moves the engine into the syncing state, the gate that
// serializes VCS mutations. Returns false if another sync won the race
// or automation is off.
func (e *Engine) beginSync(message string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conflictMode || e.status.State == StateSyncing || e.status.State == StateDisabled {
		return false
	}
	e.setStatusLocked(Status{
		State:      StateSyncing,
		Message:    message,
		LastSyncAt: e.status.LastSyncAt,
	})
	return true
}

// finishSync records the outcome of a sync attempt. background selects
// the unattended policy: retry-exhaustion falls back to a failure status
// (automation stays up) instead of surfacing to a caller.
func (e *Engine) finishSync(err error, background bool) {
	if err == nil {
		e.mu.Lock()
		e.setStatusLocked(Status{
			State:      StateSynced,
			Message:    "up to date",
			LastSyncAt: time.Now(),
		})
		rerun := e.pendingChanges
		e.pendingChanges = false
		ctx := e.runCtx
		e.mu.Unlock()

		// Changes deferred during the sync get their own cycle.
		if rerun && ctx != nil {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.performAutoSync(ctx)
			}()
		}
		return
	}

	if errors.Is(err, ErrRetriesCancelled) {
		// Teardown, reconfiguration, or conflict entry aborted the
		// backoff wait. Whoever cancelled owns the next status, and an
		// aborted sequence is not an exhausted one.
		return
	}

	cls := Classify(err)

	if cls.IsConflict {
		e.enterConflict(cls)
		return
	}

	if background && cls.Retryable() {
		// Retryable and still failing means the scheduler exhausted
		// its attempts.
		e.notifyExhausted(err)
	}

	e.mu.Lock()
	e.setStatusLocked(Status{
		State:        StateLocalChanges,
		Message:      fmt.Sprintf("sync failed (%s)", cls.Kind),
		LastSyncAt:   e.status.LastSyncAt,
		ShouldNotify: e.shouldNotifyLocked(cls.Kind),
		ErrorDetail:  cls.Message,
	})
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Printf("Sync failed (%s): %v", cls.Kind, err)
	}
}

// enterConflict halts all automation: the periodic timer stops, the
// debounced signal is suspended, and only a manual sync can resume.
func (e *Engine) enterConflict(cls Classification) {
	e.mu.Lock()
	e.conflictMode = true
	e.pendingChanges = false
	if e.watcher != nil {
		e.watcher.Suspend(true)
	}
	stop := e.pullStop
	e.pullStop = nil
	e.setStatusLocked(Status{
		State:        StateConflict,
		Message:      "merge conflict requires manual resolution",
		LastSyncAt:   e.status.LastSyncAt,
		ShouldNotify: true,
		ErrorDetail:  cls.Message,
	})
	e.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	e.retry.CancelAll()

	if e.logger != nil {
		e.logger.Printf("Entering conflict mode: %s", cls.Message)
	}
}

// commitMessage expands the configured template.
func (e *Engine) commitMessage() string {
	e.mu.Lock()
	tmpl := e.cfg.CommitTemplate
	e.mu.Unlock()

	if tmpl == "" {
		tmpl = "vault sync {date}"
	}
	return strings.ReplaceAll(tmpl, "{date}", time.Now().Format("2006-01-02 15:04"))
}

// shouldNotifyLocked throttles user-facing notifications to one per
// error kind per cooldown window, so a sustained outage does not become
// a notification storm.
func (e *Engine) shouldNotifyLocked(kind ErrorKind) bool {
	cooldown := e.cfg.NotifyCooldown
	if cooldown <= 0 {
		return true
	}
	now := time.Now()
	if last, ok := e.lastNotified[kind]; ok && now.Sub(last) < cooldown {
		return false
	}
	e.lastNotified[kind] = now
	return true
}

// setStatusLocked replaces the status snapshot and queues it for
// asynchronous delivery. Callers hold e.mu. The dispatch channel is
// never closed, so a straggling transition after Close buffers (or
// drops) harmlessly instead of panicking.
func (e *Engine) setStatusLocked(s Status) {
	e.status = s
	select {
	case e.dispatch <- s:
	default:
		// Subscribers that fall this far behind see the next snapshot.
	}
}

// dispatchLoop delivers status snapshots to subscribers in order, until
// Close signals shutdown.
func (e *Engine) dispatchLoop() {
	defer e.dispatchWG.Done()

	for {
		select {
		case <-e.dispatchDone:
			return
		case s := <-e.dispatch:
			e.mu.Lock()
			fns := make([]StatusFunc, 0, len(e.statusSubs))
			for _, fn := range e.statusSubs {
				fns = append(fns, fn)
			}
			e.mu.Unlock()

			for _, fn := range fns {
				fn(s)
			}
		}
	}
}

// notifyRetry fans a retry notification out to subscribers.
func (e *Engine) notifyRetry(attempt int, delay time.Duration) {
	e.mu.Lock()
	max := e.cfg.Retry.MaxRetries
	fns := make([]RetryFunc, 0, len(e.retrySubs))
	for _, fn := range e.retrySubs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(attempt, max, delay)
	}
}

// notifyExhausted fans a retry-exhaustion notification out to subscribers.
func (e *Engine) notifyExhausted(lastErr error) {
	e.mu.Lock()
	max := e.cfg.Retry.MaxRetries
	fns := make([]ExhaustedFunc, 0, len(e.exhaustedSubs))
	for _, fn := range e.exhaustedSubs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(max, lastErr)
	}
}
