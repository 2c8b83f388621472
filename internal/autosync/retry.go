package autosync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrRetriesCancelled wraps the last operation error when a pending
// backoff wait is aborted by Cancel, CancelAll, or context cancellation.
// It lets callers tell an aborted sequence from a genuinely exhausted one.
var ErrRetriesCancelled = errors.New("retries cancelled")

// RetryPolicy configures the backoff schedule.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff. Delays double each retry up to this.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the stock backoff schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// retryRecord tracks one in-flight retry sequence. Owned exclusively by
// the scheduler; deleted on success, permanent failure, or cancellation.
type retryRecord struct {
	attempts  int
	nextDelay time.Duration
	cancel    chan struct{}
}

// Scheduler executes operations with bounded exponential backoff, keyed
// by operation id so independent retry sequences never interfere.
type Scheduler struct {
	mu      sync.Mutex
	records map[string]*retryRecord
	policy  RetryPolicy
	logger  *log.Logger
}

// NewScheduler creates a retry scheduler with the given policy.
// If logger is nil, logging is disabled.
func NewScheduler(policy RetryPolicy, logger *log.Logger) *Scheduler {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	return &Scheduler{
		records: make(map[string]*retryRecord),
		policy:  policy,
		logger:  logger,
	}
}

// delayFor returns the backoff delay after the given zero-based failed
// attempt: initial, initial*2, initial*4, ... capped at MaxDelay.
func (s *Scheduler) delayFor(attempt int) time.Duration {
	delay := s.policy.InitialDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= s.policy.MaxDelay {
			return s.policy.MaxDelay
		}
	}
	if delay > s.policy.MaxDelay {
		return s.policy.MaxDelay
	}
	return delay
}

// Execute runs op, retrying retryable failures with exponential backoff.
//
// On success any retry state for id is cleared and nil is returned. A
// non-retryable failure (per Classify) or exhaustion of MaxRetries clears
// the state and returns the last error. Before each wait, onRetry is
// invoked (if non-nil) with the one-based retry number and the upcoming
// delay.
//
// Cancel(id), scheduler-wide CancelAll, or ctx cancellation abort a
// pending wait; the last operation error is returned in that case,
// wrapped in ErrRetriesCancelled.
func (s *Scheduler) Execute(ctx context.Context, id string, op func(context.Context) error, onRetry func(attempt int, delay time.Duration)) error {
	rec := &retryRecord{cancel: make(chan struct{})}

	s.mu.Lock()
	// A concurrent Execute with the same id replaces the old record;
	// the old sequence will fail its wait and return.
	if old, ok := s.records[id]; ok {
		close(old.cancel)
	}
	s.records[id] = rec
	s.mu.Unlock()

	defer s.clear(id, rec)

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		cls := Classify(err)
		if !cls.Retryable() || attempt >= s.policy.MaxRetries {
			return err
		}

		delay := s.delayFor(attempt)

		s.mu.Lock()
		rec.attempts = attempt + 1
		rec.nextDelay = delay
		s.mu.Unlock()

		if s.logger != nil {
			s.logger.Printf("Retrying %s in %s (attempt %d/%d): %v",
				id, delay, attempt+1, s.policy.MaxRetries, err)
		}

		if onRetry != nil {
			onRetry(attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-rec.cancel:
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrRetriesCancelled, err)
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrRetriesCancelled, err)
		}
	}
}

// clear removes the record for id if it is still ours.
func (s *Scheduler) clear(id string, rec *retryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.records[id]; ok && cur == rec {
		delete(s.records, id)
	}
}

// Cancel aborts any pending wait for the given operation id and clears
// its retry state.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		close(rec.cancel)
		delete(s.records, id)
	}
}

// CancelAll aborts every pending retry wait. Used at teardown and
// reconfiguration.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		close(rec.cancel)
		delete(s.records, id)
	}
}

// Attempts returns the attempt count recorded for id, or zero when no
// retry sequence is active.
func (s *Scheduler) Attempts(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		return rec.attempts
	}
	return 0
}
