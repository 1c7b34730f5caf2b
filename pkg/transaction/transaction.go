package transaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jmcp-dev/jmcp/pkg/target"
)

// State tracks the progress of one configuration transaction.
type State string

const (
	StateIdle      State = "IDLE"
	StateLocked    State = "LOCKED"
	StateLoaded    State = "LOADED"
	StateNoChange  State = "NO_CHANGE"
	StateDiffReady State = "DIFF_READY"
	StateCommitted State = "COMMITTED"
	StateUnlocked  State = "UNLOCKED"
	StateFailed    State = "FAILED"
)

// Transaction describes one apply attempt against a single device. It is
// ephemeral: one value per request, never persisted.
type Transaction struct {
	Device  string
	Format  string
	Payload string
	Comment string
	DryRun  bool
	Timeout time.Duration
}

type LockError struct {
	Device string
	Err    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("failed to lock configuration on %s: %v", e.Device, e.Err)
}
func (e *LockError) Unwrap() error { return e.Err }

type LoadError struct {
	Device string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load configuration on %s: %v", e.Device, e.Err)
}
func (e *LoadError) Unwrap() error { return e.Err }

type CommitError struct {
	Device string
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("failed to commit configuration on %s: %v", e.Device, e.Err)
}
func (e *CommitError) Unwrap() error { return e.Err }

// Result is the terminal outcome of one transaction run.
type Result struct {
	State State
	Diff  string
	Err   error
	// Cleanup holds secondary rollback/unlock failures. They never mask
	// Err; they are surfaced as diagnostics only.
	Cleanup []error
}

// Text renders the outcome for the caller.
func (r *Result) Text(device string) string {
	var b strings.Builder
	switch {
	case r.Err != nil:
		fmt.Fprintf(&b, "%v", r.Err)
	case r.State == StateNoChange:
		b.WriteString("No configuration changes detected")
	case r.State == StateDiffReady:
		fmt.Fprintf(&b, "Dry run: changes not committed on %s. Diff:\n%s", device, r.Diff)
	default:
		fmt.Fprintf(&b, "Configuration successfully loaded and committed on %s. Changes:\n%s", device, r.Diff)
	}
	for _, c := range r.Cleanup {
		fmt.Fprintf(&b, "\nwarning: cleanup failed: %v", c)
	}
	return b.String()
}

// Run drives one lock -> load -> diff -> commit -> unlock attempt. The
// invariant it maintains on every path: once the lock is acquired, it is
// released before returning, and at most one commit is issued.
func Run(ctx context.Context, drv target.Driver, tx *Transaction) *Result {
	if err := drv.Lock(ctx); err != nil {
		// lock was never held, nothing to release
		return &Result{State: StateIdle, Err: &LockError{Device: tx.Device, Err: err}}
	}
	log.Debugf("%s: configuration locked", tx.Device)

	format, err := target.ParseFormat(tx.Format)
	if err != nil {
		// request error, but the lock is held and must go
		return unlockOnly(ctx, drv, tx, err)
	}

	if err := drv.LoadConfig(ctx, tx.Payload, format); err != nil {
		return failed(ctx, drv, tx, &LoadError{Device: tx.Device, Err: err})
	}

	diff, err := drv.DiffCandidate(ctx)
	if err != nil {
		return failed(ctx, drv, tx, &LoadError{Device: tx.Device, Err: fmt.Errorf("diff failed: %w", err)})
	}
	if diff == "" {
		res := unlockOnly(ctx, drv, tx, nil)
		res.State = StateNoChange
		return res
	}

	if tx.DryRun {
		// discard the candidate so the preview leaves no state behind
		if err := drv.Rollback(ctx); err != nil {
			log.Warnf("%s: discard after dry run failed: %v", tx.Device, err)
		}
		res := unlockOnly(ctx, drv, tx, nil)
		res.State = StateDiffReady
		res.Diff = diff
		return res
	}

	if err := drv.Commit(ctx, tx.Comment); err != nil {
		return failed(ctx, drv, tx, &CommitError{Device: tx.Device, Err: err})
	}
	log.Infof("%s: configuration committed", tx.Device)

	res := &Result{State: StateUnlocked, Diff: diff}
	if err := drv.Unlock(ctx); err != nil {
		// commit succeeded, only cleanup failed: surface it
		res.Err = fmt.Errorf("configuration committed on %s but unlock failed: %w", tx.Device, err)
	}
	return res
}

// failed is the cleanup path out of LOCKED, LOADED or DIFF_READY: rollback
// then unlock, both best-effort, neither masking the original cause.
func failed(ctx context.Context, drv target.Driver, tx *Transaction, cause error) *Result {
	res := &Result{State: StateFailed, Err: cause}
	if err := drv.Rollback(ctx); err != nil {
		log.Warnf("%s: rollback after failure also failed: %v", tx.Device, err)
		res.Cleanup = append(res.Cleanup, fmt.Errorf("rollback: %w", err))
	}
	if err := drv.Unlock(ctx); err != nil {
		log.Warnf("%s: unlock after failure also failed: %v", tx.Device, err)
		res.Cleanup = append(res.Cleanup, fmt.Errorf("unlock: %w", err))
	}
	return res
}

// unlockOnly releases the lock without rollback. Used for request errors
// detected before any candidate change and for the no-change/dry-run exits.
func unlockOnly(ctx context.Context, drv target.Driver, tx *Transaction, cause error) *Result {
	res := &Result{State: StateUnlocked, Err: cause}
	if err := drv.Unlock(ctx); err != nil {
		log.Warnf("%s: unlock failed: %v", tx.Device, err)
		if cause == nil {
			res.Err = fmt.Errorf("unlock failed on %s: %w", tx.Device, err)
		} else {
			res.Cleanup = append(res.Cleanup, fmt.Errorf("unlock: %w", err))
		}
	}
	return res
}
