package reconcile

import (
	"context"
	"fmt"

	"github.com/securesshmanager/ssm/internal/diffengine"
	"github.com/securesshmanager/ssm/internal/events"
	"github.com/securesshmanager/ssm/internal/model"
)

// DecommissionOptions configures DecommissionHost.
type DecommissionOptions struct {
	// RemoveManagedContent rewrites every managed login's authorized_keys
	// to the pragma-only (no-keys) form before the host is dropped from
	// the repository. When false, the remote files are left untouched and
	// only the repository rows are removed.
	RemoveManagedContent bool
	// DryRun reports what would happen without writing or deleting
	// anything.
	DryRun bool
}

// DecommissionResult is the outcome of one DecommissionHost call.
type DecommissionResult struct {
	HostID             int
	Applied            AppliedReport // zero value if RemoveManagedContent was false or DryRun
	AuthorizationsDone bool
	HostRemoved        bool
	Err                error
}

// DecommissionHost revokes a host's managed access and removes it from the
// repository. With RemoveManagedContent, every login's authorized_keys is
// rewritten to a synthetic "no authorizations" expected state (the header
// alone) via applyEmptyState, which writes and verifies each login the way
// ApplyOne does, before any repository rows are
// touched, so a failed remote write still leaves the host's repository
// rows intact for a retry.
func DecommissionHost(ctx context.Context, e *Engine, hostID int, opts DecommissionOptions) DecommissionResult {
	result := DecommissionResult{HostID: hostID}

	if opts.DryRun {
		e.sink.Emit(events.Event{Kind: events.KindHostDecommissioned, HostID: hostID, Message: "dry run: no changes made"})
		return result
	}

	if opts.RemoveManagedContent {
		emptied := emptyExpectedState(hostID)
		applied := e.applyEmptyState(ctx, hostID, emptied)
		result.Applied = applied
		if applied.Err != nil {
			result.Err = fmt.Errorf("remove managed content from host %d: %w", hostID, applied.Err)
			return result
		}
	}

	if err := e.repo.DeleteHost(ctx, hostID); err != nil {
		result.Err = fmt.Errorf("delete host %d: %w", hostID, model.NewRepositoryError(err))
		return result
	}
	result.HostRemoved = true
	e.cache.Invalidate(hostID)

	e.sink.Emit(events.Event{Kind: events.KindHostDecommissioned, HostID: hostID, Message: "host decommissioned"})
	return result
}

// emptyExpectedState builds a synthetic ExpectedHostState with no
// authorizations for any login, the "no authorizations" input DecommissionHost
// hands to the apply path when asked to strip managed content.
func emptyExpectedState(hostID int) model.ExpectedHostState {
	return model.ExpectedHostState{HostID: hostID, PerLogin: map[string]model.ExpectedLogin{}}
}

// applyEmptyState runs the same fetch→diff→write→verify path as ApplyOne,
// but against a caller-supplied (empty) expected state rather than one read
// from the repository, since decommissioning a host must still revoke keys
// for logins the repository itself is about to stop tracking.
func (e *Engine) applyEmptyState(ctx context.Context, hostID int, expected model.ExpectedHostState) AppliedReport {
	mu := e.lockFor(hostID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.hostOpTimeout)
	defer cancel()

	report := AppliedReport{HostID: hostID, PerLogin: make(map[string]LoginApplyResult)}

	e.cache.Invalidate(hostID)
	observed, err := e.cache.Get(ctx, hostID)
	if err != nil {
		report.Err = fmt.Errorf("fetch host %d: %w", hostID, err)
		return report
	}

	perLogin, _, err := diffengine.Diff(ctx, e.repo, expected, observed)
	if err != nil {
		report.Err = fmt.Errorf("diff host %d: %w", hostID, err)
		return report
	}

	logins := affectedLogins(perLogin)
	if len(logins) == 0 {
		return report
	}

	client, closeFn, err := e.factory.Open(ctx, hostID)
	if err != nil {
		report.Err = fmt.Errorf("dial host %d: %w", hostID, err)
		return report
	}
	defer closeFn()

	anyApplied, anyFailed := false, false
	for _, login := range logins {
		result := e.applyLogin(ctx, client, login, perLogin[login], expected.PerLogin[login], observed.PerLogin[login], nil)
		report.PerLogin[login] = result
		switch {
		case result.Err != nil:
			anyFailed = true
		case result.Applied:
			anyApplied = true
		}
	}

	e.cache.Invalidate(hostID)
	if anyFailed && anyApplied {
		report.Partial = true
	} else if anyFailed {
		report.Err = fmt.Errorf("one or more logins failed to clear on host %d", hostID)
	}
	return report
}
