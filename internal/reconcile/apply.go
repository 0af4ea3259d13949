package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/securesshmanager/ssm/internal/diffengine"
	"github.com/securesshmanager/ssm/internal/events"
	"github.com/securesshmanager/ssm/internal/model"
)

// Phase names a pending→syncing→success|error transition apply_all reports
// through its progress callback.
type Phase string

const (
	PhasePending Phase = "pending"
	PhaseSyncing Phase = "syncing"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// ProgressFunc is invoked synchronously by ApplyAll for each host's phase
// transition. It must not block: apply_all's own progress depends on it
// returning promptly.
type ProgressFunc func(hostID int, phase Phase)

// LoginApplyResult is the per-login outcome of one apply_one call.
type LoginApplyResult struct {
	Login   string
	Applied bool
	Skipped bool // readonly login; the write is refused and Err is set
	Err     error
}

// AppliedReport is the outcome of one apply_one call, or one element of
// apply_all's stream.
type AppliedReport struct {
	HostID   int
	PerLogin map[string]LoginApplyResult
	Partial  bool // true if some logins applied and others failed
	Err      error
}

// ApplyOne recomputes host_id's diff under its per-host write lock, plans
// and writes the replacement file for every affected login, and verifies
// each write by reading it back. selection narrows which DiffItems take
// effect; nil applies every diff item found (the full expected state).
func (e *Engine) ApplyOne(ctx context.Context, hostID int, selection map[DiffItemID]bool) AppliedReport {
	mu := e.lockFor(hostID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.hostOpTimeout)
	defer cancel()

	e.sink.Emit(events.Event{Kind: events.KindSyncStarted, HostID: hostID, Message: "apply started"})

	report := AppliedReport{HostID: hostID, PerLogin: make(map[string]LoginApplyResult)}

	fail := func(err error) AppliedReport {
		report.Err = err
		e.sink.Emit(events.Event{Kind: events.KindSyncFailed, HostID: hostID, Message: err.Error()})
		return report
	}

	// fetch-under-lock: a stale cached observation must never be applied
	// against, so the cache entry is dropped before reading it back.
	e.cache.Invalidate(hostID)
	observed, err := e.cache.Get(ctx, hostID)
	if err != nil {
		return fail(fmt.Errorf("fetch host %d: %w", hostID, err))
	}

	expected, err := e.repo.ExpectedState(ctx, hostID)
	if err != nil {
		return fail(fmt.Errorf("expected state for host %d: %w", hostID, model.NewRepositoryError(err)))
	}

	perLogin, _, err := diffengine.Diff(ctx, e.repo, expected, observed)
	if err != nil {
		return fail(fmt.Errorf("diff host %d: %w", hostID, err))
	}

	logins := affectedLogins(perLogin)
	if len(logins) == 0 {
		e.sink.Emit(events.Event{Kind: events.KindSyncSucceeded, HostID: hostID, Message: "no changes"})
		return report
	}

	client, closeFn, err := e.factory.Open(ctx, hostID)
	if err != nil {
		return fail(fmt.Errorf("dial host %d: %w", hostID, err))
	}
	defer closeFn()

	anyApplied, anyFailed := false, false
	for _, login := range logins {
		result := e.applyLogin(ctx, client, login, perLogin[login], expected.PerLogin[login], observed.PerLogin[login], selection)
		report.PerLogin[login] = result
		switch {
		case result.Err != nil:
			anyFailed = true
		case result.Applied:
			anyApplied = true
		}
	}

	e.cache.Invalidate(hostID)

	switch {
	case anyFailed && anyApplied:
		report.Partial = true
		e.sink.Emit(events.Event{Kind: events.KindSyncPartial, HostID: hostID, Message: "some logins failed to apply"})
	case anyFailed:
		report.Err = errors.New("all affected logins failed to apply")
		e.sink.Emit(events.Event{Kind: events.KindSyncFailed, HostID: hostID, Message: report.Err.Error()})
	default:
		e.sink.Emit(events.Event{Kind: events.KindSyncSucceeded, HostID: hostID, Message: fmt.Sprintf("%d logins updated", len(logins))})
	}

	return report
}

// applyLogin runs one login through planning → writing → verifying.
func (e *Engine) applyLogin(
	ctx context.Context,
	client AgentClient,
	login string,
	diffItems []model.DiffItem,
	exp model.ExpectedLogin,
	obs model.ObservedLogin,
	selection map[DiffItemID]bool,
) LoginApplyResult {
	if obs.ReadonlyReason != "" {
		return LoginApplyResult{Login: login, Skipped: true, Err: model.NewReadonlyLogin(obs.ReadonlyReason)}
	}

	content, err := planLoginContent(diffItems, exp, selection)
	if err != nil {
		return LoginApplyResult{Login: login, Err: fmt.Errorf("plan login %q: %w", login, err)}
	}

	if err := client.SetAuthorizedKeyfile(ctx, login, content); err != nil {
		return LoginApplyResult{Login: login, Err: fmt.Errorf("write login %q: %w", login, err)}
	}

	readback, present, err := client.GetAuthorizedKeyfile(ctx, login)
	if err != nil {
		return LoginApplyResult{Login: login, Err: fmt.Errorf("verify login %q: %w", login, err)}
	}
	if !present || !bytes.Equal(readback, content) {
		return LoginApplyResult{Login: login, Err: model.NewVerificationMismatch(fmt.Sprintf("login %q: readback did not match the written content", login))}
	}

	return LoginApplyResult{Login: login, Applied: true}
}

// affectedLogins returns the logins with at least one diff item, in
// deterministic order.
func affectedLogins(perLogin map[string][]model.DiffItem) []string {
	logins := make([]string, 0, len(perLogin))
	for login, items := range perLogin {
		if len(items) > 0 {
			logins = append(logins, login)
		}
	}
	sort.Strings(logins)
	return logins
}

// ApplyAll sequentially applies every non-disabled host, invoking
// onProgress synchronously for each pending→syncing→success|error
// transition. The caller requests early stop by cancelling ctx between
// progress callbacks; a cancelled context stops before the next host
// starts. The returned channel is closed once iteration ends.
func (e *Engine) ApplyAll(ctx context.Context, onProgress ProgressFunc) (<-chan AppliedReport, error) {
	hosts, err := e.repo.ListHosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", model.NewRepositoryError(err))
	}

	var active []model.Host
	for _, h := range hosts {
		if !h.Disabled {
			active = append(active, h)
		}
	}

	out := make(chan AppliedReport, len(active))
	go func() {
		defer close(out)
		for _, h := range active {
			select {
			case <-ctx.Done():
				return
			default:
			}

			notify(onProgress, h.ID, PhasePending)
			notify(onProgress, h.ID, PhaseSyncing)

			report := e.ApplyOne(ctx, h.ID, nil)
			if report.Err != nil {
				notify(onProgress, h.ID, PhaseError)
			} else {
				notify(onProgress, h.ID, PhaseSuccess)
			}
			out <- report
		}
	}()
	return out, nil
}

func notify(onProgress ProgressFunc, hostID int, phase Phase) {
	if onProgress != nil {
		onProgress(hostID, phase)
	}
}
