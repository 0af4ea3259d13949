// package reconcile implements the Reconciler/Applier of §4.8: diffing a
// host's expected and observed authorized_keys state, and applying the
// resulting changes back over the remote agent protocol under a per-host
// write lock, bounded by a fleet-wide concurrency semaphore.
package reconcile // import "github.com/securesshmanager/ssm/internal/reconcile"

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/securesshmanager/ssm/internal/cache"
	"github.com/securesshmanager/ssm/internal/diffengine"
	"github.com/securesshmanager/ssm/internal/events"
	"github.com/securesshmanager/ssm/internal/fetch"
	"github.com/securesshmanager/ssm/internal/model"
	"github.com/securesshmanager/ssm/internal/repository"
)

// DefaultFleetConcurrency bounds simultaneous host operations absent a
// config override (reconcile.fleet_concurrency).
const DefaultFleetConcurrency = 10

// DefaultHostOperationTimeout bounds one host's reconcile operation
// end-to-end, per §5.
const DefaultHostOperationTimeout = 120 * time.Second

// AgentClient is the remote agent surface the reconciler needs: listing and
// reading logins (fetch.AgentSession) plus writing one back. *agent.Client
// satisfies this.
type AgentClient interface {
	EnsureInstalled(ctx context.Context) error
	GetSSHUsers(ctx context.Context) ([]string, error)
	GetAuthorizedKeyfile(ctx context.Context, login string) ([]byte, bool, error)
	SetAuthorizedKeyfile(ctx context.Context, login string, content []byte) error
}

// SessionFactory opens an AgentClient for a host and returns a closer the
// caller must invoke once done with it.
type SessionFactory interface {
	Open(ctx context.Context, hostID int) (client AgentClient, closeFn func(), err error)
}

// HostReport is the outcome of diff_one/one element of diff_all's stream.
type HostReport struct {
	HostID          int
	ObservedSummary model.DiffSummary
	PerLogin        map[string][]model.DiffItem
	Severity        model.Severity
	Err             error
}

// Engine wires the repository, cache, event sink, and agent session
// factory into the diff/apply operations of §4.8.
type Engine struct {
	repo               repository.Repository
	cache              *cache.Cache
	sink               *events.Sink
	factory            SessionFactory
	fleetConcurrency   int
	perHostConcurrency int
	hostOpTimeout      time.Duration

	hostLocksMu sync.Mutex
	hostLocks   map[int]*sync.Mutex
}

// New builds a reconciliation Engine. fleetConcurrency and
// perHostConcurrency fall back to their documented defaults when <= 0.
func New(repo repository.Repository, c *cache.Cache, sink *events.Sink, factory SessionFactory, fleetConcurrency, perHostConcurrency int) *Engine {
	if fleetConcurrency <= 0 {
		fleetConcurrency = DefaultFleetConcurrency
	}
	if perHostConcurrency <= 0 {
		perHostConcurrency = fetch.DefaultConcurrency
	}
	return &Engine{
		repo:               repo,
		cache:              c,
		sink:               sink,
		factory:            factory,
		fleetConcurrency:   fleetConcurrency,
		perHostConcurrency: perHostConcurrency,
		hostOpTimeout:      DefaultHostOperationTimeout,
		hostLocks:          make(map[int]*sync.Mutex),
	}
}

// FetchFunc builds a cache.FetchFunc that dials a host through factory and
// runs the State Fetcher over it. Callers construct their *cache.Cache with
// this before passing it to New, so the cache never needs to know about
// transport or the agent protocol directly.
func FetchFunc(factory SessionFactory, perHostConcurrency int) cache.FetchFunc {
	return func(ctx context.Context, hostID int) (model.ObservedHostState, error) {
		client, closeFn, err := factory.Open(ctx, hostID)
		if err != nil {
			return model.ObservedHostState{}, err
		}
		defer closeFn()
		return fetch.Fetch(ctx, hostID, client, perHostConcurrency)
	}
}

func (e *Engine) lockFor(hostID int) *sync.Mutex {
	e.hostLocksMu.Lock()
	defer e.hostLocksMu.Unlock()
	mu, ok := e.hostLocks[hostID]
	if !ok {
		mu = &sync.Mutex{}
		e.hostLocks[hostID] = mu
	}
	return mu
}

// DiffOne computes host_id's current drift against its expected state.
// force bypasses the observed-state cache. Errors (fetch, repository, or
// diff) are carried on the returned HostReport rather than as a second
// return value, matching the "errors?" field of §4.8's HostReport shape.
func (e *Engine) DiffOne(ctx context.Context, hostID int, force bool) HostReport {
	ctx, cancel := context.WithTimeout(ctx, e.hostOpTimeout)
	defer cancel()

	report := HostReport{HostID: hostID}

	if force {
		e.cache.Invalidate(hostID)
	}
	observed, err := e.cache.Get(ctx, hostID)
	if err != nil {
		report.Err = fmt.Errorf("fetch host %d: %w", hostID, err)
		return report
	}

	expected, err := e.repo.ExpectedState(ctx, hostID)
	if err != nil {
		report.Err = fmt.Errorf("expected state for host %d: %w", hostID, model.NewRepositoryError(err))
		return report
	}

	perLogin, summary, err := diffengine.Diff(ctx, e.repo, expected, observed)
	if err != nil {
		report.Err = fmt.Errorf("diff host %d: %w", hostID, err)
		return report
	}

	report.PerLogin = perLogin
	report.ObservedSummary = summary
	report.Severity = model.ClassifySeverity(summary)

	e.sink.Emit(events.Event{
		Kind:    events.KindDiffComputed,
		HostID:  hostID,
		Message: fmt.Sprintf("%d changes across %d logins", summary.Total, len(perLogin)),
	})

	return report
}

// DiffAll streams a HostReport for every non-disabled host, running up to
// fleetConcurrency diffs concurrently. The returned channel is closed once
// every host has reported.
func (e *Engine) DiffAll(ctx context.Context) (<-chan HostReport, error) {
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

	out := make(chan HostReport, len(active))
	go func() {
		defer close(out)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.fleetConcurrency)
		for _, h := range active {
			h := h
			g.Go(func() error {
				out <- e.DiffOne(gctx, h.ID, false)
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out, nil
}
