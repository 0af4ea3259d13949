// package fetch collects a host's observed authorized_keys state over the
// remote agent protocol: list logins, then pull and parse each login's file
// with a bounded degree of concurrency.
package fetch // import "github.com/securesshmanager/ssm/internal/fetch"

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/securesshmanager/ssm/internal/keyline"
	"github.com/securesshmanager/ssm/internal/model"
)

// DefaultConcurrency is the default bounded per-host degree of concurrent
// get_authorized_keyfile calls (§4.5 step 3).
const DefaultConcurrency = 4

const readonlyPrefix = "# readonly: "

// AgentSession is the narrow agent.Client surface this package needs,
// letting tests substitute a fake without a live SSH connection.
type AgentSession interface {
	EnsureInstalled(ctx context.Context) error
	GetSSHUsers(ctx context.Context) ([]string, error)
	GetAuthorizedKeyfile(ctx context.Context, login string) ([]byte, bool, error)
}

// Fetch collects the observed state of every login the remote agent
// reports on a host. concurrency bounds how many get_authorized_keyfile
// calls run at once; a value <= 0 selects DefaultConcurrency.
func Fetch(ctx context.Context, hostID int, a AgentSession, concurrency int) (model.ObservedHostState, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	if err := a.EnsureInstalled(ctx); err != nil {
		return model.ObservedHostState{}, fmt.Errorf("ensure agent installed: %w", err)
	}

	logins, err := a.GetSSHUsers(ctx)
	if err != nil {
		return model.ObservedHostState{}, fmt.Errorf("get_ssh_users: %w", err)
	}

	var mu sync.Mutex
	perLogin := make(map[string]model.ObservedLogin, len(logins))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, login := range logins {
		login := login
		g.Go(func() error {
			observed, err := fetchLogin(gctx, a, login)
			if err != nil {
				return fmt.Errorf("login %q: %w", login, err)
			}
			mu.Lock()
			perLogin[login] = observed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.ObservedHostState{}, err
	}

	return model.ObservedHostState{
		HostID:      hostID,
		PerLogin:    perLogin,
		CollectedAt: time.Now(),
	}, nil
}

// fetchLogin pulls and parses one login's authorized_keys file. A missing
// file is not an error: it's represented as an empty ObservedLogin with
// HeaderPresent=false, per §4.5 step 5.
func fetchLogin(ctx context.Context, a AgentSession, login string) (model.ObservedLogin, error) {
	content, present, err := a.GetAuthorizedKeyfile(ctx, login)
	if err != nil {
		return model.ObservedLogin{}, err
	}
	if !present {
		return model.ObservedLogin{HeaderPresent: false}, nil
	}

	var (
		lines          []model.ObservedLine
		headerPresent  bool
		readonlyReason string
		seenFirstLine  bool
	)
	for _, raw := range splitLines(string(content)) {
		trimmed := strings.TrimSpace(raw)
		if !seenFirstLine && trimmed != "" {
			seenFirstLine = true
			switch {
			case trimmed == keyline.PragmaLine:
				headerPresent = true
			case strings.HasPrefix(trimmed, readonlyPrefix):
				readonlyReason = strings.TrimSpace(strings.TrimPrefix(trimmed, readonlyPrefix))
			}
		}
		lines = append(lines, keyline.ParseLine(raw))
	}

	return model.ObservedLogin{
		Lines:          lines,
		HeaderPresent:  headerPresent,
		ReadonlyReason: readonlyReason,
	}, nil
}

func splitLines(content string) []string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}
