// package traversal resolves a host's jump_via chain into an ordered list
// of hops, detecting cycles and bounding depth before the transport ever
// dials a socket.
package traversal // import "github.com/securesshmanager/ssm/internal/traversal"

import (
	"context"
	"fmt"

	"github.com/securesshmanager/ssm/internal/model"
)

// MaxDepth is the longest jump chain this system will resolve. A chain
// requiring more hops than this is treated the same as a cycle: a
// configuration error, not a transport failure.
const MaxDepth = 8

// HostLookup is the narrow slice of the repository port the guard needs:
// resolving one host by id. It is satisfied by repository.Repository.
type HostLookup interface {
	GetHostByID(ctx context.Context, id int) (model.Host, error)
}

// ResolveChain walks jump_via from hostID upward until an empty edge is
// reached, returning hops ordered from the entry point (the host with no
// jump_via, dialed directly) to the target (hostID) last.
func ResolveChain(ctx context.Context, hosts HostLookup, hostID int) ([]model.Host, error) {
	var chain []model.Host
	visited := make(map[int]bool)

	current := hostID
	for depth := 0; ; depth++ {
		if depth > MaxDepth {
			return nil, model.NewConfigError(fmt.Sprintf("jump chain exceeds max depth %d at host %d", MaxDepth, hostID))
		}
		if visited[current] {
			return nil, model.NewConfigError(fmt.Sprintf("jump cycle at host %d", current))
		}
		visited[current] = true

		h, err := hosts.GetHostByID(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("resolve jump chain for host %d: %w", hostID, err)
		}
		chain = append(chain, h)

		if h.JumpVia == nil {
			break
		}
		current = *h.JumpVia
	}

	// chain was built target-to-entry-point; reverse to entry-point-to-target.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
