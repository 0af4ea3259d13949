// package repository defines the read/write port the reconciliation engine
// consumes for desired-state entities. A concrete adapter (bunrepo) backs it
// with a SQL database; the engine depends only on this interface.
package repository // import "github.com/securesshmanager/ssm/internal/repository"

import (
	"context"

	"github.com/securesshmanager/ssm/internal/model"
)

// Repository is the consumed operations surface of §4.2: a read-only view of
// desired state plus the write path for unknown-key side effects.
// Implementations must present a consistent snapshot for the duration of one
// reconciliation of one host — in practice this means either a single
// transaction per call group or a database strong enough that sequential
// reads during one host's reconcile don't observe a concurrent structural
// change (a row appearing and disappearing mid-reconcile).
type Repository interface {
	// Hosts

	ListHosts(ctx context.Context) ([]model.Host, error)
	GetHostByID(ctx context.Context, id int) (model.Host, error)
	GetHostByName(ctx context.Context, name string) (model.Host, error)
	CreateHost(ctx context.Context, h model.Host) (model.Host, error)
	UpdateHost(ctx context.Context, h model.Host) error
	DeleteHost(ctx context.Context, id int) error
	// SetHostKeyFingerprint pins a host's key fingerprint after a successful
	// trust-on-first-use confirmation.
	SetHostKeyFingerprint(ctx context.Context, hostID int, fingerprint string) error

	// Users and keys

	ListUsers(ctx context.Context) ([]model.User, error)
	GetUserByID(ctx context.Context, id int) (model.User, error)
	ListUserKeys(ctx context.Context, userID int) ([]model.UserKey, error)
	CreateUserKey(ctx context.Context, k model.UserKey) (model.UserKey, error)
	// FindUserKeyByFingerprint looks up a UserKey by the fingerprint of its
	// decoded blob, used to distinguish UnauthorizedKey from UnknownKey.
	FindUserKeyByFingerprint(ctx context.Context, fingerprint string) (model.UserKey, bool, error)

	// Authorizations

	// ExpectedState builds the desired state of every login known to have an
	// authorization on the host, joining Authorizations with enabled Users'
	// keys and filtering disabled users.
	ExpectedState(ctx context.Context, hostID int) (model.ExpectedHostState, error)
	// ExpectedLogin is the narrower form used when only one login is of
	// interest (e.g. reacting to a single-login apply).
	ExpectedLogin(ctx context.Context, hostID int, login string) (model.ExpectedLogin, error)
	CreateAuthorization(ctx context.Context, a model.Authorization) (model.Authorization, error)
	DeleteAuthorization(ctx context.Context, id int) error

	// AllowUnknownKey is the "allow" side effect offered for an UnknownKey
	// diff item: it creates the UserKey (if key.ID is zero) and an
	// Authorization binding it to the login in one step.
	AllowUnknownKey(ctx context.Context, hostID int, login string, key model.UserKey, options string) (model.Authorization, error)
}
