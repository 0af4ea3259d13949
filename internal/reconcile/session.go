package reconcile

import (
	"context"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/securesshmanager/ssm/internal/agent"
	"github.com/securesshmanager/ssm/internal/repository"
	"github.com/securesshmanager/ssm/internal/transport"
)

// TransportSessionFactory is the production SessionFactory: it resolves a
// host's jump chain, dials it, and wraps the resulting transport.Session in
// an agent.Client, ensuring the remote helper is installed and current
// before handing the client back.
type TransportSessionFactory struct {
	Hosts          repository.Repository
	Signer         ssh.Signer
	ConnectTimeout time.Duration
}

// Open implements SessionFactory.
func (f *TransportSessionFactory) Open(ctx context.Context, hostID int) (AgentClient, func(), error) {
	sess, err := transport.DialHost(ctx, f.Hosts, hostID, f.Signer, f.ConnectTimeout)
	if err != nil {
		return nil, nil, err
	}

	client := agent.New(sess)
	if err := client.EnsureInstalled(ctx); err != nil {
		sess.Close()
		return nil, nil, err
	}
	if _, err := client.EnsureUpToDate(ctx); err != nil {
		sess.Close()
		return nil, nil, err
	}

	return client, sess.Close, nil
}
