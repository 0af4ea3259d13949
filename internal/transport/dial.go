// package transport establishes authenticated SSH sessions to fleet hosts,
// chaining through jump hosts and pinning server host keys on first sight.
// It is grounded on this system's own SSH/SFTP deployer, generalized from
// a single direct connection to an arbitrary jump chain and from
// accept-or-reject host keys to trust-on-first-use.
package transport // import "github.com/securesshmanager/ssm/internal/transport"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/securesshmanager/ssm/internal/model"
	"github.com/securesshmanager/ssm/internal/traversal"
)

// pendingHostKeyError is returned by a host's callback when no
// KeyFingerprint has been pinned yet: trust-on-first-use mode.
type pendingHostKeyError struct {
	host        string
	fingerprint string
}

func (e *pendingHostKeyError) Error() string {
	return fmt.Sprintf("host key not yet pinned for %s (presented %s)", e.host, e.fingerprint)
}

// hostKeyMismatchError is returned when the presented key does not match
// the pinned fingerprint.
type hostKeyMismatchError struct {
	host, presented, pinned string
}

func (e *hostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: presented %s, pinned %s", e.host, e.presented, e.pinned)
}

// Session wraps the SSH client for the final hop of a resolved jump chain.
// Closing it tears down every hop, innermost first.
type Session struct {
	hops []*ssh.Client // ordered entry-point to target
}

// ExecResult is the outcome of one remote command execution.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Dial resolves chain (as produced by traversal.ResolveChain, ordered
// entry-point to target) into a live Session, authenticating each hop as
// that hop's Username with signer and verifying each hop's presented host
// key against its pinned KeyFingerprint. The final element of chain is the
// target host reconciliation operates on.
func Dial(ctx context.Context, chain []model.Host, signer ssh.Signer, connectTimeout time.Duration) (*Session, error) {
	if len(chain) == 0 {
		return nil, model.NewConfigError("empty jump chain")
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	var hops []*ssh.Client
	cleanup := func() {
		for i := len(hops) - 1; i >= 0; i-- {
			hops[i].Close()
		}
	}

	var current *ssh.Client
	for i, h := range chain {
		addr := net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
		cfg := &ssh.ClientConfig{
			User:            h.Username,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback(h),
			Timeout:         connectTimeout,
		}

		var (
			client *ssh.Client
			err    error
		)
		if i == 0 {
			client, err = ssh.Dial("tcp", addr, cfg)
		} else {
			var conn net.Conn
			conn, err = current.Dial("tcp", addr)
			if err == nil {
				var (
					sshConn ssh.Conn
					chans   <-chan ssh.NewChannel
					reqs    <-chan ssh.Request
				)
				sshConn, chans, reqs, err = ssh.NewClientConn(conn, addr, cfg)
				if err == nil {
					client = ssh.NewClient(sshConn, chans, reqs)
				}
			}
		}
		if err != nil {
			cleanup()
			return nil, ClassifyError(h.Name, err)
		}

		hops = append(hops, client)
		current = client

		select {
		case <-ctx.Done():
			cleanup()
			return nil, model.NewCancelled()
		default:
		}
	}

	return &Session{hops: hops}, nil
}

// DialHost resolves hostID's jump chain via the traversal guard and dials
// it. It is the convenience entry point most callers use instead of
// wiring ResolveChain and Dial themselves.
func DialHost(ctx context.Context, hosts traversal.HostLookup, hostID int, signer ssh.Signer, connectTimeout time.Duration) (*Session, error) {
	chain, err := traversal.ResolveChain(ctx, hosts, hostID)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, chain, signer, connectTimeout)
}

func hostKeyCallback(h model.Host) ssh.HostKeyCallback {
	return func(_ string, _ net.Addr, key ssh.PublicKey) error {
		presented := ssh.FingerprintSHA256(key)
		if h.KeyFingerprint == "" {
			return &pendingHostKeyError{host: h.Name, fingerprint: presented}
		}
		if presented != h.KeyFingerprint {
			return &hostKeyMismatchError{host: h.Name, presented: presented, pinned: h.KeyFingerprint}
		}
		return nil
	}
}

// Exec runs command on the session's target hop, optionally piping stdin,
// and returns its captured output and exit code. Each call opens a fresh
// SSH session on the underlying client so multiple commands can run
// sequentially without interference.
func (s *Session) Exec(ctx context.Context, command string, stdin []byte) (ExecResult, error) {
	target := s.hops[len(s.hops)-1]
	sess, err := target.NewSession()
	if err != nil {
		return ExecResult{}, model.NewTransportError("open session", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return ExecResult{}, model.NewCancelled()
	case err := <-done:
		exit := 0
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				exit = exitErr.ExitStatus()
			} else {
				return ExecResult{}, model.NewTransportError("exec failed", err)
			}
		}
		return ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exit}, nil
	}
}

// Client returns the underlying SSH client for the session's target hop, for
// callers that need a capability this package doesn't wrap directly (e.g.
// the agent installer's one-time SFTP file push).
func (s *Session) Client() *ssh.Client {
	return s.hops[len(s.hops)-1]
}

// Close tears down every hop, innermost first.
func (s *Session) Close() {
	for i := len(s.hops) - 1; i >= 0; i-- {
		s.hops[i].Close()
	}
}

