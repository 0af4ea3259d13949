// package agent speaks the remote helper protocol of §4.4 over an already
// established transport.Session: version, get_ssh_users,
// get_authorized_keyfile, set_authorized_keyfile, and update. It also owns
// the one-time installer that pushes the embedded script the first time a
// host is reconciled.
package agent // import "github.com/securesshmanager/ssm/internal/agent"

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"github.com/securesshmanager/ssm/internal/model"
	"github.com/securesshmanager/ssm/internal/transport"
)

// Verb names the argv[1] the engine passes to the remote script.
type Verb string

const (
	VerbVersion               Verb = "version"
	VerbGetSSHUsers           Verb = "get_ssh_users"
	VerbGetAuthorizedKeyfile  Verb = "get_authorized_keyfile"
	VerbSetAuthorizedKeyfile  Verb = "set_authorized_keyfile"
	VerbUpdate                Verb = "update"
)

// DefaultRemoteName is the filename the script is installed under, relative
// to the managed login's home directory.
const DefaultRemoteName = ".ssh-manager-agent.sh"

// Client drives the remote agent protocol over one transport.Session.
type Client struct {
	sess *transport.Session
	name string
}

// New wraps an established session. The session is not owned by the
// Client: callers close it themselves once done.
func New(sess *transport.Session) *Client {
	return &Client{sess: sess, name: DefaultRemoteName}
}

func (c *Client) command(verb Verb, args ...string) string {
	parts := []string{"sh", fmt.Sprintf("\"$HOME/%s\"", c.name), string(verb)}
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Version runs the version verb and returns its trimmed stdout.
func (c *Client) Version(ctx context.Context) (string, error) {
	res, err := c.sess.Exec(ctx, c.command(VerbVersion), nil)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", model.NewAgentError(res.ExitCode, string(res.Stderr))
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// GetSSHUsers runs get_ssh_users and returns the non-empty login names it
// reports.
func (c *Client) GetSSHUsers(ctx context.Context) ([]string, error) {
	res, err := c.sess.Exec(ctx, c.command(VerbGetSSHUsers), nil)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, model.NewAgentError(res.ExitCode, string(res.Stderr))
	}
	var logins []string
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			logins = append(logins, line)
		}
	}
	return logins, nil
}

// GetAuthorizedKeyfile runs get_authorized_keyfile <login>. present is false
// (with a nil error) when the remote file doesn't exist, per the protocol's
// exit-1-means-absent contract; any other non-zero exit is an AgentError.
func (c *Client) GetAuthorizedKeyfile(ctx context.Context, login string) (content []byte, present bool, err error) {
	res, err := c.sess.Exec(ctx, c.command(VerbGetAuthorizedKeyfile, login), nil)
	if err != nil {
		return nil, false, err
	}
	switch res.ExitCode {
	case 0:
		return res.Stdout, true, nil
	case 1:
		return nil, false, nil
	default:
		return nil, false, model.NewAgentError(res.ExitCode, string(res.Stderr))
	}
}

// SetAuthorizedKeyfile runs set_authorized_keyfile <login>, piping content
// as stdin. content is expected to already carry the pragma header as its
// first line (diffengine.PlanNewFile's output) — the remote script's job is
// only the backup-and-rename write discipline, not re-deriving the header.
func (c *Client) SetAuthorizedKeyfile(ctx context.Context, login string, content []byte) error {
	res, err := c.sess.Exec(ctx, c.command(VerbSetAuthorizedKeyfile, login), content)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return model.NewAgentError(res.ExitCode, string(res.Stderr))
	}
	return nil
}

// Update runs update, piping newScript as stdin so the agent replaces its
// own on-disk copy.
func (c *Client) Update(ctx context.Context, newScript []byte) error {
	res, err := c.sess.Exec(ctx, c.command(VerbUpdate), newScript)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return model.NewAgentError(res.ExitCode, string(res.Stderr))
	}
	return nil
}

// EnsureUpToDate checks the remote script's reported version and pushes the
// embedded copy if it's stale. It refuses to overwrite a script that
// doesn't identify itself with ScriptVersionPrefix at all, since that means
// something other than this agent is occupying the path.
func (c *Client) EnsureUpToDate(ctx context.Context) (updated bool, err error) {
	v, err := c.Version(ctx)
	if err != nil {
		return false, err
	}
	if !strings.HasPrefix(v, ScriptVersionPrefix) {
		return false, fmt.Errorf("remote script at %s does not identify as a %s script, refusing to overwrite", c.name, ScriptVersionPrefix)
	}
	if v == ScriptVersion {
		return false, nil
	}
	if err := c.Update(ctx, []byte(ScriptContent)); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureInstalled verifies the remote script responds to version and, if
// it's missing entirely, installs the embedded copy over SFTP.
func (c *Client) EnsureInstalled(ctx context.Context) error {
	_, err := c.Version(ctx)
	if err == nil {
		return nil
	}
	var ee *model.EngineError
	if errors.As(err, &ee) && ee.Kind() == model.KindAgentError {
		if err := c.Install(ctx); err != nil {
			return err
		}
		_, err = c.Version(ctx)
		return err
	}
	return err
}

// Install pushes the embedded script to the login's home directory over
// SFTP and marks it executable. It uses the same temp-file-then-rename
// discipline this codebase uses for writing the managed authorized_keys
// file itself, so a failed install never leaves a half-written script in
// the final path.
func (c *Client) Install(ctx context.Context) error {
	sftpClient, err := sftp.NewClient(c.sess.Client())
	if err != nil {
		return model.NewTransportError("open sftp session for agent install", err)
	}
	defer sftpClient.Close()

	tmp := fmt.Sprintf("%s.tmp.%d", c.name, time.Now().UnixNano())
	f, err := sftpClient.Create(tmp)
	if err != nil {
		return model.NewTransportError("create remote agent script", err)
	}
	if _, err := f.Write([]byte(ScriptContent)); err != nil {
		f.Close()
		_ = sftpClient.Remove(tmp)
		return model.NewTransportError("write remote agent script", err)
	}
	f.Close()

	if err := sftpClient.Chmod(tmp, 0700); err != nil {
		_ = sftpClient.Remove(tmp)
		return model.NewTransportError("chmod remote agent script", err)
	}

	if err := sftpClient.Rename(tmp, c.name); err != nil {
		backup := c.name + ".bak"
		_ = sftpClient.Remove(backup)
		_ = sftpClient.Rename(c.name, backup)
		if err := sftpClient.Rename(tmp, c.name); err != nil {
			_ = sftpClient.Rename(backup, c.name)
			_ = sftpClient.Remove(tmp)
			return model.NewTransportError("rename remote agent script into place", err)
		}
		_ = sftpClient.Remove(backup)
	}
	return nil
}
