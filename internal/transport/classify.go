package transport

import (
	"errors"
	"strings"

	"github.com/securesshmanager/ssm/internal/model"
)

// ClassifyError maps a raw dial/handshake/auth error into the engine's
// stable error taxonomy. Host-key conditions are detected by type (this
// package's own sentinel error types); everything else arrives from
// net/ssh as an untyped error, so — same as this system's original
// classifier — timeouts, refusals, and auth failures are recognized by
// substring match against the known message shapes those layers produce.
func ClassifyError(hostName string, err error) *model.EngineError {
	if err == nil {
		return nil
	}

	var pending *pendingHostKeyError
	if errors.As(err, &pending) {
		return model.NewHostKeyPending(pending.fingerprint)
	}
	var mismatch *hostKeyMismatchError
	if errors.As(err, &mismatch) {
		return model.NewHostKeyError(mismatch.Error(), mismatch.presented)
	}

	msg := err.Error()
	switch {
	case containsAny(msg, "timeout", "deadline exceeded", "i/o timeout"):
		return model.NewTimeout("transport dial", err)
	case containsAny(msg, "connection refused", "no route to host"):
		return model.NewTransportError("connection to "+hostName+" refused", err)
	case containsAny(msg, "authentication failed", "permission denied", "public key", "unable to authenticate"):
		return model.NewTransportError("authentication failed for "+hostName, err)
	default:
		return model.NewTransportError("failed to connect to "+hostName, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
