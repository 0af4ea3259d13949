// package model defines the core data structures shared by every package in
// the SSH reconciliation engine: the desired-state entities read from the
// repository, the parsed/observed shapes read off a remote host, and the
// tagged-variant diff result the two are compared into.
package model // import "github.com/securesshmanager/ssm/internal/model"

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Host is a single fleet member reachable over SSH, optionally through a
// chain of other hosts (JumpVia).
type Host struct {
	ID             int
	Name           string
	Username       string
	Address        string
	Port           int
	KeyFingerprint string // empty until pinned (trust-on-first-use)
	JumpVia        *int   // Host.ID of the jump host, nil if direct
	Disabled       bool
	Comment        string
}

// User is a person who owns zero or more UserKeys, not an OS account.
type User struct {
	ID       int
	Username string
	Enabled  bool
	Comment  string
}

// UserKey is one SSH public key belonging to a User. KeyBase64 is globally
// unique across all users.
type UserKey struct {
	ID           int
	KeyType      string
	KeyBase64    string
	Name         string
	ExtraComment string
	UserID       int
}

// Fingerprint returns the SHA-256 fingerprint of the key's decoded blob, in
// "SHA256:<base64url-unpadded>" form. It depends only on the decoded blob:
// two UserKeys with the same KeyBase64 always fingerprint identically
// regardless of KeyType, Name, ExtraComment, or any surrounding whitespace.
func (k UserKey) Fingerprint() (string, error) {
	return fingerprintOf(k.KeyBase64)
}

// Authorization binds a User's key to a login account on a Host.
type Authorization struct {
	ID      int
	HostID  int
	UserID  int
	Login   string
	Options string
	Comment string
}

// KeyLine is the parsed form of one well-formed authorized_keys entry.
type KeyLine struct {
	Options   string // raw options prefix, empty if none
	KeyType   string
	KeyBase64 string
	Comment   string // free-form trailing text, empty if none
}

// Fingerprint returns the SHA-256 fingerprint of the decoded key blob.
func (k KeyLine) Fingerprint() (string, error) {
	return fingerprintOf(k.KeyBase64)
}

func fingerprintOf(keyBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return "", fmt.Errorf("decode key blob: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "SHA256:" + base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// FaultyLine is a line of an authorized_keys file that the codec could not
// parse into a KeyLine.
type FaultyLine struct {
	Raw    string
	Reason string
}

// ObservedLine is one line of a remote authorized_keys file, in original
// file order, classified by the codec into exactly one of: a pragma header,
// an ignorable blank/comment line, a successfully parsed key, or a faulty
// line.
type ObservedLine struct {
	Raw              string
	IsPragma         bool
	IsBlankOrComment bool
	Key              *KeyLine
	Fault            *FaultyLine
}

// ObservedLogin is the as-found state of one login's authorized_keys file.
type ObservedLogin struct {
	Lines          []ObservedLine
	HeaderPresent  bool
	ReadonlyReason string // non-empty if the agent reported this login readonly
}

// ObservedHostState is the as-found state of every managed login on a host,
// as last fetched over SSH.
type ObservedHostState struct {
	HostID      int
	PerLogin    map[string]ObservedLogin
	CollectedAt time.Time
}

// ExpectedEntry is one key that should be authorized for a login, joined
// with the User who owns it.
type ExpectedEntry struct {
	Key        UserKey
	Options    string
	OwningUser User
}

// ExpectedLogin is the desired set of keys for one login account, built by
// joining Authorizations with enabled Users' keys.
type ExpectedLogin struct {
	Entries []ExpectedEntry
}

// ExpectedHostState is the desired state of every authorized login on a
// host, as built from the repository.
type ExpectedHostState struct {
	HostID   int
	PerLogin map[string]ExpectedLogin
	BuiltAt  time.Time
}
