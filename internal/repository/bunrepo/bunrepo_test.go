package bunrepo

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.db.Close() })
	return s
}

func TestExpectedStateJoinsEnabledUsersOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	host, err := s.CreateHost(ctx, testHost("fleet-a"))
	if err != nil {
		t.Fatalf("CreateHost: %v", err)
	}

	alice := mustCreateUser(t, s, "alice", true)
	bob := mustCreateUser(t, s, "bob", false)

	aliceKey := mustCreateKey(t, s, alice.ID, "ssh-ed25519", "AAAAC3NzaC1lZDI1NTE5AAAAIKEgcCCduFv+Pqg4f3hH5WaAtDlyV5ykd8KlQpUx9DHU")
	bobKey := mustCreateKey(t, s, bob.ID, "ssh-ed25519", "AAAAC3NzaC1lZDI1NTE5AAAAIAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	if _, err := s.CreateAuthorization(ctx, auth(host.ID, alice.ID, "deploy", "")); err != nil {
		t.Fatalf("CreateAuthorization(alice): %v", err)
	}
	if _, err := s.CreateAuthorization(ctx, auth(host.ID, bob.ID, "deploy", "")); err != nil {
		t.Fatalf("CreateAuthorization(bob): %v", err)
	}

	state, err := s.ExpectedState(ctx, host.ID)
	if err != nil {
		t.Fatalf("ExpectedState: %v", err)
	}

	login, ok := state.PerLogin["deploy"]
	if !ok {
		t.Fatalf("expected a deploy login entry, got %+v", state.PerLogin)
	}
	if len(login.Entries) != 1 {
		t.Fatalf("expected exactly 1 entry (bob disabled), got %d", len(login.Entries))
	}
	if login.Entries[0].Key.KeyBase64 != aliceKey.KeyBase64 {
		t.Fatalf("expected alice's key, got %+v", login.Entries[0])
	}
	_ = bobKey
}

func TestFindUserKeyByFingerprintMatchesOnBlobOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	user := mustCreateUser(t, s, "carol", true)
	blob := "AAAAC3NzaC1lZDI1NTE5AAAAIKEgcCCduFv+Pqg4f3hH5WaAtDlyV5ykd8KlQpUx9DHU"
	key := mustCreateKey(t, s, user.ID, "ssh-ed25519", blob)

	fp, err := key.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	found, ok, err := s.FindUserKeyByFingerprint(ctx, fp)
	if err != nil {
		t.Fatalf("FindUserKeyByFingerprint: %v", err)
	}
	if !ok {
		t.Fatal("expected to find the key by fingerprint")
	}
	if found.ID != key.ID {
		t.Fatalf("got key %d, want %d", found.ID, key.ID)
	}

	if _, ok, err := s.FindUserKeyByFingerprint(ctx, "SHA256:doesnotexist"); err != nil || ok {
		t.Fatalf("expected no match for unknown fingerprint, ok=%v err=%v", ok, err)
	}
}

func TestAllowUnknownKeyCreatesKeyAndAuthorizationTogether(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	host, err := s.CreateHost(ctx, testHost("fleet-b"))
	if err != nil {
		t.Fatalf("CreateHost: %v", err)
	}
	user := mustCreateUser(t, s, "dave", true)

	authz, err := s.AllowUnknownKey(ctx, host.ID, "deploy", keyFor(user.ID, "ssh-ed25519", "AAAAC3NzaC1lZDI1NTE5AAAAIKEgcCCduFv+Pqg4f3hH5WaAtDlyV5ykd8KlQpUx9DHU"), "no-pty")
	if err != nil {
		t.Fatalf("AllowUnknownKey: %v", err)
	}
	if authz.ID == 0 {
		t.Fatal("expected a created authorization with a nonzero ID")
	}

	state, err := s.ExpectedState(ctx, host.ID)
	if err != nil {
		t.Fatalf("ExpectedState: %v", err)
	}
	if len(state.PerLogin["deploy"].Entries) != 1 {
		t.Fatalf("expected the allowed key to show up in expected state, got %+v", state.PerLogin)
	}
}

func TestDeleteHostCascadesAuthorizations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	host, err := s.CreateHost(ctx, testHost("fleet-c"))
	if err != nil {
		t.Fatalf("CreateHost: %v", err)
	}
	user := mustCreateUser(t, s, "erin", true)
	if _, err := s.CreateAuthorization(ctx, auth(host.ID, user.ID, "deploy", "")); err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}

	if err := s.DeleteHost(ctx, host.ID); err != nil {
		t.Fatalf("DeleteHost: %v", err)
	}

	if _, err := s.GetHostByID(ctx, host.ID); err == nil {
		t.Fatal("expected the host to be gone after DeleteHost")
	}

	state, err := s.ExpectedState(ctx, host.ID)
	if err != nil {
		t.Fatalf("ExpectedState: %v", err)
	}
	if len(state.PerLogin) != 0 {
		t.Fatalf("expected no authorizations to survive DeleteHost, got %+v", state.PerLogin)
	}
}
