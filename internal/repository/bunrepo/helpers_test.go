package bunrepo

import (
	"context"
	"testing"

	"github.com/securesshmanager/ssm/internal/model"
)

func testHost(name string) model.Host {
	return model.Host{Name: name, Username: "root", Address: "10.0.0.1", Port: 22}
}

func auth(hostID, userID int, login, options string) model.Authorization {
	return model.Authorization{HostID: hostID, UserID: userID, Login: login, Options: options}
}

func keyFor(userID int, keyType, keyBase64 string) model.UserKey {
	return model.UserKey{KeyType: keyType, KeyBase64: keyBase64, UserID: userID}
}

func mustCreateUser(t *testing.T, s *Store, username string, enabled bool) model.User {
	t.Helper()
	row := UserModel{Username: username, Enabled: enabled}
	if _, err := s.db.NewInsert().Model(&row).Exec(context.Background()); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return row.toModel()
}

func mustCreateKey(t *testing.T, s *Store, userID int, keyType, keyBase64 string) model.UserKey {
	t.Helper()
	k, err := s.CreateUserKey(context.Background(), keyFor(userID, keyType, keyBase64))
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	return k
}
