package bunrepo

import (
	"database/sql"

	"github.com/uptrace/bun"

	"github.com/securesshmanager/ssm/internal/model"
)

// HostModel maps the hosts table for Bun queries.
type HostModel struct {
	bun.BaseModel `bun:"table:hosts"`

	ID             int            `bun:"id,pk,autoincrement"`
	Name           string         `bun:"name,notnull,unique"`
	Username       string         `bun:"username,notnull"`
	Address        string         `bun:"address,notnull"`
	Port           int            `bun:"port,notnull"`
	KeyFingerprint sql.NullString `bun:"key_fingerprint"`
	JumpVia        sql.NullInt64  `bun:"jump_via"`
	Disabled       bool           `bun:"disabled,notnull,default:false"`
	Comment        string         `bun:"comment"`
}

func (h HostModel) toModel() model.Host {
	out := model.Host{
		ID:       h.ID,
		Name:     h.Name,
		Username: h.Username,
		Address:  h.Address,
		Port:     h.Port,
		Disabled: h.Disabled,
		Comment:  h.Comment,
	}
	if h.KeyFingerprint.Valid {
		out.KeyFingerprint = h.KeyFingerprint.String
	}
	if h.JumpVia.Valid {
		v := int(h.JumpVia.Int64)
		out.JumpVia = &v
	}
	return out
}

func hostModelFrom(h model.Host) HostModel {
	out := HostModel{
		ID:       h.ID,
		Name:     h.Name,
		Username: h.Username,
		Address:  h.Address,
		Port:     h.Port,
		Disabled: h.Disabled,
		Comment:  h.Comment,
	}
	if h.KeyFingerprint != "" {
		out.KeyFingerprint = sql.NullString{String: h.KeyFingerprint, Valid: true}
	}
	if h.JumpVia != nil {
		out.JumpVia = sql.NullInt64{Int64: int64(*h.JumpVia), Valid: true}
	}
	return out
}

// UserModel maps the users table.
type UserModel struct {
	bun.BaseModel `bun:"table:users"`

	ID       int    `bun:"id,pk,autoincrement"`
	Username string `bun:"username,notnull,unique"`
	Enabled  bool   `bun:"enabled,notnull,default:true"`
	Comment  string `bun:"comment"`
}

func (u UserModel) toModel() model.User {
	return model.User{ID: u.ID, Username: u.Username, Enabled: u.Enabled, Comment: u.Comment}
}

// UserKeyModel maps the user_keys table.
type UserKeyModel struct {
	bun.BaseModel `bun:"table:user_keys"`

	ID           int    `bun:"id,pk,autoincrement"`
	KeyType      string `bun:"key_type,notnull"`
	KeyBase64    string `bun:"key_base64,notnull,unique"`
	Name         string `bun:"name"`
	ExtraComment string `bun:"extra_comment"`
	UserID       int    `bun:"user_id,notnull"`
}

func (k UserKeyModel) toModel() model.UserKey {
	return model.UserKey{
		ID:           k.ID,
		KeyType:      k.KeyType,
		KeyBase64:    k.KeyBase64,
		Name:         k.Name,
		ExtraComment: k.ExtraComment,
		UserID:       k.UserID,
	}
}

func userKeyModelFrom(k model.UserKey) UserKeyModel {
	return UserKeyModel{
		ID:           k.ID,
		KeyType:      k.KeyType,
		KeyBase64:    k.KeyBase64,
		Name:         k.Name,
		ExtraComment: k.ExtraComment,
		UserID:       k.UserID,
	}
}

// AuthorizationModel maps the authorizations table.
type AuthorizationModel struct {
	bun.BaseModel `bun:"table:authorizations"`

	ID      int    `bun:"id,pk,autoincrement"`
	HostID  int    `bun:"host_id,notnull"`
	UserID  int    `bun:"user_id,notnull"`
	Login   string `bun:"login,notnull"`
	Options string `bun:"options"`
	Comment string `bun:"comment"`
}

func (a AuthorizationModel) toModel() model.Authorization {
	return model.Authorization{
		ID: a.ID, HostID: a.HostID, UserID: a.UserID,
		Login: a.Login, Options: a.Options, Comment: a.Comment,
	}
}

func authorizationModelFrom(a model.Authorization) AuthorizationModel {
	return AuthorizationModel{
		ID: a.ID, HostID: a.HostID, UserID: a.UserID,
		Login: a.Login, Options: a.Options, Comment: a.Comment,
	}
}

// expectedRow is the shape of one joined row backing ExpectedState: an
// authorization's login and options alongside the owning user and their key.
type expectedRow struct {
	Login        string `bun:"login"`
	Options      string `bun:"options"`
	KeyID        int    `bun:"key_id"`
	KeyType      string `bun:"key_type"`
	KeyBase64    string `bun:"key_base64"`
	KeyName      string `bun:"key_name"`
	KeyComment   string `bun:"key_comment"`
	UserID       int    `bun:"user_id"`
	UserUsername string `bun:"user_username"`
	UserEnabled  bool   `bun:"user_enabled"`
	UserComment  string `bun:"user_comment"`
}
