// package bunrepo is the bun-backed implementation of repository.Repository.
// It mirrors the dialect-dispatch-by-driver-name shape and "small focused
// adapter" style of the database layer it was grounded on, generalized to
// the engine's own entity set (hosts, users, keys, authorizations) instead
// of accounts/public keys.
package bunrepo // import "github.com/securesshmanager/ssm/internal/repository/bunrepo"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/go-sql-driver/mysql" // registers the "mysql" database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"              // registers the "sqlite" database/sql driver

	"github.com/securesshmanager/ssm/internal/model"
	"github.com/securesshmanager/ssm/internal/repository"
)

// sqlDriverName maps a configured driver name to the database/sql driver
// name that must be registered for it: pgx's stdlib driver self-registers
// as "pgx" rather than "postgres".
func sqlDriverName(driver string) string {
	if driver == "postgres" {
		return "pgx"
	}
	return driver
}

// Store is a bun-backed repository.Repository over sqlite, postgres, or
// mysql, selected by driver name at Open time.
type Store struct {
	db *bun.DB
}

var _ repository.Repository = (*Store)(nil)

// Open opens a sql.DB for the given driver and DSN, selects the matching
// bun dialect, and ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	sqlDB, err := sql.Open(sqlDriverName(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var dialect bun.Dialect
	switch driver {
	case "sqlite":
		dialect = sqlitedialect.New()
	case "postgres", "pgx":
		dialect = pgdialect.New()
	case "mysql":
		dialect = mysqldialect.New()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	bunDB := bun.NewDB(sqlDB, dialect)
	s := &Store{db: bunDB}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// BunDB exposes the underlying *bun.DB for diagnostics.
func (s *Store) BunDB() *bun.DB { return s.db }

// Close releases the underlying *sql.DB's connections.
func (s *Store) Close() error { return s.db.Close() }

// migrate creates every managed table if it does not already exist. This
// system ships no separate SQL migration files; the schema is simple and
// stable enough that bun's own CreateTable builder is the single source of
// truth, in the same spirit as the teacher's embedded-SQL-migrations-at-
// startup model but without a forward/backward migration history to track.
func (s *Store) migrate(ctx context.Context) error {
	models := []interface{}{
		(*HostModel)(nil),
		(*UserModel)(nil),
		(*UserKeyModel)(nil),
		(*AuthorizationModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Hosts

func (s *Store) ListHosts(ctx context.Context) ([]model.Host, error) {
	var rows []HostModel
	if err := s.db.NewSelect().Model(&rows).OrderExpr("name").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Host, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) GetHostByID(ctx context.Context, id int) (model.Host, error) {
	var row HostModel
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Host{}, fmt.Errorf("host %d: %w", id, errNotFound)
	}
	if err != nil {
		return model.Host{}, err
	}
	return row.toModel(), nil
}

func (s *Store) GetHostByName(ctx context.Context, name string) (model.Host, error) {
	var row HostModel
	err := s.db.NewSelect().Model(&row).Where("name = ?", name).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Host{}, fmt.Errorf("host %q: %w", name, errNotFound)
	}
	if err != nil {
		return model.Host{}, err
	}
	return row.toModel(), nil
}

func (s *Store) CreateHost(ctx context.Context, h model.Host) (model.Host, error) {
	row := hostModelFrom(h)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return model.Host{}, err
	}
	return row.toModel(), nil
}

func (s *Store) UpdateHost(ctx context.Context, h model.Host) error {
	row := hostModelFrom(h)
	_, err := s.db.NewUpdate().Model(&row).WherePK().Exec(ctx)
	return err
}

// DeleteHost removes a host and every Authorization row scoped to it in one
// transaction: sqlite/mysql/postgres all run without foreign-key cascade
// rules configured here, so the authorizations cleanup has to be explicit
// rather than left to the schema.
func (s *Store) DeleteHost(ctx context.Context, id int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NewDelete().Model((*AuthorizationModel)(nil)).Where("host_id = ?", id).Exec(ctx); err != nil {
		return fmt.Errorf("delete authorizations for host %d: %w", id, err)
	}
	if _, err := tx.NewDelete().Model((*HostModel)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		return fmt.Errorf("delete host %d: %w", id, err)
	}
	return tx.Commit()
}

func (s *Store) SetHostKeyFingerprint(ctx context.Context, hostID int, fingerprint string) error {
	_, err := s.db.NewUpdate().
		Model((*HostModel)(nil)).
		Set("key_fingerprint = ?", fingerprint).
		Where("id = ?", hostID).
		Exec(ctx)
	return err
}

// Users and keys

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []UserModel
	if err := s.db.NewSelect().Model(&rows).OrderExpr("username").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int) (model.User, error) {
	var row UserModel
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %d: %w", id, errNotFound)
	}
	if err != nil {
		return model.User{}, err
	}
	return row.toModel(), nil
}

func (s *Store) ListUserKeys(ctx context.Context, userID int) ([]model.UserKey, error) {
	var rows []UserKeyModel
	err := s.db.NewSelect().Model(&rows).Where("user_id = ?", userID).OrderExpr("name").Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) CreateUserKey(ctx context.Context, k model.UserKey) (model.UserKey, error) {
	row := userKeyModelFrom(k)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return model.UserKey{}, err
	}
	return row.toModel(), nil
}

func (s *Store) FindUserKeyByFingerprint(ctx context.Context, fingerprint string) (model.UserKey, bool, error) {
	var rows []UserKeyModel
	if err := s.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return model.UserKey{}, false, err
	}
	for _, r := range rows {
		fp, err := r.toModel().Fingerprint()
		if err != nil {
			continue
		}
		if fp == fingerprint {
			return r.toModel(), true, nil
		}
	}
	return model.UserKey{}, false, nil
}

// Authorizations

func (s *Store) ExpectedState(ctx context.Context, hostID int) (model.ExpectedHostState, error) {
	rows, err := s.expectedRows(ctx, hostID, "")
	if err != nil {
		return model.ExpectedHostState{}, err
	}
	state := model.ExpectedHostState{HostID: hostID, PerLogin: make(map[string]model.ExpectedLogin)}
	for _, r := range rows {
		entry := expectedEntryFrom(r)
		login := state.PerLogin[r.Login]
		login.Entries = append(login.Entries, entry)
		state.PerLogin[r.Login] = login
	}
	return state, nil
}

func (s *Store) ExpectedLogin(ctx context.Context, hostID int, login string) (model.ExpectedLogin, error) {
	rows, err := s.expectedRows(ctx, hostID, login)
	if err != nil {
		return model.ExpectedLogin{}, err
	}
	var out model.ExpectedLogin
	for _, r := range rows {
		out.Entries = append(out.Entries, expectedEntryFrom(r))
	}
	return out, nil
}

func expectedEntryFrom(r expectedRow) model.ExpectedEntry {
	return model.ExpectedEntry{
		Key: model.UserKey{
			ID:           r.KeyID,
			KeyType:      r.KeyType,
			KeyBase64:    r.KeyBase64,
			Name:         r.KeyName,
			ExtraComment: r.KeyComment,
			UserID:       r.UserID,
		},
		Options: r.Options,
		OwningUser: model.User{
			ID:       r.UserID,
			Username: r.UserUsername,
			Enabled:  r.UserEnabled,
			Comment:  r.UserComment,
		},
	}
}

// expectedRows joins authorizations, user_keys, and users for the host
// (and optionally a single login), filtering disabled users. The join
// keeps the query single-round-trip the way the teacher's account/key
// joins do, rather than N+1 per-authorization lookups.
func (s *Store) expectedRows(ctx context.Context, hostID int, login string) ([]expectedRow, error) {
	var rows []expectedRow
	q := s.db.NewSelect().
		TableExpr("authorizations AS auth").
		ColumnExpr("auth.login AS login").
		ColumnExpr("auth.options AS options").
		ColumnExpr("uk.id AS key_id").
		ColumnExpr("uk.key_type AS key_type").
		ColumnExpr("uk.key_base64 AS key_base64").
		ColumnExpr("uk.name AS key_name").
		ColumnExpr("uk.extra_comment AS key_comment").
		ColumnExpr("u.id AS user_id").
		ColumnExpr("u.username AS user_username").
		ColumnExpr("u.enabled AS user_enabled").
		ColumnExpr("u.comment AS user_comment").
		Join("JOIN users AS u ON u.id = auth.user_id").
		Join("JOIN user_keys AS uk ON uk.user_id = u.id").
		Where("auth.host_id = ?", hostID).
		Where("u.enabled = ?", true)
	if login != "" {
		q = q.Where("auth.login = ?", login)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) CreateAuthorization(ctx context.Context, a model.Authorization) (model.Authorization, error) {
	row := authorizationModelFrom(a)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return model.Authorization{}, err
	}
	return row.toModel(), nil
}

func (s *Store) DeleteAuthorization(ctx context.Context, id int) error {
	_, err := s.db.NewDelete().Model((*AuthorizationModel)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

func (s *Store) AllowUnknownKey(ctx context.Context, hostID int, login string, key model.UserKey, options string) (model.Authorization, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Authorization{}, err
	}
	defer func() { _ = tx.Rollback() }()

	keyID := key.ID
	if keyID == 0 {
		row := userKeyModelFrom(key)
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return model.Authorization{}, fmt.Errorf("create user key: %w", err)
		}
		keyID = row.ID
	}

	authRow := authorizationModelFrom(model.Authorization{
		HostID: hostID, UserID: key.UserID, Login: login, Options: options,
	})
	if _, err := tx.NewInsert().Model(&authRow).Exec(ctx); err != nil {
		return model.Authorization{}, fmt.Errorf("create authorization: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Authorization{}, err
	}
	return authRow.toModel(), nil
}

var errNotFound = errors.New("not found")
