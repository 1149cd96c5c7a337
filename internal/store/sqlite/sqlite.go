// Package sqlite provides a file-or-memory store used by tests and
// single-node deployments. Schema mirrors the postgres driver with JSON
// columns stored as TEXT.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/parcelwatch/parcelwatch/internal/model"
	"github.com/parcelwatch/parcelwatch/internal/store"
)

// Open opens (and creates if needed) the SQLite database at path. Use
// ":memory:" for an ephemeral store.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The driver opens lazily; force the file open now.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewWithDB constructs a SQLite-backed store.
func NewWithDB(db *sql.DB) store.Store { return &liteStore{db: db} }

type liteStore struct{ db *sql.DB }

func (s *liteStore) Users() store.Users       { return &users{db: s.db} }
func (s *liteStore) Packages() store.Packages { return &packages{db: s.db} }
func (s *liteStore) Sessions() store.Sessions { return &sessions{db: s.db} }
func (s *liteStore) History() store.History   { return &history{db: s.db} }

func (s *liteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS logged_users (
        identifier         INTEGER PRIMARY KEY,
        chat_identifier    INTEGER NOT NULL,
        first_name         TEXT NOT NULL DEFAULT '',
        language_code      TEXT NOT NULL DEFAULT 'en',
        username           TEXT NOT NULL UNIQUE,
        password           TEXT NOT NULL,
        salt               TEXT NOT NULL,
        authorized_users   TEXT NOT NULL DEFAULT '[]',
        unauthorized_users TEXT NOT NULL DEFAULT '[]'
    )`,
	`CREATE TABLE IF NOT EXISTS packages (
        identifier         TEXT PRIMARY KEY,
        username           TEXT NOT NULL,
        tracking           TEXT NOT NULL,
        description        TEXT NOT NULL DEFAULT '',
        weight             REAL NOT NULL DEFAULT 0,
        status_description TEXT NOT NULL DEFAULT '',
        status_percentage  TEXT NOT NULL DEFAULT '',
        delivered_at       TIMESTAMP,
        updated_at         TIMESTAMP NOT NULL
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS packages_tracking_idx ON packages (tracking)`,
	`CREATE INDEX IF NOT EXISTS packages_username_idx ON packages (username)`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
        chat_identifier INTEGER PRIMARY KEY,
        user_identifier INTEGER NOT NULL,
        scope           TEXT NOT NULL,
        messages        TEXT NOT NULL DEFAULT '[]',
        attempting_user TEXT,
        last_update_at  TIMESTAMP NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS package_history (
        id                 TEXT PRIMARY KEY,
        package_id         TEXT NOT NULL,
        status_description TEXT NOT NULL DEFAULT '',
        status_percentage  TEXT NOT NULL DEFAULT '',
        weight             REAL NOT NULL DEFAULT 0,
        recorded_at        TIMESTAMP NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS package_history_package_idx ON package_history (package_id, recorded_at)`,
}

// EnsureSchema creates tables and indexes; safe to call repeatedly.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- Users ---
type users struct{ db *sql.DB }

const userColumns = `identifier, chat_identifier, first_name, language_code, username, password, salt, authorized_users, unauthorized_users`

func (u *users) Create(ctx context.Context, m *model.LoggedUser) error {
	auth, unauth, err := marshalSets(m)
	if err != nil {
		return err
	}
	_, err = u.db.ExecContext(ctx, `
        INSERT INTO logged_users (identifier, chat_identifier, first_name, language_code, username, password, salt, authorized_users, unauthorized_users)
        VALUES (?,?,?,?,?,?,?,?,?)
    `, m.Identifier, m.ChatIdentifier, m.FirstName, m.LanguageCode, m.Username, m.Password, m.Salt, auth, unauth)
	return err
}

func (u *users) GetByIdentifier(ctx context.Context, id int64) (*model.LoggedUser, error) {
	row := u.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM logged_users WHERE identifier=?`, id)
	return scanUser(row)
}

func (u *users) GetByUsername(ctx context.Context, username string) (*model.LoggedUser, error) {
	row := u.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM logged_users WHERE username=?`, username)
	return scanUser(row)
}

// OwnerOf scans all users; secondary sets are small and SQLite deployments
// are single-node, so there is no JSON containment index to lean on.
func (u *users) OwnerOf(ctx context.Context, secondaryID int64) (*model.LoggedUser, error) {
	list, err := u.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		for _, s := range m.AuthorizedUsers {
			if s.Identifier == secondaryID {
				return m, nil
			}
		}
	}
	return nil, model.ErrNotFound
}

func (u *users) Exists(ctx context.Context, id int64) (bool, error) {
	if _, err := u.GetByIdentifier(ctx, id); err == nil {
		return true, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return false, err
	}
	if _, err := u.OwnerOf(ctx, id); err == nil {
		return true, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return false, err
	}
	return false, nil
}

func (u *users) List(ctx context.Context) ([]*model.LoggedUser, error) {
	rows, err := u.db.QueryContext(ctx, `SELECT `+userColumns+` FROM logged_users ORDER BY identifier`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.LoggedUser
	for rows.Next() {
		m, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (u *users) Update(ctx context.Context, m *model.LoggedUser) error {
	auth, unauth, err := marshalSets(m)
	if err != nil {
		return err
	}
	res, err := u.db.ExecContext(ctx, `
        UPDATE logged_users
        SET chat_identifier=?, first_name=?, language_code=?, username=?, password=?, salt=?,
            authorized_users=?, unauthorized_users=?
        WHERE identifier=?
    `, m.ChatIdentifier, m.FirstName, m.LanguageCode, m.Username, m.Password, m.Salt, auth, unauth, m.Identifier)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (u *users) UpdateBatch(ctx context.Context, list []*model.LoggedUser) error {
	tx, err := u.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, m := range list {
		auth, unauth, err := marshalSets(m)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
            UPDATE logged_users
            SET chat_identifier=?, first_name=?, language_code=?, password=?, salt=?,
                authorized_users=?, unauthorized_users=?
            WHERE identifier=?
        `, m.ChatIdentifier, m.FirstName, m.LanguageCode, m.Password, m.Salt, auth, unauth, m.Identifier); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (u *users) Delete(ctx context.Context, id int64) error {
	_, err := u.db.ExecContext(ctx, `DELETE FROM logged_users WHERE identifier=?`, id)
	return err
}

func (u *users) SetAuthorized(ctx context.Context, ownerID int64, s model.SecondaryUser) error {
	return u.setMembership(ctx, ownerID, s, true)
}

func (u *users) SetUnauthorized(ctx context.Context, ownerID int64, s model.SecondaryUser) error {
	return u.setMembership(ctx, ownerID, s, false)
}

func (u *users) setMembership(ctx context.Context, ownerID int64, s model.SecondaryUser, authorized bool) error {
	m, err := u.GetByIdentifier(ctx, ownerID)
	if err != nil {
		return err
	}
	m.AuthorizedUsers = removeSecondary(m.AuthorizedUsers, s.Identifier)
	m.UnauthorizedUsers = removeSecondary(m.UnauthorizedUsers, s.Identifier)
	if authorized {
		m.AuthorizedUsers = append(m.AuthorizedUsers, s)
	} else {
		m.UnauthorizedUsers = append(m.UnauthorizedUsers, s)
	}
	return u.Update(ctx, m)
}

func (u *users) RemoveAuthorized(ctx context.Context, ownerID, secondaryID int64) error {
	m, err := u.GetByIdentifier(ctx, ownerID)
	if err != nil {
		return err
	}
	m.AuthorizedUsers = removeSecondary(m.AuthorizedUsers, secondaryID)
	return u.Update(ctx, m)
}

// --- Packages ---
type packages struct{ db *sql.DB }

const packageColumns = `identifier, username, tracking, description, weight, status_description, status_percentage, delivered_at, updated_at`

func (p *packages) UpsertBatch(ctx context.Context, pkgs []model.Package) error {
	if len(pkgs) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertPackages(ctx, tx, pkgs); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *packages) ApplyChanges(ctx context.Context, pkgs []model.Package, records []model.PackageHistory) error {
	if len(pkgs) == 0 && len(records) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertPackages(ctx, tx, pkgs); err != nil {
		return err
	}
	if err := insertHistory(ctx, tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertPackages(ctx context.Context, db execer, pkgs []model.Package) error {
	now := time.Now().UTC()
	for _, pkg := range pkgs {
		if _, err := db.ExecContext(ctx, `
            INSERT INTO packages (identifier, username, tracking, description, weight, status_description, status_percentage, delivered_at, updated_at)
            VALUES (?,?,?,?,?,?,?,?,?)
            ON CONFLICT (identifier) DO UPDATE SET
                username=excluded.username, tracking=excluded.tracking, description=excluded.description,
                weight=excluded.weight, status_description=excluded.status_description,
                status_percentage=excluded.status_percentage, delivered_at=excluded.delivered_at,
                updated_at=excluded.updated_at
        `, pkg.Identifier, pkg.Username, pkg.Tracking, pkg.Description, pkg.Weight,
			pkg.Status.Description, pkg.Status.Percentage, nullTime(pkg.DeliveredAt), now); err != nil {
			return err
		}
	}
	return nil
}

func (p *packages) ListPending(ctx context.Context) ([]model.Package, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT `+packageColumns+` FROM packages WHERE status_description <> ? ORDER BY identifier
    `, model.StatusDelivered.Description)
	if err != nil {
		return nil, err
	}
	return scanPackages(rows)
}

func (p *packages) ListByUsername(ctx context.Context, username string) ([]model.Package, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT `+packageColumns+` FROM packages WHERE username=? ORDER BY identifier
    `, username)
	if err != nil {
		return nil, err
	}
	return scanPackages(rows)
}

func (p *packages) DeleteByUsername(ctx context.Context, username string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM packages WHERE username=?`, username)
	return err
}

// --- Sessions ---
type sessions struct{ db *sql.DB }

func (s *sessions) Upsert(ctx context.Context, cs *model.ChatSession) error {
	return upsertSession(ctx, s.db, cs)
}

func (s *sessions) UpsertBatch(ctx context.Context, list []*model.ChatSession) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, cs := range list {
		if err := upsertSession(ctx, tx, cs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertSession(ctx context.Context, db execer, cs *model.ChatSession) error {
	msgs, err := json.Marshal(cs.Messages)
	if err != nil {
		return err
	}
	var attempting interface{}
	if cs.AttemptingUser != nil {
		b, err := json.Marshal(cs.AttemptingUser)
		if err != nil {
			return err
		}
		attempting = string(b)
	}
	_, err = db.ExecContext(ctx, `
        INSERT INTO chat_sessions (chat_identifier, user_identifier, scope, messages, attempting_user, last_update_at)
        VALUES (?,?,?,?,?,?)
        ON CONFLICT (chat_identifier) DO UPDATE SET
            user_identifier=excluded.user_identifier, scope=excluded.scope,
            messages=excluded.messages, attempting_user=excluded.attempting_user,
            last_update_at=excluded.last_update_at
    `, cs.ChatIdentifier, cs.UserIdentifier, string(cs.Scope), string(msgs), attempting, cs.LastUpdateAt)
	return err
}

func (s *sessions) Get(ctx context.Context, chatID int64) (*model.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT chat_identifier, user_identifier, scope, messages, attempting_user, last_update_at
        FROM chat_sessions WHERE chat_identifier=?
    `, chatID)
	return scanSession(row)
}

func (s *sessions) Delete(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE chat_identifier=?`, chatID)
	return err
}

func (s *sessions) List(ctx context.Context) ([]*model.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT chat_identifier, user_identifier, scope, messages, attempting_user, last_update_at
        FROM chat_sessions
    `)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.ChatSession
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// --- History ---
type history struct{ db *sql.DB }

func (h *history) Append(ctx context.Context, records []model.PackageHistory) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := h.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertHistory(ctx, tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

func insertHistory(ctx context.Context, db execer, records []model.PackageHistory) error {
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := db.ExecContext(ctx, `
            INSERT INTO package_history (id, package_id, status_description, status_percentage, weight, recorded_at)
            VALUES (?,?,?,?,?,?)
        `, id, r.PackageID, r.Status.Description, r.Status.Percentage, r.Weight, r.RecordedAt); err != nil {
			return err
		}
	}
	return nil
}

func (h *history) ListByPackage(ctx context.Context, packageID string) ([]model.PackageHistory, error) {
	rows, err := h.db.QueryContext(ctx, `
        SELECT id, package_id, status_description, status_percentage, weight, recorded_at
        FROM package_history WHERE package_id=? ORDER BY recorded_at
    `, packageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.PackageHistory
	for rows.Next() {
		var r model.PackageHistory
		if err := rows.Scan(&r.ID, &r.PackageID, &r.Status.Description, &r.Status.Percentage, &r.Weight, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*model.LoggedUser, error) {
	var m model.LoggedUser
	var auth, unauth string
	if err := row.Scan(&m.Identifier, &m.ChatIdentifier, &m.FirstName, &m.LanguageCode,
		&m.Username, &m.Password, &m.Salt, &auth, &unauth); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(auth), &m.AuthorizedUsers); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(unauth), &m.UnauthorizedUsers); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanSession(row rowScanner) (*model.ChatSession, error) {
	var cs model.ChatSession
	var scope, msgs string
	var attempting sql.NullString
	if err := row.Scan(&cs.ChatIdentifier, &cs.UserIdentifier, &scope, &msgs, &attempting, &cs.LastUpdateAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	cs.Scope = model.SessionScope(scope)
	if err := json.Unmarshal([]byte(msgs), &cs.Messages); err != nil {
		return nil, err
	}
	if attempting.Valid && attempting.String != "" {
		cs.AttemptingUser = &model.SecondaryUser{}
		if err := json.Unmarshal([]byte(attempting.String), cs.AttemptingUser); err != nil {
			return nil, err
		}
	}
	return &cs, nil
}

func scanPackages(rows *sql.Rows) ([]model.Package, error) {
	defer func() { _ = rows.Close() }()
	var out []model.Package
	for rows.Next() {
		var p model.Package
		var delivered sql.NullTime
		if err := rows.Scan(&p.Identifier, &p.Username, &p.Tracking, &p.Description, &p.Weight,
			&p.Status.Description, &p.Status.Percentage, &delivered, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if delivered.Valid {
			p.DeliveredAt = delivered.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func marshalSets(m *model.LoggedUser) (string, string, error) {
	authRaw, err := json.Marshal(emptyIfNil(m.AuthorizedUsers))
	if err != nil {
		return "", "", err
	}
	unauthRaw, err := json.Marshal(emptyIfNil(m.UnauthorizedUsers))
	if err != nil {
		return "", "", err
	}
	return string(authRaw), string(unauthRaw), nil
}

func emptyIfNil(s []model.SecondaryUser) []model.SecondaryUser {
	if s == nil {
		return []model.SecondaryUser{}
	}
	return s
}

func removeSecondary(set []model.SecondaryUser, id int64) []model.SecondaryUser {
	out := set[:0]
	for _, s := range set {
		if s.Identifier != id {
			out = append(out, s)
		}
	}
	return out
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
