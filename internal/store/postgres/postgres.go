package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/parcelwatch/parcelwatch/internal/model"
	"github.com/parcelwatch/parcelwatch/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Users() store.Users       { return &users{db: s.db} }
func (s *pgStore) Packages() store.Packages { return &packages{db: s.db} }
func (s *pgStore) Sessions() store.Sessions { return &sessions{db: s.db} }
func (s *pgStore) History() store.History   { return &history{db: s.db} }

// HealthPing implements health.HealthPinger for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS logged_users (
        identifier         BIGINT PRIMARY KEY,
        chat_identifier    BIGINT NOT NULL,
        first_name         TEXT NOT NULL DEFAULT '',
        language_code      TEXT NOT NULL DEFAULT 'en',
        username           TEXT NOT NULL UNIQUE,
        password           TEXT NOT NULL,
        salt               TEXT NOT NULL,
        authorized_users   JSONB NOT NULL DEFAULT '[]',
        unauthorized_users JSONB NOT NULL DEFAULT '[]'
    )`,
	`CREATE INDEX IF NOT EXISTS logged_users_authorized_idx ON logged_users USING GIN (authorized_users)`,
	`CREATE INDEX IF NOT EXISTS logged_users_unauthorized_idx ON logged_users USING GIN (unauthorized_users)`,
	`CREATE TABLE IF NOT EXISTS packages (
        identifier         TEXT PRIMARY KEY,
        username           TEXT NOT NULL,
        tracking           TEXT NOT NULL,
        description        TEXT NOT NULL DEFAULT '',
        weight             DOUBLE PRECISION NOT NULL DEFAULT 0,
        status_description TEXT NOT NULL DEFAULT '',
        status_percentage  TEXT NOT NULL DEFAULT '',
        delivered_at       TIMESTAMPTZ,
        updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS packages_tracking_idx ON packages (tracking)`,
	`CREATE INDEX IF NOT EXISTS packages_username_idx ON packages (username)`,
	`CREATE INDEX IF NOT EXISTS packages_status_idx ON packages (status_description, status_percentage)`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
        chat_identifier BIGINT PRIMARY KEY,
        user_identifier BIGINT NOT NULL,
        scope           TEXT NOT NULL,
        messages        JSONB NOT NULL DEFAULT '[]',
        attempting_user JSONB,
        last_update_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE TABLE IF NOT EXISTS package_history (
        id                 UUID PRIMARY KEY,
        package_id         TEXT NOT NULL,
        status_description TEXT NOT NULL DEFAULT '',
        status_percentage  TEXT NOT NULL DEFAULT '',
        weight             DOUBLE PRECISION NOT NULL DEFAULT 0,
        recorded_at        TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (u *users) Create(ctx context.Context, m *model.LoggedUser) error {
	auth, unauth, err := marshalSets(m)
	if err != nil {
		return err
	}
	_, err = u.db.ExecContext(ctx, `
        INSERT INTO logged_users (identifier, chat_identifier, first_name, language_code, username, password, salt, authorized_users, unauthorized_users)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `, m.Identifier, m.ChatIdentifier, m.FirstName, m.LanguageCode, m.Username, m.Password, m.Salt, auth, unauth)
	return err
}

const userColumns = `identifier, chat_identifier, first_name, language_code, username, password, salt, authorized_users, unauthorized_users`

func (u *users) GetByIdentifier(ctx context.Context, id int64) (*model.LoggedUser, error) {
	row := u.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM logged_users WHERE identifier=$1`, id)
	return scanUser(row)
}

func (u *users) GetByUsername(ctx context.Context, username string) (*model.LoggedUser, error) {
	row := u.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM logged_users WHERE username=$1`, username)
	return scanUser(row)
}

func (u *users) OwnerOf(ctx context.Context, secondaryID int64) (*model.LoggedUser, error) {
	match, _ := json.Marshal([]map[string]int64{{"identifier": secondaryID}})
	row := u.db.QueryRowContext(ctx, `
        SELECT `+userColumns+` FROM logged_users WHERE authorized_users @> $1::jsonb
    `, match)
	return scanUser(row)
}

func (u *users) Exists(ctx context.Context, id int64) (bool, error) {
	match, _ := json.Marshal([]map[string]int64{{"identifier": id}})
	var n int
	err := u.db.QueryRowContext(ctx, `
        SELECT count(*) FROM logged_users WHERE identifier=$1 OR authorized_users @> $2::jsonb
    `, id, match).Scan(&n)
	return n > 0, err
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
        SET chat_identifier=$2, first_name=$3, language_code=$4, username=$5, password=$6, salt=$7,
            authorized_users=$8, unauthorized_users=$9
        WHERE identifier=$1
    `, m.Identifier, m.ChatIdentifier, m.FirstName, m.LanguageCode, m.Username, m.Password, m.Salt, auth, unauth)
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
            SET chat_identifier=$2, first_name=$3, language_code=$4, password=$5, salt=$6,
                authorized_users=$7, unauthorized_users=$8
            WHERE identifier=$1
        `, m.Identifier, m.ChatIdentifier, m.FirstName, m.LanguageCode, m.Password, m.Salt, auth, unauth); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (u *users) Delete(ctx context.Context, id int64) error {
	_, err := u.db.ExecContext(ctx, `DELETE FROM logged_users WHERE identifier=$1`, id)
	return err
}

func (u *users) SetAuthorized(ctx context.Context, ownerID int64, s model.SecondaryUser) error {
	return u.setMembership(ctx, ownerID, s, true)
}

func (u *users) SetUnauthorized(ctx context.Context, ownerID int64, s model.SecondaryUser) error {
	return u.setMembership(ctx, ownerID, s, false)
}

// setMembership moves the secondary user into exactly one of the two sets.
// Read-modify-write under a row lock keeps the exclusivity invariant.
func (u *users) setMembership(ctx context.Context, ownerID int64, s model.SecondaryUser, authorized bool) error {
	tx, err := u.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM logged_users WHERE identifier=$1 FOR UPDATE`, ownerID)
	m, err := scanUser(row)
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
	auth, unauth, err := marshalSets(m)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE logged_users SET authorized_users=$2, unauthorized_users=$3 WHERE identifier=$1
    `, ownerID, auth, unauth); err != nil {
		return err
	}
	return tx.Commit()
}

func (u *users) RemoveAuthorized(ctx context.Context, ownerID, secondaryID int64) error {
	tx, err := u.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM logged_users WHERE identifier=$1 FOR UPDATE`, ownerID)
	m, err := scanUser(row)
	if err != nil {
		return err
	}
	m.AuthorizedUsers = removeSecondary(m.AuthorizedUsers, secondaryID)
	auth, unauth, err := marshalSets(m)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE logged_users SET authorized_users=$2, unauthorized_users=$3 WHERE identifier=$1
    `, ownerID, auth, unauth); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Packages ---
type packages struct{ db *sql.DB }

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
	for _, pkg := range pkgs {
		if _, err := db.ExecContext(ctx, `
            INSERT INTO packages (identifier, username, tracking, description, weight, status_description, status_percentage, delivered_at, updated_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
            ON CONFLICT (identifier) DO UPDATE SET
                username=EXCLUDED.username, tracking=EXCLUDED.tracking, description=EXCLUDED.description,
                weight=EXCLUDED.weight, status_description=EXCLUDED.status_description,
                status_percentage=EXCLUDED.status_percentage, delivered_at=EXCLUDED.delivered_at,
                updated_at=now()
        `, pkg.Identifier, pkg.Username, pkg.Tracking, pkg.Description, pkg.Weight,
			pkg.Status.Description, pkg.Status.Percentage, nullTime(pkg.DeliveredAt)); err != nil {
			return err
		}
	}
	return nil
}

const packageColumns = `identifier, username, tracking, description, weight, status_description, status_percentage, delivered_at, updated_at`

func (p *packages) ListPending(ctx context.Context) ([]model.Package, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT `+packageColumns+` FROM packages WHERE status_description <> $1 ORDER BY identifier
    `, model.StatusDelivered.Description)
	if err != nil {
		return nil, err
	}
	return scanPackages(rows)
}

func (p *packages) ListByUsername(ctx context.Context, username string) ([]model.Package, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT `+packageColumns+` FROM packages WHERE username=$1 ORDER BY identifier
    `, username)
	if err != nil {
		return nil, err
	}
	return scanPackages(rows)
}

func (p *packages) DeleteByUsername(ctx context.Context, username string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM packages WHERE username=$1`, username)
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
		attempting = b
	}
	_, err = db.ExecContext(ctx, `
        INSERT INTO chat_sessions (chat_identifier, user_identifier, scope, messages, attempting_user, last_update_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (chat_identifier) DO UPDATE SET
            user_identifier=EXCLUDED.user_identifier, scope=EXCLUDED.scope,
            messages=EXCLUDED.messages, attempting_user=EXCLUDED.attempting_user,
            last_update_at=EXCLUDED.last_update_at
    `, cs.ChatIdentifier, cs.UserIdentifier, string(cs.Scope), msgs, attempting, cs.LastUpdateAt)
	return err
}

func (s *sessions) Get(ctx context.Context, chatID int64) (*model.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT chat_identifier, user_identifier, scope, messages, attempting_user, last_update_at
        FROM chat_sessions WHERE chat_identifier=$1
    `, chatID)
	return scanSession(row)
}

func (s *sessions) Delete(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE chat_identifier=$1`, chatID)
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
            VALUES ($1,$2,$3,$4,$5,$6)
        `, id, r.PackageID, r.Status.Description, r.Status.Percentage, r.Weight, r.RecordedAt); err != nil {
			return err
		}
	}
	return nil
}

func (h *history) ListByPackage(ctx context.Context, packageID string) ([]model.PackageHistory, error) {
	rows, err := h.db.QueryContext(ctx, `
        SELECT id, package_id, status_description, status_percentage, weight, recorded_at
        FROM package_history WHERE package_id=$1 ORDER BY recorded_at
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
	var auth, unauth []byte
	if err := row.Scan(&m.Identifier, &m.ChatIdentifier, &m.FirstName, &m.LanguageCode,
		&m.Username, &m.Password, &m.Salt, &auth, &unauth); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(auth, &m.AuthorizedUsers); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(unauth, &m.UnauthorizedUsers); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanSession(row rowScanner) (*model.ChatSession, error) {
	var cs model.ChatSession
	var scope string
	var msgs []byte
	var attempting []byte
	if err := row.Scan(&cs.ChatIdentifier, &cs.UserIdentifier, &scope, &msgs, &attempting, &cs.LastUpdateAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	cs.Scope = model.SessionScope(scope)
	if err := json.Unmarshal(msgs, &cs.Messages); err != nil {
		return nil, err
	}
	if len(attempting) > 0 {
		cs.AttemptingUser = &model.SecondaryUser{}
		if err := json.Unmarshal(attempting, cs.AttemptingUser); err != nil {
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

func marshalSets(m *model.LoggedUser) ([]byte, []byte, error) {
	auth, err := json.Marshal(emptyIfNil(m.AuthorizedUsers))
	if err != nil {
		return nil, nil, err
	}
	unauth, err := json.Marshal(emptyIfNil(m.UnauthorizedUsers))
	if err != nil {
		return nil, nil, err
	}
	return auth, unauth, nil
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
