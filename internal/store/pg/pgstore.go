package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"backoffice.io/internal/auth"
	"backoffice.io/internal/ids"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists users, roles and permissions in PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ auth.IdentityStore = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const userColumns = `id, username, email, password_hash, active, created_at, updated_at, last_login_at`

func (s *Store) FindByUsernameOrEmail(ctx context.Context, usernameOrEmail string) (*auth.User, error) {
	key := auth.Normalize(usernameOrEmail)
	if key == "" {
		return nil, auth.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where username = $1 or email = $1
		limit 1
	`, key)
	return s.loadUser(ctx, row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.User, error) {
	if id == "" {
		return nil, auth.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id)
	return s.loadUser(ctx, row)
}

func (s *Store) loadUser(ctx context.Context, row *sql.Row) (*auth.User, error) {
	var (
		u         auth.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLoginAt = &t
	}
	roles, err := s.userRoles(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	u.Roles = roles
	return &u, nil
}

// Save inserts u when it has no ID and updates it otherwise. Role
// assignments are replaced by u.Roles in the same transaction.
func (s *Store) Save(ctx context.Context, u *auth.User) error {
	if u == nil {
		return fmt.Errorf("%w: user is required", auth.ErrInvalidInput)
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	id := u.ID
	if id == "" {
		id = ids.New()
		_, err = tx.ExecContext(ctx, `
			insert into users (`+userColumns+`)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, u.Username, u.Email, u.PasswordHash, u.Active, u.CreatedAt, u.UpdatedAt, nullTime(u.LastLoginAt))
		if err != nil {
			return mapWriteError(err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			update users
			set username = $2, email = $3, password_hash = $4, active = $5, updated_at = $6, last_login_at = $7
			where id = $1
		`, id, u.Username, u.Email, u.PasswordHash, u.Active, u.UpdatedAt, nullTime(u.LastLoginAt))
		if err != nil {
			return mapWriteError(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return auth.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, id); err != nil {
			return err
		}
	}

	for _, role := range u.Roles {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id) values ($1, $2)
			on conflict do nothing
		`, id, role.ID); err != nil {
			return mapWriteError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	u.ID = id
	return nil
}

// TouchLastLogin records a successful login without rewriting the rest of the row.
func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: unknown role", auth.ErrInvalidInput)
		}
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
