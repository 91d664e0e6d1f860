package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"backoffice.io/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

func (s *Store) FindRoleByID(ctx context.Context, id string) (*auth.Role, error) {
	if id == "" {
		return nil, auth.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `select id, name, active from roles where id = $1`, id)
	return s.loadRole(ctx, row)
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	if name == "" {
		return nil, auth.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `select id, name, active from roles where upper(name) = upper($1)`, name)
	return s.loadRole(ctx, row)
}

func (s *Store) loadRole(ctx context.Context, row *sql.Row) (*auth.Role, error) {
	var role auth.Role
	err := row.Scan(&role.ID, &role.Name, &role.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.active
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, role.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Active); err != nil {
			return nil, err
		}
		role.Permissions = append(role.Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &role, nil
}

// userRoles loads the roles of a user with their permissions in one query.
func (s *Store) userRoles(ctx context.Context, userID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.active, p.id, p.name, p.active
		from user_roles ur
		join roles r on r.id = ur.role_id
		left join role_permissions rp on rp.role_id = r.id
		left join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		order by r.name, p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		roles []auth.Role
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			role       auth.Role
			permID     sql.NullString
			permName   sql.NullString
			permActive sql.NullBool
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Active, &permID, &permName, &permActive); err != nil {
			return nil, err
		}
		i, ok := index[role.ID]
		if !ok {
			roles = append(roles, role)
			i = len(roles) - 1
			index[role.ID] = i
		}
		if permID.Valid {
			roles[i].Permissions = append(roles[i].Permissions, auth.Permission{
				ID:     permID.String,
				Name:   permName.String,
				Active: permActive.Bool,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
