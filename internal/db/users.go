package db

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/telecrm/backend/internal/models"
)

// usersQuery derives assigned_count from the leads table instead of keeping a
// counter column in sync.
func usersQuery() sq.SelectBuilder {
	return psql.Select("u.id", "u.username", "u.password_hash", "u.user_type", "u.created_at", "COUNT(l.id)").
		From("users u").
		LeftJoin("leads l ON l.assigned_to = u.id").
		GroupBy("u.id").
		OrderBy("u.username ASC", "u.id ASC")
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		u        models.User
		userType string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &userType, &u.CreatedAt, &u.AssignedCount); err != nil {
		return models.User{}, err
	}
	u.UserType = models.Role(userType)
	return u, nil
}

func (s *Store) queryUsers(ctx context.Context, q sq.SelectBuilder) ([]models.User, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.queryUsers(ctx, usersQuery())
}

func (s *Store) ListTelecallers(ctx context.Context) ([]models.User, error) {
	return s.queryUsers(ctx, usersQuery().Where(sq.Eq{"u.user_type": string(models.RoleTeleCaller)}))
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	return s.getUser(ctx, usersQuery().Where(sq.Eq{"u.id": id}))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return s.getUser(ctx, usersQuery().Where(sq.Expr("LOWER(u.username) = ?", strings.ToLower(username))))
}

func (s *Store) getUser(ctx context.Context, q sq.SelectBuilder) (models.User, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return models.User{}, err
	}
	u, err := scanUser(s.Pool.QueryRow(ctx, query, args...))
	return u, notFound(err)
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO users (id, username, password_hash, user_type)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`, u.ID, u.Username, u.PasswordHash, string(u.UserType)).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// CreateFirstUser inserts u only while the directory is empty. The table lock
// serialises concurrent bootstrap attempts.
func (s *Store) CreateFirstUser(ctx context.Context, u *models.User) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users)`).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrNotEmpty
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO users (id, username, password_hash, user_type)
			VALUES ($1,$2,$3,$4)
			RETURNING created_at
		`, u.ID, u.Username, u.PasswordHash, string(u.UserType)).Scan(&u.CreatedAt)
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	})
}
