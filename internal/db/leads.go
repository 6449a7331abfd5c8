package db

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/telecrm/backend/internal/models"
)

var leadColumns = []string{
	"id", "name", "email", "phone", "description", "status",
	"assigned_to", "assigned_at", "added_by", "created_at", "updated_at",
}

const leadReturning = "RETURNING id, name, email, phone, description, status, assigned_to, assigned_at, added_by, created_at, updated_at"

func scanLead(row rowScanner) (models.Lead, error) {
	var (
		l      models.Lead
		status string
	)
	err := row.Scan(&l.ID, &l.Name, &l.Email, &l.Phone, &l.Description, &status,
		&l.AssignedTo, &l.AssignedAt, &l.AddedBy, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return models.Lead{}, err
	}
	l.Status = models.Status(status)
	return l, nil
}

// ListLeads returns leads matching the filter, oldest first.
func (s *Store) ListLeads(ctx context.Context, f models.LeadFilter) ([]models.Lead, error) {
	q := psql.Select(leadColumns...).From("leads")
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Assigned != nil {
		if *f.Assigned {
			q = q.Where(sq.NotEq{"assigned_to": nil})
		} else {
			q = q.Where(sq.Eq{"assigned_to": nil})
		}
	}
	if f.AssignedTo != "" {
		q = q.Where(sq.Eq{"assigned_to": f.AssignedTo})
	}
	if f.CreatedFrom != nil {
		q = q.Where(sq.GtOrEq{"created_at": *f.CreatedFrom})
	}
	if f.CreatedTo != nil {
		q = q.Where(sq.LtOrEq{"created_at": *f.CreatedTo})
	}
	if len(f.IDs) > 0 {
		q = q.Where(sq.Eq{"id": f.IDs})
	}
	q = q.OrderBy("created_at ASC", "id ASC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) GetLead(ctx context.Context, id string) (models.Lead, error) {
	query, args, err := psql.Select(leadColumns...).From("leads").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return models.Lead{}, err
	}
	l, err := scanLead(s.Pool.QueryRow(ctx, query, args...))
	return l, notFound(err)
}

func (s *Store) CreateLead(ctx context.Context, l *models.Lead) error {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO leads (id, name, email, phone, description, status, added_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at
	`, l.ID, l.Name, l.Email, l.Phone, l.Description, string(l.Status), l.AddedBy).Scan(&l.CreatedAt, &l.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// InsertLeads inserts in one transaction and skips leads whose phone already
// exists. It returns how many rows were actually inserted.
func (s *Store) InsertLeads(ctx context.Context, leads []models.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, l := range leads {
			batch.Queue(`
				INSERT INTO leads (id, name, email, phone, description, status, added_by)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				ON CONFLICT (phone) DO NOTHING
			`, l.ID, l.Name, l.Email, l.Phone, l.Description, string(l.Status), l.AddedBy)
		}
		results := tx.SendBatch(ctx, batch)
		for range leads {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return err
			}
			inserted += int(tag.RowsAffected())
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) UpdateLead(ctx context.Context, id string, patch models.LeadPatch) (models.Lead, error) {
	return s.updateLead(ctx, id, "", patch)
}

// UpdateOwnedLead applies the patch only while the lead is assigned to owner.
// A lead that moved to someone else yields ErrConflict.
func (s *Store) UpdateOwnedLead(ctx context.Context, id, owner string, patch models.LeadPatch) (models.Lead, error) {
	return s.updateLead(ctx, id, owner, patch)
}

func (s *Store) updateLead(ctx context.Context, id, owner string, patch models.LeadPatch) (models.Lead, error) {
	q := psql.Update("leads").Set("updated_at", sq.Expr("NOW()"))
	if patch.Name != nil {
		q = q.Set("name", *patch.Name)
	}
	if patch.Email != nil {
		q = q.Set("email", *patch.Email)
	}
	if patch.Phone != nil {
		q = q.Set("phone", *patch.Phone)
	}
	if patch.Description != nil {
		q = q.Set("description", *patch.Description)
	}
	if patch.Status != nil {
		q = q.Set("status", string(*patch.Status))
	}
	q = q.Where(sq.Eq{"id": id})
	if owner != "" {
		q = q.Where(sq.Eq{"assigned_to": owner})
	}
	query, args, err := q.Suffix(leadReturning).ToSql()
	if err != nil {
		return models.Lead{}, err
	}

	row := s.Pool.QueryRow(ctx, query, args...)
	if owner != "" {
		l, err := s.conditional(ctx, id, row)
		if isUniqueViolation(err) {
			return models.Lead{}, ErrConflict
		}
		return l, err
	}
	l, err := scanLead(row)
	if isUniqueViolation(err) {
		return models.Lead{}, ErrConflict
	}
	return l, notFound(err)
}

func (s *Store) DeleteLead(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignLead sets the owner only while the lead is still unassigned.
func (s *Store) AssignLead(ctx context.Context, leadID, telecallerID string) (models.Lead, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE leads SET assigned_to = $1, assigned_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND assigned_to IS NULL
		`+leadReturning, telecallerID, leadID)
	return s.conditional(ctx, leadID, row)
}

// ReassignLead moves the lead only while it is still owned by from.
func (s *Store) ReassignLead(ctx context.Context, leadID, from, to string) (models.Lead, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE leads SET assigned_to = $1, assigned_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND assigned_to = $3
		`+leadReturning, to, leadID, from)
	return s.conditional(ctx, leadID, row)
}

// UnassignLead clears the owner of an assigned lead whose status is still pending.
func (s *Store) UnassignLead(ctx context.Context, leadID string) (models.Lead, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE leads SET assigned_to = NULL, assigned_at = NULL, updated_at = NOW()
		WHERE id = $1 AND assigned_to IS NOT NULL AND status = 'pending'
		`+leadReturning, leadID)
	return s.conditional(ctx, leadID, row)
}

func (s *Store) conditional(ctx context.Context, leadID string, row pgx.Row) (models.Lead, error) {
	l, err := scanLead(row)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Lead{}, err
	}
	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, leadID).Scan(&exists); err != nil {
		return models.Lead{}, err
	}
	if !exists {
		return models.Lead{}, ErrNotFound
	}
	return models.Lead{}, ErrConflict
}

func (s *Store) Stats(ctx context.Context, since *time.Time) (models.Stats, error) {
	stats := models.Stats{ByStatus: map[models.Status]int{}, Telecallers: []models.TelecallerLoad{}}

	q := psql.Select("status", "COUNT(*)", "COUNT(*) FILTER (WHERE assigned_to IS NULL)").From("leads").GroupBy("status")
	if since != nil {
		q = q.Where(sq.GtOrEq{"created_at": *since})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return stats, err
	}
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var (
			status            string
			count, unassigned int
		)
		if err := rows.Scan(&status, &count, &unassigned); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByStatus[models.Status(status)] = count
		stats.Total += count
		stats.Unassigned += unassigned
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = s.Pool.Query(ctx, `
		SELECT u.id, u.username, COUNT(l.id), COUNT(l.id) FILTER (WHERE l.status = 'pending')
		FROM users u
		LEFT JOIN leads l ON l.assigned_to = u.id
		WHERE u.user_type = 'TeleCaller'
		GROUP BY u.id, u.username
		ORDER BY u.username ASC, u.id ASC
	`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var t models.TelecallerLoad
		if err := rows.Scan(&t.ID, &t.Username, &t.Assigned, &t.Pending); err != nil {
			return stats, err
		}
		stats.Telecallers = append(stats.Telecallers, t)
	}
	return stats, rows.Err()
}
