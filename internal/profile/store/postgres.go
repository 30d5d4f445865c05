package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"mkcompany/internal/profile/models"
	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
	txcontext "mkcompany/pkg/platform/tx"
)

const profileColumns = `id, email, full_name, role, status, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p        models.Profile
		userID   uuid.UUID
		email    sql.NullString
		fullName sql.NullString
		role     string
		status   string
	)
	if err := row.Scan(&userID, &email, &fullName, &role, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = id.UserID(userID)
	p.Email = email.String
	p.FullName = fullName.String
	p.Role = id.Role(role)
	p.Status = models.Status(status)
	return &p, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(userID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return p, nil
}

// List returns every profile, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at DESC`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	out := []models.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return out, nil
}

// Create inserts p, or returns sentinel.ErrConflict if the user already has a profile.
func (s *PostgresStore) Create(ctx context.Context, p *models.Profile) error {
	query := `
		INSERT INTO profiles (id, email, full_name, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID),
		sql.NullString{String: p.Email, Valid: p.Email != ""},
		sql.NullString{String: p.FullName, Valid: p.FullName != ""},
		string(p.Role),
		string(p.Status),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert profile rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// Execute locks the profile row, runs validate then mutate and writes the
// result back in the same transaction.
func (s *PostgresStore) Execute(ctx context.Context, userID id.UserID, validate func(*models.Profile) error, mutate func(*models.Profile)) (*models.Profile, error) {
	var out *models.Profile
	err := txcontext.Run(ctx, s.db, func(txCtx context.Context) error {
		exec := s.execer(txCtx)
		query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1 FOR UPDATE`
		p, err := scanProfile(exec.QueryRowContext(txCtx, query, uuid.UUID(userID)))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock profile: %w", err)
		}
		if err := validate(p); err != nil {
			return err
		}
		mutate(p)
		_, err = exec.ExecContext(txCtx,
			`UPDATE profiles SET email = $2, full_name = $3, role = $4, status = $5, updated_at = $6 WHERE id = $1`,
			uuid.UUID(p.ID),
			sql.NullString{String: p.Email, Valid: p.Email != ""},
			sql.NullString{String: p.FullName, Valid: p.FullName != ""},
			string(p.Role),
			string(p.Status),
			p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
