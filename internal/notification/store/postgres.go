package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"mkcompany/internal/notification/models"
	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
	txcontext "mkcompany/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Insert(ctx context.Context, n *models.Notification) error {
	var createdBy uuid.NullUUID
	if n.CreatedBy != nil {
		createdBy = uuid.NullUUID{UUID: uuid.UUID(*n.CreatedBy), Valid: true}
	}
	query := `
		INSERT INTO notifications (id, user_id, title, message, type, read, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(n.ID),
		uuid.UUID(n.UserID),
		n.Title,
		n.Message,
		string(n.Type),
		n.Read,
		createdBy,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

const notificationColumns = `id, user_id, title, message, type, read, created_by, created_at`

func (s *PostgresStore) ListForUser(ctx context.Context, userID id.UserID, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return scanNotifications(rows)
}

// ListAll returns up to limit notifications of every user, newest first.
func (s *PostgresStore) ListAll(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list all notifications: %w", err)
	}
	return scanNotifications(rows)
}

func scanNotifications(rows *sql.Rows) ([]models.Notification, error) {
	defer rows.Close()
	out := []models.Notification{}
	for rows.Next() {
		var (
			n         models.Notification
			nID       uuid.UUID
			owner     uuid.UUID
			typ       string
			createdBy uuid.NullUUID
		)
		if err := rows.Scan(&nID, &owner, &n.Title, &n.Message, &typ, &n.Read, &createdBy, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ID = id.NotificationID(nID)
		n.UserID = id.UserID(owner)
		n.Type = models.Type(typ)
		if createdBy.Valid {
			c := id.UserID(createdBy.UUID)
			n.CreatedBy = &c
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, notificationID id.NotificationID, userID id.UserID) error {
	query := `UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(notificationID), uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
