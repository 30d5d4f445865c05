package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	id "mkcompany/pkg/domain"
	audit "mkcompany/pkg/platform/audit"
	txcontext "mkcompany/pkg/platform/tx"
)

// Store appends admin actions to the admin_actions table. When a
// transaction is carried in the context the insert joins it, so an action
// is only recorded if the mutation it describes commits.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, action audit.AdminAction) error {
	metadata := action.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal admin action metadata: %w", err)
	}

	var targetUser *uuid.UUID
	if action.TargetUserID != nil && !action.TargetUserID.IsNil() {
		u := uuid.UUID(*action.TargetUserID)
		targetUser = &u
	}

	query := `
		INSERT INTO admin_actions (
			id, admin_id, target_user_id, action_type, target_type, target_id,
			description, metadata, request_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(action.ID),
		uuid.UUID(action.AdminID),
		targetUser,
		string(action.ActionType),
		action.TargetType,
		action.TargetID,
		action.Description,
		metaJSON,
		action.RequestID,
		action.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert admin action: %w", err)
	}
	return nil
}

// ListRecent returns up to limit actions, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.AdminAction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, admin_id, target_user_id, action_type, target_type, target_id,
			description, metadata, request_id, created_at
		FROM admin_actions
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list admin actions: %w", err)
	}
	defer rows.Close()

	var actions []audit.AdminAction
	for rows.Next() {
		var (
			a          audit.AdminAction
			actionID   uuid.UUID
			adminID    uuid.UUID
			targetUser uuid.NullUUID
			actionType string
			metaJSON   []byte
		)
		if err := rows.Scan(&actionID, &adminID, &targetUser, &actionType, &a.TargetType, &a.TargetID,
			&a.Description, &metaJSON, &a.RequestID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin action: %w", err)
		}
		a.ID = id.AdminActionID(actionID)
		a.AdminID = id.UserID(adminID)
		a.ActionType = audit.ActionType(actionType)
		if targetUser.Valid {
			u := id.UserID(targetUser.UUID)
			a.TargetUserID = &u
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode admin action metadata: %w", err)
			}
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin actions: %w", err)
	}
	return actions, nil
}
