package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mkcompany/internal/profile/models"
	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewInMemory()
	userID := id.UserID(uuid.New())

	_, err := s.FindByID(ctx, userID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, s.Create(ctx, models.NewProfile(userID, "ada@example.com", id.RoleUser, now)))
	assert.ErrorIs(t, s.Create(ctx, models.NewProfile(userID, "other@example.com", id.RoleAdmin, now)), sentinel.ErrConflict)

	t.Run("execute applies mutation", func(t *testing.T) {
		p, err := s.Execute(ctx, userID,
			func(*models.Profile) error { return nil },
			func(p *models.Profile) { p.ApplyRole(id.RoleAdmin, now.Add(time.Hour)) },
		)
		require.NoError(t, err)
		assert.Equal(t, id.RoleAdmin, p.Role)

		stored, err := s.FindByID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, id.RoleAdmin, stored.Role)
		assert.Equal(t, now.Add(time.Hour), stored.UpdatedAt)
	})

	t.Run("failed validation leaves profile untouched", func(t *testing.T) {
		boom := errors.New("nope")
		_, err := s.Execute(ctx, userID,
			func(*models.Profile) error { return boom },
			func(p *models.Profile) { p.ApplyStatus(models.StatusSuspended, now) },
		)
		assert.ErrorIs(t, err, boom)

		stored, _ := s.FindByID(ctx, userID)
		assert.Equal(t, models.StatusActive, stored.Status)
	})

	t.Run("returned copies are detached", func(t *testing.T) {
		p, _ := s.FindByID(ctx, userID)
		p.Role = id.RoleSuperAdmin
		stored, _ := s.FindByID(ctx, userID)
		assert.NotEqual(t, id.RoleSuperAdmin, stored.Role)
	})
}

func TestInMemoryStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewInMemory()
	first := models.NewProfile(id.UserID(uuid.New()), "ada@example.com", id.RoleUser, now)
	second := models.NewProfile(id.UserID(uuid.New()), "grace@example.com", id.RoleUser, now.Add(time.Minute))
	require.NoError(t, s.Create(ctx, first))
	require.NoError(t, s.Create(ctx, second))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}
