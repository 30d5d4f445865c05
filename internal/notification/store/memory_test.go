package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mkcompany/internal/notification/models"
	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
)

func newNotification(userID id.UserID, at time.Time) *models.Notification {
	return &models.Notification{
		ID:        id.NotificationID(uuid.New()),
		UserID:    userID,
		Title:     "Documents received",
		Message:   "We are reviewing your filing.",
		Type:      models.TypeInfo,
		CreatedAt: at,
	}
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	owner := id.UserID(uuid.New())
	other := id.UserID(uuid.New())

	t.Run("lists newest first and only for the owner", func(t *testing.T) {
		s := NewInMemory()
		older := newNotification(owner, base)
		newer := newNotification(owner, base.Add(time.Minute))
		require.NoError(t, s.Insert(ctx, older))
		require.NoError(t, s.Insert(ctx, newer))
		require.NoError(t, s.Insert(ctx, newNotification(other, base)))

		list, err := s.ListForUser(ctx, owner, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)
	})

	t.Run("limit caps the result", func(t *testing.T) {
		s := NewInMemory()
		for i := range 3 {
			require.NoError(t, s.Insert(ctx, newNotification(owner, base.Add(time.Duration(i)*time.Second))))
		}
		list, err := s.ListForUser(ctx, owner, 2)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("list all covers every recipient newest first", func(t *testing.T) {
		s := NewInMemory()
		first := newNotification(owner, base)
		last := newNotification(other, base.Add(time.Minute))
		require.NoError(t, s.Insert(ctx, first))
		require.NoError(t, s.Insert(ctx, last))

		list, err := s.ListAll(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, last.ID, list[0].ID)
		assert.Equal(t, first.ID, list[1].ID)

		list, err = s.ListAll(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("mark read is owner only", func(t *testing.T) {
		s := NewInMemory()
		n := newNotification(owner, base)
		require.NoError(t, s.Insert(ctx, n))

		assert.ErrorIs(t, s.MarkRead(ctx, n.ID, other), sentinel.ErrNotFound)
		require.NoError(t, s.MarkRead(ctx, n.ID, owner))

		list, err := s.ListForUser(ctx, owner, 10)
		require.NoError(t, err)
		assert.True(t, list[0].Read)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		s := NewInMemory()
		assert.ErrorIs(t, s.MarkRead(ctx, id.NotificationID(uuid.New()), owner), sentinel.ErrNotFound)
	})
}
