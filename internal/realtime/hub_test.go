package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return ChangeEvent{}
	}
}

func TestHub_FiltersByTable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()

	docs := hub.Subscribe(ctx, TableDocuments)
	all := hub.Subscribe(ctx)

	hub.Publish(ctx, ChangeEvent{Table: TableRegistrations, Kind: KindUpdate, RowID: "r1"})
	hub.Publish(ctx, ChangeEvent{Table: TableDocuments, Kind: KindInsert, RowID: "d1"})

	assert.Equal(t, "r1", receive(t, all).RowID)
	assert.Equal(t, "d1", receive(t, all).RowID)
	assert.Equal(t, "d1", receive(t, docs).RowID)
	assert.Empty(t, docs)
}

func TestHub_SlowSubscriberMissesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	ch := hub.Subscribe(ctx)

	for range subscriberBuffer + 5 {
		hub.Publish(ctx, ChangeEvent{Table: TableProfiles, Kind: KindUpdate})
	}
	assert.Len(t, ch, subscriberBuffer, "publish never blocks on a full buffer")
}

func TestHub_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	ch := hub.Subscribe(ctx)
	require.Equal(t, 1, hub.Subscribers())

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestParseTables(t *testing.T) {
	tables, err := parseTables(" registrations, documents ,")
	require.NoError(t, err)
	assert.Equal(t, []string{TableRegistrations, TableDocuments}, tables)

	_, err = parseTables("payments")
	assert.Error(t, err)

	tables, err = parseTables("")
	require.NoError(t, err)
	assert.Nil(t, tables)
}
