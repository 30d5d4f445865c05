// Package realtime broadcasts coarse row-change events so admin views know
// when to re-fetch a table.
package realtime

import (
	"context"
	"time"
)

type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Tables that produce change events.
const (
	TableRegistrations = "registrations"
	TableDocuments     = "documents"
	TableProfiles      = "profiles"
	TableNotifications = "notifications"
	TableAdminActions  = "admin_actions"
)

// ChangeEvent says that a row changed. It carries no row data; subscribers
// reload what they display.
type ChangeEvent struct {
	Table string    `json:"table"`
	Kind  Kind      `json:"kind"`
	RowID string    `json:"row_id,omitempty"`
	At    time.Time `json:"at"`
}

// Publisher accepts change events. Publishing never blocks on subscribers.
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent)
}

// Subscriber hands out event streams limited to a set of tables.
type Subscriber interface {
	Subscribe(ctx context.Context, tables ...string) <-chan ChangeEvent
}
