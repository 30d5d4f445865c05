package realtime

import (
	"context"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const subscriberBuffer = 16

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mkcompany_realtime_events_published_total",
		Help: "Change events published, by table",
	}, []string{"table"})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mkcompany_realtime_events_dropped_total",
		Help: "Change events not delivered because a subscriber was slow",
	})
)

type subscription struct {
	tables []string
	ch     chan ChangeEvent
}

func (s *subscription) wants(table string) bool {
	return len(s.tables) == 0 || slices.Contains(s.tables, table)
}

// Hub fans change events out to in-process subscribers. A subscriber whose
// buffer is full misses that event.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscription)}
}

// Subscribe returns a channel of events for the given tables, or for every
// table when none are given. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, tables ...string) <-chan ChangeEvent {
	sub := &subscription{
		tables: slices.Clone(tables),
		ch:     make(chan ChangeEvent, subscriberBuffer),
	}

	h.mu.Lock()
	key := h.next
	h.next++
	h.subs[key] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, key)
		close(sub.ch)
		h.mu.Unlock()
	}()
	return sub.ch
}

func (h *Hub) Publish(_ context.Context, event ChangeEvent) {
	eventsPublished.WithLabelValues(event.Table).Inc()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.wants(event.Table) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			eventsDropped.Inc()
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
