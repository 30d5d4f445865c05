package upload

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"mkcompany/internal/registration/models"
	dErrors "mkcompany/pkg/domain-errors"
	"mkcompany/pkg/platform/sentinel"
)

// CanceledReason is the error recorded on entries cancelled by the user.
const CanceledReason = "canceled"

// Item is a file waiting in the queue.
type Item struct {
	DocumentType models.DocumentType
	File         File
}

// ProcessFunc uploads one item, reporting progress in 0..100.
type ProcessFunc func(ctx context.Context, item Item, progress func(int)) (*models.Document, error)

type queued struct {
	entry    models.UploadEntry
	item     Item
	cancel   context.CancelFunc
	canceled bool
}

// Queue tracks uploads through queued, uploading, done and failed. Items run
// on at most `workers` goroutines, in enqueue order, and can be cancelled
// individually while queued or uploading.
type Queue struct {
	mu      sync.Mutex
	items   []*queued
	workers int
	now     func() time.Time
}

func NewQueue(workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{workers: workers, now: time.Now}
}

// Enqueue adds items as queued entries and returns their ids.
func (q *Queue) Enqueue(items ...Item) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(items))
	for _, it := range items {
		e := &queued{
			entry: models.UploadEntry{
				ID:           ulid.Make().String(),
				DocumentType: it.DocumentType,
				Filename:     it.File.Filename,
				Status:       models.UploadStatusQueued,
				CreatedAt:    q.now().UTC(),
			},
			item: it,
		}
		q.items = append(q.items, e)
		ids = append(ids, e.entry.ID)
	}
	return ids
}

// Process runs the given queued entries through fn and returns once each has
// reached a terminal status. Entries cancelled before they start are skipped.
func (q *Queue) Process(ctx context.Context, ids []string, fn ProcessFunc) {
	var g errgroup.Group
	g.SetLimit(q.workers)
	for _, entryID := range ids {
		g.Go(func() error {
			q.run(ctx, entryID, fn)
			return nil
		})
	}
	_ = g.Wait()
}

func (q *Queue) run(ctx context.Context, entryID string, fn ProcessFunc) {
	itemCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	q.mu.Lock()
	e := q.find(entryID)
	if e == nil || e.entry.Status != models.UploadStatusQueued {
		q.mu.Unlock()
		return
	}
	e.entry.Status = models.UploadStatusUploading
	e.cancel = cancel
	item := e.item
	q.mu.Unlock()

	doc, err := fn(itemCtx, item, func(p int) { q.setProgress(entryID, p) })

	q.mu.Lock()
	defer q.mu.Unlock()
	e.cancel = nil
	e.item = Item{}
	switch {
	case err == nil && doc != nil:
		docID := doc.ID
		e.entry.Status = models.UploadStatusDone
		e.entry.Progress = 100
		e.entry.DocumentID = &docID
		e.entry.Error = ""
	case e.canceled:
		e.entry.Status = models.UploadStatusFailed
		e.entry.Error = CanceledReason
	default:
		e.entry.Status = models.UploadStatusFailed
		e.entry.Error = failureMessage(err)
	}
}

func (q *Queue) setProgress(entryID string, p int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e := q.find(entryID); e != nil && e.entry.Status == models.UploadStatusUploading && p > e.entry.Progress {
		e.entry.Progress = p
	}
}

// Cancel stops a queued or uploading entry. It returns sentinel.ErrNotFound for
// unknown ids and sentinel.ErrInvalidState for entries that already finished.
func (q *Queue) Cancel(entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.find(entryID)
	if e == nil {
		return sentinel.ErrNotFound
	}
	switch e.entry.Status {
	case models.UploadStatusQueued:
		e.entry.Status = models.UploadStatusFailed
		e.entry.Error = CanceledReason
		e.item = Item{}
		return nil
	case models.UploadStatusUploading:
		e.canceled = true
		if e.cancel != nil {
			e.cancel()
		}
		return nil
	default:
		return sentinel.ErrInvalidState
	}
}

// Remove drops a failed entry so the file can be uploaded again.
func (q *Queue) Remove(entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := slices.IndexFunc(q.items, func(e *queued) bool { return e.entry.ID == entryID })
	if idx < 0 {
		return sentinel.ErrNotFound
	}
	if q.items[idx].entry.Status != models.UploadStatusFailed {
		return sentinel.ErrInvalidState
	}
	q.items = slices.Delete(q.items, idx, idx+1)
	return nil
}

// Get returns a copy of one entry.
func (q *Queue) Get(entryID string) (models.UploadEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e := q.find(entryID); e != nil {
		return e.entry, true
	}
	return models.UploadEntry{}, false
}

// Entries returns a copy of every entry in enqueue order.
func (q *Queue) Entries() []models.UploadEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.UploadEntry, len(q.items))
	for i, e := range q.items {
		out[i] = e.entry
	}
	return out
}

// Restore replaces the queue contents with finished entries, for example those
// rebuilt from stored documents. Non-terminal entries are ignored.
func (q *Queue) Restore(entries []models.UploadEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	for _, entry := range entries {
		if entry.Status.IsTerminal() {
			q.items = append(q.items, &queued{entry: entry})
		}
	}
}

// Active reports whether any entry is queued or uploading.
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.ContainsFunc(q.items, func(e *queued) bool { return !e.entry.Status.IsTerminal() })
}

func (q *Queue) find(entryID string) *queued {
	for _, e := range q.items {
		if e.entry.ID == entryID {
			return e
		}
	}
	return nil
}

func failureMessage(err error) string {
	if err == nil {
		return "upload failed"
	}
	if de, ok := dErrors.As(err); ok && de.Code != dErrors.CodeInternal {
		return de.Message
	}
	return "upload failed"
}
