// Package upload checks identity documents, writes them to object storage and
// records their metadata. It also provides the cancellable upload queue used
// by wizard sessions.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mkcompany/internal/registration/metrics"
	"mkcompany/internal/registration/models"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
)

const (
	defaultProgressInterval = 150 * time.Millisecond
	syntheticProgressStep   = 15
)

// DocumentStore persists document metadata rows.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *models.Document) error
}

// Request describes one document to upload for a registration.
type Request struct {
	Owner          id.UserID
	RegistrationID id.RegistrationID
	DocumentType   models.DocumentType
	File           File
}

// Adapter runs the upload pipeline: check, store the object, insert metadata.
type Adapter struct {
	objects          ObjectStore
	documents        DocumentStore
	checker          *Checker
	logger           *slog.Logger
	metrics          *metrics.Metrics
	now              func() time.Time
	progressInterval time.Duration
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// WithProgressInterval sets the tick of synthetic progress for stores that do not report it.
func WithProgressInterval(d time.Duration) Option {
	return func(a *Adapter) {
		a.progressInterval = d
	}
}

func NewAdapter(objects ObjectStore, documents DocumentStore, checker *Checker, opts ...Option) *Adapter {
	a := &Adapter{
		objects:          objects,
		documents:        documents,
		checker:          checker,
		logger:           slog.Default(),
		now:              time.Now,
		progressInterval: defaultProgressInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.checker == nil {
		a.checker = NewChecker(DefaultMaxFileSize)
	}
	return a
}

// ObjectPath namespaces a document as userId/registrationId/documentType_millis.ext.
func ObjectPath(owner id.UserID, registrationID id.RegistrationID, documentType models.DocumentType, at time.Time, ext string) string {
	return fmt.Sprintf("%s/%s/%s_%d%s", owner, registrationID, documentType, at.UnixMilli(), ext)
}

// Upload checks the file, stores it, and inserts its metadata row. progress
// receives values in 0..100; 100 is reported only once the row is stored.
// Failed uploads leave no document behind and may be retried by the caller.
func (a *Adapter) Upload(ctx context.Context, req Request, progress func(int)) (*models.Document, error) {
	start := time.Now()
	checked, err := a.checker.Check(req.File)
	if err != nil {
		a.observe(req.DocumentType, "rejected", 0, start)
		return nil, err
	}

	tracker := newProgressTracker(progress)
	tracker.set(0)

	now := a.now().UTC()
	obj := Object{
		Path:        ObjectPath(req.Owner, req.RegistrationID, req.DocumentType, now, checked.Extension),
		ContentType: checked.MimeType,
		Data:        checked.Data,
	}

	total := int64(len(checked.Data))
	var onBytes func(int64)
	stop := func() {}
	if pr, ok := a.objects.(ProgressReporter); ok && pr.ReportsProgress() {
		onBytes = func(written int64) { tracker.bytesWritten(written, total) }
	} else {
		stop = tracker.synthesize(a.progressInterval, syntheticProgressStep)
	}

	err = a.objects.Put(ctx, obj, onBytes)
	stop()
	if err != nil {
		a.observe(req.DocumentType, "failed", 0, start)
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		a.logger.ErrorContext(ctx, "failed to store document object",
			"path", obj.Path,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to store document")
	}

	doc := &models.Document{
		ID:               id.DocumentID(uuid.New()),
		RegistrationID:   req.RegistrationID,
		UserID:           req.Owner,
		DocumentType:     req.DocumentType,
		OriginalFilename: checked.Filename,
		StoragePath:      obj.Path,
		FileSize:         total,
		MimeType:         checked.MimeType,
		Status:           models.DocumentStatusPending,
		UploadedAt:       now,
	}
	if err := a.documents.InsertDocument(ctx, doc); err != nil {
		a.observe(req.DocumentType, "failed", 0, start)
		if delErr := a.objects.Delete(context.WithoutCancel(ctx), obj.Path); delErr != nil {
			a.logger.WarnContext(ctx, "failed to remove orphaned document object",
				"path", obj.Path,
				"error", delErr,
			)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to record document")
	}

	tracker.complete()
	a.observe(req.DocumentType, "success", total, start)
	return doc, nil
}

func (a *Adapter) observe(documentType models.DocumentType, result string, size int64, start time.Time) {
	if a.metrics != nil {
		a.metrics.ObserveUpload(string(documentType), result, size, start)
	}
}
