// Package session runs the registration wizard for one authenticated user at a time.
//
// A Controller owns the in-progress draft of a single user: it validates and
// merges step data, persists after every forward step, tracks document
// uploads and submits the registration. The Manager keeps one Controller per
// user and mirrors its local position into a Cache.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mkcompany/internal/realtime"
	"mkcompany/internal/registration/metrics"
	"mkcompany/internal/registration/models"
	"mkcompany/internal/registration/upload"
	"mkcompany/internal/registration/validation"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
	"mkcompany/pkg/platform/sentinel"
)

var tracer = otel.Tracer("mkcompany/internal/registration/session")

const (
	msgSaveFailed      = "your progress could not be saved, please try again"
	msgSubmitFailed    = "your registration could not be submitted, please try again"
	msgDocumentsNeeded = "a passport and an identity card must be uploaded"
)

// RegistrationStore is the persistence the wizard needs.
type RegistrationStore interface {
	FindLatestByUser(ctx context.Context, userID id.UserID) (*models.Registration, error)
	SaveDraft(ctx context.Context, reg *models.Registration) error
	Finalize(ctx context.Context, registrationID id.RegistrationID, userID id.UserID, now time.Time) (*models.Registration, error)
	ListDocuments(ctx context.Context, registrationID id.RegistrationID) ([]models.Document, error)
	FindJurisdiction(ctx context.Context, jurisdictionID id.JurisdictionID) (*models.Jurisdiction, error)
}

// Uploader stores one document for a registration.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request, progress func(int)) (*models.Document, error)
}

// ChangeNotifier announces row changes to realtime subscribers.
type ChangeNotifier interface {
	Publish(ctx context.Context, event realtime.ChangeEvent)
}

// Principal is the authenticated user a session belongs to.
type Principal struct {
	UserID id.UserID
	Email  string
}

// State is the wizard as presented to its user.
type State struct {
	Registration         *models.Registration `json:"registration"`
	Step                 models.Step          `json:"step"`
	Uploads              []models.UploadEntry `json:"uploads"`
	HasRequiredDocuments bool                 `json:"has_required_documents"`
	Editable             bool                 `json:"editable"`
	LastError            string               `json:"last_error,omitempty"`
	// Previous is the user's latest approved or rejected registration when
	// the wizard holds a new draft after it.
	Previous *models.Registration `json:"previous,omitempty"`
}

// Controller is the wizard of one user. Mutating operations are serialized;
// State and upload progress can be read while an upload runs.
type Controller struct {
	principal Principal
	store     RegistrationStore
	uploader  Uploader
	notifier  ChangeNotifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	queue     *upload.Queue
	sink      func(ctx context.Context, snap Snapshot)

	opMu sync.Mutex

	mu        sync.RWMutex
	draft     *models.Registration
	previous  *models.Registration
	step      models.Step
	lastError string
	hydrated  bool
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithNotifier(n ChangeNotifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithUploadWorkers sets how many files of one batch upload concurrently.
func WithUploadWorkers(n int) Option {
	return func(c *Controller) {
		c.queue = upload.NewQueue(n)
	}
}

// WithSnapshotSink receives the local wizard position after every change.
func WithSnapshotSink(sink func(ctx context.Context, snap Snapshot)) Option {
	return func(c *Controller) {
		c.sink = sink
	}
}

func NewController(p Principal, store RegistrationStore, uploader Uploader, opts ...Option) *Controller {
	c := &Controller{
		principal: p,
		store:     store,
		uploader:  uploader,
		logger:    slog.Default(),
		now:       time.Now,
		queue:     upload.NewQueue(1),
		step:      models.StepPersonal,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Principal() Principal {
	return c.principal
}

// Hydrate loads the user's most recent registration and jumps to its stored
// step. Without an open one, a fresh step-1 draft prefilled with the user's
// email is prepared; nothing is persisted until the first Advance. An
// approved or rejected registration stays visible as State.Previous.
func (c *Controller) Hydrate(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "session.Hydrate")
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.hydrateLocked(ctx, span)
}

func (c *Controller) hydrateLocked(ctx context.Context, span trace.Span) error {
	reg, err := c.store.FindLatestByUser(ctx, c.principal.UserID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		recordError(span, err)
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to load registration")
	}

	var (
		entries  []models.UploadEntry
		previous *models.Registration
	)
	if reg != nil && !reg.Status.IsOpen() {
		previous = reg
		reg = nil
	}
	if reg == nil {
		reg = models.NewDraft(c.principal.UserID, c.principal.Email)
	} else {
		docs, err := c.store.ListDocuments(ctx, reg.ID)
		if err != nil {
			recordError(span, err)
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to load documents")
		}
		entries = entriesFromDocuments(docs)
	}

	step := reg.CurrentStep
	if !step.IsValid() {
		step = models.StepPersonal
	}

	c.queue.Restore(entries)
	c.mu.Lock()
	c.draft = reg
	c.previous = previous
	c.step = step
	c.lastError = ""
	c.hydrated = true
	c.mu.Unlock()
	return nil
}

// Refresh reloads the registration when it changed in storage, for example
// after an administrator decision, and keeps the local position where it is
// still valid. It does nothing while another operation or upload is running.
func (c *Controller) Refresh(ctx context.Context) error {
	if !c.opMu.TryLock() {
		return nil
	}
	defer c.opMu.Unlock()
	if c.queue.Active() {
		return nil
	}

	c.mu.RLock()
	hydrated := c.hydrated
	local := c.draft
	previous := c.previous
	c.mu.RUnlock()
	if !hydrated {
		return nil
	}

	reg, err := c.store.FindLatestByUser(ctx, c.principal.UserID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		if !local.IsPersisted() {
			return nil
		}
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to load registration")
	case local.IsPersisted() && sameVersion(reg, local):
		return nil
	case !local.IsPersisted() && previous != nil && sameVersion(reg, previous):
		return nil
	}

	snap := c.Snapshot()
	ctx, span := c.startSpan(ctx, "session.Refresh")
	defer span.End()
	if err := c.hydrateLocked(ctx, span); err != nil {
		return err
	}
	c.restoreLocked(snap)
	return nil
}

func sameVersion(a, b *models.Registration) bool {
	return a.ID == b.ID && a.Status == b.Status && a.UpdatedAt.Equal(b.UpdatedAt)
}

// entriesFromDocuments rebuilds upload tracking from stored documents. A
// document rejected by a reviewer no longer counts as a successful upload.
func entriesFromDocuments(docs []models.Document) []models.UploadEntry {
	entries := make([]models.UploadEntry, 0, len(docs))
	for _, d := range docs {
		docID := d.ID
		e := models.UploadEntry{
			ID:           d.ID.String(),
			DocumentType: d.DocumentType,
			Filename:     d.OriginalFilename,
			Status:       models.UploadStatusDone,
			Progress:     100,
			DocumentID:   &docID,
			CreatedAt:    d.UploadedAt,
		}
		if d.Status == models.DocumentStatusRejected {
			e.Status = models.UploadStatusFailed
			e.Error = "rejected by reviewer"
			if d.AdminNotes != "" {
				e.Error += ": " + d.AdminNotes
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// Advance validates the current step against the merged draft, persists the
// draft with the next step number and only then moves forward. If persistence
// fails the step and draft stay as they were and LastError is set.
func (c *Controller) Advance(ctx context.Context, data models.StepData) (State, error) {
	ctx, span := c.startSpan(ctx, "session.Advance")
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.requireHydrated(); err != nil {
		return State{}, err
	}

	c.mu.RLock()
	step := c.step
	candidate := c.draft.Clone()
	c.mu.RUnlock()
	span.SetAttributes(attribute.Int("wizard.step", int(step)))

	if !candidate.IsEditable() {
		c.advanceFailed("state")
		return c.State(), dErrors.New(dErrors.CodeConflict, "registration has been submitted and can no longer be edited")
	}
	if step.IsLast() {
		c.advanceFailed("state")
		return c.State(), dErrors.New(dErrors.CodeConflict, "registration is ready for review; submit it instead")
	}

	data.ApplyTo(candidate)
	errs := validation.ValidateStep(step, candidate)
	if step == models.StepCompany && candidate.JurisdictionID != nil && errs["jurisdiction_id"] == "" {
		j, err := c.store.FindJurisdiction(ctx, *candidate.JurisdictionID)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			errs["jurisdiction_id"] = "jurisdiction does not exist"
		case err != nil:
			return c.persistenceFailure(ctx, span, err, msgSaveFailed)
		case !j.IsActive:
			errs["jurisdiction_id"] = "jurisdiction is not available"
		}
	}
	if step == models.StepDocuments && !validation.HasRequiredDocuments(c.queue.Entries()) {
		errs["documents"] = msgDocumentsNeeded
	}
	if !errs.OK() {
		c.advanceFailed("validation")
		return c.State(), errs.Err()
	}

	now := c.now().UTC()
	next := step.Next()
	candidate.CurrentStep = next
	if next > models.StepCompany && candidate.Status == models.StatusDraft {
		candidate.Status = models.StatusPendingDocuments
	}
	inserted := !candidate.IsPersisted()
	if inserted {
		candidate.ID = id.RegistrationID(uuid.New())
		candidate.CreatedAt = now
	}
	candidate.UpdatedAt = now

	if err := c.store.SaveDraft(ctx, candidate); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			c.setLastError(msgSaveFailed)
			c.advanceFailed("state")
			return c.State(), dErrors.New(dErrors.CodeConflict, "another registration is already in progress for this account")
		case errors.Is(err, sentinel.ErrInvalidState):
			c.setLastError(msgSaveFailed)
			c.advanceFailed("state")
			return c.State(), dErrors.New(dErrors.CodeConflict, "registration can no longer be edited")
		default:
			return c.persistenceFailure(ctx, span, err, msgSaveFailed)
		}
	}

	c.mu.Lock()
	c.draft = candidate
	c.step = next
	c.lastError = ""
	c.mu.Unlock()

	kind := realtime.KindUpdate
	if inserted {
		kind = realtime.KindInsert
	}
	c.notify(ctx, realtime.TableRegistrations, kind, candidate.ID.String())
	if c.metrics != nil {
		c.metrics.IncrementStepAdvanced(step.String())
	}
	c.logger.InfoContext(ctx, "registration step completed",
		"user_id", c.principal.UserID,
		"registration_id", candidate.ID,
		"step", int(step),
	)
	c.saveSnapshot(ctx)
	return c.State(), nil
}

// Retreat moves back one step locally. Nothing is persisted.
func (c *Controller) Retreat(ctx context.Context) (State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.requireHydrated(); err != nil {
		return State{}, err
	}
	c.mu.Lock()
	c.step = c.step.Prev()
	c.mu.Unlock()
	c.saveSnapshot(ctx)
	return c.State(), nil
}

// Finalize submits the registration for review. It only acts on the review
// step with both required documents uploaded; otherwise nothing changes.
// The store applies it only while the registration is still editable, so an
// administrator decision taken in between wins.
func (c *Controller) Finalize(ctx context.Context) (State, error) {
	ctx, span := c.startSpan(ctx, "session.Finalize")
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.requireHydrated(); err != nil {
		return State{}, err
	}

	c.mu.RLock()
	step := c.step
	draft := c.draft.Clone()
	c.mu.RUnlock()

	if !step.IsLast() || !draft.IsPersisted() {
		return c.State(), dErrors.New(dErrors.CodeConflict, "registration can only be submitted from the review step")
	}
	if !draft.IsEditable() {
		return c.State(), dErrors.New(dErrors.CodeConflict, "registration has already been submitted")
	}
	if !validation.HasRequiredDocuments(c.queue.Entries()) {
		return c.State(), dErrors.WithFields(dErrors.CodeValidation, msgDocumentsNeeded,
			map[string]string{"documents": msgDocumentsNeeded})
	}

	reg, err := c.store.Finalize(ctx, draft.ID, c.principal.UserID, c.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			c.setLastError(msgSubmitFailed)
			return c.State(), dErrors.New(dErrors.CodeConflict, "registration can no longer be submitted")
		case errors.Is(err, sentinel.ErrNotFound):
			c.setLastError(msgSubmitFailed)
			return c.State(), dErrors.New(dErrors.CodeNotFound, "registration not found")
		default:
			return c.persistenceFailure(ctx, span, err, msgSubmitFailed)
		}
	}

	c.mu.Lock()
	c.draft = reg
	c.step = models.StepReview
	c.lastError = ""
	c.mu.Unlock()

	c.notify(ctx, realtime.TableRegistrations, realtime.KindUpdate, reg.ID.String())
	if c.metrics != nil {
		c.metrics.IncrementFinalized()
	}
	c.logger.InfoContext(ctx, "registration submitted for review",
		"user_id", c.principal.UserID,
		"registration_id", reg.ID,
	)
	c.saveSnapshot(ctx)
	return c.State(), nil
}

// Upload queues files of one document type and uploads them through the
// queue. Per-file failures are reported on the returned entries; the error is
// only set when uploads are not possible at all.
func (c *Controller) Upload(ctx context.Context, documentType models.DocumentType, files ...upload.File) ([]models.UploadEntry, error) {
	ctx, span := c.startSpan(ctx, "session.Upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.type", string(documentType)),
		attribute.Int("upload.files", len(files)),
	)

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.requireHydrated(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, dErrors.WithFields(dErrors.CodeValidation, "no file provided", map[string]string{"file": "no file provided"})
	}

	c.mu.RLock()
	step := c.step
	draft := c.draft.Clone()
	c.mu.RUnlock()
	if !draft.IsPersisted() || step < models.StepDocuments {
		return nil, dErrors.New(dErrors.CodeConflict, "documents can be uploaded once company details are saved")
	}
	if !draft.IsEditable() {
		return nil, dErrors.New(dErrors.CodeConflict, "registration has been submitted and can no longer be edited")
	}

	items := make([]upload.Item, len(files))
	for i, f := range files {
		items[i] = upload.Item{DocumentType: documentType, File: f}
	}
	ids := c.queue.Enqueue(items...)
	c.saveSnapshot(ctx)

	c.queue.Process(ctx, ids, func(ctx context.Context, item upload.Item, progress func(int)) (*models.Document, error) {
		doc, err := c.uploader.Upload(ctx, upload.Request{
			Owner:          c.principal.UserID,
			RegistrationID: draft.ID,
			DocumentType:   item.DocumentType,
			File:           item.File,
		}, progress)
		if err != nil {
			c.logger.WarnContext(ctx, "document upload failed",
				"user_id", c.principal.UserID,
				"registration_id", draft.ID,
				"document_type", item.DocumentType,
				"error", err,
			)
			return nil, err
		}
		c.notify(ctx, realtime.TableDocuments, realtime.KindInsert, doc.ID.String())
		return doc, nil
	})
	c.saveSnapshot(ctx)

	out := make([]models.UploadEntry, 0, len(ids))
	for _, entryID := range ids {
		if e, ok := c.queue.Get(entryID); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// RemoveUpload cancels a queued or running upload, or drops a failed entry so
// the file can be sent again. Completed uploads cannot be removed.
func (c *Controller) RemoveUpload(ctx context.Context, entryID string) error {
	e, ok := c.queue.Get(entryID)
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "upload not found")
	}
	var err error
	switch e.Status {
	case models.UploadStatusFailed:
		err = c.queue.Remove(entryID)
	case models.UploadStatusQueued, models.UploadStatusUploading:
		err = c.queue.Cancel(entryID)
	default:
		return dErrors.New(dErrors.CodeConflict, "completed uploads cannot be removed")
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "upload not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeConflict, "upload has already finished")
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel upload")
	}
	c.saveSnapshot(ctx)
	return nil
}

// Uploads returns the upload entries in the order they were added.
func (c *Controller) Uploads() []models.UploadEntry {
	return c.queue.Entries()
}

// State returns a copy of the wizard state.
func (c *Controller) State() State {
	entries := c.queue.Entries()
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := State{
		Registration:         c.draft.Clone(),
		Step:                 c.step,
		Uploads:              entries,
		HasRequiredDocuments: validation.HasRequiredDocuments(entries),
		LastError:            c.lastError,
		Previous:             c.previous.Clone(),
	}
	if c.draft != nil {
		st.Editable = c.draft.IsEditable()
	}
	return st
}

// busy reports whether an operation or upload is in flight.
func (c *Controller) busy() bool {
	if !c.opMu.TryLock() {
		return true
	}
	defer c.opMu.Unlock()
	return c.queue.Active()
}

func (c *Controller) requireHydrated() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hydrated {
		return dErrors.New(dErrors.CodeInternal, "session is not loaded")
	}
	return nil
}

func (c *Controller) persistenceFailure(ctx context.Context, span trace.Span, err error, msg string) (State, error) {
	recordError(span, err)
	c.setLastError(msg)
	c.advanceFailed("persistence")
	c.logger.ErrorContext(ctx, "registration persistence failed",
		"user_id", c.principal.UserID,
		"error", err,
	)
	return c.State(), dErrors.Wrap(err, dErrors.CodePersistence, msg)
}

func (c *Controller) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

func (c *Controller) advanceFailed(reason string) {
	if c.metrics != nil {
		c.metrics.IncrementAdvanceFailure(reason)
	}
}

func (c *Controller) notify(ctx context.Context, table string, kind realtime.Kind, rowID string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Publish(ctx, realtime.ChangeEvent{
		Table: table,
		Kind:  kind,
		RowID: rowID,
		At:    c.now().UTC(),
	})
}

func (c *Controller) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("user.id", c.principal.UserID.String()),
	))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
