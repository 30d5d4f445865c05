package session

//go:generate mockgen -source=controller.go -destination=mocks/mocks.go -package=mocks RegistrationStore,Uploader,ChangeNotifier

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"mkcompany/internal/realtime"
	"mkcompany/internal/registration/models"
	"mkcompany/internal/registration/session/mocks"
	"mkcompany/internal/registration/upload"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
	"mkcompany/pkg/platform/sentinel"
)

// =============================================================================
// Controller Test Suite
// =============================================================================
// The controller owns the wizard position. Tests pin down that the step only
// moves after a successful save, that failures leave the draft untouched and
// that finalize and uploads respect their preconditions.

type ControllerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *mocks.MockRegistrationStore
	uploader  *mocks.MockUploader
	notifier  *mocks.MockChangeNotifier
	principal Principal
	now       time.Time
	snapshots []Snapshot
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockRegistrationStore(s.ctrl)
	s.uploader = mocks.NewMockUploader(s.ctrl)
	s.notifier = mocks.NewMockChangeNotifier(s.ctrl)
	s.principal = Principal{UserID: id.UserID(uuid.New()), Email: "ada@example.com"}
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.snapshots = nil
}

func (s *ControllerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ControllerSuite) newController() *Controller {
	return NewController(s.principal, s.store, s.uploader,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(s.notifier),
		WithClock(func() time.Time { return s.now }),
		WithSnapshotSink(func(_ context.Context, snap Snapshot) { s.snapshots = append(s.snapshots, snap) }),
	)
}

// hydrated returns a controller over an existing registration at the given
// step with the given documents.
func (s *ControllerSuite) hydrated(reg *models.Registration, docs ...models.Document) *Controller {
	s.store.EXPECT().FindLatestByUser(gomock.Any(), s.principal.UserID).Return(reg.Clone(), nil)
	s.store.EXPECT().ListDocuments(gomock.Any(), reg.ID).Return(docs, nil)
	c := s.newController()
	s.Require().NoError(c.Hydrate(context.Background()))
	return c
}

func (s *ControllerSuite) fresh() *Controller {
	s.store.EXPECT().FindLatestByUser(gomock.Any(), s.principal.UserID).Return(nil, sentinel.ErrNotFound)
	c := s.newController()
	s.Require().NoError(c.Hydrate(context.Background()))
	return c
}

func (s *ControllerSuite) registration(step models.Step, status models.Status) *models.Registration {
	jurisdiction := id.JurisdictionID(uuid.New())
	return &models.Registration{
		ID:               id.RegistrationID(uuid.New()),
		UserID:           s.principal.UserID,
		Email:            s.principal.Email,
		FirstName:        "Ada",
		LastName:         "Lovelace",
		CompanyName:      "Analytical Engines LLC",
		NumberOfPartners: 1,
		JurisdictionID:   &jurisdiction,
		BusinessType:     "SaaS",
		CurrentStep:      step,
		Status:           status,
		CreatedAt:        s.now.Add(-time.Hour),
		UpdatedAt:        s.now.Add(-time.Hour),
	}
}

func (s *ControllerSuite) document(regID id.RegistrationID, docType models.DocumentType, status models.DocumentStatus) models.Document {
	return models.Document{
		ID:               id.DocumentID(uuid.New()),
		RegistrationID:   regID,
		UserID:           s.principal.UserID,
		DocumentType:     docType,
		OriginalFilename: string(docType) + ".png",
		Status:           status,
		UploadedAt:       s.now.Add(-time.Minute),
	}
}

func ptr[T any](v T) *T {
	return &v
}

func pngFile(name string) upload.File {
	return upload.File{Filename: name, DeclaredType: "image/png", Size: 4, Body: bytes.NewReader([]byte("data"))}
}

// =============================================================================
// Hydrate
// =============================================================================

func (s *ControllerSuite) TestHydrate() {
	s.Run("no registration prepares a fresh draft", func() {
		c := s.fresh()
		st := c.State()
		s.Equal(models.StepPersonal, st.Step)
		s.Equal("ada@example.com", st.Registration.Email)
		s.False(st.Registration.IsPersisted())
		s.True(st.Editable)
		s.Empty(st.Uploads)
	})

	s.Run("existing registration resumes at its stored step", func() {
		reg := s.registration(models.StepDocuments, models.StatusPendingDocuments)
		passport := s.document(reg.ID, models.DocumentTypePassport, models.DocumentStatusPending)
		c := s.hydrated(reg, passport)

		st := c.State()
		s.Equal(models.StepDocuments, st.Step)
		s.Require().Len(st.Uploads, 1)
		s.Equal(models.UploadStatusDone, st.Uploads[0].Status)
		s.Equal(passport.ID, *st.Uploads[0].DocumentID)
		s.False(st.HasRequiredDocuments)
	})

	s.Run("rejected documents come back as failed uploads", func() {
		reg := s.registration(models.StepDocuments, models.StatusPendingDocuments)
		rejected := s.document(reg.ID, models.DocumentTypeIdentityCard, models.DocumentStatusRejected)
		rejected.AdminNotes = "blurry photo"
		c := s.hydrated(reg, rejected)

		st := c.State()
		s.Require().Len(st.Uploads, 1)
		s.Equal(models.UploadStatusFailed, st.Uploads[0].Status)
		s.Contains(st.Uploads[0].Error, "blurry photo")
	})

	s.Run("approved registration stays visible next to a fresh draft", func() {
		approved := s.registration(models.StepReview, models.StatusApproved)
		s.store.EXPECT().FindLatestByUser(gomock.Any(), s.principal.UserID).Return(approved.Clone(), nil)
		c := s.newController()
		s.Require().NoError(c.Hydrate(context.Background()))

		st := c.State()
		s.Equal(models.StepPersonal, st.Step)
		s.False(st.Registration.IsPersisted())
		s.True(st.Editable)
		s.Empty(st.Uploads)
		s.Require().NotNil(st.Previous)
		s.Equal(approved.ID, st.Previous.ID)
		s.Equal(models.StatusApproved, st.Previous.Status)
	})

	s.Run("store failure is a persistence error", func() {
		s.store.EXPECT().FindLatestByUser(gomock.Any(), s.principal.UserID).Return(nil, errors.New("connection reset"))
		c := s.newController()
		err := c.Hydrate(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodePersistence))
	})

	s.Run("operations require hydration", func() {
		c := s.newController()
		_, err := c.Advance(context.Background(), models.StepData{})
		s.Error(err)
	})
}

// =============================================================================
// Advance
// =============================================================================

func (s *ControllerSuite) TestAdvance() {
	s.Run("invalid step data leaves the step unchanged", func() {
		c := s.fresh()
		st, err := c.Advance(context.Background(), models.StepData{FirstName: ptr("Ada")})

		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		fields := dErrors.FieldsOf(err)
		s.Contains(fields, "last_name")
		s.NotContains(fields, "first_name")
		s.Equal(models.StepPersonal, st.Step)
		s.Empty(st.Registration.FirstName, "draft is only merged on success")
	})

	s.Run("first advance inserts the draft and moves exactly one step", func() {
		c := s.fresh()
		var saved *models.Registration
		s.store.EXPECT().SaveDraft(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, reg *models.Registration) error {
				saved = reg.Clone()
				return nil
			})
		s.notifier.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(func(_ context.Context, ev realtime.ChangeEvent) {
			s.Equal(realtime.TableRegistrations, ev.Table)
			s.Equal(realtime.KindInsert, ev.Kind)
		})

		st, err := c.Advance(context.Background(), models.StepData{
			FirstName: ptr("Ada"),
			LastName:  ptr("Lovelace"),
		})
		s.Require().NoError(err)
		s.Equal(models.StepCompany, st.Step)
		s.Require().NotNil(saved)
		s.True(saved.IsPersisted())
		s.Equal(models.StepCompany, saved.CurrentStep)
		s.Equal(models.StatusDraft, saved.Status)
		s.Equal(s.now, saved.CreatedAt)
		s.Equal("Ada", st.Registration.FirstName)
		s.Empty(st.LastError)
		s.NotEmpty(s.snapshots)
	})

	s.Run("persistence failure keeps step and draft and reports the error", func() {
		c := s.fresh()
		s.store.EXPECT().SaveDraft(gomock.Any(), gomock.Any()).Return(errors.New("timeout"))

		st, err := c.Advance(context.Background(), models.StepData{
			FirstName: ptr("Ada"),
			LastName:  ptr("Lovelace"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodePersistence))
		s.Equal(models.StepPersonal, st.Step)
		s.Empty(st.Registration.FirstName)
		s.False(st.Registration.IsPersisted())
		s.Equal(msgSaveFailed, st.LastError)
	})

	s.Run("a rejected registration does not block a new one", func() {
		rejected := s.registration(models.StepReview, models.StatusRejected)
		s.store.EXPECT().FindLatestByUser(gomock.Any(), s.principal.UserID).Return(rejected.Clone(), nil)
		c := s.newController()
		s.Require().NoError(c.Hydrate(context.Background()))

		var saved *models.Registration
		s.store.EXPECT().SaveDraft(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, reg *models.Registration) error {
				saved = reg.Clone()
				return nil
			})
		s.notifier.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(func(_ context.Context, ev realtime.ChangeEvent) {
			s.Equal(realtime.KindInsert, ev.Kind)
		})

		st, err := c.Advance(context.Background(), models.StepData{
			FirstName: ptr("Ada"),
			LastName:  ptr("Lovelace"),
		})
		s.Require().NoError(err)
		s.Equal(models.StepCompany, st.Step)
		s.Require().NotNil(saved)
		s.NotEqual(rejected.ID, saved.ID)
		s.Equal(models.StatusDraft, saved.Status)
		s.Equal(rejected.ID, st.Previous.ID)
	})

	s.Run("persistence failure is logged with the request context", func() {
		rec := &contextRecorder{}
		s.store.EXPECT().FindLatestByUser(gomock.Any(), s.principal.UserID).Return(nil, sentinel.ErrNotFound)
		c := NewController(s.principal, s.store, s.uploader,
			WithLogger(slog.New(rec)),
			WithClock(func() time.Time { return s.now }),
		)
		s.Require().NoError(c.Hydrate(context.Background()))
		s.store.EXPECT().SaveDraft(gomock.Any(), gomock.Any()).Return(errors.New("timeout"))

		ctx := context.WithValue(context.Background(), traceKey{}, "req-42")
		_, err := c.Advance(ctx, models.StepData{FirstName: ptr("Ada"), LastName: ptr("Lovelace")})
		s.True(dErrors.HasCode(err, dErrors.CodePersistence))
		s.Equal([]string{"req-42"}, rec.errorContexts)
	})

	s.Run("second open registration is a conflict", func() {
		c := s.fresh()
		s.store.EXPECT().SaveDraft(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)

		st, err := c.Advance(context.Background(), models.StepData{FirstName: ptr("Ada"), LastName: ptr("L")})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(models.StepPersonal, st.Step)
	})

	s.Run("leaving company step requires an active jurisdiction", func() {
		reg := s.registration(models.StepCompany, models.StatusDraft)
		c := s.hydrated(reg)
		s.store.EXPECT().FindJurisdiction(gomock.Any(), *reg.JurisdictionID).
			Return(&models.Jurisdiction{ID: *reg.JurisdictionID, Name: "Delaware", IsActive: false}, nil)

		st, err := c.Advance(context.Background(), models.StepData{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(dErrors.FieldsOf(err), "jurisdiction_id")
		s.Equal(models.StepCompany, st.Step)
	})

	s.Run("leaving company step marks documents pending", func() {
		reg := s.registration(models.StepCompany, models.StatusDraft)
		c := s.hydrated(reg)
		s.store.EXPECT().FindJurisdiction(gomock.Any(), *reg.JurisdictionID).
			Return(&models.Jurisdiction{ID: *reg.JurisdictionID, IsActive: true}, nil)
		s.store.EXPECT().SaveDraft(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, saved *models.Registration) error {
				s.Equal(reg.ID, saved.ID)
				s.Equal(models.StepDocuments, saved.CurrentStep)
				s.Equal(models.StatusPendingDocuments, saved.Status)
				s.Equal(reg.CreatedAt, saved.CreatedAt)
				return nil
			})
		s.notifier.EXPECT().Publish(gomock.Any(), gomock.Any())

		st, err := c.Advance(context.Background(), models.StepData{CompanyName: ptr("Analytical Engines")})
		s.Require().NoError(err)
		s.Equal(models.StepDocuments, st.Step)
		s.Equal("Analytical Engines", st.Registration.CompanyName)
	})

	s.Run("documents step requires both identity documents", func() {
		reg := s.registration(models.StepDocuments, models.StatusPendingDocuments)
		c := s.hydrated(reg, s.document(reg.ID, models.DocumentTypePassport, models.DocumentStatusPending))

		st, err := c.Advance(context.Background(), models.StepData{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(dErrors.FieldsOf(err), "documents")
		s.Equal(models.StepDocuments, st.Step)
	})

	s.Run("review step cannot advance", func() {
		c := s.hydrated(s.registration(models.StepReview, models.StatusPendingDocuments))
		_, err := c.Advance(context.Background(), models.StepData{})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("submitted registration is read only", func() {
		c := s.hydrated(s.registration(models.StepReview, models.StatusPendingReview))
		st, err := c.Advance(context.Background(), models.StepData{FirstName: ptr("Eve")})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal("Ada", st.Registration.FirstName)
		s.False(st.Editable)
	})
}

// =============================================================================
// Retreat
// =============================================================================

func (s *ControllerSuite) TestRetreat() {
	s.Run("never goes below the first step", func() {
		c := s.fresh()
		st, err := c.Retreat(context.Background())
		s.Require().NoError(err)
		s.Equal(models.StepPersonal, st.Step)
	})

	s.Run("retreat then advance returns to the same step and data", func() {
		reg := s.registration(models.StepCompany, models.StatusDraft)
		c := s.hydrated(reg)

		st, err := c.Retreat(context.Background())
		s.Require().NoError(err)
		s.Equal(models.StepPersonal, st.Step)

		s.store.EXPECT().SaveDraft(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, saved *models.Registration) error {
				s.Equal(models.StepCompany, saved.CurrentStep)
				s.Equal(reg.FirstName, saved.FirstName)
				s.Equal(reg.CompanyName, saved.CompanyName)
				return nil
			})
		s.notifier.EXPECT().Publish(gomock.Any(), gomock.Any())

		st, err = c.Advance(context.Background(), models.StepData{})
		s.Require().NoError(err)
		s.Equal(models.StepCompany, st.Step)
	})
}

// =============================================================================
// Finalize
// =============================================================================

func (s *ControllerSuite) TestFinalize() {
	s.Run("below the review step nothing changes", func() {
		reg := s.registration(models.StepDocuments, models.StatusPendingDocuments)
		c := s.hydrated(reg)
		before := c.State()

		st, err := c.Finalize(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(before, st)
	})

	s.Run("missing documents block submission", func() {
		reg := s.registration(models.StepReview, models.StatusPendingDocuments)
		c := s.hydrated(reg, s.document(reg.ID, models.DocumentTypePassport, models.DocumentStatusPending))

		_, err := c.Finalize(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("submits for review", func() {
		reg := s.registration(models.StepReview, models.StatusPendingDocuments)
		c := s.hydrated(reg,
			s.document(reg.ID, models.DocumentTypePassport, models.DocumentStatusPending),
			s.document(reg.ID, models.DocumentTypeIdentityCard, models.DocumentStatusPending),
		)
		submitted := reg.Clone()
		submitted.Status = models.StatusPendingReview
		submitted.CompletedAt = &s.now
		s.store.EXPECT().Finalize(gomock.Any(), reg.ID, s.principal.UserID, s.now).Return(submitted, nil)
		s.notifier.EXPECT().Publish(gomock.Any(), gomock.Any())

		st, err := c.Finalize(context.Background())
		s.Require().NoError(err)
		s.Equal(models.StatusPendingReview, st.Registration.Status)
		s.NotNil(st.Registration.CompletedAt)
		s.False(st.Editable)
	})

	s.Run("admin decision in between wins", func() {
		reg := s.registration(models.StepReview, models.StatusPendingDocuments)
		c := s.hydrated(reg,
			s.document(reg.ID, models.DocumentTypePassport, models.DocumentStatusPending),
			s.document(reg.ID, models.DocumentTypeIdentityCard, models.DocumentStatusPending),
		)
		s.store.EXPECT().Finalize(gomock.Any(), reg.ID, s.principal.UserID, s.now).Return(nil, sentinel.ErrInvalidState)

		st, err := c.Finalize(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(models.StatusPendingDocuments, st.Registration.Status)
		s.Equal(msgSubmitFailed, st.LastError)
	})
}

// =============================================================================
// Uploads
// =============================================================================

func (s *ControllerSuite) TestUpload() {
	s.Run("requires a saved draft on the documents step", func() {
		c := s.fresh()
		_, err := c.Upload(context.Background(), models.DocumentTypePassport, pngFile("passport.png"))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("failed upload can be removed and retried", func() {
		reg := s.registration(models.StepDocuments, models.StatusPendingDocuments)
		c := s.hydrated(reg)
		s.uploader.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeValidation, "file is too large"))

		entries, err := c.Upload(context.Background(), models.DocumentTypePassport, pngFile("passport.png"))
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(models.UploadStatusFailed, entries[0].Status)
		s.Equal("file is too large", entries[0].Error)

		s.Require().NoError(c.RemoveUpload(context.Background(), entries[0].ID))
		s.Empty(c.Uploads())
	})

	s.Run("done uploads cannot be removed", func() {
		reg := s.registration(models.StepDocuments, models.StatusPendingDocuments)
		doc := s.document(reg.ID, models.DocumentTypePassport, models.DocumentStatusPending)
		c := s.hydrated(reg, doc)

		err := c.RemoveUpload(context.Background(), doc.ID.String())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		err = c.RemoveUpload(context.Background(), "missing")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// TestAdaRegistersHerCompany walks the whole wizard for one user.
func (s *ControllerSuite) TestAdaRegistersHerCompany() {
	ctx := context.Background()
	c := s.fresh()
	jurisdiction := id.JurisdictionID(uuid.New())

	var stored *models.Registration
	s.store.EXPECT().SaveDraft(gomock.Any(), gomock.Any()).Times(3).DoAndReturn(
		func(_ context.Context, reg *models.Registration) error {
			stored = reg.Clone()
			return nil
		})
	s.store.EXPECT().FindJurisdiction(gomock.Any(), jurisdiction).
		Return(&models.Jurisdiction{ID: jurisdiction, Name: "Wyoming", IsActive: true}, nil)
	s.uploader.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any()).Times(2).DoAndReturn(
		func(_ context.Context, req upload.Request, progress func(int)) (*models.Document, error) {
			s.Equal(s.principal.UserID, req.Owner)
			s.Equal(stored.ID, req.RegistrationID)
			progress(50)
			progress(100)
			return &models.Document{ID: id.DocumentID(uuid.New()), DocumentType: req.DocumentType}, nil
		})
	s.store.EXPECT().Finalize(gomock.Any(), gomock.Any(), s.principal.UserID, s.now).DoAndReturn(
		func(_ context.Context, regID id.RegistrationID, _ id.UserID, now time.Time) (*models.Registration, error) {
			done := stored.Clone()
			done.Status = models.StatusPendingReview
			done.CompletedAt = &now
			return done, nil
		})
	s.notifier.EXPECT().Publish(gomock.Any(), gomock.Any()).AnyTimes()

	st, err := c.Advance(ctx, models.StepData{FirstName: ptr("Ada"), LastName: ptr("Lovelace")})
	s.Require().NoError(err)
	s.Equal(models.StepCompany, st.Step)

	st, err = c.Advance(ctx, models.StepData{
		CompanyName:    ptr("Analytical Engines"),
		JurisdictionID: &jurisdiction,
		BusinessType:   ptr("SaaS"),
	})
	s.Require().NoError(err)
	s.Equal(models.StepDocuments, st.Step)
	s.Equal(models.StatusPendingDocuments, st.Registration.Status)

	_, err = c.Upload(ctx, models.DocumentTypePassport, pngFile("passport.png"))
	s.Require().NoError(err)
	entries, err := c.Upload(ctx, models.DocumentTypeIdentityCard, pngFile("id.png"))
	s.Require().NoError(err)
	s.Equal(models.UploadStatusDone, entries[0].Status)
	s.Equal(100, entries[0].Progress)
	s.True(c.State().HasRequiredDocuments)

	st, err = c.Advance(ctx, models.StepData{})
	s.Require().NoError(err)
	s.Equal(models.StepReview, st.Step)

	st, err = c.Finalize(ctx)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingReview, st.Registration.Status)
	s.Equal(models.StepReview, st.Step)
	s.Equal(models.StepReview, stored.CurrentStep)
}

// =============================================================================
// Snapshots
// =============================================================================

func (s *ControllerSuite) TestRestore() {
	s.Run("restores a lower step and interrupted uploads", func() {
		reg := s.registration(models.StepDocuments, models.StatusPendingDocuments)
		c := s.hydrated(reg)

		ok := c.Restore(Snapshot{
			UserID:         s.principal.UserID,
			RegistrationID: &reg.ID,
			Step:           models.StepCompany,
			Uploads: []models.UploadEntry{
				{ID: "u1", DocumentType: models.DocumentTypePassport, Status: models.UploadStatusUploading},
				{ID: "u2", DocumentType: models.DocumentTypeIdentityCard, Status: models.UploadStatusFailed, Error: "file is too large"},
			},
			LastError: msgSaveFailed,
		})
		s.Require().True(ok)

		st := c.State()
		s.Equal(models.StepCompany, st.Step)
		s.Equal(msgSaveFailed, st.LastError)
		s.Require().Len(st.Uploads, 2)
		s.Equal(models.UploadStatusFailed, st.Uploads[0].Status)
		s.Equal(interruptedReason, st.Uploads[0].Error)
	})

	s.Run("snapshot cannot move past the stored step", func() {
		reg := s.registration(models.StepCompany, models.StatusDraft)
		c := s.hydrated(reg)
		s.True(c.Restore(Snapshot{UserID: s.principal.UserID, RegistrationID: &reg.ID, Step: models.StepReview}))
		s.Equal(models.StepCompany, c.State().Step)
	})

	s.Run("snapshot of another registration is ignored", func() {
		reg := s.registration(models.StepCompany, models.StatusDraft)
		c := s.hydrated(reg)
		other := id.RegistrationID(uuid.New())
		s.False(c.Restore(Snapshot{UserID: s.principal.UserID, RegistrationID: &other, Step: models.StepPersonal}))
		s.Equal(models.StepCompany, c.State().Step)
	})
}

func (s *ControllerSuite) TestRefresh() {
	s.Run("reloads after an administrator decision", func() {
		reg := s.registration(models.StepReview, models.StatusPendingReview)
		c := s.hydrated(reg)

		reopened := reg.Clone()
		reopened.Status = models.StatusPendingDocuments
		reopened.UpdatedAt = s.now
		s.store.EXPECT().FindLatestByUser(gomock.Any(), s.principal.UserID).Return(reopened.Clone(), nil).Times(2)
		s.store.EXPECT().ListDocuments(gomock.Any(), reg.ID).Return(nil, nil)

		s.Require().NoError(c.Refresh(context.Background()))
		st := c.State()
		s.True(st.Editable)
		s.Equal(models.StatusPendingDocuments, st.Registration.Status)
	})

	s.Run("decision on a submitted registration opens a new draft", func() {
		reg := s.registration(models.StepReview, models.StatusPendingReview)
		c := s.hydrated(reg)

		rejected := reg.Clone()
		rejected.Status = models.StatusRejected
		rejected.UpdatedAt = s.now
		s.store.EXPECT().FindLatestByUser(gomock.Any(), s.principal.UserID).Return(rejected.Clone(), nil).Times(2)

		s.Require().NoError(c.Refresh(context.Background()))
		st := c.State()
		s.True(st.Editable)
		s.Equal(models.StepPersonal, st.Step)
		s.False(st.Registration.IsPersisted())
		s.Require().NotNil(st.Previous)
		s.Equal(models.StatusRejected, st.Previous.Status)

		s.store.EXPECT().FindLatestByUser(gomock.Any(), s.principal.UserID).Return(rejected.Clone(), nil)
		s.Require().NoError(c.Refresh(context.Background()))
		s.False(c.State().Registration.IsPersisted())
	})

	s.Run("unchanged registration is not reloaded", func() {
		reg := s.registration(models.StepCompany, models.StatusDraft)
		c := s.hydrated(reg)
		s.store.EXPECT().FindLatestByUser(gomock.Any(), s.principal.UserID).Return(reg.Clone(), nil)
		s.Require().NoError(c.Refresh(context.Background()))
	})
}

type traceKey struct{}

// contextRecorder keeps the trace value of the context every error record
// was logged with.
type contextRecorder struct {
	errorContexts []string
}

func (r *contextRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *contextRecorder) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Level >= slog.LevelError {
		v, _ := ctx.Value(traceKey{}).(string)
		r.errorContexts = append(r.errorContexts, v)
	}
	return nil
}

func (r *contextRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }

func (r *contextRecorder) WithGroup(string) slog.Handler { return r }
