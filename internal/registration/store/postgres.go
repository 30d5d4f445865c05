package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"mkcompany/internal/platform/postgres"
	"mkcompany/internal/registration/models"
	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
	txcontext "mkcompany/pkg/platform/tx"
)

// OpenRegistrationIndex enforces at most one open registration per user.
const OpenRegistrationIndex = "registrations_one_open_per_user"

const registrationColumns = `r.id, r.user_id, r.email, r.first_name, r.last_name, r.company_name,
	r.number_of_partners, r.jurisdiction_id, r.business_type, r.business_description,
	r.current_step, r.status, r.created_at, r.updated_at, r.completed_at`

const documentColumns = `id, registration_id, user_id, document_type, original_filename, storage_path,
	file_size, mime_type, status, reviewed_by, reviewed_at, admin_notes, uploaded_at`

const joinedDocumentColumns = `d.id, d.registration_id, d.user_id, d.document_type, d.original_filename, d.storage_path,
	d.file_size, d.mime_type, d.status, d.reviewed_by, d.reviewed_at, d.admin_notes, d.uploaded_at`

const paymentColumns = `pm.id, pm.registration_id, pm.user_id, pm.amount_cents, pm.currency, pm.status, pm.created_at`

const ownerColumns = `p.id, p.email, p.full_name, p.status`

// PostgresStore persists registrations, documents and jurisdictions in Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner, extra ...any) (*models.Registration, error) {
	var (
		r            models.Registration
		regID        uuid.UUID
		userID       uuid.UUID
		jurisdiction uuid.NullUUID
		step         int
		status       string
		completedAt  sql.NullTime
	)
	dest := []any{
		&regID, &userID, &r.Email, &r.FirstName, &r.LastName, &r.CompanyName,
		&r.NumberOfPartners, &jurisdiction, &r.BusinessType, &r.BusinessDescription,
		&step, &status, &r.CreatedAt, &r.UpdatedAt, &completedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	r.ID = id.RegistrationID(regID)
	r.UserID = id.UserID(userID)
	if jurisdiction.Valid {
		j := id.JurisdictionID(jurisdiction.UUID)
		r.JurisdictionID = &j
	}
	r.CurrentStep = models.Step(step)
	r.Status = models.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func scanDocument(row rowScanner, extra ...any) (*models.Document, error) {
	var (
		d          models.Document
		docID      uuid.UUID
		regID      uuid.UUID
		userID     uuid.UUID
		docType    string
		status     string
		reviewedBy uuid.NullUUID
		reviewedAt sql.NullTime
		notes      sql.NullString
	)
	dest := []any{&docID, &regID, &userID, &docType, &d.OriginalFilename, &d.StoragePath,
		&d.FileSize, &d.MimeType, &status, &reviewedBy, &reviewedAt, &notes, &d.UploadedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	d.ID = id.DocumentID(docID)
	d.RegistrationID = id.RegistrationID(regID)
	d.UserID = id.UserID(userID)
	d.DocumentType = models.DocumentType(docType)
	d.Status = models.DocumentStatus(status)
	if reviewedBy.Valid {
		u := id.UserID(reviewedBy.UUID)
		d.ReviewedBy = &u
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		d.ReviewedAt = &t
	}
	d.AdminNotes = notes.String
	return &d, nil
}

// ownerRow receives the columns of a LEFT JOIN on profiles.
type ownerRow struct {
	id       uuid.NullUUID
	email    sql.NullString
	fullName sql.NullString
	status   sql.NullString
}

func (o *ownerRow) dest() []any {
	return []any{&o.id, &o.email, &o.fullName, &o.status}
}

func (o *ownerRow) owner() *models.Owner {
	if !o.id.Valid {
		return nil
	}
	return &models.Owner{
		ID:       id.UserID(o.id.UUID),
		Email:    o.email.String,
		FullName: o.fullName.String,
		Status:   o.status.String,
	}
}

func nullableJurisdiction(j *id.JurisdictionID) uuid.NullUUID {
	if j == nil || j.IsNil() {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*j), Valid: true}
}

// FindLatestByUser returns the user's most recently created registration.
func (s *PostgresStore) FindLatestByUser(ctx context.Context, userID id.UserID) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + `
		FROM registrations r
		WHERE r.user_id = $1
		ORDER BY r.created_at DESC
		LIMIT 1`
	reg, err := scanRegistration(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(userID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find latest registration: %w", err)
	}
	return reg, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, registrationID id.RegistrationID) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations r WHERE r.id = $1`
	reg, err := scanRegistration(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(registrationID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return reg, nil
}

// SaveDraft inserts the registration or updates it while it is still editable
// by its owner. It returns sentinel.ErrConflict when the user already has another
// open registration and sentinel.ErrInvalidState when the stored row is no
// longer editable.
func (s *PostgresStore) SaveDraft(ctx context.Context, reg *models.Registration) error {
	query := `
		INSERT INTO registrations (
			id, user_id, email, first_name, last_name, company_name, number_of_partners,
			jurisdiction_id, business_type, business_description, current_step, status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			company_name = EXCLUDED.company_name,
			number_of_partners = EXCLUDED.number_of_partners,
			jurisdiction_id = EXCLUDED.jurisdiction_id,
			business_type = EXCLUDED.business_type,
			business_description = EXCLUDED.business_description,
			current_step = EXCLUDED.current_step,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		WHERE registrations.user_id = EXCLUDED.user_id
			AND registrations.status IN ('draft', 'pending_documents')
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(reg.ID),
		uuid.UUID(reg.UserID),
		reg.Email,
		reg.FirstName,
		reg.LastName,
		reg.CompanyName,
		reg.NumberOfPartners,
		nullableJurisdiction(reg.JurisdictionID),
		reg.BusinessType,
		reg.BusinessDescription,
		int(reg.CurrentStep),
		string(reg.Status),
		reg.CreatedAt,
		reg.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, OpenRegistrationIndex) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save registration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save registration rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

// Finalize submits an editable registration for review.
func (s *PostgresStore) Finalize(ctx context.Context, registrationID id.RegistrationID, userID id.UserID, now time.Time) (*models.Registration, error) {
	query := `
		UPDATE registrations r
		SET status = 'pending_review', current_step = 4, completed_at = $3, updated_at = $3
		WHERE r.id = $1 AND r.user_id = $2 AND r.status IN ('draft', 'pending_documents')
		RETURNING ` + registrationColumns
	reg, err := scanRegistration(s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(registrationID), uuid.UUID(userID), now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missingOrInvalid(ctx, registrationID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("finalize registration: %w", err)
	}
	return reg, nil
}

// UpdateStatus moves a registration from `from` to `to`. It returns
// sentinel.ErrInvalidState when the stored status is no longer `from`.
func (s *PostgresStore) UpdateStatus(ctx context.Context, registrationID id.RegistrationID, from, to models.Status, now time.Time) error {
	query := `UPDATE registrations SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(registrationID), string(from), string(to), now)
	if err != nil {
		if postgres.IsUniqueViolation(err, OpenRegistrationIndex) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update registration status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update registration status rows affected: %w", err)
	}
	if affected == 0 {
		return s.missingOrInvalid(ctx, registrationID, id.UserID{})
	}
	return nil
}

func (s *PostgresStore) missingOrInvalid(ctx context.Context, registrationID id.RegistrationID, userID id.UserID) error {
	query := `SELECT EXISTS (SELECT 1 FROM registrations WHERE id = $1 AND ($2::uuid IS NULL OR user_id = $2))`
	var owner uuid.NullUUID
	if !userID.IsNil() {
		owner = uuid.NullUUID{UUID: uuid.UUID(userID), Valid: true}
	}
	var exists bool
	if err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(registrationID), owner).Scan(&exists); err != nil {
		return fmt.Errorf("check registration: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

// ListAll returns every registration, newest first, joined with its
// jurisdiction, owner profile and documents.
func (s *PostgresStore) ListAll(ctx context.Context) ([]models.RegistrationView, error) {
	query := `
		SELECT ` + registrationColumns + `,
			j.id, j.name, j.code, j.state_fee_cents, j.is_active, j.created_at,
			` + ownerColumns + `
		FROM registrations r
		LEFT JOIN jurisdictions j ON j.id = r.jurisdiction_id
		LEFT JOIN profiles p ON p.id = r.user_id
		ORDER BY r.created_at DESC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var (
		views []models.RegistrationView
		ids   []string
		index = make(map[id.RegistrationID]int)
	)
	for rows.Next() {
		var (
			jID      uuid.NullUUID
			jName    sql.NullString
			jCode    sql.NullString
			jFee     sql.NullInt64
			jActive  sql.NullBool
			jCreated sql.NullTime
			owner    ownerRow
		)
		reg, err := scanRegistration(rows,
			append([]any{&jID, &jName, &jCode, &jFee, &jActive, &jCreated}, owner.dest()...)...)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		view := models.RegistrationView{Registration: reg, Documents: []models.Document{}}
		if jID.Valid {
			view.Jurisdiction = &models.Jurisdiction{
				ID:            id.JurisdictionID(jID.UUID),
				Name:          jName.String,
				Code:          jCode.String,
				StateFeeCents: jFee.Int64,
				IsActive:      jActive.Bool,
				CreatedAt:     jCreated.Time,
			}
		}
		view.Owner = owner.owner()
		index[reg.ID] = len(views)
		views = append(views, view)
		ids = append(ids, reg.ID.String())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	if len(ids) == 0 {
		return []models.RegistrationView{}, nil
	}

	docRows, err := s.execer(ctx).QueryContext(ctx, `SELECT `+documentColumns+`
		FROM documents
		WHERE registration_id = ANY($1::uuid[])
		ORDER BY uploaded_at`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list registration documents: %w", err)
	}
	defer docRows.Close()
	for docRows.Next() {
		doc, err := scanDocument(docRows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if i, ok := index[doc.RegistrationID]; ok {
			views[i].Documents = append(views[i].Documents, *doc)
		}
	}
	if err := docRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return views, nil
}

// Stats aggregates registration counts by status, pending document reviews,
// registrations created since the start of now's UTC day and succeeded payments.
func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (*models.Stats, error) {
	query := `
		SELECT r.total, r.draft, r.pending_documents, r.pending_review, r.approved, r.rejected, r.today,
			(SELECT count(*) FROM documents WHERE status = 'pending'),
			(SELECT coalesce(sum(amount_cents), 0) FROM payments WHERE status = 'succeeded')
		FROM (
			SELECT
				count(*) AS total,
				count(*) FILTER (WHERE status = 'draft') AS draft,
				count(*) FILTER (WHERE status = 'pending_documents') AS pending_documents,
				count(*) FILTER (WHERE status = 'pending_review') AS pending_review,
				count(*) FILTER (WHERE status = 'approved') AS approved,
				count(*) FILTER (WHERE status = 'rejected') AS rejected,
				count(*) FILTER (WHERE created_at >= $1) AS today
			FROM registrations
		) r
	`
	var st models.Stats
	err := s.execer(ctx).QueryRowContext(ctx, query, startOfDay(now)).Scan(
		&st.TotalRegistrations,
		&st.DraftRegistrations,
		&st.PendingDocuments,
		&st.PendingReview,
		&st.ApprovedRegistrations,
		&st.RejectedRegistrations,
		&st.RegistrationsToday,
		&st.PendingDocumentReviews,
		&st.TotalRevenueCents,
	)
	if err != nil {
		return nil, fmt.Errorf("registration stats: %w", err)
	}
	return &st, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc *models.Document) error {
	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	var reviewedBy uuid.NullUUID
	if doc.ReviewedBy != nil {
		reviewedBy = uuid.NullUUID{UUID: uuid.UUID(*doc.ReviewedBy), Valid: true}
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(doc.ID),
		uuid.UUID(doc.RegistrationID),
		uuid.UUID(doc.UserID),
		string(doc.DocumentType),
		doc.OriginalFilename,
		doc.StoragePath,
		doc.FileSize,
		doc.MimeType,
		string(doc.Status),
		reviewedBy,
		doc.ReviewedAt,
		sql.NullString{String: doc.AdminNotes, Valid: doc.AdminNotes != ""},
		doc.UploadedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, registrationID id.RegistrationID) ([]models.Document, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT `+documentColumns+`
		FROM documents WHERE registration_id = $1 ORDER BY uploaded_at`, uuid.UUID(registrationID))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// ListAllDocuments returns every document with its owner, newest upload first.
func (s *PostgresStore) ListAllDocuments(ctx context.Context) ([]models.DocumentView, error) {
	query := `
		SELECT ` + joinedDocumentColumns + `, ` + ownerColumns + `
		FROM documents d
		LEFT JOIN profiles p ON p.id = d.user_id
		ORDER BY d.uploaded_at DESC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list all documents: %w", err)
	}
	defer rows.Close()
	out := []models.DocumentView{}
	for rows.Next() {
		var owner ownerRow
		doc, err := scanDocument(rows, owner.dest()...)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, models.DocumentView{Document: *doc, Owner: owner.owner()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindDocument(ctx context.Context, documentID id.DocumentID) (*models.Document, error) {
	doc, err := scanDocument(s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, uuid.UUID(documentID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return doc, nil
}

// UpdateDocumentReview stores the review fields of doc.
func (s *PostgresStore) UpdateDocumentReview(ctx context.Context, doc *models.Document) error {
	query := `UPDATE documents SET status = $2, reviewed_by = $3, reviewed_at = $4, admin_notes = $5 WHERE id = $1`
	var reviewedBy uuid.NullUUID
	if doc.ReviewedBy != nil {
		reviewedBy = uuid.NullUUID{UUID: uuid.UUID(*doc.ReviewedBy), Valid: true}
	}
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(doc.ID),
		string(doc.Status),
		reviewedBy,
		doc.ReviewedAt,
		sql.NullString{String: doc.AdminNotes, Valid: doc.AdminNotes != ""},
	)
	if err != nil {
		return fmt.Errorf("update document review: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document review rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListJurisdictions returns active jurisdictions ordered by name.
func (s *PostgresStore) ListJurisdictions(ctx context.Context) ([]models.Jurisdiction, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, name, code, state_fee_cents, is_active, created_at
		FROM jurisdictions
		WHERE is_active
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list jurisdictions: %w", err)
	}
	defer rows.Close()
	out := []models.Jurisdiction{}
	for rows.Next() {
		j, err := scanJurisdiction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jurisdictions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindJurisdiction(ctx context.Context, jurisdictionID id.JurisdictionID) (*models.Jurisdiction, error) {
	j, err := scanJurisdiction(s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, name, code, state_fee_cents, is_active, created_at
		FROM jurisdictions WHERE id = $1`, uuid.UUID(jurisdictionID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return j, err
}

func scanJurisdiction(row rowScanner) (*models.Jurisdiction, error) {
	var (
		j     models.Jurisdiction
		jurID uuid.UUID
	)
	if err := row.Scan(&jurID, &j.Name, &j.Code, &j.StateFeeCents, &j.IsActive, &j.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan jurisdiction: %w", err)
	}
	j.ID = id.JurisdictionID(jurID)
	return &j, nil
}

func (s *PostgresStore) InsertPayment(ctx context.Context, p *models.Payment) error {
	var regID uuid.NullUUID
	if p.RegistrationID != nil {
		regID = uuid.NullUUID{UUID: uuid.UUID(*p.RegistrationID), Valid: true}
	}
	query := `
		INSERT INTO payments (id, registration_id, user_id, amount_cents, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID),
		regID,
		uuid.UUID(p.UserID),
		p.AmountCents,
		p.Currency,
		string(p.Status),
		p.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// ListPayments returns every payment with its owner, newest first.
func (s *PostgresStore) ListPayments(ctx context.Context) ([]models.PaymentView, error) {
	query := `
		SELECT ` + paymentColumns + `, ` + ownerColumns + `
		FROM payments pm
		LEFT JOIN profiles p ON p.id = pm.user_id
		ORDER BY pm.created_at DESC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()
	out := []models.PaymentView{}
	for rows.Next() {
		var (
			v      models.PaymentView
			payID  uuid.UUID
			regID  uuid.NullUUID
			userID uuid.NullUUID
			status string
			owner  ownerRow
		)
		dest := []any{&payID, &regID, &userID, &v.AmountCents, &v.Currency, &status, &v.CreatedAt}
		if err := rows.Scan(append(dest, owner.dest()...)...); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		v.ID = id.PaymentID(payID)
		if regID.Valid {
			r := id.RegistrationID(regID.UUID)
			v.RegistrationID = &r
		}
		v.UserID = id.UserID(userID.UUID)
		v.Status = models.PaymentStatus(status)
		v.Owner = owner.owner()
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}
