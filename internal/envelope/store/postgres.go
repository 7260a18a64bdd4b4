package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"signetry/internal/envelope/models"
	"signetry/pkg/platform/sentinel"
)

// Postgres is the durable Store. Every transition runs inside a transaction
// holding a FOR UPDATE lock on the envelope row, so concurrent webhook
// deliveries for the same provider envelope serialize at the database.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const envelopeColumns = `id, provider_envelope_id, name, document_type, status, created_by_id,
	subject_id, message, expires_at, sent_at, completed_at, declined_at, voided_at,
	voided_reason, declined_reason, created_at, updated_at`

func (s *Postgres) CreateDraft(ctx context.Context, params CreateDraftParams) (*models.Envelope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	envID := uuid.New()
	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO envelopes (id, name, document_type, status, created_by_id, subject_id, message, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		envID, params.Name, string(params.DocumentType), string(models.StatusDraft),
		params.CreatedByID, params.SubjectID, params.Message, params.ExpiresAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("envelope: insert draft: %w", err)
	}

	for _, r := range params.Recipients {
		_, err = tx.Exec(ctx, `
			INSERT INTO recipients (id, envelope_id, email, name, role, routing_order,
				signature_required, initials_required, date_required, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			uuid.New(), envID, r.Email, r.Name, string(r.Role), r.RoutingOrder,
			r.SignatureRequired, r.InitialsRequired, r.DateRequired, string(models.RecipientPending),
		)
		if err != nil {
			return nil, fmt.Errorf("envelope: insert recipient: %w", err)
		}
	}

	for _, d := range params.Documents {
		_, err = tx.Exec(ctx, `
			INSERT INTO documents (id, envelope_id, name, storage_ref, mime_type, size, is_signed, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New(), envID, d.Name, d.StorageRef, d.MimeType, d.Size, d.IsSigned, now,
		)
		if err != nil {
			return nil, fmt.Errorf("envelope: insert document: %w", err)
		}
	}

	env, err := s.hydrate(ctx, tx, envID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("envelope: commit draft: %w", err)
	}
	return env, nil
}

func (s *Postgres) MarkSent(ctx context.Context, envelopeID uuid.UUID, providerEnvelopeID string) (*models.Envelope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	env, err := s.hydrate(ctx, tx, envelopeID, true)
	if err != nil {
		return nil, err
	}
	if env.Status != models.StatusDraft {
		return nil, sentinel.ErrInvalidState
	}

	now := time.Now()
	env.Status = models.StatusSent
	env.SentAt = &now
	env.UpdatedAt = now
	pid := providerEnvelopeID
	env.ProviderEnvelopeID = &pid
	activateRoutingGroup(env)

	if err := s.persist(ctx, tx, env); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("envelope: commit mark sent: %w", err)
	}
	return env, nil
}

func (s *Postgres) ApplyProviderEvent(ctx context.Context, providerEnvelopeID string, event models.ProviderEvent, payload models.EventPayload) (*models.Envelope, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var envID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM envelopes WHERE provider_envelope_id = $1 FOR UPDATE`,
		providerEnvelopeID,
	).Scan(&envID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, sentinel.ErrNotFound
		}
		return nil, false, fmt.Errorf("envelope: lock for event: %w", err)
	}

	env, err := s.hydrate(ctx, tx, envID, false)
	if err != nil {
		return nil, false, err
	}

	applied := applyEvent(env, event, payload, time.Now())
	if !applied {
		// Nothing changed; roll back the lock and report the no-op.
		return env, false, nil
	}

	if err := s.persist(ctx, tx, env); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("envelope: commit event: %w", err)
	}
	return env, true, nil
}

func (s *Postgres) AddDocument(ctx context.Context, envelopeID uuid.UUID, doc DocumentParams) (*models.Document, error) {
	d := models.Document{
		ID:         uuid.New(),
		EnvelopeID: envelopeID,
		Name:       doc.Name,
		StorageRef: doc.StorageRef,
		MimeType:   doc.MimeType,
		Size:       doc.Size,
		IsSigned:   doc.IsSigned,
		CreatedAt:  time.Now(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, envelope_id, name, storage_ref, mime_type, size, is_signed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.EnvelopeID, d.Name, d.StorageRef, d.MimeType, d.Size, d.IsSigned, d.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("envelope: insert document: %w", err)
	}
	return &d, nil
}

func (s *Postgres) FindByID(ctx context.Context, id uuid.UUID) (*models.Envelope, error) {
	return s.findOne(ctx, `WHERE id = $1`, id)
}

func (s *Postgres) FindByProviderID(ctx context.Context, providerEnvelopeID string) (*models.Envelope, error) {
	return s.findOne(ctx, `WHERE provider_envelope_id = $1`, providerEnvelopeID)
}

func (s *Postgres) ListByOwner(ctx context.Context, ownerID string, filter Filter, page Page) ([]*models.Envelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM envelopes WHERE created_by_id = $1`
	args := []any{ownerID}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.DocumentType != nil {
		args = append(args, string(*filter.DocumentType))
		query += fmt.Sprintf(" AND document_type = $%d", len(args))
	}
	if filter.SubjectID != nil {
		args = append(args, *filter.SubjectID)
		query += fmt.Sprintf(" AND subject_id = $%d", len(args))
	}
	args = append(args, page.limit(), page.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return s.findMany(ctx, query, args...)
}

func (s *Postgres) ListByRecipientEmail(ctx context.Context, email string, page Page) ([]*models.Envelope, error) {
	query := `
		SELECT ` + envelopeColumns + ` FROM envelopes
		WHERE id IN (SELECT envelope_id FROM recipients WHERE lower(email) = lower($1))
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return s.findMany(ctx, query, email, page.limit(), page.Offset)
}

func (s *Postgres) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*models.Envelope, error) {
	query := `
		SELECT ` + envelopeColumns + ` FROM envelopes
		WHERE status IN ('SENT', 'DELIVERED') AND expires_at < $1
		ORDER BY expires_at ASC LIMIT $2`
	return s.findMany(ctx, query, now, limit)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Postgres) findOne(ctx context.Context, where string, arg any) (*models.Envelope, error) {
	env, err := scanEnvelope(s.pool.QueryRow(ctx, `SELECT `+envelopeColumns+` FROM envelopes `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("envelope: find: %w", err)
	}
	if err := s.attachChildren(ctx, s.pool, env); err != nil {
		return nil, err
	}
	return env, nil
}

func (s *Postgres) findMany(ctx context.Context, query string, args ...any) ([]*models.Envelope, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("envelope: list: %w", err)
	}
	defer rows.Close()

	var envs []*models.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("envelope: scan: %w", err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("envelope: iterate: %w", err)
	}
	for _, env := range envs {
		if err := s.attachChildren(ctx, s.pool, env); err != nil {
			return nil, err
		}
	}
	return envs, nil
}

// hydrate loads an envelope with its recipients and documents inside tx.
// When forUpdate is set, the envelope row is locked for the transaction.
func (s *Postgres) hydrate(ctx context.Context, tx pgx.Tx, envID uuid.UUID, forUpdate bool) (*models.Envelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM envelopes WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	env, err := scanEnvelope(tx.QueryRow(ctx, query, envID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("envelope: hydrate: %w", err)
	}
	if err := s.attachChildren(ctx, tx, env); err != nil {
		return nil, err
	}
	return env, nil
}

func (s *Postgres) attachChildren(ctx context.Context, q rowQuerier, env *models.Envelope) error {
	rows, err := q.Query(ctx, `
		SELECT id, envelope_id, email, name, role, routing_order,
			signature_required, initials_required, date_required, status, signed_at
		FROM recipients WHERE envelope_id = $1 ORDER BY routing_order, email`, env.ID)
	if err != nil {
		return fmt.Errorf("envelope: query recipients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r models.Recipient
		var role, status string
		if err := rows.Scan(&r.ID, &r.EnvelopeID, &r.Email, &r.Name, &role, &r.RoutingOrder,
			&r.SignatureRequired, &r.InitialsRequired, &r.DateRequired, &status, &r.SignedAt); err != nil {
			return fmt.Errorf("envelope: scan recipient: %w", err)
		}
		r.Role = models.RecipientRole(role)
		r.Status = models.RecipientStatus(status)
		env.Recipients = append(env.Recipients, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("envelope: iterate recipients: %w", err)
	}

	docRows, err := q.Query(ctx, `
		SELECT id, envelope_id, name, storage_ref, mime_type, size, is_signed, created_at
		FROM documents WHERE envelope_id = $1 ORDER BY created_at`, env.ID)
	if err != nil {
		return fmt.Errorf("envelope: query documents: %w", err)
	}
	defer docRows.Close()
	for docRows.Next() {
		var d models.Document
		if err := docRows.Scan(&d.ID, &d.EnvelopeID, &d.Name, &d.StorageRef, &d.MimeType,
			&d.Size, &d.IsSigned, &d.CreatedAt); err != nil {
			return fmt.Errorf("envelope: scan document: %w", err)
		}
		env.Documents = append(env.Documents, d)
	}
	return docRows.Err()
}

// persist writes the mutable envelope columns and every recipient's status
// back inside the transition transaction.
func (s *Postgres) persist(ctx context.Context, tx pgx.Tx, env *models.Envelope) error {
	_, err := tx.Exec(ctx, `
		UPDATE envelopes
		SET provider_envelope_id = $1, status = $2, sent_at = $3, completed_at = $4,
			declined_at = $5, voided_at = $6, voided_reason = $7, declined_reason = $8,
			updated_at = $9
		WHERE id = $10`,
		env.ProviderEnvelopeID, string(env.Status), env.SentAt, env.CompletedAt,
		env.DeclinedAt, env.VoidedAt, env.VoidedReason, env.DeclinedReason,
		env.UpdatedAt, env.ID,
	)
	if err != nil {
		return fmt.Errorf("envelope: update: %w", err)
	}

	for i := range env.Recipients {
		r := &env.Recipients[i]
		_, err := tx.Exec(ctx,
			`UPDATE recipients SET status = $1, signed_at = $2 WHERE id = $3`,
			string(r.Status), r.SignedAt, r.ID,
		)
		if err != nil {
			return fmt.Errorf("envelope: update recipient: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*models.Envelope, error) {
	var env models.Envelope
	var docType, status string
	err := row.Scan(
		&env.ID, &env.ProviderEnvelopeID, &env.Name, &docType, &status, &env.CreatedByID,
		&env.SubjectID, &env.Message, &env.ExpiresAt, &env.SentAt, &env.CompletedAt,
		&env.DeclinedAt, &env.VoidedAt, &env.VoidedReason, &env.DeclinedReason,
		&env.CreatedAt, &env.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	env.DocumentType = models.DocumentType(docType)
	env.Status = models.EnvelopeStatus(status)
	return &env, nil
}
