// Package store is the Postgres persistence layer: pending payments,
// reconciliation logs, payment sources and the mirrored contact
// directory.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/memberops/reconcile/internal/domain"
)

var (
	// ErrAlreadyReconciled: a reconciliation log already exists for the
	// fingerprint. Distinguishable so callers can render "already
	// processed" instead of a generic failure.
	ErrAlreadyReconciled = errors.New("transaction already reconciled")
	ErrContactNotFound   = errors.New("contact not found")
	ErrPaymentNotFound   = errors.New("pending payment not found")
	ErrLogNotFound       = errors.New("reconciliation log not found")
)

const uniqueViolation = "23505"

type Store struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewStore(connString string, log zerolog.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool, log: log}, nil
}

// NewStoreWithPool wraps an existing pool (used by the importer CLI).
func NewStoreWithPool(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{db: pool, log: log}
}

func (s *Store) Close() {
	s.db.Close()
}

// InsertPendingPayment records one parsed payment. An existing
// fingerprint is "already exists", not an error: re-importing the same
// statement is a no-op.
func (s *Store) InsertPendingPayment(ctx context.Context, p *domain.PendingPayment) (created bool, err error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO pending_payments
			(id, transaction_fingerprint, amount, payment_date, source, transaction_ref,
			 description, hashed_account_identifier, customer_name, customer_email,
			 card_address_line1, card_address_postal_code, status, uploaded_by_user_id,
			 uploaded_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (transaction_fingerprint) DO NOTHING`,
		p.ID, p.TransactionFingerprint, p.Amount, p.PaymentDate, p.Source, p.TransactionRef,
		p.Description, p.HashedAccountIdentifier, p.CustomerName, p.CustomerEmail,
		p.CardAddressLine1, p.CardAddressPostalCode, domain.StatusPending, p.UploadedByUserID,
		p.UploadedAt, p.Metadata)
	if err != nil {
		return false, fmt.Errorf("inserting pending payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) PendingPaymentByID(ctx context.Context, id uuid.UUID) (*domain.PendingPayment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, transaction_fingerprint, amount, payment_date, source, transaction_ref,
		       description, hashed_account_identifier, customer_name, customer_email,
		       card_address_line1, card_address_postal_code, status, uploaded_by_user_id,
		       uploaded_at, metadata
		FROM pending_payments WHERE id = $1`, id)
	return scanPendingPayment(row)
}

func (s *Store) ListPendingPayments(ctx context.Context, status domain.PendingStatus) ([]domain.PendingPayment, error) {
	query := `
		SELECT id, transaction_fingerprint, amount, payment_date, source, transaction_ref,
		       description, hashed_account_identifier, customer_name, customer_email,
		       card_address_line1, card_address_postal_code, status, uploaded_by_user_id,
		       uploaded_at, metadata
		FROM pending_payments`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY uploaded_at DESC, id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending payments: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingPayment
	for rows.Next() {
		p, err := scanPendingPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdatePendingStatus transitions a pending payment. Rows are never
// deleted; the status history is the audit trail.
func (s *Store) UpdatePendingStatus(ctx context.Context, id uuid.UUID, status domain.PendingStatus) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE pending_payments SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("updating payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// ConfirmPendingPayment marks the payment behind a fingerprint as
// confirmed, if one exists.
func (s *Store) ConfirmPendingPayment(ctx context.Context, fingerprint string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE pending_payments SET status = $1 WHERE transaction_fingerprint = $2",
		domain.StatusConfirmed, fingerprint)
	if err != nil {
		return fmt.Errorf("confirming pending payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *Store) ContactByID(ctx context.Context, id string) (*domain.Contact, error) {
	var c domain.Contact
	err := s.db.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, membership_type, membership_fee, last_activity_at
		FROM contacts WHERE id = $1`, id).
		Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.MembershipType, &c.MembershipFee, &c.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching contact: %w", err)
	}
	return &c, nil
}

func (s *Store) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, first_name, last_name, email, membership_type, membership_fee, last_activity_at
		FROM contacts`)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.MembershipType, &c.MembershipFee, &c.LastActivityAt); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ContactBySourceHash resolves a payment-source hash to its contact.
// Unknown hashes return nil, nil.
func (s *Store) ContactBySourceHash(ctx context.Context, hashedIdentifier string) (*domain.Contact, error) {
	var c domain.Contact
	err := s.db.QueryRow(ctx, `
		SELECT c.id, c.first_name, c.last_name, c.email, c.membership_type, c.membership_fee, c.last_activity_at
		FROM payment_sources ps JOIN contacts c ON c.id = ps.contact_id
		WHERE ps.hashed_identifier = $1`, hashedIdentifier).
		Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.MembershipType, &c.MembershipFee, &c.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payment source lookup: %w", err)
	}
	return &c, nil
}

// CreateReconciliation is the confirmation's local commit, one
// transaction: verify the contact, insert the log row, upsert the
// payment source. The unique constraint on transaction_fingerprint is
// the concurrency guard — of two simultaneous confirmations exactly
// one insert succeeds.
func (s *Store) CreateReconciliation(ctx context.Context, rec *domain.ReconciliationLog, src *domain.PaymentSource) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM contacts WHERE id = $1)", rec.ContactID).Scan(&exists); err != nil {
		return fmt.Errorf("contact check failed: %w", err)
	}
	if !exists {
		return ErrContactNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reconciliation_logs
			(id, transaction_fingerprint, payment_date, amount, source, transaction_ref,
			 contact_id, reconciled_by_user_id, reconciled_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.TransactionFingerprint, rec.PaymentDate, rec.Amount, rec.Source,
		rec.TransactionRef, rec.ContactID, rec.ReconciledByUserID, rec.ReconciledAt, rec.Metadata)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyReconciled
		}
		return fmt.Errorf("log insert failed: %w", err)
	}

	if src != nil {
		if err := s.upsertPaymentSource(ctx, tx, src); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// upsertPaymentSource maps hashed identifier to contact, last write
// wins. A rewrite to a different contact is a data-quality smell, so
// it is logged rather than silently absorbed.
func (s *Store) upsertPaymentSource(ctx context.Context, tx pgx.Tx, src *domain.PaymentSource) error {
	var previous string
	err := tx.QueryRow(ctx,
		"SELECT contact_id FROM payment_sources WHERE hashed_identifier = $1",
		src.HashedIdentifier).Scan(&previous)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("payment source check failed: %w", err)
	}
	if previous != "" && previous != src.ContactID {
		s.log.Warn().
			Str("hashed_identifier", src.HashedIdentifier).
			Str("previous_contact", previous).
			Str("new_contact", src.ContactID).
			Msg("payment source remapped to a different contact")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_sources (id, hashed_identifier, contact_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (hashed_identifier)
		DO UPDATE SET contact_id = EXCLUDED.contact_id, updated_at = now()`,
		src.ID, src.HashedIdentifier, src.ContactID)
	if err != nil {
		return fmt.Errorf("payment source upsert failed: %w", err)
	}
	return nil
}

// DeleteReconciliationLog is the orchestrator's compensation path.
func (s *Store) DeleteReconciliationLog(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, "DELETE FROM reconciliation_logs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting reconciliation log: %w", err)
	}
	return nil
}

func (s *Store) ReconciliationByFingerprint(ctx context.Context, fingerprint string) (*domain.ReconciliationLog, error) {
	var rec domain.ReconciliationLog
	err := s.db.QueryRow(ctx, `
		SELECT id, transaction_fingerprint, payment_date, amount, source, transaction_ref,
		       contact_id, reconciled_by_user_id, reconciled_at, metadata
		FROM reconciliation_logs WHERE transaction_fingerprint = $1`, fingerprint).
		Scan(&rec.ID, &rec.TransactionFingerprint, &rec.PaymentDate, &rec.Amount, &rec.Source,
			&rec.TransactionRef, &rec.ContactID, &rec.ReconciledByUserID, &rec.ReconciledAt, &rec.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching reconciliation log: %w", err)
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPendingPayment(row rowScanner) (*domain.PendingPayment, error) {
	var p domain.PendingPayment
	err := row.Scan(&p.ID, &p.TransactionFingerprint, &p.Amount, &p.PaymentDate, &p.Source,
		&p.TransactionRef, &p.Description, &p.HashedAccountIdentifier, &p.CustomerName,
		&p.CustomerEmail, &p.CardAddressLine1, &p.CardAddressPostalCode, &p.Status,
		&p.UploadedByUserID, &p.UploadedAt, &p.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning pending payment: %w", err)
	}
	return &p, nil
}
