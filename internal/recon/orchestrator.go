// Package recon records a confirmed (payment, member) match and
// propagates it to the CRM and the CMS user directory.
//
// The confirmation is a minimal saga: one ACID local commit followed
// by two strictly sequential external calls. If either call fails, the
// just-created reconciliation log is deleted again — the log's
// presence is the system-wide "already reconciled" check, so a log row
// whose external updates never happened would wrongly block future
// attempts.
package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memberops/reconcile/internal/domain"
)

// Validation sentinels for requests that must be rejected before any
// side effect. ErrNonPositiveAmount wraps ErrInvalidRequest but gets
// its own HTTP status at the edge.
var (
	ErrInvalidRequest    = fmt.Errorf("invalid confirmation request")
	ErrNonPositiveAmount = fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
)

// Storage is the durable store behind confirmation. CreateReconciliation
// must be one transaction: verify the contact, insert the log row
// (unique on fingerprint) and upsert the payment source, or leave
// nothing behind. The unique constraint is the sole guard against
// concurrent confirmations of the same transaction.
type Storage interface {
	ContactByID(ctx context.Context, id string) (*domain.Contact, error)
	CreateReconciliation(ctx context.Context, rec *domain.ReconciliationLog, src *domain.PaymentSource) error
	DeleteReconciliationLog(ctx context.Context, id uuid.UUID) error
	ConfirmPendingPayment(ctx context.Context, fingerprint string) error
}

// MembershipUpdate carries the derived membership facts sent to the CRM.
type MembershipUpdate struct {
	ContactID      string    `json:"contactId"`
	MembershipType string    `json:"membershipType"`
	Amount         string    `json:"amount"`
	RenewalDate    time.Time `json:"renewalDate"`
	PaidStatus     bool      `json:"paidStatus"`
}

// RoleUpdate carries the member-role change sent to the CMS user
// directory.
type RoleUpdate struct {
	ContactID string `json:"contactId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// UpdateResult is one collaborator's outcome, returned to the caller
// even when the overall confirmation fails so partial progress stays
// visible.
type UpdateResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

type CRMClient interface {
	UpdateMembership(ctx context.Context, upd MembershipUpdate) (*UpdateResult, error)
}

type CMSClient interface {
	UpdateMemberRole(ctx context.Context, upd RoleUpdate) (*UpdateResult, error)
}

// ConfirmRequest is an operator's confirmation of one suggestion.
type ConfirmRequest struct {
	Payment            domain.NormalizedPayment `json:"paymentData"`
	ContactID          string                   `json:"contactId"`
	Confidence         float64                  `json:"confidence"`
	Reasoning          *domain.MatchReasoning   `json:"reasoning,omitempty"`
	ReconciledByUserID string                   `json:"reconciledByUserId"`
}

// ConfirmResult reports the confirmation outcome. On propagation
// failure the attempted (and rolled back) log ID and both partial
// results remain populated for audit.
type ConfirmResult struct {
	Success               bool          `json:"success"`
	ReconciliationLogID   *uuid.UUID    `json:"reconciliationLogId,omitempty"`
	GHLUpdateResult       *UpdateResult `json:"ghlUpdateResult,omitempty"`
	WordPressUpdateResult *UpdateResult `json:"wordpressUpdateResult,omitempty"`
	Errors                []string      `json:"errors,omitempty"`
	RollbackPerformed     bool          `json:"rollbackPerformed,omitempty"`
}

type Orchestrator struct {
	store Storage
	crm   CRMClient
	cms   CMSClient
	log   zerolog.Logger
}

func NewOrchestrator(store Storage, crm CRMClient, cms CMSClient, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{store: store, crm: crm, cms: cms, log: log}
}

// ConfirmMatch runs the confirmation state machine:
//
//  1. validate the request (no side effects on failure)
//  2. local ACID commit: log row + payment source, fingerprint unique
//  3. CRM update, then CMS update, strictly in that order
//  4. on propagation failure, delete the log row (compensation) and
//     report which collaborator did succeed
//
// Local durability always happens before any external call, so a crash
// between steps never leaves an externally-updated-but-unrecorded
// state. Terminal failures before the local commit return a nil result
// with a classifying error; once the commit has happened, a result is
// always returned, alongside an error when the confirmation failed.
func (o *Orchestrator) ConfirmMatch(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	contact, err := o.store.ContactByID(ctx, req.ContactID)
	if err != nil {
		return nil, fmt.Errorf("resolving contact %s: %w", req.ContactID, err)
	}

	rec, src, err := buildRecords(req)
	if err != nil {
		return nil, err
	}
	if err := o.store.CreateReconciliation(ctx, rec, src); err != nil {
		return nil, fmt.Errorf("recording reconciliation: %w", err)
	}

	result := &ConfirmResult{ReconciliationLogID: &rec.ID}
	logger := o.log.With().
		Stringer("log_id", rec.ID).
		Str("fingerprint", rec.TransactionFingerprint).
		Str("contact_id", contact.ID).
		Logger()

	crmRes, err := o.crm.UpdateMembership(ctx, MembershipUpdate{
		ContactID:      contact.ID,
		MembershipType: contact.MembershipType,
		Amount:         req.Payment.Amount.StringFixed(2),
		RenewalDate:    req.Payment.PaymentDate.AddDate(1, 0, 0),
		PaidStatus:     true,
	})
	result.GHLUpdateResult = crmRes
	if err != nil || crmRes == nil || !crmRes.Success {
		logger.Error().Err(err).Msg("CRM update failed, rolling back reconciliation log")
		o.compensate(ctx, result, rec.ID)
		result.Errors = append(result.Errors, collaboratorFailure("CRM", crmRes, err))
		return result, fmt.Errorf("CRM propagation failed")
	}

	cmsRes, err := o.cms.UpdateMemberRole(ctx, RoleUpdate{
		ContactID: contact.ID,
		Email:     contact.Email,
		Role:      memberRole(contact.MembershipType),
	})
	result.WordPressUpdateResult = cmsRes
	if err != nil || cmsRes == nil || !cmsRes.Success {
		logger.Error().Err(err).Msg("CMS update failed after CRM success, rolling back reconciliation log")
		o.compensate(ctx, result, rec.ID)
		result.Errors = append(result.Errors, collaboratorFailure("CMS", cmsRes, err))
		return result, fmt.Errorf("CMS propagation failed")
	}

	if err := o.store.ConfirmPendingPayment(ctx, rec.TransactionFingerprint); err != nil {
		// The decision is durable and both systems are updated; a
		// missing pending row (direct confirmations) is not a failure.
		logger.Warn().Err(err).Msg("could not transition pending payment to confirmed")
	}

	result.Success = true
	logger.Info().Msg("reconciliation confirmed and propagated")
	return result, nil
}

func validate(req ConfirmRequest) error {
	switch {
	case req.Payment.TransactionFingerprint == "":
		return fmt.Errorf("%w: missing transaction fingerprint", ErrInvalidRequest)
	case req.ContactID == "":
		return fmt.Errorf("%w: missing contact id", ErrInvalidRequest)
	case !req.Payment.Amount.IsPositive():
		return ErrNonPositiveAmount
	case req.Payment.PaymentDate.IsZero():
		return fmt.Errorf("%w: missing payment date", ErrInvalidRequest)
	case req.Confidence < 0 || req.Confidence > 1:
		return fmt.Errorf("%w: confidence out of range", ErrInvalidRequest)
	}
	return nil
}

func buildRecords(req ConfirmRequest) (*domain.ReconciliationLog, *domain.PaymentSource, error) {
	metadata, err := json.Marshal(map[string]interface{}{
		"confidence": req.Confidence,
		"reasoning":  req.Reasoning,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encoding reconciliation metadata: %w", err)
	}

	rec := &domain.ReconciliationLog{
		ID:                     uuid.New(),
		TransactionFingerprint: req.Payment.TransactionFingerprint,
		PaymentDate:            req.Payment.PaymentDate,
		Amount:                 req.Payment.Amount,
		Source:                 req.Payment.Source,
		TransactionRef:         req.Payment.TransactionRef,
		ContactID:              req.ContactID,
		ReconciledByUserID:     req.ReconciledByUserID,
		ReconciledAt:           time.Now().UTC(),
		Metadata:               metadata,
	}

	var src *domain.PaymentSource
	if req.Payment.HashedAccountIdentifier != "" {
		src = &domain.PaymentSource{
			ID:               uuid.New(),
			HashedIdentifier: req.Payment.HashedAccountIdentifier,
			ContactID:        req.ContactID,
		}
	}
	return rec, src, nil
}

// compensate deletes the log row created earlier in this attempt. The
// payment-source upsert is left in place: it is idempotent and harmless
// without the log. Failure to delete is itself reported, because a
// surviving log row would block the operator's retry.
func (o *Orchestrator) compensate(ctx context.Context, result *ConfirmResult, logID uuid.UUID) {
	if err := o.store.DeleteReconciliationLog(ctx, logID); err != nil {
		o.log.Error().Err(err).Stringer("log_id", logID).Msg("compensation failed: reconciliation log not deleted")
		result.Errors = append(result.Errors, fmt.Sprintf("rollback failed: %v", err))
		return
	}
	result.RollbackPerformed = true
}

func collaboratorFailure(name string, res *UpdateResult, err error) string {
	if err != nil {
		return fmt.Sprintf("%s update failed: %v", name, err)
	}
	if res != nil && res.Detail != "" {
		return fmt.Sprintf("%s update unsuccessful: %s", name, res.Detail)
	}
	return fmt.Sprintf("%s update unsuccessful", name)
}

// memberRole maps a membership type onto the CMS role slug, e.g.
// "Full" to "full_member".
func memberRole(membershipType string) string {
	if membershipType == "" {
		return "member"
	}
	return slug(membershipType) + "_member"
}

func slug(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == ' ' || r == '-':
			out = append(out, '_')
		}
	}
	return string(out)
}
