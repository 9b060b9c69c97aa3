package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentSourceKind identifies which export a payment came from.
type PaymentSourceKind string

const (
	SourceBankCSV      PaymentSourceKind = "BANK_CSV"
	SourceStripeReport PaymentSourceKind = "STRIPE_REPORT"
)

// PendingStatus is the lifecycle state of an imported payment.
// Pending payments are never deleted, only transitioned.
type PendingStatus string

const (
	StatusPending    PendingStatus = "pending"
	StatusProcessing PendingStatus = "processing"
	StatusMatched    PendingStatus = "matched"
	StatusConfirmed  PendingStatus = "confirmed"
	StatusIgnored    PendingStatus = "ignored"
)

// NormalizedPayment is the canonical form of one parsed CSV row.
// It is transient: it exists only during an import or match call.
type NormalizedPayment struct {
	TransactionFingerprint string            `json:"transactionFingerprint"`
	Amount                 decimal.Decimal   `json:"amount"`
	PaymentDate            time.Time         `json:"paymentDate"`
	Source                 PaymentSourceKind `json:"source"`
	TransactionRef         string            `json:"transactionRef"`
	Description            string            `json:"description,omitempty"`
	// One-way hash of a bank/card identifier. The raw identifier is
	// never stored.
	HashedAccountIdentifier string `json:"hashedAccountIdentifier,omitempty"`

	// Customer hints carried by some dialects, used only for matching.
	CustomerName          string `json:"customerName,omitempty"`
	CustomerEmail         string `json:"customerEmail,omitempty"`
	CardAddressLine1      string `json:"cardAddressLine1,omitempty"`
	CardAddressPostalCode string `json:"cardAddressPostalCode,omitempty"`
}

// PendingPayment is a durable NormalizedPayment awaiting an operator
// decision. Unique on TransactionFingerprint.
type PendingPayment struct {
	ID uuid.UUID `json:"id"`
	NormalizedPayment
	Status           PendingStatus     `json:"status"`
	UploadedByUserID string            `json:"uploadedByUserId"`
	UploadedAt       time.Time         `json:"uploadedAt"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Contact is the local mirror of one CRM contact, the candidate pool
// for matching.
type Contact struct {
	ID             string          `json:"id"`
	FirstName      string          `json:"firstName"`
	LastName       string          `json:"lastName"`
	Email          string          `json:"email"`
	MembershipType string          `json:"membershipType"`
	MembershipFee  decimal.Decimal `json:"membershipFee"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
}

func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// MatchReasoning carries the per-signal sub-scores behind a suggestion.
// A nil score means the signal was absent, not zero.
type MatchReasoning struct {
	NameMatch   *float64 `json:"nameMatch,omitempty"`
	EmailMatch  *float64 `json:"emailMatch,omitempty"`
	AmountMatch *float64 `json:"amountMatch,omitempty"`
	// SourceMatch is set when the payment's account hash is already
	// linked to this contact by a past reconciliation.
	SourceMatch *float64 `json:"sourceMatch,omitempty"`
}

// ContactMatch is one ranked suggestion for a payment.
type ContactMatch struct {
	ContactID      string         `json:"contactId"`
	Confidence     float64        `json:"confidence"`
	Reasoning      MatchReasoning `json:"reasoning"`
	ContactName    string         `json:"contactName"`
	ContactEmail   string         `json:"contactEmail"`
	MembershipType string         `json:"membershipType"`
}

// ReconciliationLog is the permanent record of one confirmed match.
// Unique on TransactionFingerprint: a transaction is reconciled at
// most once. Immutable after creation except for rollback deletion
// when external propagation fails.
type ReconciliationLog struct {
	ID                     uuid.UUID         `json:"id"`
	TransactionFingerprint string            `json:"transactionFingerprint"`
	PaymentDate            time.Time         `json:"paymentDate"`
	Amount                 decimal.Decimal   `json:"amount"`
	Source                 PaymentSourceKind `json:"source"`
	TransactionRef         string            `json:"transactionRef"`
	ContactID              string            `json:"contactId"`
	ReconciledByUserID     string            `json:"reconciledByUserId"`
	ReconciledAt           time.Time         `json:"reconciledAt"`
	Metadata               json.RawMessage   `json:"metadata,omitempty"`
}

// PaymentSource maps a hashed bank/card identifier to a contact, so a
// returning payer can be auto-suggested. Upsert by identifier:
// last write wins.
type PaymentSource struct {
	ID               uuid.UUID `json:"id"`
	HashedIdentifier string    `json:"hashedIdentifier"`
	ContactID        string    `json:"contactId"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
