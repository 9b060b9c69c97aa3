// Package importer loads a parsed CSV export into the pending-payment
// queue. Import is idempotent: the fingerprint's unique constraint
// turns a re-upload into a no-op counted as AlreadyExists.
package importer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memberops/reconcile/internal/domain"
	"github.com/memberops/reconcile/internal/parser"
)

type PendingStore interface {
	InsertPendingPayment(ctx context.Context, p *domain.PendingPayment) (created bool, err error)
}

// Summary reports one import run. Imported + AlreadyExists equals the
// number of parsed rows; Skipped and Filtered come straight from the
// parser.
type Summary struct {
	Imported      int      `json:"imported"`
	AlreadyExists int      `json:"alreadyExists"`
	Skipped       int      `json:"skipped"`
	Filtered      int      `json:"filtered"`
	Errors        []string `json:"errors,omitempty"`
	ParseOK       bool     `json:"parseOk"`
}

type Importer struct {
	store PendingStore
	log   zerolog.Logger
}

func New(store PendingStore, log zerolog.Logger) *Importer {
	return &Importer{store: store, log: log}
}

// Import parses r under the given dialect and inserts every well-formed
// row as a pending payment. Row-level parse failures are reported in
// the summary, not as an error; an error means the file as a whole was
// unusable or the store failed.
func (i *Importer) Import(ctx context.Context, dialect parser.Dialect, r io.Reader, uploadedByUserID string) (*Summary, error) {
	res, err := parser.Parse(dialect, r)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Skipped:  res.Skipped,
		Filtered: res.Filtered,
		Errors:   res.Errors,
		ParseOK:  res.OK,
	}
	if !res.OK {
		return sum, fmt.Errorf("no usable rows in file")
	}

	now := time.Now().UTC()
	for _, np := range res.Payments {
		pending := &domain.PendingPayment{
			ID:                uuid.New(),
			NormalizedPayment: np,
			Status:            domain.StatusPending,
			UploadedByUserID:  uploadedByUserID,
			UploadedAt:        now,
			Metadata:          map[string]string{"dialect": string(dialect)},
		}
		created, err := i.store.InsertPendingPayment(ctx, pending)
		if err != nil {
			return sum, fmt.Errorf("storing payment %s: %w", np.TransactionRef, err)
		}
		if created {
			sum.Imported++
		} else {
			sum.AlreadyExists++
		}
	}

	i.log.Info().
		Str("dialect", string(dialect)).
		Int("imported", sum.Imported).
		Int("already_exists", sum.AlreadyExists).
		Int("skipped", sum.Skipped).
		Int("filtered", sum.Filtered).
		Msg("import complete")
	return sum, nil
}
