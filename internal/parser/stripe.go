package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/memberops/reconcile/internal/domain"
	"github.com/memberops/reconcile/internal/fingerprint"
)

// Payment-processor report: includes non-payment row types (refunds,
// fees, adjustments) that must be filtered out, plus optional customer
// columns used as matching hints.
const stripeDateLayout = "2006-01-02 15:04:05"

var stripeRequired = []string{"id", "type", "amount", "created (utc)"}

func parseStripe(r io.Reader) (*Result, error) {
	cr := newReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return &Result{Errors: []string{"file is empty"}}, nil
	}
	if err != nil {
		return &Result{Errors: []string{fmt.Sprintf("unreadable header: %v", err)}}, nil
	}
	idx, err := columnIndex(header, stripeRequired)
	if err != nil {
		return &Result{Errors: []string{err.Error()}}, nil
	}

	res := &Result{}
	seen := make(map[string]bool)
	line := 1
	for {
		line++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.rowError(line, err)
			continue
		}

		// Only charge rows are payments. Refunds and fees are valid
		// report rows, so they are filtered, not errored.
		if rowType := strings.ToLower(field(record, idx, "type")); rowType != "charge" {
			res.Filtered++
			continue
		}

		id := field(record, idx, "id")
		if id == "" {
			res.rowError(line, fmt.Errorf("missing transaction id"))
			continue
		}
		amount, err := fingerprint.ParseAmount(field(record, idx, "amount"))
		if err != nil {
			res.rowError(line, err)
			continue
		}
		date, err := fingerprint.ParseDate(field(record, idx, "created (utc)"), stripeDateLayout)
		if err != nil {
			res.rowError(line, err)
			continue
		}

		description := field(record, idx, "description")
		p := domain.NormalizedPayment{
			Amount:                  amount,
			PaymentDate:             date,
			Source:                  domain.SourceStripeReport,
			TransactionRef:          id,
			Description:             description,
			HashedAccountIdentifier: fingerprint.AccountIdentifier(field(record, idx, "card id")),
			CustomerName:            field(record, idx, "customer name"),
			CustomerEmail:           field(record, idx, "customer email"),
			CardAddressLine1:        field(record, idx, "card address line1"),
			CardAddressPostalCode:   field(record, idx, "card address postal code"),
		}
		p.TransactionFingerprint = fingerprint.Transaction(p.Source, id, amount, date, description)

		if seen[p.TransactionFingerprint] {
			res.rowError(line, fmt.Errorf("duplicate of an earlier row in this file (id %s)", id))
			continue
		}
		seen[p.TransactionFingerprint] = true

		res.Payments = append(res.Payments, p)
		res.Processed++
	}
	return res.finalize(), nil
}
