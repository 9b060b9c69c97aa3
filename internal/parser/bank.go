package parser

import (
	"fmt"
	"io"

	"github.com/memberops/reconcile/internal/domain"
	"github.com/memberops/reconcile/internal/fingerprint"
)

// Bank statement export: one row per posted transaction, keyed by the
// bank-assigned reference plus posted date and amount.
const bankDateLayout = "02/01/2006"

var bankRequired = []string{"reference", "date", "amount"}

func parseBank(r io.Reader) (*Result, error) {
	cr := newReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return &Result{Errors: []string{"file is empty"}}, nil
	}
	if err != nil {
		return &Result{Errors: []string{fmt.Sprintf("unreadable header: %v", err)}}, nil
	}
	idx, err := columnIndex(header, bankRequired)
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

		ref := field(record, idx, "reference")
		if ref == "" {
			res.rowError(line, fmt.Errorf("missing reference"))
			continue
		}
		amount, err := fingerprint.ParseAmount(field(record, idx, "amount"))
		if err != nil {
			res.rowError(line, err)
			continue
		}
		date, err := fingerprint.ParseDate(field(record, idx, "date"), bankDateLayout)
		if err != nil {
			res.rowError(line, err)
			continue
		}

		description := field(record, idx, "description")
		p := domain.NormalizedPayment{
			Amount:                  amount,
			PaymentDate:             date,
			Source:                  domain.SourceBankCSV,
			TransactionRef:          ref,
			Description:             description,
			HashedAccountIdentifier: fingerprint.AccountIdentifier(field(record, idx, "account identifier")),
		}
		p.TransactionFingerprint = fingerprint.Transaction(p.Source, ref, amount, date, description)

		if seen[p.TransactionFingerprint] {
			res.rowError(line, fmt.Errorf("duplicate of an earlier row in this file (ref %s)", ref))
			continue
		}
		seen[p.TransactionFingerprint] = true

		res.Payments = append(res.Payments, p)
		res.Processed++
	}
	return res.finalize(), nil
}
