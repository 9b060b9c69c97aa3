package parser

import (
	"strings"
	"testing"

	"github.com/memberops/reconcile/internal/domain"
)

const bankCSV = `Reference,Date,Amount,Description,Account Identifier
FT-1001,08/01/2025,50.00,Membership renewal J Smith,12-34-56 78901234
FT-1002,09/01/2025,35.00,Concession renewal,
FT-1003,09/01/2025,bad,broken amount,
FT-1004,31/31/2025,20.00,broken date,
FT-1001,08/01/2025,50.00,Membership renewal J Smith,12-34-56 78901234
`

func TestParseBank(t *testing.T) {
	res, err := Parse(DialectBank, strings.NewReader(bankCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected overall success, errors: %v", res.Errors)
	}
	if res.Processed != 2 || res.Skipped != 3 {
		t.Fatalf("processed=%d skipped=%d, want 2/3 (errors: %v)", res.Processed, res.Skipped, res.Errors)
	}
	if len(res.Errors) != 3 {
		t.Errorf("expected 3 row errors, got %v", res.Errors)
	}

	// Row order preserved.
	if res.Payments[0].TransactionRef != "FT-1001" || res.Payments[1].TransactionRef != "FT-1002" {
		t.Errorf("row order not preserved: %+v", res.Payments)
	}

	first := res.Payments[0]
	if first.Source != domain.SourceBankCSV {
		t.Errorf("source = %s", first.Source)
	}
	if first.Amount.String() != "50" {
		t.Errorf("amount = %s", first.Amount)
	}
	if first.HashedAccountIdentifier == "" || strings.Contains(first.HashedAccountIdentifier, "12-34-56") {
		t.Errorf("account identifier not hashed: %q", first.HashedAccountIdentifier)
	}
}

func TestParseBankColumnOrderIrrelevant(t *testing.T) {
	reordered := `Amount,Description,Reference,Date
50.00,Membership renewal J Smith,FT-1001,08/01/2025
`
	a, err := Parse(DialectBank, strings.NewReader(bankCSV))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse(DialectBank, strings.NewReader(reordered))
	if err != nil {
		t.Fatal(err)
	}
	if a.Payments[0].TransactionFingerprint != b.Payments[0].TransactionFingerprint {
		t.Error("fingerprint changed with column order")
	}
}

func TestParseBankIdempotent(t *testing.T) {
	a, _ := Parse(DialectBank, strings.NewReader(bankCSV))
	b, _ := Parse(DialectBank, strings.NewReader(bankCSV))
	if len(a.Payments) != len(b.Payments) {
		t.Fatal("parse count differs between runs")
	}
	for i := range a.Payments {
		if a.Payments[i].TransactionFingerprint != b.Payments[i].TransactionFingerprint {
			t.Errorf("fingerprint %d differs between runs", i)
		}
	}
}

const stripeCSV = `id,Type,Amount,Created (UTC),Customer Name,Customer Email,Card Address Line1,Card Address Postal Code,Description
ch_001,charge,50.00,2025-01-08 14:30:00,John Smith,john@example.com,1 High St,AB1 2CD,Full membership
re_001,refund,-50.00,2025-01-08 15:00:00,,,,,Refund of ch_000
fee_001,stripe_fee,-0.75,2025-01-08 15:00:00,,,,,Processing fee
ch_002,charge,35.00,2025-01-09 09:10:11,Ana García,ana@example.org,,,Concession membership
`

func TestParseStripeFiltersNonPayments(t *testing.T) {
	res, err := Parse(DialectStripe, strings.NewReader(stripeCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected success, errors: %v", res.Errors)
	}
	if res.Processed != 2 {
		t.Fatalf("processed = %d, want 2", res.Processed)
	}
	if res.Filtered != 2 {
		t.Errorf("filtered = %d, want 2 (refund + fee)", res.Filtered)
	}
	if res.Skipped != 0 {
		t.Errorf("skipped = %d, want 0", res.Skipped)
	}

	first := res.Payments[0]
	if first.CustomerEmail != "john@example.com" || first.CustomerName != "John Smith" {
		t.Errorf("customer hints not carried: %+v", first)
	}
	if first.Source != domain.SourceStripeReport {
		t.Errorf("source = %s", first.Source)
	}
	if got := first.PaymentDate.Format("2006-01-02"); got != "2025-01-08" {
		t.Errorf("payment date = %s", got)
	}
}

func TestParseStripeAllFilteredStillOK(t *testing.T) {
	onlyFees := `id,Type,Amount,Created (UTC)
fee_001,stripe_fee,-0.75,2025-01-08 15:00:00
`
	res, err := Parse(DialectStripe, strings.NewReader(onlyFees))
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Filtered != 1 || res.Processed != 0 {
		t.Errorf("all-filtered file should succeed with zero payments: %+v", res)
	}
}

func TestParseWholeFileFailures(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty file", in: ""},
		{name: "missing required column", in: "Reference,Amount\nFT-1,50.00\n"},
		{name: "every row fails", in: "Reference,Date,Amount\nFT-1,bad,50.00\nFT-2,also bad,10.00\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Parse(DialectBank, strings.NewReader(tc.in))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.OK {
				t.Errorf("expected overall failure, got %+v", res)
			}
			if len(res.Errors) == 0 {
				t.Error("expected at least one error message")
			}
		})
	}
}

func TestParseUnknownDialect(t *testing.T) {
	if _, err := Parse(Dialect("xero"), strings.NewReader("a,b\n")); err == nil {
		t.Error("expected error for unknown dialect")
	}
}

func TestParseBankWithBOM(t *testing.T) {
	res, err := Parse(DialectBank, strings.NewReader("\xef\xbb\xbf"+bankCSV))
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Processed != 2 {
		t.Errorf("BOM-prefixed file should parse identically: %+v", res)
	}
}
