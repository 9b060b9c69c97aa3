package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/memberops/reconcile/internal/domain"
	"github.com/memberops/reconcile/internal/parser"
)

type fakePendingStore struct {
	byFingerprint map[string]*domain.PendingPayment
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{byFingerprint: map[string]*domain.PendingPayment{}}
}

func (s *fakePendingStore) InsertPendingPayment(ctx context.Context, p *domain.PendingPayment) (bool, error) {
	if _, ok := s.byFingerprint[p.TransactionFingerprint]; ok {
		return false, nil
	}
	s.byFingerprint[p.TransactionFingerprint] = p
	return true, nil
}

const bankCSV = `Reference,Date,Amount,Description,Account Identifier
REF-1001,08/01/2025,50.00,MEMBERSHIP J SMITH,12-34-56 12345678
REF-1002,09/01/2025,35.00,MEMBERSHIP A GARCIA,98-76-54 87654321
REF-BAD,notadate,50.00,BROKEN ROW,11-11-11 11111111
`

func TestImportIsIdempotent(t *testing.T) {
	store := newFakePendingStore()
	imp := New(store, zerolog.Nop())

	first, err := imp.Import(context.Background(), parser.DialectBank, strings.NewReader(bankCSV), "u-admin")
	if err != nil {
		t.Fatal(err)
	}
	if first.Imported != 2 || first.AlreadyExists != 0 {
		t.Fatalf("first run: %+v", first)
	}
	if first.Skipped != 1 || len(first.Errors) != 1 {
		t.Fatalf("bad row not reported: %+v", first)
	}

	second, err := imp.Import(context.Background(), parser.DialectBank, strings.NewReader(bankCSV), "u-admin")
	if err != nil {
		t.Fatal(err)
	}
	if second.Imported != 0 || second.AlreadyExists != 2 {
		t.Fatalf("second run must be a no-op: %+v", second)
	}
	if len(store.byFingerprint) != 2 {
		t.Fatalf("store holds %d rows, want 2", len(store.byFingerprint))
	}

	for _, p := range store.byFingerprint {
		if p.Status != domain.StatusPending {
			t.Errorf("status = %s, want pending", p.Status)
		}
		if p.UploadedByUserID != "u-admin" {
			t.Errorf("uploadedBy = %s", p.UploadedByUserID)
		}
		if p.UploadedAt.IsZero() {
			t.Error("uploadedAt must be set on the stored record")
		}
		if p.Metadata["dialect"] != "bank" {
			t.Errorf("metadata dialect = %q, want bank", p.Metadata["dialect"])
		}
	}
}

func TestImportRejectsUnusableFile(t *testing.T) {
	imp := New(newFakePendingStore(), zerolog.Nop())

	sum, err := imp.Import(context.Background(), parser.DialectBank, strings.NewReader("Reference,Date,Amount\n"), "u-admin")
	if err == nil {
		t.Fatal("expected error for header-only file")
	}
	if sum == nil || sum.ParseOK {
		t.Fatalf("summary should report the parse failure: %+v", sum)
	}
}
