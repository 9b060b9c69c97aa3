package matching

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/memberops/reconcile/internal/domain"
)

type fakeDirectory struct {
	contacts []domain.Contact
	sources  map[string]string // hashed identifier -> contact ID
}

func (d *fakeDirectory) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	return d.contacts, nil
}

func (d *fakeDirectory) ContactBySourceHash(ctx context.Context, hash string) (*domain.Contact, error) {
	id, ok := d.sources[hash]
	if !ok {
		return nil, nil
	}
	for _, c := range d.contacts {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, nil
}

func fee(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testContacts() []domain.Contact {
	return []domain.Contact{
		{ID: "c-john", FirstName: "John", LastName: "Smith", Email: "john@example.com",
			MembershipType: "Full", MembershipFee: fee("50.00"),
			LastActivityAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "c-jane", FirstName: "Jane", LastName: "Smythe", Email: "jane@example.com",
			MembershipType: "Full", MembershipFee: fee("50.00"),
			LastActivityAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "c-ana", FirstName: "Ana", LastName: "García", Email: "ana@example.org",
			MembershipType: "Concession", MembershipFee: fee("35.00"),
			LastActivityAt: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func newService(dir *fakeDirectory) *Service {
	return New(dir, DefaultConfig(), zerolog.Nop())
}

func payment(amount, name, email string) domain.NormalizedPayment {
	return domain.NormalizedPayment{
		TransactionFingerprint: "fp-test",
		Amount:                 fee(amount),
		PaymentDate:            time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
		Source:                 domain.SourceStripeReport,
		TransactionRef:         "ch_001",
		CustomerName:           name,
		CustomerEmail:          email,
	}
}

func TestExactEmailMatchScoresHigh(t *testing.T) {
	svc := newService(&fakeDirectory{contacts: testContacts()})

	res, err := svc.FindMatches(context.Background(), payment("50.00", "John Smith", "john@example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Suggestions) == 0 {
		t.Fatal("expected suggestions")
	}
	top := res.Suggestions[0]
	if top.ContactID != "c-john" {
		t.Fatalf("top suggestion = %s, want c-john", top.ContactID)
	}
	if top.Reasoning.EmailMatch == nil || *top.Reasoning.EmailMatch < 0.99 {
		t.Errorf("email score = %v, want ~1.0", top.Reasoning.EmailMatch)
	}
	if top.Confidence < 0.9 {
		t.Errorf("confidence = %f, want >= 0.9", top.Confidence)
	}
	if top.MembershipType != "Full" {
		t.Errorf("membership type = %s", top.MembershipType)
	}
}

func TestConfidenceBoundsAndOrdering(t *testing.T) {
	svc := newService(&fakeDirectory{contacts: testContacts()})

	res, err := svc.FindMatches(context.Background(), payment("50.00", "J Smith", "john@example.com"))
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range res.Suggestions {
		if s.Confidence < 0 || s.Confidence > 1 {
			t.Errorf("confidence out of bounds: %f", s.Confidence)
		}
		if i > 0 && s.Confidence > res.Suggestions[i-1].Confidence {
			t.Error("suggestions not sorted by descending confidence")
		}
	}
	if res.TotalMatches != len(res.Suggestions) {
		t.Errorf("TotalMatches = %d, len = %d", res.TotalMatches, len(res.Suggestions))
	}
}

func TestMissingEmailSignalIsNeutral(t *testing.T) {
	contact := domain.Contact{
		ID: "c-1", FirstName: "John", LastName: "Smith", Email: "john@example.com",
		MembershipType: "Full", MembershipFee: fee("50.00"),
	}
	svc := newService(&fakeDirectory{contacts: []domain.Contact{contact}})

	res, err := svc.FindMatches(context.Background(), payment("50.00", "John Smith", ""))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Suggestions) != 1 {
		t.Fatalf("expected one suggestion, got %d", len(res.Suggestions))
	}
	got := res.Suggestions[0]
	if got.Reasoning.EmailMatch != nil {
		t.Error("absent email hint must not produce an email sub-score")
	}
	// Name and amount are both perfect, so the absent email signal
	// must not drag the weighted confidence down.
	if got.Confidence < 0.99 {
		t.Errorf("confidence = %f, want ~1.0 from name+amount only", got.Confidence)
	}
}

func TestNameReorderingAndDiacritics(t *testing.T) {
	svc := newService(&fakeDirectory{contacts: testContacts()})

	res, err := svc.FindMatches(context.Background(), payment("35.00", "GARCIA Ana", ""))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Suggestions) == 0 || res.Suggestions[0].ContactID != "c-ana" {
		t.Fatalf("expected c-ana on top, got %+v", res.Suggestions)
	}
	if name := res.Suggestions[0].Reasoning.NameMatch; name == nil || *name < 0.99 {
		t.Errorf("reordered, diacritic-free name should score ~1.0, got %v", name)
	}
}

func TestDeterministicTieBreak(t *testing.T) {
	// Two contacts distinguishable only by activity recency; a third
	// equal on that too, falling back to ID order.
	when := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	contacts := []domain.Contact{
		{ID: "c-b", MembershipFee: fee("50.00"), LastActivityAt: when},
		{ID: "c-a", MembershipFee: fee("50.00"), LastActivityAt: when},
		{ID: "c-recent", MembershipFee: fee("50.00"), LastActivityAt: when.AddDate(0, 1, 0)},
	}
	svc := newService(&fakeDirectory{contacts: contacts})

	res, err := svc.FindMatches(context.Background(), payment("50.00", "", ""))
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, s := range res.Suggestions {
		order = append(order, s.ContactID)
	}
	want := []string{"c-recent", "c-a", "c-b"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestConfidenceFloorExcludesNoise(t *testing.T) {
	svc := newService(&fakeDirectory{contacts: testContacts()})

	// Amount matches nothing and the name is unrelated: every score
	// falls under the floor, which is an empty list, not an error.
	res, err := svc.FindMatches(context.Background(), payment("999.99", "Zzyzx Qwerty", ""))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Suggestions) != 0 {
		t.Errorf("expected no suggestions, got %+v", res.Suggestions)
	}
	if res.TotalMatches != 0 {
		t.Errorf("TotalMatches = %d, want 0", res.TotalMatches)
	}
}

func TestExactEmailOutranksNameOnlyCandidate(t *testing.T) {
	// The weighted mean alone would let a strong name hit on a contact
	// with no email and no fee outrank an exact email match.
	contacts := []domain.Contact{
		{ID: "c-exact", FirstName: "Xavier", LastName: "Quill", Email: "john@example.com"},
		{ID: "c-joan", FirstName: "John", LastName: "Smyth"},
	}
	dir := &fakeDirectory{
		contacts: contacts,
		sources:  map[string]string{"hash-joan": "c-joan"},
	}
	svc := newService(dir)

	p := payment("50.00", "John Smith", "john@example.com")
	p.HashedAccountIdentifier = "hash-joan"

	res, err := svc.FindMatches(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Suggestions) < 2 {
		t.Fatalf("expected both candidates, got %+v", res.Suggestions)
	}
	top := res.Suggestions[0]
	if top.ContactID != "c-exact" {
		t.Fatalf("exact-email contact must rank first, got %s", top.ContactID)
	}
	if top.Confidence < DefaultConfig().ExactEmailFloor {
		t.Errorf("exact-email confidence = %f, want >= %f", top.Confidence, DefaultConfig().ExactEmailFloor)
	}
	if second := res.Suggestions[1]; top.Confidence < second.Confidence {
		t.Errorf("exact email (%f) ranked below %s (%f)", top.Confidence, second.ContactID, second.Confidence)
	}
}

func TestKnownReturningPayerAlwaysSuggested(t *testing.T) {
	// No hints on the payment and a fee that no longer matches: only
	// the payment-source link identifies the payer.
	contact := domain.Contact{
		ID: "c-known", FirstName: "Ana", LastName: "García",
		MembershipType: "Full", MembershipFee: fee("100.00"),
	}
	dir := &fakeDirectory{
		contacts: []domain.Contact{contact},
		sources:  map[string]string{"hash-known": "c-known"},
	}
	svc := newService(dir)

	p := payment("50.00", "", "")
	p.HashedAccountIdentifier = "hash-known"

	res, err := svc.FindMatches(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Suggestions) != 1 {
		t.Fatalf("known payer must be suggested, got %+v", res.Suggestions)
	}
	got := res.Suggestions[0]
	if got.ContactID != "c-known" {
		t.Fatalf("suggestion = %s, want c-known", got.ContactID)
	}
	if got.Confidence < DefaultConfig().SourceHashFloor {
		t.Errorf("confidence = %f, want >= %f", got.Confidence, DefaultConfig().SourceHashFloor)
	}
	if got.Reasoning.SourceMatch == nil || *got.Reasoning.SourceMatch != 1 {
		t.Errorf("source sub-score = %v, want 1.0", got.Reasoning.SourceMatch)
	}
}

func TestNameOnlySignalIsCapped(t *testing.T) {
	contact := domain.Contact{ID: "c-name", FirstName: "John", LastName: "Smith"}
	svc := newService(&fakeDirectory{contacts: []domain.Contact{contact}})

	// Email matches nobody and the contact has no fee, so the perfect
	// name is the only signal.
	res, err := svc.FindMatches(context.Background(), payment("10.00", "John Smith", "someone@else.test"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Suggestions) != 1 {
		t.Fatalf("expected one suggestion, got %d", len(res.Suggestions))
	}
	got := res.Suggestions[0]
	cfg := DefaultConfig()
	if got.Confidence > cfg.NameOnlyCap+1e-9 {
		t.Errorf("name-only confidence = %f, want <= %f", got.Confidence, cfg.NameOnlyCap)
	}
	if got.Confidence >= cfg.ExactEmailFloor {
		t.Errorf("name-only confidence = %f must stay below the exact-email floor %f", got.Confidence, cfg.ExactEmailFloor)
	}
}

func TestKnownPaymentSourceIsCandidate(t *testing.T) {
	contacts := testContacts()
	dir := &fakeDirectory{
		contacts: contacts,
		sources:  map[string]string{"hash-john": "c-john"},
	}
	svc := newService(dir)

	// Amount far from John's fee and no hints: only the source hash
	// links the payment to him.
	p := payment("20.00", "", "")
	p.HashedAccountIdentifier = "hash-john"
	p.CustomerName = "John Smith"

	res, err := svc.FindMatches(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range res.Suggestions {
		if s.ContactID == "c-john" {
			found = true
		}
	}
	if !found {
		t.Errorf("source-hash contact missing from suggestions: %+v", res.Suggestions)
	}
}
