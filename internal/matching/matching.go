// Package matching scores contacts against a normalized payment and
// returns ranked, confidence-annotated suggestions.
package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/memberops/reconcile/internal/domain"
	"github.com/memberops/reconcile/internal/fingerprint"
)

// ContactDirectory is the candidate pool. The membership database and
// its query layer live outside this core.
type ContactDirectory interface {
	ListContacts(ctx context.Context) ([]domain.Contact, error)
	// ContactBySourceHash resolves a previously seen payment-source
	// hash to its contact; returns nil when the hash is unknown.
	ContactBySourceHash(ctx context.Context, hashedIdentifier string) (*domain.Contact, error)
}

// Config holds scoring weights and thresholds. Weights apply only to
// signals present on a given (payment, contact) pair and are
// renormalized over that subset, so a payment with no email hint is
// not penalized for the missing signal.
type Config struct {
	EmailWeight  float64
	NameWeight   float64
	AmountWeight float64
	// MinConfidence excludes low-confidence noise from results.
	MinConfidence float64
	// AmountTolerance is the +/- band that still scores 1.0.
	AmountTolerance decimal.Decimal
	// AmountCutoffFraction of the fee beyond which the amount signal
	// scores 0.
	AmountCutoffFraction decimal.Decimal
	// ExactEmailFloor is the minimum confidence for a candidate whose
	// email equals the payment's email exactly. It must stay above
	// NameOnlyCap so an exact email never ranks below a bare name hit.
	ExactEmailFloor float64
	// SourceHashFloor is the minimum confidence for a contact already
	// linked to the payment's account hash by a past reconciliation.
	SourceHashFloor float64
	// NameOnlyCap bounds candidates whose only signal is the name.
	NameOnlyCap float64
}

func DefaultConfig() Config {
	return Config{
		EmailWeight:          0.5,
		NameWeight:           0.3,
		AmountWeight:         0.2,
		MinConfidence:        0.30,
		AmountTolerance:      decimal.NewFromFloat(0.01),
		AmountCutoffFraction: decimal.NewFromFloat(0.20),
		ExactEmailFloor:      0.95,
		SourceHashFloor:      0.90,
		NameOnlyCap:          0.85,
	}
}

// Result is the outcome of one FindMatches call.
type Result struct {
	Suggestions      []domain.ContactMatch `json:"suggestions"`
	TotalMatches     int                   `json:"totalMatches"`
	ProcessingTimeMs int64                 `json:"processingTimeMs"`
}

type Service struct {
	dir ContactDirectory
	cfg Config
	log zerolog.Logger
}

func New(dir ContactDirectory, cfg Config, log zerolog.Logger) *Service {
	return &Service{dir: dir, cfg: cfg, log: log}
}

// FindMatches scores the directory against one payment. Suggestions
// are sorted by confidence descending; ties break by most recent
// contact activity, then contact ID, so the order is deterministic.
func (s *Service) FindMatches(ctx context.Context, p domain.NormalizedPayment) (*Result, error) {
	start := time.Now()

	contacts, err := s.dir.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}

	var known *domain.Contact
	if p.HashedAccountIdentifier != "" {
		known, err = s.dir.ContactBySourceHash(ctx, p.HashedAccountIdentifier)
		if err != nil {
			return nil, fmt.Errorf("payment source lookup: %w", err)
		}
	}

	candidates := s.narrow(p, contacts, known)

	suggestions := make([]domain.ContactMatch, 0, len(candidates))
	activity := make(map[string]time.Time, len(candidates))
	for _, c := range candidates {
		m := s.score(p, c, known != nil && known.ID == c.ID)
		if m.Confidence >= s.cfg.MinConfidence {
			suggestions = append(suggestions, m)
			activity[c.ID] = c.LastActivityAt
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if ta, tb := activity[a.ContactID], activity[b.ContactID]; !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.ContactID < b.ContactID
	})

	elapsed := time.Since(start)
	s.log.Debug().
		Str("fingerprint", p.TransactionFingerprint).
		Int("pool", len(contacts)).
		Int("candidates", len(candidates)).
		Int("suggestions", len(suggestions)).
		Dur("elapsed", elapsed).
		Msg("match scoring complete")

	return &Result{
		Suggestions:      suggestions,
		TotalMatches:     len(suggestions),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}, nil
}

// narrow cuts the pool with cheap filters before full scoring: a known
// payment-source hash, exact email equality, and a fee window around
// the payment amount. When none of the filters bite, the full pool is
// scored; the design budget is sub-second for pools in the low
// thousands.
func (s *Service) narrow(p domain.NormalizedPayment, contacts []domain.Contact, known *domain.Contact) []domain.Contact {
	picked := make(map[string]bool)
	var out []domain.Contact
	add := func(c domain.Contact) {
		if !picked[c.ID] {
			picked[c.ID] = true
			out = append(out, c)
		}
	}

	if known != nil {
		add(*known)
	}

	email := fingerprint.Fold(p.CustomerEmail)
	for _, c := range contacts {
		if email != "" && fingerprint.Fold(c.Email) == email {
			add(c)
			continue
		}
		if s.amountScore(p.Amount, c.MembershipFee) > 0 {
			add(c)
		}
	}

	if len(out) == 0 {
		return contacts
	}
	return out
}

func (s *Service) score(p domain.NormalizedPayment, c domain.Contact, sourceKnown bool) domain.ContactMatch {
	m := domain.ContactMatch{
		ContactID:      c.ID,
		ContactName:    c.FullName(),
		ContactEmail:   c.Email,
		MembershipType: c.MembershipType,
	}

	var weighted, totalWeight float64
	emailExact := false
	if p.CustomerName != "" && c.FullName() != "" {
		score := nameSimilarity(p.CustomerName, c.FullName())
		m.Reasoning.NameMatch = &score
		weighted += score * s.cfg.NameWeight
		totalWeight += s.cfg.NameWeight
	}
	if p.CustomerEmail != "" && c.Email != "" {
		score := emailSimilarity(p.CustomerEmail, c.Email)
		emailExact = score == 1
		m.Reasoning.EmailMatch = &score
		weighted += score * s.cfg.EmailWeight
		totalWeight += s.cfg.EmailWeight
	}
	if c.MembershipFee.IsPositive() {
		score := s.amountScore(p.Amount, c.MembershipFee)
		m.Reasoning.AmountMatch = &score
		weighted += score * s.cfg.AmountWeight
		totalWeight += s.cfg.AmountWeight
	}

	if totalWeight > 0 {
		m.Confidence = clamp01(weighted / totalWeight)
	}

	// Ranking guarantees the renormalized mean alone cannot give: a
	// bare name hit is capped, a contact linked through a past payment
	// source always clears its floor, and an exact email sits above
	// both.
	nameOnly := m.Reasoning.NameMatch != nil &&
		m.Reasoning.EmailMatch == nil && m.Reasoning.AmountMatch == nil && !sourceKnown
	if nameOnly && m.Confidence > s.cfg.NameOnlyCap {
		m.Confidence = s.cfg.NameOnlyCap
	}
	if sourceKnown {
		hit := 1.0
		m.Reasoning.SourceMatch = &hit
		if m.Confidence < s.cfg.SourceHashFloor {
			m.Confidence = s.cfg.SourceHashFloor
		}
	}
	if emailExact && m.Confidence < s.cfg.ExactEmailFloor {
		m.Confidence = s.cfg.ExactEmailFloor
	}
	return m
}

// amountScore is 1.0 within the tolerance band around the contact's
// fee, decays linearly, and is 0 beyond the cutoff fraction.
func (s *Service) amountScore(amount, fee decimal.Decimal) float64 {
	if !fee.IsPositive() {
		return 0
	}
	diff := amount.Sub(fee).Abs()
	if diff.LessThanOrEqual(s.cfg.AmountTolerance) {
		return 1
	}
	cutoff := fee.Mul(s.cfg.AmountCutoffFraction)
	if diff.GreaterThanOrEqual(cutoff) {
		return 0
	}
	span := cutoff.Sub(s.cfg.AmountTolerance)
	frac, _ := diff.Sub(s.cfg.AmountTolerance).Div(span).Float64()
	return clamp01(1 - frac)
}

// nameSimilarity tolerates token reordering (surname-first exports),
// partial tokens, case and diacritics.
func nameSimilarity(hint, full string) float64 {
	a := strings.Fields(fingerprint.Fold(hint))
	b := strings.Fields(fingerprint.Fold(full))
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	// Best-token alignment: each hint token takes its closest contact
	// token, averaged over the longer side so extra tokens dilute.
	var sum float64
	for _, ta := range a {
		best := 0.0
		for _, tb := range b {
			if sim := tokenSimilarity(ta, tb); sim > best {
				best = sim
			}
		}
		sum += best
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	return clamp01(sum / float64(longer))
}

func tokenSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	// Initials and partial tokens: "j" matches "john" strongly.
	if len(a) >= 1 && len(b) >= 1 && (strings.HasPrefix(b, a) || strings.HasPrefix(a, b)) {
		return 0.85
	}
	dist := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	return clamp01(1 - float64(dist)/float64(longest))
}

// emailSimilarity is exact-match dominant: case-insensitive equality
// scores 1.0, anything else scores from local-part similarity capped
// well below the name signal's ceiling.
func emailSimilarity(hint, email string) float64 {
	a := fingerprint.Fold(strings.TrimSpace(hint))
	b := fingerprint.Fold(strings.TrimSpace(email))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	localA, _, _ := strings.Cut(a, "@")
	localB, _, _ := strings.Cut(b, "@")
	return 0.4 * tokenSimilarity(localA, localB)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
