// Package fingerprint turns raw CSV row values into canonical payment
// fields and a dedup key that is stable across re-imports of the same
// statement.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/memberops/reconcile/internal/domain"
)

// Transaction computes the dedup fingerprint for one transaction.
// The canonical tuple is (source, natural key, amount at 2dp, date,
// collapsed description), so column order and incidental whitespace
// in the export cannot change the key.
func Transaction(source domain.PaymentSourceKind, naturalKey string, amount decimal.Decimal, date time.Time, description string) string {
	canonical := strings.Join([]string{
		string(source),
		strings.TrimSpace(naturalKey),
		amount.StringFixed(2),
		date.Format("2006-01-02"),
		NormalizeText(description),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// AccountIdentifier one-way hashes a bank account number or card
// token. Raw identifiers are never persisted; the hash only supports
// "seen before" lookups. Returns "" for an empty identifier.
func AccountIdentifier(raw string) string {
	cleaned := strings.ToUpper(stripSeparators(raw))
	if cleaned == "" {
		return ""
	}
	sum := sha256.Sum256([]byte("acct:" + cleaned))
	return hex.EncodeToString(sum[:])
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '/' {
			return -1
		}
		return r
	}, s)
}

// ParseAmount normalizes a dialect's amount cell to a positive
// fixed-point decimal. Currency symbols and thousands separators are
// tolerated; zero and negative amounts are row-level errors.
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.Trim(cleaned, "£$€")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("non-positive amount %s", amount.StringFixed(2))
	}
	return amount.Round(2), nil
}

// ParseDate parses a cell with the dialect's native layout and
// normalizes to UTC midnight.
func ParseDate(raw, layout string) (time.Time, error) {
	t, err := time.Parse(layout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// NormalizeText lowercases and collapses runs of whitespace so two
// exports of the same transaction hash identically.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases and strips diacritics, for accent-insensitive
// comparisons in the matcher ("Renée" folds to "renee").
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.ToLower(folded)
}
