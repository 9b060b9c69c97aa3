// Package parser converts bank and payment-processor CSV exports into
// normalized payment records. Parsing is pure transformation: row
// failures are accounted for, nothing is persisted here.
package parser

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/memberops/reconcile/internal/domain"
)

// Dialect selects a column mapping.
type Dialect string

const (
	DialectBank   Dialect = "bank"
	DialectStripe Dialect = "stripe"
)

// Result is the outcome of parsing one file. OK is false only when the
// file as a whole is unusable: empty, no recognizable header, or every
// row failed.
type Result struct {
	OK        bool                       `json:"success"`
	Payments  []domain.NormalizedPayment `json:"data"`
	Processed int                        `json:"processed"`
	Skipped   int                        `json:"skipped"`
	// Filtered counts rows that are valid but not payments (refunds,
	// fees). They are neither processed nor errors.
	Filtered int      `json:"filtered"`
	Errors   []string `json:"errors,omitempty"`
}

// Parse reads rawText as the given dialect. Row order is preserved in
// Payments; duplicate fingerprints within the file are reported as
// skipped, never silently merged.
func Parse(dialect Dialect, r io.Reader) (*Result, error) {
	switch dialect {
	case DialectBank:
		return parseBank(r)
	case DialectStripe:
		return parseStripe(r)
	default:
		return nil, fmt.Errorf("unknown CSV dialect %q", dialect)
	}
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(skipBOM(r))
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr
}

func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if peeked, err := br.Peek(3); err == nil && peeked[0] == 0xEF && peeked[1] == 0xBB && peeked[2] == 0xBF {
		br.Discard(3)
	}
	return br
}

// columnIndex maps required and optional header names (matched
// case-insensitively, whitespace-trimmed) to field positions, so the
// exporting system is free to reorder columns.
func columnIndex(header []string, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("required column %q not found in header", name)
		}
	}
	return idx, nil
}

func field(record []string, idx map[string]int, name string) string {
	if i, ok := idx[name]; ok && i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}

// finalize applies the whole-file failure rule.
func (res *Result) finalize() *Result {
	attempted := res.Processed + res.Skipped
	res.OK = res.Processed > 0 || (attempted == 0 && res.Filtered > 0)
	return res
}

func (res *Result) rowError(line int, err error) {
	res.Skipped++
	res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", line, err))
}
