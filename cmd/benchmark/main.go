// Matching benchmark: scores synthetic payments against a synthetic
// contact pool in-process and reports latency percentiles. The design
// budget is sub-second suggestions for pools in the low thousands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/memberops/reconcile/internal/domain"
	"github.com/memberops/reconcile/internal/matching"
)

var (
	poolSize   int
	iterations int
	seed       int64
)

func init() {
	flag.IntVar(&poolSize, "contacts", 2000, "Synthetic contact pool size")
	flag.IntVar(&iterations, "iterations", 500, "Number of FindMatches calls")
	flag.Int64Var(&seed, "seed", 42, "RNG seed for reproducible runs")
}

type memoryDirectory struct {
	contacts []domain.Contact
}

func (d *memoryDirectory) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	return d.contacts, nil
}

func (d *memoryDirectory) ContactBySourceHash(ctx context.Context, hash string) (*domain.Contact, error) {
	return nil, nil
}

var (
	firstNames = []string{"John", "Jane", "Ana", "Omar", "Wei", "Priya", "Liam", "Sofia", "Noah", "Emma"}
	lastNames  = []string{"Smith", "Garcia", "Khan", "Chen", "Patel", "Brown", "Jones", "Murphy", "Novak", "Silva"}
	fees       = []string{"50.00", "35.00", "25.00", "75.00"}
)

func syntheticPool(rng *rand.Rand, n int) []domain.Contact {
	contacts := make([]domain.Contact, n)
	for i := range contacts {
		first := firstNames[rng.Intn(len(firstNames))]
		last := lastNames[rng.Intn(len(lastNames))]
		contacts[i] = domain.Contact{
			ID:             fmt.Sprintf("c-%06d", i),
			FirstName:      first,
			LastName:       last,
			Email:          fmt.Sprintf("%s.%s.%d@example.com", first, last, i),
			MembershipType: "Full",
			MembershipFee:  decimal.RequireFromString(fees[rng.Intn(len(fees))]),
			LastActivityAt: time.Now().AddDate(0, 0, -rng.Intn(365)),
		}
	}
	return contacts
}

func syntheticPayment(rng *rand.Rand, pool []domain.Contact) domain.NormalizedPayment {
	c := pool[rng.Intn(len(pool))]
	p := domain.NormalizedPayment{
		TransactionFingerprint: fmt.Sprintf("fp-%d", rng.Int63()),
		Amount:                 c.MembershipFee,
		PaymentDate:            time.Now(),
		Source:                 domain.SourceBankCSV,
		TransactionRef:         fmt.Sprintf("REF-%d", rng.Int63()),
		CustomerName:           c.FullName(),
	}
	// Half the payments carry an email hint, like real bank exports
	// where only some rows come via the processor.
	if rng.Intn(2) == 0 {
		p.CustomerEmail = c.Email
	}
	return p
}

func main() {
	flag.Parse()

	rng := rand.New(rand.NewSource(seed))
	pool := syntheticPool(rng, poolSize)
	svc := matching.New(&memoryDirectory{contacts: pool}, matching.DefaultConfig(), zerolog.Nop())

	ctx := context.Background()
	latencies := make([]time.Duration, 0, iterations)
	suggestions := 0

	start := time.Now()
	for i := 0; i < iterations; i++ {
		p := syntheticPayment(rng, pool)
		t0 := time.Now()
		res, err := svc.FindMatches(ctx, p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FindMatches failed: %v\n", err)
			os.Exit(1)
		}
		latencies = append(latencies, time.Since(t0))
		suggestions += res.TotalMatches
	}
	total := time.Since(start)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	results := map[string]interface{}{
		"contacts":        poolSize,
		"iterations":      iterations,
		"duration_sec":    total.Seconds(),
		"calls_per_sec":   float64(iterations) / total.Seconds(),
		"avg_suggestions": float64(suggestions) / float64(iterations),
		"p50_ms":          percentile(latencies, 0.50).Milliseconds(),
		"p95_ms":          percentile(latencies, 0.95).Milliseconds(),
		"p99_ms":          percentile(latencies, 0.99).Milliseconds(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
