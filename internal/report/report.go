// Package report aggregates a tenant's ledger entries into income and
// expense totals, normalized into a single reporting currency.
package report

import (
	"context"
	"math"

	"github.com/mbialek/projectledger/internal/currency"
	"github.com/mbialek/projectledger/internal/project"
)

// Summer is the slice of the workspace store the reporter needs.
type Summer interface {
	SumByCurrency(ctx context.Context, tenantID string, kind project.EntryKind) (map[string]int64, error)
}

// Breakdown holds per-currency totals plus their sum expressed in the
// reporting currency.
type Breakdown struct {
	ByCurrency      map[string]int64 `json:"byCurrency"`
	NormalizedCents int64            `json:"normalizedCents"`
}

// Summary is a tenant's financial position.
type Summary struct {
	ReportingCurrency string    `json:"reportingCurrency"`
	Income            Breakdown `json:"income"`
	Expenses          Breakdown `json:"expenses"`
	NetCents          int64     `json:"netCents"`
}

// Reporter builds summaries. Rate lookups degrade rather than fail, so a
// summary is always produced even when the rate provider is down.
type Reporter struct {
	store             Summer
	rates             *currency.Cache
	reportingCurrency string
}

// NewReporter creates a reporter that normalizes into the given currency.
func NewReporter(store Summer, rates *currency.Cache, reportingCurrency string) *Reporter {
	return &Reporter{store: store, rates: rates, reportingCurrency: reportingCurrency}
}

// Summarize totals the tenant's entries of both kinds.
func (r *Reporter) Summarize(ctx context.Context, tenantID string) (*Summary, error) {
	income, err := r.breakdown(ctx, tenantID, project.EntryIncome)
	if err != nil {
		return nil, err
	}
	expenses, err := r.breakdown(ctx, tenantID, project.EntryExpense)
	if err != nil {
		return nil, err
	}
	return &Summary{
		ReportingCurrency: r.reportingCurrency,
		Income:            income,
		Expenses:          expenses,
		NetCents:          income.NormalizedCents - expenses.NormalizedCents,
	}, nil
}

func (r *Reporter) breakdown(ctx context.Context, tenantID string, kind project.EntryKind) (Breakdown, error) {
	sums, err := r.store.SumByCurrency(ctx, tenantID, kind)
	if err != nil {
		return Breakdown{}, err
	}
	var normalized int64
	for code, cents := range sums {
		rate := r.rates.Rate(ctx, code, r.reportingCurrency)
		normalized += int64(math.Round(float64(cents) * rate))
	}
	return Breakdown{ByCurrency: sums, NormalizedCents: normalized}, nil
}
