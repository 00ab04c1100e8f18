package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RingLength is the only cycle length searched for.
const RingLength = 3

// CycleDetector finds closed three-party invoicing rings.
type CycleDetector struct {
	store  domain.GraphStore
	logger *slog.Logger

	// OnFailure is called when the store query fails. Optional.
	OnFailure func(err error)
}

// NewCycleDetector creates a detector reading from store.
func NewCycleDetector(store domain.GraphStore, logger *slog.Logger) *CycleDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CycleDetector{store: store, logger: logger}
}

// Detect returns every distinct ring and the sorted participant set.
// A store failure degrades to an empty report.
func (d *CycleDetector) Detect(ctx context.Context) domain.CycleReport {
	cycles, err := d.store.InvoicingCycles(ctx, RingLength)
	if err != nil {
		d.logger.Warn("circular trading detection failed", "error", err)
		if d.OnFailure != nil {
			d.OnFailure(err)
		}
		return domain.CycleReport{Cycles: []domain.InvoicingCycle{}, Participants: []string{}}
	}
	return BuildCycleReport(cycles)
}

// BuildCycleReport canonicalises and de-duplicates cycles. Each rotation of a
// ring collapses to the rotation starting at its smallest participant.
func BuildCycleReport(cycles []domain.InvoicingCycle) domain.CycleReport {
	seen := make(map[string]bool)
	members := make(map[string]bool)
	report := domain.CycleReport{Cycles: []domain.InvoicingCycle{}, Participants: []string{}}

	for _, c := range cycles {
		if !distinct(c.Participants) {
			continue
		}
		c = rotate(c)
		key := strings.Join(c.Participants, ">")
		if seen[key] {
			continue
		}
		seen[key] = true
		report.Cycles = append(report.Cycles, c)
		for _, p := range c.Participants {
			members[p] = true
		}
	}

	sort.Slice(report.Cycles, func(i, j int) bool {
		return strings.Join(report.Cycles[i].Participants, ">") < strings.Join(report.Cycles[j].Participants, ">")
	})
	for p := range members {
		report.Participants = append(report.Participants, p)
	}
	sort.Strings(report.Participants)
	return report
}

func distinct(ids []string) bool {
	if len(ids) < 2 {
		return false
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}

func rotate(c domain.InvoicingCycle) domain.InvoicingCycle {
	start := 0
	for i, p := range c.Participants {
		if p < c.Participants[start] {
			start = i
		}
	}
	n := len(c.Participants)
	out := domain.InvoicingCycle{
		Participants: make([]string, n),
		InvoiceIDs:   make([]string, 0, len(c.InvoiceIDs)),
	}
	for i := 0; i < n; i++ {
		out.Participants[i] = c.Participants[(start+i)%n]
	}
	if len(c.InvoiceIDs) == n {
		for i := 0; i < n; i++ {
			out.InvoiceIDs = append(out.InvoiceIDs, c.InvoiceIDs[(start+i)%n])
		}
	} else {
		out.InvoiceIDs = append(out.InvoiceIDs, c.InvoiceIDs...)
	}
	return out
}
